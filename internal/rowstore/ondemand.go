package rowstore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var errClosed = errors.New("row store closed")

type onDemandStore struct {
	path    string
	timeout time.Duration

	mu     sync.Mutex
	size   int
	closed bool
}

func openOnDemand(path string, timeout time.Duration) (*onDemandStore, error) {
	s := &onDemandStore{path: path, timeout: timeout}
	if err := s.with(false, func(tx *bolt.Tx) error {
		s.size = count(tx)
		return nil
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// with opens the file, runs fn in a transaction and closes the file again.
func (s *onDemandStore) with(writable bool, fn func(tx *bolt.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	db, err := openDB(s.path, s.timeout)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", s.path, cerr)
		}
	}()
	if writable {
		return db.Update(fn)
	}
	return db.View(fn)
}

func (s *onDemandStore) Path() string { return s.path }

func (s *onDemandStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *onDemandStore) Put(key string, row []byte) error {
	return s.with(true, func(tx *bolt.Tx) error {
		added, err := put(tx, key, row)
		if err == nil && added {
			s.size++
		}
		return err
	})
}

func (s *onDemandStore) Get(key string) ([]byte, error) {
	var row []byte
	err := s.with(false, func(tx *bolt.Tx) error {
		row = copyBytes(tx.Bucket(bucketName).Get([]byte(key)))
		return nil
	})
	return row, err
}

func (s *onDemandStore) Has(key string) (bool, error) {
	row, err := s.Get(key)
	return row != nil, err
}

func (s *onDemandStore) Remove(key string) ([]byte, error) {
	var row []byte
	err := s.with(true, func(tx *bolt.Tx) error {
		var err error
		row, err = remove(tx, key)
		if err == nil && row != nil {
			s.size--
		}
		return err
	})
	return row, err
}

func (s *onDemandStore) RemoveOne() (string, []byte, error) {
	var (
		key string
		row []byte
	)
	err := s.with(true, func(tx *bolt.Tx) error {
		var err error
		key, row, err = removeFirst(tx)
		if err == nil && key != "" {
			s.size--
		}
		return err
	})
	return key, row, err
}

func (s *onDemandStore) Iterate(fn func(string, []byte) bool) error {
	return s.with(false, func(tx *bolt.Tx) error {
		iterate(tx, fn)
		return nil
	})
}

func (s *onDemandStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
