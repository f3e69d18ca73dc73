package rowstore

import (
	"fmt"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

type bufferedStore struct {
	path string
	db   *bolt.DB
	size atomic.Int64
}

func openBuffered(path string, timeout time.Duration) (*bufferedStore, error) {
	db, err := openDB(path, timeout)
	if err != nil {
		return nil, err
	}
	s := &bufferedStore{path: path, db: db}
	if err := db.View(func(tx *bolt.Tx) error {
		s.size.Store(int64(count(tx)))
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("count %s: %w", path, err)
	}
	return s, nil
}

func (s *bufferedStore) Path() string { return s.path }

func (s *bufferedStore) Size() int { return int(s.size.Load()) }

func (s *bufferedStore) Put(key string, row []byte) error {
	var added bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		added, err = put(tx, key, row)
		return err
	})
	if err != nil {
		return err
	}
	if added {
		s.size.Add(1)
	}
	return nil
}

func (s *bufferedStore) Get(key string) ([]byte, error) {
	var row []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		row = copyBytes(tx.Bucket(bucketName).Get([]byte(key)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return row, nil
}

func (s *bufferedStore) Has(key string) (bool, error) {
	row, err := s.Get(key)
	return row != nil, err
}

func (s *bufferedStore) Remove(key string) ([]byte, error) {
	var row []byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		row, err = remove(tx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if row != nil {
		s.size.Add(-1)
	}
	return row, nil
}

func (s *bufferedStore) RemoveOne() (string, []byte, error) {
	var (
		key string
		row []byte
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		key, row, err = removeFirst(tx)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	if key != "" {
		s.size.Add(-1)
	}
	return key, row, nil
}

func (s *bufferedStore) Iterate(fn func(string, []byte) bool) error {
	if err := s.db.View(func(tx *bolt.Tx) error {
		iterate(tx, fn)
		return nil
	}); err != nil {
		return fmt.Errorf("iterate %s: %w", s.path, err)
	}
	return nil
}

func (s *bufferedStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.path, err)
	}
	return nil
}
