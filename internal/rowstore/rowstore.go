// Package rowstore implements the disk-backed key/row tables holding queued requests.
//
// Each table is a bbolt file with a single bucket. Two strategies share the Store
// contract: Buffered keeps the file open, OnDemand opens it per operation so that
// hosts with few pending rows do not pin a file descriptor.
package rowstore

import (
	"errors"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var bucketName = []byte("rows")

// ErrStoreUnavailable is returned when a table cannot be opened with any strategy.
var ErrStoreUnavailable = errors.New("row store unavailable")

// Store is an ordered key to row table.
type Store interface {
	Put(key string, row []byte) error
	// Get returns nil when key is absent.
	Get(key string) ([]byte, error)
	Has(key string) (bool, error)
	// Remove returns the removed row or nil when key is absent.
	Remove(key string) ([]byte, error)
	// RemoveOne removes the first row in key order. It returns an empty key when the table is empty.
	RemoveOne() (string, []byte, error)
	Size() int
	// Iterate calls fn for every row until fn returns false.
	Iterate(fn func(key string, row []byte) bool) error
	Close() error
	Path() string
}

// Strategy selects how a table file is held open.
type Strategy int

const (
	// Buffered keeps the file open for the lifetime of the store.
	Buffered Strategy = iota
	// OnDemand opens the file for each operation.
	OnDemand
)

func (s Strategy) String() string {
	if s == OnDemand {
		return "on-demand"
	}
	return "buffered"
}

func (s Strategy) other() Strategy {
	if s == OnDemand {
		return Buffered
	}
	return OnDemand
}

// Options configures Open.
type Options struct {
	// OnDemandThreshold is the file size below which OnDemand is chosen first.
	OnDemandThreshold int64
	// Retries is the number of extra attempts, alternating strategies.
	Retries int
	// LockTimeout bounds waiting for the file lock.
	LockTimeout time.Duration
	Logger      *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Choose picks the initial strategy for the file at path.
func Choose(path string, threshold int64) Strategy {
	info, err := os.Stat(path)
	if err != nil || info.Size() < threshold {
		return OnDemand
	}
	return Buffered
}

// Open opens or creates the table at path. Failed attempts are retried with the
// other strategy; ErrStoreUnavailable is returned once every attempt failed.
func Open(path string, opts Options) (Store, error) {
	opts = opts.withDefaults()
	strategy := Choose(path, opts.OnDemandThreshold)
	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		s, err := openWith(strategy, path, opts.LockTimeout)
		if err == nil {
			return s, nil
		}
		lastErr = err
		opts.Logger.Warn("row store open failed",
			zap.String("path", path),
			zap.Stringer("strategy", strategy),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		strategy = strategy.other()
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, path, lastErr)
}

func openWith(strategy Strategy, path string, timeout time.Duration) (Store, error) {
	if strategy == OnDemand {
		return openOnDemand(path, timeout)
	}
	return openBuffered(path, timeout)
}

func openDB(path string, timeout time.Duration) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket in %s: %w", path, err)
	}
	return db, nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func count(tx *bolt.Tx) int {
	return tx.Bucket(bucketName).Stats().KeyN
}

func put(tx *bolt.Tx, key string, row []byte) (bool, error) {
	b := tx.Bucket(bucketName)
	existed := b.Get([]byte(key)) != nil
	if err := b.Put([]byte(key), row); err != nil {
		return false, fmt.Errorf("put %s: %w", key, err)
	}
	return !existed, nil
}

func remove(tx *bolt.Tx, key string) ([]byte, error) {
	b := tx.Bucket(bucketName)
	v := copyBytes(b.Get([]byte(key)))
	if v == nil {
		return nil, nil
	}
	if err := b.Delete([]byte(key)); err != nil {
		return nil, fmt.Errorf("delete %s: %w", key, err)
	}
	return v, nil
}

func removeFirst(tx *bolt.Tx) (string, []byte, error) {
	b := tx.Bucket(bucketName)
	k, v := b.Cursor().First()
	if k == nil {
		return "", nil, nil
	}
	key := string(k)
	row := copyBytes(v)
	if err := b.Delete(k); err != nil {
		return "", nil, fmt.Errorf("delete %s: %w", key, err)
	}
	return key, row, nil
}

func iterate(tx *bolt.Tx, fn func(string, []byte) bool) {
	c := tx.Bucket(bucketName).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if !fn(string(k), copyBytes(v)) {
			return
		}
	}
}
