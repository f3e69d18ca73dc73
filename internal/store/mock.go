package store

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/crawl-frontier/internal/digest"
)

// MockErrorLog is a mock implementation of ErrorLog for testing.
type MockErrorLog struct {
	mock.Mock
}

// Push is the mock implementation of ErrorLog.Push.
func (m *MockErrorLog) Push(ctx context.Context, entry ErrorEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0) //nolint:wrapcheck
}

// Recent is the mock implementation of ErrorLog.Recent.
func (m *MockErrorLog) Recent(ctx context.Context, limit int) ([]ErrorEntry, error) {
	args := m.Called(ctx, limit)
	entries, _ := args.Get(0).([]ErrorEntry)
	return entries, args.Error(1) //nolint:wrapcheck
}

// MockIndex is a mock implementation of Index for testing.
type MockIndex struct {
	mock.Mock
}

// LastIndexed is the mock implementation of Index.LastIndexed.
func (m *MockIndex) LastIndexed(ctx context.Context, hash digest.Hash) (time.Time, bool, error) {
	args := m.Called(ctx, hash)
	at, _ := args.Get(0).(time.Time)
	return at, args.Bool(1), args.Error(2) //nolint:wrapcheck
}

// Remove is the mock implementation of Index.Remove.
func (m *MockIndex) Remove(ctx context.Context, hash digest.Hash) error {
	args := m.Called(ctx, hash)
	return args.Error(0) //nolint:wrapcheck
}

// MarkIndexed is the mock implementation of Index.MarkIndexed.
func (m *MockIndex) MarkIndexed(ctx context.Context, hash digest.Hash, url string, at time.Time) error {
	args := m.Called(ctx, hash, url, at)
	return args.Error(0) //nolint:wrapcheck
}
