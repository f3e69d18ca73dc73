package store

import (
	"context"
	"time"

	"github.com/JakeFAU/crawl-frontier/internal/digest"
)

// ErrorEntry records one rejected crawl candidate.
type ErrorEntry struct {
	// Hash is the digest of the rejected URL.
	Hash digest.Hash `json:"hash"`
	// URL is the normalized URL.
	URL string `json:"url"`
	// ProfileHandle identifies the crawl job that proposed the URL.
	ProfileHandle string `json:"profile"`
	// Initiator is the peer that proposed the URL, empty for anonymous sources.
	Initiator string `json:"initiator,omitempty"`
	// Kind is the rejection class.
	Kind string `json:"kind"`
	// Reason is the human readable rejection message.
	Reason string `json:"reason"`
	// At is when the rejection happened.
	At time.Time `json:"at"`
}

// ErrorLog persists rejections for operators.
type ErrorLog interface {
	Push(ctx context.Context, entry ErrorEntry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]ErrorEntry, error)
}

// Index answers questions about already indexed documents.
type Index interface {
	// LastIndexed returns when hash was last indexed and whether it is indexed at all.
	LastIndexed(ctx context.Context, hash digest.Hash) (time.Time, bool, error)
	Remove(ctx context.Context, hash digest.Hash) error
	MarkIndexed(ctx context.Context, hash digest.Hash, url string, at time.Time) error
}
