package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-frontier/internal/digest"
)

type indexed struct {
	url string
	at  time.Time
}

// Index tracks indexed documents in a map.
type Index struct {
	mu   sync.RWMutex
	docs map[digest.Hash]indexed
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{docs: make(map[digest.Hash]indexed)}
}

// LastIndexed returns when hash was indexed.
func (i *Index) LastIndexed(_ context.Context, hash digest.Hash) (time.Time, bool, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	doc, ok := i.docs[hash]
	return doc.at, ok, nil
}

// Remove forgets hash.
func (i *Index) Remove(_ context.Context, hash digest.Hash) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.docs, hash)
	return nil
}

// MarkIndexed records that url was indexed at the given time.
func (i *Index) MarkIndexed(_ context.Context, hash digest.Hash, url string, at time.Time) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.docs[hash] = indexed{url: url, at: at}
	return nil
}
