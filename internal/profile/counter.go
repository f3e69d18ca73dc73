package profile

import (
	"strings"
	"sync"
)

// DomainCounter counts accepted pages per host for one crawl job.
type DomainCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewDomainCounter returns an empty counter.
func NewDomainCounter() *DomainCounter {
	return &DomainCounter{counts: make(map[string]int)}
}

// Inc adds one page for host and returns the new count.
func (c *DomainCounter) Inc(host string) int {
	key := strings.ToLower(host)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key]
}

// Count returns the pages recorded for host.
func (c *DomainCounter) Count(host string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[strings.ToLower(host)]
}

// Snapshot copies the current counts.
func (c *DomainCounter) Snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
