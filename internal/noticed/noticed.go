// Package noticed dispatches accepted requests to the frontier partition they belong to.
package noticed

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/balancer"
	"github.com/JakeFAU/crawl-frontier/internal/digest"
	"github.com/JakeFAU/crawl-frontier/internal/logging"
	"github.com/JakeFAU/crawl-frontier/internal/profile"
	"github.com/JakeFAU/crawl-frontier/internal/request"
)

// StackType names a frontier partition.
type StackType int

const (
	// Local holds work initiated by this node.
	Local StackType = iota
	// Global holds work that may be handed to peers.
	Global
	// Remote holds work received from peers.
	Remote
	// NoLoad holds URLs indexed from metadata only, never fetched.
	NoLoad
)

// Stacks lists every partition in pop priority order.
var Stacks = []StackType{Local, Global, Remote, NoLoad}

func (s StackType) String() string {
	switch s {
	case Local:
		return "local"
	case Global:
		return "global"
	case Remote:
		return "remote"
	case NoLoad:
		return "noload"
	default:
		return fmt.Sprintf("stack(%d)", int(s))
	}
}

// ParseStackType maps a name such as "local" back to its StackType.
func ParseStackType(name string) (StackType, error) {
	for _, s := range Stacks {
		if strings.EqualFold(name, s.String()) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown stack %q", name)
}

// NoticedURL owns one balancer per partition.
type NoticedURL struct {
	stacks map[StackType]*balancer.Balancer
	logger *zap.Logger
}

// Open opens every partition below dir.
func Open(dir string, deps balancer.Deps, opts balancer.Options) (*NoticedURL, error) {
	n := &NoticedURL{
		stacks: make(map[StackType]*balancer.Balancer, len(Stacks)),
		logger: logging.OrNop(opts.Logger).Named("noticed"),
	}
	for _, s := range Stacks {
		b, err := balancer.Open(filepath.Join(dir, s.String()), deps, opts)
		if err != nil {
			_ = n.Close()
			return nil, fmt.Errorf("open %s stack: %w", s, err)
		}
		n.stacks[s] = b
	}
	return n, nil
}

func (n *NoticedURL) stack(s StackType) (*balancer.Balancer, error) {
	b, ok := n.stacks[s]
	if !ok {
		return nil, fmt.Errorf("unknown stack %s", s)
	}
	return b, nil
}

// Push stores req in the given partition.
func (n *NoticedURL) Push(s StackType, req request.Request, p *profile.CrawlProfile) error {
	b, err := n.stack(s)
	if err != nil {
		return err
	}
	return b.Push(req, p)
}

// Pop takes the next request from the given partition.
func (n *NoticedURL) Pop(ctx context.Context, s StackType, delay bool) (*request.Request, error) {
	b, err := n.stack(s)
	if err != nil {
		return nil, err
	}
	return b.Pop(ctx, delay)
}

// ExistsInStack reports the partition holding hash, if any.
func (n *NoticedURL) ExistsInStack(hash digest.Hash) (StackType, bool) {
	for _, s := range Stacks {
		if n.stacks[s].Has(hash) {
			return s, true
		}
	}
	return 0, false
}

// Get returns the queued request for hash.
func (n *NoticedURL) Get(hash digest.Hash) (*request.Request, StackType, error) {
	for _, s := range Stacks {
		req, err := n.stacks[s].Get(hash)
		if err != nil {
			return nil, s, err
		}
		if req != nil {
			return req, s, nil
		}
	}
	return nil, 0, nil
}

// RemoveByURLHash deletes hash from every partition.
func (n *NoticedURL) RemoveByURLHash(hash digest.Hash) int {
	removed := 0
	for _, s := range Stacks {
		removed += n.stacks[s].Remove([]digest.Hash{hash})
	}
	return removed
}

// RemoveByProfileHandle deletes a crawl job's requests from every partition within budget.
func (n *NoticedURL) RemoveByProfileHandle(handle string, budget time.Duration) int {
	deadline := time.Now().Add(budget)
	removed := 0
	for _, s := range Stacks {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		removed += n.stacks[s].RemoveByProfileHandle(handle, remaining)
	}
	n.logger.Info("removed requests of profile", zap.String("profile", handle), zap.Int("removed", removed))
	return removed
}

// RemoveByHostHashes wipes the given hosts from every partition.
func (n *NoticedURL) RemoveByHostHashes(hostHashes map[string]struct{}) int {
	removed := 0
	for _, s := range Stacks {
		removed += n.stacks[s].RemoveByHostHashes(hostHashes)
	}
	return removed
}

// Size returns the number of requests in one partition.
func (n *NoticedURL) Size(s StackType) int {
	b, err := n.stack(s)
	if err != nil {
		return 0
	}
	return b.Size()
}

// TotalSize returns the number of requests across partitions.
func (n *NoticedURL) TotalSize() int {
	total := 0
	for _, s := range Stacks {
		total += n.stacks[s].Size()
	}
	return total
}

// Hosts lists the hosts of one partition.
func (n *NoticedURL) Hosts(s StackType) ([]balancer.HostInfo, error) {
	b, err := n.stack(s)
	if err != nil {
		return nil, err
	}
	return b.Hosts(), nil
}

// Requests lists pending requests of one host in one partition.
func (n *NoticedURL) Requests(s StackType, hostHash string, maxCount int, budget time.Duration) ([]request.Request, error) {
	b, err := n.stack(s)
	if err != nil {
		return nil, err
	}
	return b.Requests(hostHash, maxCount, budget), nil
}

// Clear empties one partition.
func (n *NoticedURL) Clear(s StackType) error {
	b, err := n.stack(s)
	if err != nil {
		return err
	}
	return b.Clear()
}

// Close closes every partition.
func (n *NoticedURL) Close() error {
	var errs []error
	for _, b := range n.stacks {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
