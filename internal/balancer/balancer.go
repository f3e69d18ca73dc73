// Package balancer implements the persistent, per-host, depth-stratified request queues
// of the crawl frontier.
//
// A HostQueue owns one row store per crawl depth for a single scheme, host and port.
// A Balancer multiplexes the HostQueues of one frontier partition and decides which
// host is served next.
package balancer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/digest"
	"github.com/JakeFAU/crawl-frontier/internal/logging"
	"github.com/JakeFAU/crawl-frontier/internal/profile"
	"github.com/JakeFAU/crawl-frontier/internal/request"
)

// ErrDoubleOccurrence is returned by Push when the digest is already queued.
var ErrDoubleOccurrence = errors.New("double occurrence in urlFileIndex")

var (
	errQueueClosed     = errors.New("host queue closed")
	errProfileInactive = errors.New("profile no longer active")
)

// BlacklistChecker reports blocked URLs.
type BlacklistChecker interface {
	IsListed(u *url.URL) bool
}

// ProfileResolver resolves profile handles of queued requests.
type ProfileResolver interface {
	Get(handle string) (*profile.CrawlProfile, error)
}

// Politeness computes per-host fetch spacing.
type Politeness interface {
	DomainSleepTime(p *profile.CrawlProfile, u *url.URL) time.Duration
	UpdateAfterSelection(u *url.URL, robotsDelay time.Duration)
	WaitingRemainingGuessed(host string, port int, hostHash, agent string) time.Duration
}

// Deps are the collaborators consulted while popping.
type Deps struct {
	Blacklist  BlacklistChecker
	Profiles   ProfileResolver
	Politeness Politeness
	// OnWait observes the remaining politeness wait once per chunk.
	OnWait func(hostHash string, remaining time.Duration)
	// Agent identifies this crawler when estimating waits.
	Agent string
}

// Options configures storage for every HostQueue.
type Options struct {
	OnDemandThreshold int64
	OpenRetries       int
	Logger            *zap.Logger
}

// HostInfo summarizes one host queue for operators.
type HostInfo struct {
	Host     string
	Port     int
	HostHash string
	Size     int
	Wait     time.Duration
}

// Balancer serves the host queues stored below one directory.
type Balancer struct {
	dir    string
	deps   Deps
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	queues   map[string]*HostQueue
	inFlight map[string]struct{}
}

// Open loads every host queue found below dir, creating dir when needed.
func Open(dir string, deps Deps, opts Options) (*Balancer, error) {
	opts.Logger = logging.OrNop(opts.Logger)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create balancer dir: %w", err)
	}
	b := &Balancer{
		dir:      dir,
		deps:     deps,
		opts:     opts,
		logger:   opts.Logger.Named("balancer"),
		queues:   make(map[string]*HostQueue),
		inFlight: make(map[string]struct{}),
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read balancer dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		host, hostHash, port, ok := parseDirName(e.Name())
		if !ok {
			b.logger.Debug("skipping foreign directory", zap.String("name", e.Name()))
			continue
		}
		q, err := NewHostQueue(dir, host, port, hostHash, deps, opts)
		if err != nil {
			b.logger.Warn("host queue open failed", zap.String("name", e.Name()), zap.Error(err))
			continue
		}
		if q.closeIfEmpty() {
			continue
		}
		b.queues[hostHash] = q
	}
	b.logger.Info("balancer opened", zap.String("dir", dir), zap.Int("hosts", len(b.queues)))
	return b, nil
}

// Dir returns the directory holding the host queues.
func (b *Balancer) Dir() string { return b.dir }

func (b *Balancer) queueFor(req request.Request) (*HostQueue, error) {
	hostHash := req.Hash.HostHash()
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[hostHash]; ok {
		return q, nil
	}
	host, port, _, err := req.Host()
	if err != nil {
		return nil, err
	}
	q, err := NewHostQueue(b.dir, host, port, hostHash, b.deps, b.opts)
	if err != nil {
		return nil, err
	}
	b.queues[hostHash] = q
	return q, nil
}

func (b *Balancer) lookup(hostHash string) *HostQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queues[hostHash]
}

func (b *Balancer) snapshot() []*HostQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*HostQueue, 0, len(b.queues))
	for _, q := range b.queues {
		out = append(out, q)
	}
	return out
}

// Push stores req in the queue of its host.
func (b *Balancer) Push(req request.Request, p *profile.CrawlProfile) error {
	for attempt := 0; attempt < 3; attempt++ {
		q, err := b.queueFor(req)
		if err != nil {
			return err
		}
		err = q.Push(req, p)
		if errors.Is(err, errQueueClosed) {
			continue
		}
		return err
	}
	return errQueueClosed
}

// Pop returns the next request from the host with the shortest expected wait, or nil
// when no host has a usable entry. Two pops never wait on the same host at once.
func (b *Balancer) Pop(ctx context.Context, delay bool) (*request.Request, error) {
	tried := make(map[string]struct{})
	for {
		q := b.next(tried)
		if q == nil {
			return nil, nil
		}
		req, err := q.Pop(ctx, delay)
		b.release(q)
		if err != nil {
			return nil, err
		}
		if req != nil {
			return req, nil
		}
		tried[q.hostHash] = struct{}{}
	}
}

func (b *Balancer) next(tried map[string]struct{}) *HostQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	var (
		best     *HostQueue
		bestWait time.Duration
	)
	for hostHash, q := range b.queues {
		if _, busy := b.inFlight[hostHash]; busy {
			continue
		}
		if _, done := tried[hostHash]; done {
			continue
		}
		if q.IsEmpty() {
			continue
		}
		var wait time.Duration
		if b.deps.Politeness != nil {
			wait = b.deps.Politeness.WaitingRemainingGuessed(q.host, q.port, hostHash, b.deps.Agent)
		}
		if best == nil || wait < bestWait || (wait == bestWait && hostHash < best.hostHash) {
			best, bestWait = q, wait
		}
	}
	if best != nil {
		b.inFlight[best.hostHash] = struct{}{}
	}
	return best
}

func (b *Balancer) release(q *HostQueue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inFlight, q.hostHash)
	// q may have been removed and replaced while its pop was waiting.
	if cur, ok := b.queues[q.hostHash]; !ok || cur != q {
		return
	}
	if q.closeIfEmpty() {
		delete(b.queues, q.hostHash)
	}
}

// Has reports whether hash is queued.
func (b *Balancer) Has(hash digest.Hash) bool {
	q := b.lookup(hash.HostHash())
	return q != nil && q.Has(hash)
}

// Get returns the queued request for hash or nil.
func (b *Balancer) Get(hash digest.Hash) (*request.Request, error) {
	q := b.lookup(hash.HostHash())
	if q == nil {
		return nil, nil
	}
	return q.Get(hash)
}

// Remove deletes the given digests and returns how many were queued.
func (b *Balancer) Remove(hashes []digest.Hash) int {
	byHost := make(map[string][]digest.Hash)
	for _, h := range hashes {
		byHost[h.HostHash()] = append(byHost[h.HostHash()], h)
	}
	removed := 0
	for hostHash, group := range byHost {
		if q := b.lookup(hostHash); q != nil {
			removed += q.Remove(group)
		}
	}
	b.sweep()
	return removed
}

// RemoveByProfileHandle deletes requests of one crawl job, spending at most budget.
// The count may be partial when the budget runs out.
func (b *Balancer) RemoveByProfileHandle(handle string, budget time.Duration) int {
	deadline := time.Now().Add(budget)
	removed := 0
	for _, q := range b.snapshot() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			b.logger.Info("profile removal budget exhausted", zap.String("profile", handle), zap.Int("removed", removed))
			break
		}
		removed += q.RemoveAllByProfileHandle(handle, remaining)
	}
	b.sweep()
	return removed
}

// RemoveByHostHashes wipes the queues of the given hosts.
func (b *Balancer) RemoveByHostHashes(hostHashes map[string]struct{}) int {
	removed := 0
	for hostHash := range hostHashes {
		b.mu.Lock()
		q, ok := b.queues[hostHash]
		if ok {
			delete(b.queues, hostHash)
		}
		b.mu.Unlock()
		if !ok {
			continue
		}
		removed += q.RemoveAllByHostHashes(hostHashes)
		if err := q.Close(); err != nil {
			b.logger.Warn("host queue close failed", zap.String("host", q.host), zap.Error(err))
		}
	}
	return removed
}

func (b *Balancer) sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for hostHash, q := range b.queues {
		if _, busy := b.inFlight[hostHash]; busy {
			continue
		}
		if q.closeIfEmpty() {
			delete(b.queues, hostHash)
		}
	}
}

// Size returns the number of queued requests across all hosts.
func (b *Balancer) Size() int {
	total := 0
	for _, q := range b.snapshot() {
		total += q.Size()
	}
	return total
}

// IsEmpty reports whether no host has queued requests.
func (b *Balancer) IsEmpty() bool {
	for _, q := range b.snapshot() {
		if !q.IsEmpty() {
			return false
		}
	}
	return true
}

// Hosts lists non-empty hosts with their pending counts and estimated waits.
func (b *Balancer) Hosts() []HostInfo {
	out := make([]HostInfo, 0)
	for _, q := range b.snapshot() {
		size := q.Size()
		if size == 0 {
			continue
		}
		info := HostInfo{Host: q.host, Port: q.port, HostHash: q.hostHash, Size: size}
		if b.deps.Politeness != nil {
			info.Wait = b.deps.Politeness.WaitingRemainingGuessed(q.host, q.port, q.hostHash, b.deps.Agent)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Host == out[j].Host {
			return out[i].Port < out[j].Port
		}
		return out[i].Host < out[j].Host
	})
	return out
}

// Requests lists up to maxCount pending requests of one host within budget.
func (b *Balancer) Requests(hostHash string, maxCount int, budget time.Duration) []request.Request {
	q := b.lookup(hostHash)
	if q == nil {
		return nil
	}
	return q.Requests(maxCount, budget)
}

// Clear deletes every host queue and its files.
func (b *Balancer) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for hostHash, q := range b.queues {
		if err := q.Clear(); err != nil {
			errs = append(errs, err)
		}
		if err := q.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(b.queues, hostHash)
	}
	return errors.Join(errs...)
}

// Close closes every host queue.
func (b *Balancer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for hostHash, q := range b.queues {
		if err := q.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(b.queues, hostHash)
	}
	return errors.Join(errs...)
}
