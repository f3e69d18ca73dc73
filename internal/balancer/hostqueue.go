package balancer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/digest"
	"github.com/JakeFAU/crawl-frontier/internal/logging"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
	"github.com/JakeFAU/crawl-frontier/internal/profile"
	"github.com/JakeFAU/crawl-frontier/internal/request"
	"github.com/JakeFAU/crawl-frontier/internal/rowstore"
	"github.com/JakeFAU/crawl-frontier/internal/urlutil"
)

const (
	stackSuffix  = ".stack"
	maxWaitChunk = time.Second
)

var stackFilePattern = regexp.MustCompile(`^(\d{4,})\.stack$`)

func dirName(host, hostHash string, port int) string {
	return fmt.Sprintf("%s-#%s.%d", urlutil.EscapeHost(host), hostHash, port)
}

func parseDirName(name string) (string, string, int, bool) {
	i := strings.LastIndex(name, "-#")
	if i <= 0 {
		return "", "", 0, false
	}
	rest := name[i+2:]
	j := strings.LastIndex(rest, ".")
	if j < 0 {
		return "", "", 0, false
	}
	hostHash := rest[:j]
	port, err := strconv.Atoi(rest[j+1:])
	if err != nil || len(hostHash) != digest.HostHashLength {
		return "", "", 0, false
	}
	return urlutil.UnescapeHost(name[:i]), hostHash, port, true
}

func stackFile(depth int) string {
	return fmt.Sprintf("%04d%s", depth, stackSuffix)
}

// HostQueue is the persistent request queue of one host. Each crawl depth lives in
// its own row store; pops always drain the lowest depth first.
type HostQueue struct {
	dir      string
	host     string
	port     int
	hostHash string
	deps     Deps
	opts     rowstore.Options
	logger   *zap.Logger
	faults   *logging.Throttled

	mu     sync.RWMutex
	depths map[int]rowstore.Store
	closed bool
}

// NewHostQueue opens the queue directory of host below parent, loading any depth
// stores already present. Empty store files are deleted.
func NewHostQueue(parent, host string, port int, hostHash string, deps Deps, opts Options) (*HostQueue, error) {
	logger := logging.OrNop(opts.Logger).Named("hostqueue").With(zap.String("host", host), zap.Int("port", port))
	q := &HostQueue{
		dir:      filepath.Join(parent, dirName(host, hostHash, port)),
		host:     strings.ToLower(host),
		port:     port,
		hostHash: hostHash,
		deps:     deps,
		opts: rowstore.Options{
			OnDemandThreshold: opts.OnDemandThreshold,
			Retries:           opts.OpenRetries,
			Logger:            logger,
		},
		logger: logger,
		faults: logging.NewThrottled(logger, 10*time.Second),
		depths: make(map[int]rowstore.Store),
	}
	if err := os.MkdirAll(q.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create host queue dir: %w", err)
	}
	if err := q.openExisting(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *HostQueue) openExisting() error {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return fmt.Errorf("read host queue dir: %w", err)
	}
	for _, e := range entries {
		m := stackFilePattern.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		depth, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		path := filepath.Join(q.dir, e.Name())
		if info, err := e.Info(); err == nil && info.Size() == 0 {
			q.removeFile(path)
			continue
		}
		s, err := rowstore.Open(path, q.opts)
		if err != nil {
			q.fault("open", err, zap.Int("depth", depth))
			continue
		}
		if s.Size() == 0 {
			q.closeStore(s, true)
			continue
		}
		q.depths[depth] = s
	}
	return nil
}

func (q *HostQueue) fault(op string, err error, fields ...zap.Field) {
	metrics.ObserveStorageFault(op)
	q.faults.Warn("row store "+op+" failed", append(fields, zap.Error(err))...)
}

func (q *HostQueue) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		q.logger.Debug("remove store file failed", zap.String("path", path), zap.Error(err))
	}
}

func (q *HostQueue) closeStore(s rowstore.Store, deleteFile bool) {
	if err := s.Close(); err != nil {
		q.fault("close", err, zap.String("path", s.Path()))
	}
	if deleteFile {
		q.removeFile(s.Path())
	}
}

// storeLocked returns the store for depth, opening or creating it when create is set.
func (q *HostQueue) storeLocked(depth int, create bool) rowstore.Store {
	if s, ok := q.depths[depth]; ok {
		return s
	}
	if !create {
		return nil
	}
	if err := os.MkdirAll(q.dir, 0o755); err != nil {
		q.fault("open", err, zap.Int("depth", depth))
		return nil
	}
	s, err := rowstore.Open(filepath.Join(q.dir, stackFile(depth)), q.opts)
	if err != nil {
		q.fault("open", err, zap.Int("depth", depth))
		return nil
	}
	q.depths[depth] = s
	return s
}

func (q *HostQueue) dropLocked(depth int, deleteFile bool) {
	s, ok := q.depths[depth]
	if !ok {
		return
	}
	delete(q.depths, depth)
	q.closeStore(s, deleteFile)
}

func (q *HostQueue) sortedDepthsLocked() []int {
	depths := make([]int, 0, len(q.depths))
	for d := range q.depths {
		depths = append(depths, d)
	}
	sort.Ints(depths)
	return depths
}

// Host returns the host name.
func (q *HostQueue) Host() string { return q.host }

// Port returns the port.
func (q *HostQueue) Port() int { return q.port }

// HostHash returns the host hash shared by every digest in this queue.
func (q *HostQueue) HostHash() string { return q.hostHash }

// Dir returns the queue directory.
func (q *HostQueue) Dir() string { return q.dir }

// Depths lists the depths that currently hold a store.
func (q *HostQueue) Depths() []int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.sortedDepthsLocked()
}

// Has reports whether hash is queued at any depth.
func (q *HostQueue) Has(hash digest.Hash) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.hasLocked(hash)
}

func (q *HostQueue) hasLocked(hash digest.Hash) bool {
	for depth, s := range q.depths {
		ok, err := s.Has(string(hash))
		if err != nil {
			q.fault("read", err, zap.Int("depth", depth))
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

func (q *HostQueue) getLocked(hash digest.Hash) (*request.Request, error) {
	for depth, s := range q.depths {
		row, err := s.Get(string(hash))
		if err != nil {
			q.fault("read", err, zap.Int("depth", depth))
			continue
		}
		if row == nil {
			continue
		}
		req, err := request.FromRow(row)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", hash, err)
		}
		return &req, nil
	}
	return nil, nil
}

// Get returns the queued request for hash or nil.
func (q *HostQueue) Get(hash digest.Hash) (*request.Request, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.getLocked(hash)
}

// Push appends req at its depth. It fails with ErrDoubleOccurrence when the digest is
// already queued. On success the profile's per-host counter is advanced when a cap is set.
func (q *HostQueue) Push(req request.Request, p *profile.CrawlProfile) error {
	if q.Has(req.Hash) {
		q.checkCollision(req)
		return ErrDoubleOccurrence
	}
	row, err := req.ToRow()
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errQueueClosed
	}
	if q.hasLocked(req.Hash) {
		return ErrDoubleOccurrence
	}
	s := q.storeLocked(req.Depth, true)
	if s == nil {
		return fmt.Errorf("depth %d: %w", req.Depth, rowstore.ErrStoreUnavailable)
	}
	if err := s.Put(string(req.Hash), row); err != nil {
		q.fault("write", err, zap.Int("depth", req.Depth))
		return fmt.Errorf("push %s: %w", req.Hash, err)
	}
	if p != nil && p.DomMaxPages() > 0 {
		p.Domains().Inc(q.host)
	}
	metrics.ObserveHostQueueOp("push")
	return nil
}

func (q *HostQueue) checkCollision(req request.Request) {
	if !debugAssertions {
		return
	}
	existing, err := q.Get(req.Hash)
	if err == nil && existing != nil && existing.URL != req.URL {
		panic(fmt.Sprintf("digest collision %s: %q vs %q", req.Hash, existing.URL, req.URL))
	}
}

// Pop removes the next request, lowest depth first. Entries whose URL became
// blacklisted or whose profile is gone are dropped, including a profile deactivated
// during the politeness wait. With delay set the call blocks for the host's remaining
// politeness wait; canceling ctx puts the entry back. Pop returns nil when no usable
// entry is left.
func (q *HostQueue) Pop(ctx context.Context, delay bool) (*request.Request, error) {
	for {
		req, u, p, ok := q.nextUsable()
		if !ok {
			return nil, nil
		}
		var sleep time.Duration
		if q.deps.Politeness != nil {
			sleep = q.deps.Politeness.DomainSleepTime(p, u)
		}
		if delay && sleep > 0 {
			err := q.wait(ctx, sleep, req.ProfileHandle)
			if errors.Is(err, errProfileInactive) {
				q.logger.Debug("dropping entry of profile deactivated during wait",
					zap.String("url", req.URL), zap.String("profile", req.ProfileHandle))
				metrics.ObserveHostQueueOp("drop")
				continue
			}
			if err != nil {
				if rerr := q.restore(req); rerr != nil {
					q.logger.Warn("could not requeue entry after canceled wait", zap.String("url", req.URL), zap.Error(rerr))
				}
				return nil, err
			}
		}
		if q.deps.Politeness != nil {
			q.deps.Politeness.UpdateAfterSelection(u, 0)
		}
		metrics.ObserveHostQueueOp("pop")
		return &req, nil
	}
}

// nextUsable takes rows until one decodes, is not blacklisted and belongs to an active
// profile. Rejected rows are dropped.
func (q *HostQueue) nextUsable() (request.Request, *url.URL, *profile.CrawlProfile, bool) {
	for {
		row, ok := q.takeLowest()
		if !ok {
			return request.Request{}, nil, nil, false
		}
		r, err := request.FromRow(row)
		if err != nil {
			q.logger.Warn("dropping undecodable row", zap.Error(err))
			metrics.ObserveHostQueueOp("drop")
			continue
		}
		parsed, err := r.Parsed()
		if err != nil {
			q.logger.Warn("dropping unparseable url", zap.String("url", r.URL), zap.Error(err))
			metrics.ObserveHostQueueOp("drop")
			continue
		}
		if q.deps.Blacklist != nil && q.deps.Blacklist.IsListed(parsed) {
			q.logger.Debug("dropping blacklisted entry", zap.String("url", r.URL))
			metrics.ObserveHostQueueOp("drop")
			continue
		}
		var p *profile.CrawlProfile
		if q.deps.Profiles != nil {
			p, err = q.deps.Profiles.Get(r.ProfileHandle)
			if err != nil {
				q.logger.Debug("dropping entry of inactive profile", zap.String("url", r.URL), zap.String("profile", r.ProfileHandle))
				metrics.ObserveHostQueueOp("drop")
				continue
			}
		}
		return r, parsed, p, true
	}
}

// takeLowest removes one row from the lowest non-empty depth and deletes the store
// once it is drained.
func (q *HostQueue) takeLowest() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, depth := range q.sortedDepthsLocked() {
		s := q.depths[depth]
		if s.Size() == 0 {
			q.dropLocked(depth, true)
			continue
		}
		key, row, err := s.RemoveOne()
		if err != nil {
			q.fault("remove", err, zap.Int("depth", depth))
			q.dropLocked(depth, false)
			continue
		}
		if key == "" {
			q.dropLocked(depth, true)
			continue
		}
		if debugAssertions {
			if still, _ := s.Has(key); still {
				panic(fmt.Sprintf("popped digest %s still present at depth %d", key, depth))
			}
		}
		if s.Size() == 0 {
			q.dropLocked(depth, true)
		}
		return row, true
	}
	return nil, false
}

func (q *HostQueue) restore(req request.Request) error {
	row, err := req.ToRow()
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errQueueClosed
	}
	if q.hasLocked(req.Hash) {
		return nil
	}
	s := q.storeLocked(req.Depth, true)
	if s == nil {
		return rowstore.ErrStoreUnavailable
	}
	return s.Put(string(req.Hash), row)
}

// wait sleeps for d in chunks of at most one second, reporting progress between chunks.
// It returns errProfileInactive as soon as handle stops resolving, checked after
// every chunk.
func (q *HostQueue) wait(ctx context.Context, d time.Duration, handle string) error {
	start := time.Now()
	deadline := start.Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if q.deps.OnWait != nil {
			q.deps.OnWait(q.hostHash, remaining)
		}
		timer := time.NewTimer(min(remaining, maxWaitChunk))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("politeness wait canceled: %w", ctx.Err())
		case <-timer.C:
		}
		if !q.profileActive(handle) {
			return errProfileInactive
		}
	}
	metrics.ObservePolitenessWait(time.Since(start))
	return nil
}

func (q *HostQueue) profileActive(handle string) bool {
	if q.deps.Profiles == nil {
		return true
	}
	_, err := q.deps.Profiles.Get(handle)
	return err == nil
}

// Remove deletes the given digests and returns how many were found.
func (q *HostQueue) Remove(hashes []digest.Hash) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(hashes)
}

func (q *HostQueue) removeLocked(hashes []digest.Hash) int {
	removed := 0
	for _, h := range hashes {
		for depth, s := range q.depths {
			row, err := s.Remove(string(h))
			if err != nil {
				q.fault("remove", err, zap.Int("depth", depth))
				continue
			}
			if row != nil {
				removed++
				break
			}
		}
	}
	for _, depth := range q.sortedDepthsLocked() {
		if q.depths[depth].Size() == 0 {
			q.dropLocked(depth, true)
		}
	}
	return removed
}

// RemoveAllByProfileHandle deletes every entry of handle. The scan stops once budget
// is spent, so the result may be partial.
func (q *HostQueue) RemoveAllByProfileHandle(handle string, budget time.Duration) int {
	if budget <= 0 {
		return 0
	}
	deadline := time.Now().Add(budget)
	var keys []digest.Hash
	q.mu.RLock()
	for _, depth := range q.sortedDepthsLocked() {
		err := q.depths[depth].Iterate(func(key string, row []byte) bool {
			if time.Now().After(deadline) {
				return false
			}
			r, err := request.FromRow(row)
			if err == nil && r.ProfileHandle == handle {
				keys = append(keys, digest.Hash(key))
			}
			return true
		})
		if err != nil {
			q.fault("read", err, zap.Int("depth", depth))
		}
		if time.Now().After(deadline) {
			break
		}
	}
	q.mu.RUnlock()
	if len(keys) == 0 {
		return 0
	}
	return q.Remove(keys)
}

// RemoveAllByHostHashes wipes the whole queue when its host hash is in the set.
func (q *HostQueue) RemoveAllByHostHashes(hostHashes map[string]struct{}) int {
	if _, ok := hostHashes[q.hostHash]; !ok {
		return 0
	}
	n := q.Size()
	if err := q.Clear(); err != nil {
		q.logger.Warn("clear failed", zap.Error(err))
	}
	return n
}

// Size returns the number of queued requests.
func (q *HostQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	total := 0
	for _, s := range q.depths {
		total += s.Size()
	}
	return total
}

// IsEmpty reports whether the queue holds no requests.
func (q *HostQueue) IsEmpty() bool {
	return q.Size() == 0
}

// Iterate calls fn for each queued request in depth order until fn returns false.
func (q *HostQueue) Iterate(fn func(request.Request) bool) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	stop := false
	for _, depth := range q.sortedDepthsLocked() {
		err := q.depths[depth].Iterate(func(_ string, row []byte) bool {
			r, err := request.FromRow(row)
			if err != nil {
				return true
			}
			if !fn(r) {
				stop = true
				return false
			}
			return true
		})
		if err != nil {
			return fmt.Errorf("iterate depth %d: %w", depth, err)
		}
		if stop {
			return nil
		}
	}
	return nil
}

// Requests lists up to maxCount queued requests, giving up after budget.
func (q *HostQueue) Requests(maxCount int, budget time.Duration) []request.Request {
	out := make([]request.Request, 0)
	if maxCount <= 0 {
		return out
	}
	deadline := time.Now().Add(budget)
	err := q.Iterate(func(r request.Request) bool {
		out = append(out, r)
		return len(out) < maxCount && time.Now().Before(deadline)
	})
	if err != nil {
		q.logger.Warn("listing requests failed", zap.Error(err))
	}
	return out
}

// Clear deletes every entry together with the queue directory.
func (q *HostQueue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for depth, s := range q.depths {
		q.closeStore(s, false)
		delete(q.depths, depth)
	}
	if err := os.RemoveAll(q.dir); err != nil {
		return fmt.Errorf("remove host queue dir: %w", err)
	}
	return nil
}

// Close closes every depth store. Empty stores, and the directory once nothing is
// left in it, are deleted.
func (q *HostQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closeLocked()
	return nil
}

func (q *HostQueue) closeLocked() {
	for depth, s := range q.depths {
		q.closeStore(s, s.Size() == 0)
		delete(q.depths, depth)
	}
	q.closed = true
	if err := os.Remove(q.dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		q.logger.Debug("host queue dir kept", zap.String("dir", q.dir))
	}
}

// closeIfEmpty closes the queue only when it holds nothing.
func (q *HostQueue) closeIfEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, s := range q.depths {
		if s.Size() > 0 {
			return false
		}
	}
	q.closeLocked()
	return true
}
