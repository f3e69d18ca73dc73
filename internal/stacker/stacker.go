// Package stacker implements the acceptance pipeline of the crawl frontier. Any number
// of producers submit candidate links; exactly one consumer checks each candidate and
// pushes the accepted ones into the frontier.
package stacker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/digest"
	"github.com/JakeFAU/crawl-frontier/internal/logging"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
	"github.com/JakeFAU/crawl-frontier/internal/noticed"
	"github.com/JakeFAU/crawl-frontier/internal/profile"
	"github.com/JakeFAU/crawl-frontier/internal/request"
	"github.com/JakeFAU/crawl-frontier/internal/store"
	"github.com/JakeFAU/crawl-frontier/internal/urlutil"
)

// ErrStackerClosed is returned to producers after Shutdown started.
var ErrStackerClosed = errors.New("stacker closed")

// Frontier is the queue set accepted requests are pushed into.
type Frontier interface {
	Push(stack noticed.StackType, req request.Request, p *profile.CrawlProfile) error
	ExistsInStack(hash digest.Hash) (noticed.StackType, bool)
	RemoveByURLHash(hash digest.Hash) int
}

// Profiles resolves crawl profiles.
type Profiles interface {
	Get(handle string) (*profile.CrawlProfile, error)
	Remote() *profile.CrawlProfile
	Proxy() *profile.CrawlProfile
}

// Blacklist reports blocked URLs.
type Blacklist interface {
	IsListed(u *url.URL) bool
}

// ProtocolSupport is the fetch layer's view of which schemes it can load.
type ProtocolSupport interface {
	IsSupportedProtocol(scheme string) bool
}

// IPResolver resolves host names; *net.Resolver satisfies it.
type IPResolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// CountryLookup maps an IP to its ISO country code.
type CountryLookup interface {
	Country(ip net.IP) (string, error)
}

// RobotsPreloader fetches robots.txt for a host ahead of its first load.
type RobotsPreloader interface {
	Ensure(ctx context.Context, u *url.URL)
}

// Link is a discovered URL with its anchor text.
type Link struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// Config tunes the pipeline.
type Config struct {
	// PeerHash identifies this node; requests initiated by it are local.
	PeerHash       string
	QueueSize      int
	DrainTimeout   time.Duration
	AcceptLocal    bool
	AcceptGlobal   bool
	GlobalEligible bool
	// UnparseableExtensions lists file extensions no parser supports.
	UnparseableExtensions []string
	FTPMaxEntries         int
	FTPTimeout            time.Duration
	// RobotsPreloads caps concurrent robots.txt preloads; hosts beyond it load lazily.
	RobotsPreloads int
}

// Deps are the collaborators of the pipeline. Only Frontier and Profiles are required.
type Deps struct {
	Frontier  Frontier
	Profiles  Profiles
	Blacklist Blacklist
	Protocols ProtocolSupport
	Resolver  IPResolver
	Countries CountryLookup
	Index     store.Index
	Errors    store.ErrorLog
	FTP       FTPLister
	Robots    RobotsPreloader
	Logger    *zap.Logger
}

// Stacker owns the bounded acceptance queue and its single consumer.
type Stacker struct {
	cfg         Config
	deps        Deps
	logger      *zap.Logger
	unparseable map[string]struct{}

	ch        chan request.Request
	closing   chan struct{}
	abort     chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	abortOnce sync.Once
	running   atomic.Bool

	preloadCtx    context.Context
	preloadCancel context.CancelFunc
	preloadSlots  chan struct{}
	preloading    sync.Map
	preloadMu     sync.Mutex
	preloadDone   bool
	preloads      sync.WaitGroup
}

// New validates deps and builds a Stacker. Call Run to start the consumer.
func New(cfg Config, deps Deps) (*Stacker, error) {
	if deps.Frontier == nil {
		return nil, errors.New("stacker: frontier is required")
	}
	if deps.Profiles == nil {
		return nil, errors.New("stacker: profiles are required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if cfg.FTPMaxEntries <= 0 {
		cfg.FTPMaxEntries = 10000
	}
	if cfg.FTPTimeout <= 0 {
		cfg.FTPTimeout = 30 * time.Second
	}
	if cfg.RobotsPreloads <= 0 {
		cfg.RobotsPreloads = 8
	}
	unparseable := make(map[string]struct{}, len(cfg.UnparseableExtensions))
	for _, ext := range cfg.UnparseableExtensions {
		unparseable[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	preloadCtx, preloadCancel := context.WithCancel(context.Background())
	return &Stacker{
		cfg:         cfg,
		deps:        deps,
		logger:      logging.OrNop(deps.Logger).Named("stacker"),
		unparseable: unparseable,
		ch:          make(chan request.Request, cfg.QueueSize),
		closing:     make(chan struct{}),
		abort:       make(chan struct{}),
		stopped:     make(chan struct{}),

		preloadCtx:    preloadCtx,
		preloadCancel: preloadCancel,
		preloadSlots:  make(chan struct{}, cfg.RobotsPreloads),
	}, nil
}

// QueueSize returns the number of requests waiting for the consumer.
func (s *Stacker) QueueSize() int { return len(s.ch) }

// Enqueue hands req to the consumer, blocking while the queue is full.
func (s *Stacker) Enqueue(ctx context.Context, req request.Request) error {
	select {
	case <-s.closing:
		return ErrStackerClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-s.closing:
		return ErrStackerClosed
	case s.ch <- req:
		metrics.SetStackerQueueLength(len(s.ch))
		return nil
	}
}

// Run consumes the queue until ctx ends or Shutdown is called. After Shutdown the
// remaining queue is drained before Run returns.
func (s *Stacker) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("stacker already running")
	}
	defer close(s.stopped)
	s.logger.Info("stacker started", zap.Int("capacity", cap(s.ch)))
	for {
		select {
		case <-s.closing:
			s.drain(context.WithoutCancel(ctx))
			return nil
		default:
		}
		select {
		case <-ctx.Done():
			s.logger.Info("stacker stopped", zap.Int("pending", len(s.ch)))
			return nil
		case <-s.closing:
			s.drain(context.WithoutCancel(ctx))
			return nil
		case req := <-s.ch:
			s.process(ctx, req)
		}
	}
}

func (s *Stacker) drain(ctx context.Context) {
	for {
		select {
		case <-s.abort:
			return
		default:
		}
		select {
		case <-s.abort:
			return
		case req := <-s.ch:
			s.process(ctx, req)
		default:
			return
		}
	}
}

func (s *Stacker) process(ctx context.Context, req request.Request) {
	metrics.SetStackerQueueLength(len(s.ch))
	if err := s.StackCrawl(ctx, req); err != nil {
		s.logger.Debug("request rejected",
			zap.String("url", req.URL),
			zap.String("kind", string(KindOf(err))),
			zap.String("reason", err.Error()),
		)
	}
}

// Shutdown stops accepting new requests, drains the queue for at most timeout and
// returns how many requests were left behind.
func (s *Stacker) Shutdown(timeout time.Duration) int {
	s.closeOnce.Do(func() { close(s.closing) })
	defer s.stopPreloads()
	if !s.running.Load() {
		return len(s.ch)
	}
	if timeout <= 0 {
		timeout = s.cfg.DrainTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.stopped:
	case <-timer.C:
		s.abortOnce.Do(func() { close(s.abort) })
		<-s.stopped
	}
	remaining := len(s.ch)
	s.logger.Info("stacker shut down", zap.Int("remaining", remaining))
	return remaining
}

// EnqueueEntries turns links into depth-zero requests of the given profile and queues
// them. It fails fast with profile.ErrInactiveProfile when handle is not active. With
// replace set, indexed and queued copies of each link are removed first so that it is
// loaded again.
func (s *Stacker) EnqueueEntries(
	ctx context.Context,
	initiator string,
	handle string,
	links []Link,
	replace bool,
	timezoneOffset int,
) error {
	p, err := s.deps.Profiles.Get(handle)
	if err != nil {
		return err
	}
	for _, link := range links {
		req, err := request.New(link.URL, "", initiator, link.Name, p.Handle(), 0)
		if err != nil {
			s.logger.Debug("skipping malformed link", zap.String("url", link.URL), zap.Error(err))
			continue
		}
		req.TimezoneOffset = timezoneOffset
		u, err := req.Parsed()
		if err != nil {
			continue
		}
		if replace {
			s.forget(ctx, req.Hash, u)
		}
		if u.Scheme == "ftp" && s.deps.FTP != nil {
			if err := s.enqueueFTP(ctx, req, u, p); err != nil {
				return err
			}
			continue
		}
		if err := s.Enqueue(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// EnqueueEntriesAsync runs EnqueueEntries on its own goroutine. An inactive profile ends
// the batch early and is reported as a nil error.
func (s *Stacker) EnqueueEntriesAsync(
	ctx context.Context,
	initiator string,
	handle string,
	links []Link,
	replace bool,
	timezoneOffset int,
) <-chan error {
	done := make(chan error, 1)
	go func() {
		err := s.EnqueueEntries(ctx, initiator, handle, links, replace, timezoneOffset)
		if errors.Is(err, profile.ErrInactiveProfile) {
			s.logger.Debug("batch stopped, profile inactive", zap.String("profile", handle))
			err = nil
		}
		done <- err
	}()
	return done
}

// EnqueueDiscovered queues links found on parent one level deeper. Nothing is queued
// once parent reached its profile's depth.
func (s *Stacker) EnqueueDiscovered(ctx context.Context, parent request.Request, links []Link) error {
	p, err := s.deps.Profiles.Get(parent.ProfileHandle)
	if err != nil {
		return err
	}
	if parent.Depth >= p.Depth() {
		return nil
	}
	for _, link := range links {
		req, err := request.New(link.URL, parent.Hash, parent.Initiator, link.Name, p.Handle(), parent.Depth+1)
		if err != nil {
			continue
		}
		req.TimezoneOffset = parent.TimezoneOffset
		if err := s.Enqueue(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// forget removes hash and the index form of u from the index and the frontier.
func (s *Stacker) forget(ctx context.Context, hash digest.Hash, u *url.URL) {
	hashes := []digest.Hash{hash}
	if form, ok := urlutil.IndexForm(u); ok {
		hashes = append(hashes, digest.FromURL(form))
	}
	for _, h := range hashes {
		if s.deps.Index != nil {
			if err := s.deps.Index.Remove(ctx, h); err != nil {
				s.logger.Warn("index removal failed", zap.String("digest", string(h)), zap.Error(err))
			}
		}
		s.deps.Frontier.RemoveByURLHash(h)
	}
}
