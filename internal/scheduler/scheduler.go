// Package scheduler drains the frontier partitions with a pool of load workers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/loader"
	"github.com/JakeFAU/crawl-frontier/internal/logging"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
	"github.com/JakeFAU/crawl-frontier/internal/noticed"
	"github.com/JakeFAU/crawl-frontier/internal/profile"
	"github.com/JakeFAU/crawl-frontier/internal/request"
	"github.com/JakeFAU/crawl-frontier/internal/stacker"
	"github.com/JakeFAU/crawl-frontier/internal/store"
)

// fetchStacks are the partitions whose entries are loaded, in polling order.
var fetchStacks = []noticed.StackType{noticed.Local, noticed.Global, noticed.Remote}

// Frontier hands out queued requests.
type Frontier interface {
	Pop(ctx context.Context, s noticed.StackType, delay bool) (*request.Request, error)
}

// Loader fetches one request.
type Loader interface {
	Load(ctx context.Context, req request.Request) (loader.Result, error)
}

// Discoverer accepts links found on a loaded page.
type Discoverer interface {
	EnqueueDiscovered(ctx context.Context, parent request.Request, links []stacker.Link) error
}

// LoadObserver records per-host load latency.
type LoadObserver interface {
	UpdateAfterLoad(u *url.URL, took time.Duration)
}

// Config controls worker fan-out.
type Config struct {
	Workers        int
	IdleSleep      time.Duration
	RequestTimeout time.Duration
}

// Deps are the collaborators of the scheduler. Latency and Index are optional.
type Deps struct {
	Frontier   Frontier
	Loader     Loader
	Discoverer Discoverer
	Latency    LoadObserver
	Index      store.Index
	Logger     *zap.Logger
}

// Scheduler fans frontier work out to a pool of workers.
type Scheduler struct {
	cfg      Config
	deps     Deps
	logger   *zap.Logger
	popWarns *logging.Throttled
	now      func() time.Time
}

// New validates deps and applies defaults to cfg.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Frontier == nil || deps.Loader == nil {
		return nil, errors.New("scheduler requires a frontier and a loader")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	logger := logging.OrNop(deps.Logger).Named("scheduler")
	return &Scheduler{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		popWarns: logging.NewThrottled(logger, 10*time.Second),
		now:      time.Now,
	}, nil
}

// Run starts all workers and blocks until the context finishes.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Int("workers", s.cfg.Workers))
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.work(ctx, id)
		}(i)
	}
	wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) work(ctx context.Context, id int) {
	for ctx.Err() == nil {
		if s.step(ctx, id) {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.IdleSleep):
		}
	}
}

// step handles at most one request and reports whether one was found.
func (s *Scheduler) step(ctx context.Context, id int) bool {
	req, err := s.deps.Frontier.Pop(ctx, noticed.NoLoad, false)
	if err != nil {
		s.popFailed(ctx, noticed.NoLoad, err)
	} else if req != nil {
		s.indexMetadata(ctx, *req)
		return true
	}
	for i := range fetchStacks {
		stack := fetchStacks[(id+i)%len(fetchStacks)]
		req, err := s.deps.Frontier.Pop(ctx, stack, true)
		if err != nil {
			s.popFailed(ctx, stack, err)
			continue
		}
		if req != nil {
			s.load(ctx, stack, *req)
			return true
		}
	}
	return false
}

func (s *Scheduler) popFailed(ctx context.Context, stack noticed.StackType, err error) {
	if ctx.Err() != nil {
		return
	}
	s.popWarns.Warn("frontier pop failed", zap.Stringer("stack", stack), zap.Error(err))
}

func (s *Scheduler) load(ctx context.Context, stack noticed.StackType, req request.Request) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	loadCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	start := s.now()
	res, err := s.deps.Loader.Load(loadCtx, req)
	took := res.Duration
	if took <= 0 {
		took = s.now().Sub(start)
	}
	if u, perr := req.Parsed(); perr == nil && s.deps.Latency != nil {
		s.deps.Latency.UpdateAfterLoad(u, took)
	}
	if err != nil {
		status := "error"
		if errors.Is(err, loader.ErrRobotsDisallowed) {
			status = "robots"
		}
		metrics.ObserveLoad(status)
		s.logger.Debug("load failed",
			zap.String("url", req.URL),
			zap.Stringer("stack", stack),
			zap.Int("status", res.StatusCode),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveLoad("ok")
	if err := s.markIndexed(ctx, req); err != nil {
		s.logger.Warn("mark indexed failed", zap.String("url", req.URL), zap.Error(err))
	}
	if len(res.Links) == 0 || s.deps.Discoverer == nil {
		return
	}
	err = s.deps.Discoverer.EnqueueDiscovered(ctx, req, res.Links)
	switch {
	case err == nil:
	case errors.Is(err, profile.ErrInactiveProfile), errors.Is(err, stacker.ErrStackerClosed):
		s.logger.Debug("discovered links dropped", zap.String("url", req.URL), zap.Error(err))
	default:
		s.logger.Warn("enqueue discovered links failed", zap.String("url", req.URL), zap.Error(err))
	}
}

// indexMetadata records a metadata-only entry without fetching its content.
func (s *Scheduler) indexMetadata(ctx context.Context, req request.Request) {
	metrics.ObserveLoad("noload")
	if err := s.markIndexed(ctx, req); err != nil {
		s.logger.Warn("index metadata failed", zap.String("url", req.URL), zap.Error(err))
	}
}

func (s *Scheduler) markIndexed(ctx context.Context, req request.Request) error {
	if s.deps.Index == nil {
		return nil
	}
	if err := s.deps.Index.MarkIndexed(ctx, req.Hash, req.URL, s.now()); err != nil {
		return fmt.Errorf("mark %s indexed: %w", req.Hash, err)
	}
	return nil
}
