// Package server builds the frontier service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawl-frontier/internal/api"
	"github.com/JakeFAU/crawl-frontier/internal/balancer"
	"github.com/JakeFAU/crawl-frontier/internal/blacklist"
	"github.com/JakeFAU/crawl-frontier/internal/config"
	"github.com/JakeFAU/crawl-frontier/internal/latency"
	"github.com/JakeFAU/crawl-frontier/internal/loader"
	"github.com/JakeFAU/crawl-frontier/internal/logging"
	"github.com/JakeFAU/crawl-frontier/internal/noticed"
	"github.com/JakeFAU/crawl-frontier/internal/profile"
	"github.com/JakeFAU/crawl-frontier/internal/robots"
	"github.com/JakeFAU/crawl-frontier/internal/scheduler"
	"github.com/JakeFAU/crawl-frontier/internal/stacker"
	"github.com/JakeFAU/crawl-frontier/internal/storage/memory"
	pgstore "github.com/JakeFAU/crawl-frontier/internal/storage/postgres"
	"github.com/JakeFAU/crawl-frontier/internal/store"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	registry  *profile.Registry
	frontier  *noticed.NoticedURL
	stacker   *stacker.Stacker
	scheduler *scheduler.Scheduler
	apiServer *api.Server
	pool      *pgxpool.Pool
	geoip     *stacker.GeoIP
	errors    store.ErrorLog
	index     store.Index
}

// Build creates the application's dependencies. The caller owns the returned App and
// must Close it.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("queues_dir", cfg.Frontier.QueuesDir),
		zap.Bool("database", cfg.DB.DSN != ""),
	)

	app.registry = profile.NewRegistry(cfg.Robots.UserAgent)
	for _, pc := range cfg.ProfileConfigs() {
		if pc.AgentName == "" {
			pc.AgentName = cfg.Robots.UserAgent
		}
		p, err := profile.New(pc.Name, pc, time.Now())
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", pc.Name, err)
		}
		app.registry.Put(p)
		logger.Info("profile activated", zap.String("profile", p.Handle()), zap.Int("depth", p.Depth()))
	}

	bl, err := blacklist.New(cfg.Blacklist.Hosts, cfg.Blacklist.URLPatterns)
	if err != nil {
		return nil, fmt.Errorf("blacklist init failed: %w", err)
	}
	robotsChecker := robots.New(robots.Config{
		Enabled:   cfg.Robots.Enabled,
		UserAgent: cfg.Robots.UserAgent,
		CacheTTL:  cfg.Robots.CacheTTL,
		Timeout:   cfg.Robots.Timeout,
	}, logger)
	tracker := latency.NewTracker(latency.Config{
		MinimumLocalDelta:  cfg.Latency.MinimumLocalDelta,
		MinimumGlobalDelta: cfg.Latency.MinimumGlobalDelta,
		MaxDelay:           cfg.Latency.MaxDelay,
	}, robotsChecker)

	if err := app.setupFrontier(bl, tracker); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.setupStores(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if cfg.GeoIP.DatabasePath != "" {
		app.geoip, err = stacker.OpenGeoIP(cfg.GeoIP.DatabasePath)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("geoip init failed: %w", err)
		}
		logger.Info("geoip database loaded", zap.String("path", cfg.GeoIP.DatabasePath))
	}

	pageLoader := loader.New(loader.Config{
		UserAgent: cfg.Scheduler.UserAgent,
		Timeout:   cfg.Scheduler.RequestTimeout,
	}, robotsChecker, logger)

	if err := app.setupStacker(bl, pageLoader, robotsChecker); err != nil {
		app.Close()
		return nil, err
	}
	if cfg.Scheduler.Enabled {
		app.scheduler, err = scheduler.New(scheduler.Config{
			Workers:        cfg.Scheduler.Workers,
			IdleSleep:      cfg.Scheduler.IdleSleep,
			RequestTimeout: cfg.Scheduler.RequestTimeout,
		}, scheduler.Deps{
			Frontier:   app.frontier,
			Loader:     pageLoader,
			Discoverer: app.stacker,
			Latency:    tracker,
			Index:      app.index,
			Logger:     logger,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("scheduler init failed: %w", err)
		}
	} else {
		logger.Info("scheduler disabled, frontier is fill-only")
	}

	app.apiServer = api.NewServer(api.Deps{
		Frontier: app.frontier,
		Stacker:  app.stacker,
		Profiles: app.registry,
		Errors:   app.errors,
		Ready:    app.ready,
	}, cfg, logger)
	return app, nil
}

func (a *App) setupFrontier(bl *blacklist.Blacklist, tracker *latency.Tracker) error {
	dir := filepath.Clean(a.cfg.Frontier.QueuesDir)
	frontier, err := noticed.Open(dir, balancer.Deps{
		Blacklist:  bl,
		Profiles:   a.registry,
		Politeness: tracker,
		Agent:      a.cfg.Robots.UserAgent,
	}, balancer.Options{
		OnDemandThreshold: a.cfg.Frontier.OnDemandThresholdBytes,
		OpenRetries:       a.cfg.Frontier.OpenRetries,
		Logger:            a.logger,
	})
	if err != nil {
		return fmt.Errorf("frontier open failed: %w", err)
	}
	a.frontier = frontier
	a.logger.Info("frontier opened", zap.String("dir", dir), zap.Int("pending", frontier.TotalSize()))
	return nil
}

func (a *App) setupStores(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("No DSN specified for database, using in-memory error log and index")
		a.errors = memory.NewErrorLog(0)
		a.index = memory.NewIndex()
		return nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres pool init failed: %w", err)
	}
	a.pool = pool
	if a.cfg.DB.EnsureSchema {
		if err := pgstore.EnsureSchema(ctx, pool, a.cfg.DB.ErrorTable, a.cfg.DB.IndexTable); err != nil {
			return fmt.Errorf("ensure schema failed: %w", err)
		}
	}
	errLog, err := pgstore.NewErrorLog(pool, a.cfg.DB.ErrorTable)
	if err != nil {
		return fmt.Errorf("error log init failed: %w", err)
	}
	index, err := pgstore.NewIndex(pool, a.cfg.DB.IndexTable)
	if err != nil {
		return fmt.Errorf("index init failed: %w", err)
	}
	a.errors = errLog
	a.index = index
	a.logger.Info("postgres stores initialized",
		zap.String("error_table", a.cfg.DB.ErrorTable),
		zap.String("index_table", a.cfg.DB.IndexTable),
	)
	return nil
}

func (a *App) setupStacker(bl *blacklist.Blacklist, protocols stacker.ProtocolSupport, rc *robots.Checker) error {
	deps := stacker.Deps{
		Frontier:  a.frontier,
		Profiles:  a.registry,
		Blacklist: bl,
		Protocols: protocols,
		Resolver:  net.DefaultResolver,
		Index:     a.index,
		Errors:    a.errors,
		FTP:       stacker.FTPClient{Timeout: a.cfg.Stacker.FTPTimeout},
		Robots:    rc,
		Logger:    a.logger,
	}
	if a.geoip != nil {
		deps.Countries = a.geoip
	}
	st, err := stacker.New(stacker.Config{
		PeerHash:              a.cfg.Stacker.PeerHash,
		QueueSize:             a.cfg.Stacker.QueueSize,
		DrainTimeout:          a.cfg.Stacker.DrainTimeout,
		AcceptLocal:           a.cfg.Stacker.AcceptLocal,
		AcceptGlobal:          a.cfg.Stacker.AcceptGlobal,
		GlobalEligible:        a.cfg.Stacker.GlobalEligible,
		UnparseableExtensions: a.cfg.Stacker.UnparseableExtensions,
		FTPMaxEntries:         a.cfg.Stacker.FTPMaxEntries,
		FTPTimeout:            a.cfg.Stacker.FTPTimeout,
		RobotsPreloads:        a.cfg.Stacker.RobotsPreloads,
	}, deps)
	if err != nil {
		return fmt.Errorf("stacker init failed: %w", err)
	}
	a.stacker = st
	return nil
}

func (a *App) ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the acceptance consumer, the scheduler and the HTTP server and blocks until
// ctx is canceled, a signal arrives or one of them fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// The stacker drains on Shutdown rather than on cancellation.
	g.Go(func() error {
		return a.stacker.Run(context.WithoutCancel(gctx))
	})
	if a.scheduler != nil {
		g.Go(func() error {
			return a.scheduler.Run(gctx)
		})
	}
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		remaining := a.stacker.Shutdown(a.cfg.Stacker.DrainTimeout)
		if remaining > 0 {
			a.logger.Warn("acceptance queue not drained", zap.Int("remaining", remaining))
		}
		return nil
	})

	err := g.Wait()
	a.Close()
	return err
}

// Close releases storage handles. It is safe to call on a partially built App.
func (a *App) Close() {
	if a.frontier != nil {
		if err := a.frontier.Close(); err != nil {
			a.logger.Warn("frontier close failed", zap.Error(err))
		}
		a.frontier = nil
	}
	if a.geoip != nil {
		if err := a.geoip.Close(); err != nil {
			a.logger.Warn("geoip close failed", zap.Error(err))
		}
		a.geoip = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}
