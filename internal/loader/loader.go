// Package loader fetches queued requests with gocolly and extracts the links they carry.
package loader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/logging"
	"github.com/JakeFAU/crawl-frontier/internal/request"
	"github.com/JakeFAU/crawl-frontier/internal/stacker"
)

// ErrRobotsDisallowed is returned when robots.txt forbids the request target.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// RobotsChecker reports whether robots.txt forbids a URL for an agent.
type RobotsChecker interface {
	IsDisallowed(ctx context.Context, u *url.URL, agent string) bool
}

// Result describes one completed load.
type Result struct {
	URL         string
	StatusCode  int
	ContentType string
	Size        int
	Duration    time.Duration
	Links       []stacker.Link
}

// Loader implements page loading on top of a Colly collector.
type Loader struct {
	cfg           Config
	robots        RobotsChecker
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Loader. robots may be nil to skip robots.txt checks.
func New(cfg Config, robots RobotsChecker, logger *zap.Logger) *Loader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	transport := newHTTPTransport()
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)
	return &Loader{
		cfg:           cfg,
		robots:        robots,
		baseCollector: c,
		logger:        logging.OrNop(logger).Named("loader"),
	}
}

// IsSupportedProtocol reports whether scheme can be fetched. ftp is accepted because
// ftp listings are expanded into http-style requests before they reach the loader.
func (l *Loader) IsSupportedProtocol(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "http", "https", "ftp":
		return true
	default:
		return false
	}
}

// Load fetches req and returns the links found on the page.
func (l *Loader) Load(ctx context.Context, req request.Request) (Result, error) {
	u, err := req.Parsed()
	if err != nil {
		return Result{}, fmt.Errorf("parse request url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Result{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	agent := l.cfg.UserAgent
	if l.robots != nil && l.robots.IsDisallowed(ctx, u, agent) {
		return Result{URL: req.URL}, ErrRobotsDisallowed
	}

	var (
		result   Result
		fetchErr error
	)
	start := time.Now()
	collector := l.buildCollector()
	l.configureCollectorHooks(collector, start, &result, &fetchErr)
	if err := l.runCollector(ctx, collector, req.URL, &fetchErr); err != nil {
		if ctx.Err() != nil {
			return Result{URL: req.URL}, err
		}
		return result, err
	}
	l.logger.Debug("loaded",
		zap.String("url", req.URL),
		zap.Int("status", result.StatusCode),
		zap.Int("links", len(result.Links)),
		zap.Duration("took", result.Duration),
	)
	return result, nil
}

// buildCollector clones the base collector. Clones share its HTTP backend, so the
// transport and timeout are fixed in New.
func (l *Loader) buildCollector() *colly.Collector {
	collector := l.baseCollector.Clone()
	if l.cfg.UserAgent != "" {
		collector.UserAgent = l.cfg.UserAgent
	}
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	return collector
}

func (l *Loader) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *Result,
	fetchErr *error,
) {
	seen := make(map[string]struct{})
	hooks.OnResponse(func(r *colly.Response) {
		result.URL = r.Request.URL.String()
		result.StatusCode = r.StatusCode
		result.Size = len(r.Body)
		result.Duration = time.Since(start)
		if r.Headers != nil {
			result.ContentType = r.Headers.Get("Content-Type")
		}
	})

	hooks.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		result.Links = append(result.Links, stacker.Link{
			URL:  link,
			Name: strings.Join(strings.Fields(e.Text), " "),
		})
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
			result.Duration = time.Since(start)
		}
		*fetchErr = err
	})
}

func (l *Loader) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("load canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("load response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("load visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
