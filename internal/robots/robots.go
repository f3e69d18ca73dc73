// Package robots answers robots.txt questions for the frontier.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/logging"
	"github.com/JakeFAU/crawl-frontier/internal/urlutil"
)

// Config controls robots.txt retrieval.
type Config struct {
	Enabled   bool
	UserAgent string
	CacheTTL  time.Duration
	Timeout   time.Duration
}

type entry struct {
	data    *robotstxt.RobotsData
	fetched time.Time
}

// Checker fetches, caches and evaluates robots.txt per host and port.
type Checker struct {
	client    *http.Client
	enabled   bool
	userAgent string
	ttl       time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.RWMutex
	cache map[string]entry
}

// New builds a Checker. A disabled checker allows everything and reports no crawl delay.
func New(cfg Config, logger *zap.Logger) *Checker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Checker{
		client:    &http.Client{Timeout: timeout},
		enabled:   cfg.Enabled,
		userAgent: cfg.UserAgent,
		ttl:       ttl,
		logger:    logging.OrNop(logger).Named("robots"),
		now:       time.Now,
		cache:     make(map[string]entry),
	}
}

func hostKey(host string, port int) string {
	return strings.ToLower(host) + ":" + strconv.Itoa(port)
}

func (c *Checker) agent(agent string) string {
	if agent == "" {
		return c.userAgent
	}
	return agent
}

// CrawlDelay returns the crawl-delay for host from the cache. It never fetches.
func (c *Checker) CrawlDelay(host string, port int, agent string) time.Duration {
	if c == nil || !c.enabled {
		return 0
	}
	c.mu.RLock()
	e, ok := c.cache[hostKey(host, port)]
	c.mu.RUnlock()
	if !ok || e.data == nil {
		return 0
	}
	group := e.data.FindGroup(c.agent(agent))
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

// IsDisallowed reports whether agent may not fetch u. Fetch failures allow access.
func (c *Checker) IsDisallowed(ctx context.Context, u *url.URL, agent string) bool {
	if c == nil || !c.enabled {
		return false
	}
	data := c.load(ctx, u)
	if data == nil {
		return false
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return !data.TestAgent(p, c.agent(agent))
}

// Ensure loads robots.txt for the host of u into the cache.
func (c *Checker) Ensure(ctx context.Context, u *url.URL) {
	if c == nil || !c.enabled {
		return
	}
	c.load(ctx, u)
}

func (c *Checker) load(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	key := hostKey(u.Hostname(), urlutil.Port(u))
	c.mu.RLock()
	e, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.fetched) < c.ttl {
		return e.data
	}

	data, err := c.fetch(ctx, u)
	if err != nil {
		c.logger.Warn("robots fetch failed; allowing access", zap.String("host", u.Host), zap.Error(err))
	}
	c.mu.Lock()
	c.cache[key] = entry{data: data, fetched: c.now()}
	c.mu.Unlock()
	return data
}

func (c *Checker) fetch(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}
