// Package latency tracks per-host access history and derives politeness delays.
package latency

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-frontier/internal/digest"
	"github.com/JakeFAU/crawl-frontier/internal/profile"
	"github.com/JakeFAU/crawl-frontier/internal/urlutil"
)

// CrawlDelayer reports a host's robots.txt crawl-delay from cache.
type CrawlDelayer interface {
	CrawlDelay(host string, port int, agent string) time.Duration
}

// Config holds the minimum spacing between fetches and the upper bound of any wait.
type Config struct {
	MinimumLocalDelta  time.Duration
	MinimumGlobalDelta time.Duration
	MaxDelay           time.Duration
}

const defaultAverage = 500 * time.Millisecond

type host struct {
	name        string
	port        int
	lastAccess  time.Time
	totalLoad   time.Duration
	count       int
	robotsDelay time.Duration
}

func (h *host) average() time.Duration {
	if h.count == 0 {
		return defaultAverage
	}
	return h.totalLoad / time.Duration(h.count)
}

// flux adds extra spacing for hosts we know little about. It shrinks as accesses accumulate.
func (h *host) flux(span time.Duration) time.Duration {
	return span / time.Duration(h.count+1)
}

// Tracker holds latency state for every host seen since start.
type Tracker struct {
	cfg    Config
	robots CrawlDelayer
	now    func() time.Time

	mu    sync.Mutex
	hosts map[string]*host
}

// NewTracker builds a Tracker. robots may be nil.
func NewTracker(cfg Config, robots CrawlDelayer) *Tracker {
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Minute
	}
	return &Tracker{
		cfg:    cfg,
		robots: robots,
		now:    time.Now,
		hosts:  make(map[string]*host),
	}
}

func hostHashOf(u *url.URL) string {
	return digest.HostHash(u.Scheme, u.Hostname(), urlutil.Port(u))
}

func (t *Tracker) lookup(hostHash string) (host, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.hosts[hostHash]
	if !ok {
		return host{}, false
	}
	return *h, true
}

func (t *Tracker) minimumDelta(hostname string) time.Duration {
	if urlutil.IsLocalHost(hostname) {
		return t.cfg.MinimumLocalDelta
	}
	return t.cfg.MinimumGlobalDelta
}

func (t *Tracker) robotsDelay(hostname string, port int, agent string) time.Duration {
	if t.robots == nil {
		return 0
	}
	return t.robots.CrawlDelay(hostname, port, agent)
}

func (t *Tracker) clamp(d time.Duration) time.Duration {
	if d > t.cfg.MaxDelay {
		return t.cfg.MaxDelay
	}
	return d
}

// DomainSleepTime returns how long a fetch of u must still wait. Hosts never selected
// before and hosts whose spacing already elapsed yield a value of zero or less.
func (t *Tracker) DomainSleepTime(p *profile.CrawlProfile, u *url.URL) time.Duration {
	h, ok := t.lookup(hostHashOf(u))
	if !ok {
		return 0
	}
	hostname := u.Hostname()
	local := urlutil.IsLocalHost(hostname)
	waiting := t.minimumDelta(hostname)
	if !local {
		waiting += h.flux(waiting)
	}
	waiting = max(waiting, h.average()*3/2)
	if urlutil.IsCGI(u) {
		waiting *= 2
	}
	if !local {
		agent := ""
		if p != nil {
			agent = p.AgentName()
		}
		waiting = max(waiting, t.robotsDelay(hostname, urlutil.Port(u), agent), h.robotsDelay)
	}
	return t.clamp(waiting) - t.now().Sub(h.lastAccess)
}

// WaitingRemainingGuessed estimates the remaining wait for a host without a concrete URL.
func (t *Tracker) WaitingRemainingGuessed(hostname string, port int, hostHash, agent string) time.Duration {
	h, ok := t.lookup(hostHash)
	if !ok {
		return 0
	}
	waiting := t.minimumDelta(hostname)
	waiting = max(waiting, h.average()*3/2)
	waiting += h.flux(waiting)
	waiting = max(waiting, t.robotsDelay(hostname, port, agent), h.robotsDelay)
	return t.clamp(waiting) - t.now().Sub(h.lastAccess)
}

// UpdateAfterSelection marks u's host as being fetched now.
func (t *Tracker) UpdateAfterSelection(u *url.URL, robotsDelay time.Duration) {
	key := hostHashOf(u)
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.hosts[key]
	if !ok {
		h = &host{name: strings.ToLower(u.Hostname()), port: urlutil.Port(u)}
		t.hosts[key] = h
	}
	h.lastAccess = now
	if robotsDelay > 0 {
		h.robotsDelay = robotsDelay
	}
}

// UpdateAfterLoad records the duration of a completed fetch of u.
func (t *Tracker) UpdateAfterLoad(u *url.URL, took time.Duration) {
	key := hostHashOf(u)
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.hosts[key]
	if !ok {
		h = &host{name: strings.ToLower(u.Hostname()), port: urlutil.Port(u)}
		t.hosts[key] = h
	}
	h.lastAccess = now
	h.totalLoad += took
	h.count++
}

// Stats describes the latency history of one host.
type Stats struct {
	Host       string
	Port       int
	LastAccess time.Time
	Average    time.Duration
	Count      int
}

// Host returns the history for hostHash.
func (t *Tracker) Host(hostHash string) (Stats, bool) {
	h, ok := t.lookup(hostHash)
	if !ok {
		return Stats{}, false
	}
	return Stats{Host: h.name, Port: h.port, LastAccess: h.lastAccess, Average: h.average(), Count: h.count}, true
}
