package profile

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// RemoteName names the built-in profile for work received from peers.
	RemoteName = "remote"
	// ProxyName names the built-in profile for URLs seen by the indexing proxy.
	ProxyName = "proxy"
)

// ErrInactiveProfile signals that a handle no longer resolves to a running crawl job.
var ErrInactiveProfile = errors.New("inactive profile")

// Registry tracks active crawl profiles by handle.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*CrawlProfile
	remote *CrawlProfile
	proxy  *CrawlProfile
	now    func() time.Time
}

// NewRegistry builds a registry seeded with the remote and proxy profiles.
func NewRegistry(agent string) *Registry {
	r := &Registry{
		active: make(map[string]*CrawlProfile),
		now:    time.Now,
	}
	r.remote = mustDefault("default-"+RemoteName, Config{
		Name:           RemoteName,
		AgentName:      agent,
		Depth:          0,
		RemoteIndexing: false,
		AllowQuery:     true,
		AllowPOST:      true,
	})
	r.proxy = mustDefault("default-"+ProxyName, Config{
		Name:       ProxyName,
		AgentName:  agent,
		Depth:      0,
		AllowQuery: true,
		AllowPOST:  true,
	})
	r.active[r.remote.handle] = r.remote
	r.active[r.proxy.handle] = r.proxy
	return r
}

func mustDefault(handle string, cfg Config) *CrawlProfile {
	p, err := New(handle, cfg, time.Now())
	if err != nil {
		panic(fmt.Sprintf("default profile %s: %v", cfg.Name, err))
	}
	return p
}

// Create compiles cfg under a fresh handle and activates it.
func (r *Registry) Create(cfg Config) (*CrawlProfile, error) {
	p, err := New(uuid.NewString(), cfg, r.now())
	if err != nil {
		return nil, err
	}
	r.Put(p)
	return p, nil
}

// Put activates p, replacing any profile with the same handle.
func (r *Registry) Put(p *CrawlProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[p.handle] = p
}

// Get resolves handle, returning ErrInactiveProfile when it is unknown or deactivated.
func (r *Registry) Get(handle string) (*CrawlProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.active[handle]
	if !ok {
		return nil, fmt.Errorf("profile %q: %w", handle, ErrInactiveProfile)
	}
	return p, nil
}

// Deactivate removes handle from the active set. Built-in profiles cannot be removed.
func (r *Registry) Deactivate(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if handle == r.remote.handle || handle == r.proxy.handle {
		return false
	}
	if _, ok := r.active[handle]; !ok {
		return false
	}
	delete(r.active, handle)
	return true
}

// Active lists active profiles sorted by name.
func (r *Registry) Active() []*CrawlProfile {
	r.mu.RLock()
	out := make([]*CrawlProfile, 0, len(r.active))
	for _, p := range r.active {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].cfg.Name < out[j].cfg.Name })
	return out
}

// Remote returns the built-in profile for peer-distributed work.
func (r *Registry) Remote() *CrawlProfile { return r.remote }

// Proxy returns the built-in profile for proxy-observed URLs.
func (r *Registry) Proxy() *CrawlProfile { return r.proxy }
