package stacker

import (
	"context"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/balancer"
	"github.com/JakeFAU/crawl-frontier/internal/blacklist"
	"github.com/JakeFAU/crawl-frontier/internal/noticed"
	"github.com/JakeFAU/crawl-frontier/internal/profile"
	"github.com/JakeFAU/crawl-frontier/internal/request"
	"github.com/JakeFAU/crawl-frontier/internal/storage/memory"
)

const peerHash = "peer00000000"

type fakeProtocols map[string]bool

func (f fakeProtocols) IsSupportedProtocol(scheme string) bool { return f[scheme] }

type fakeResolver struct{ ip net.IP }

func (f fakeResolver) LookupIP(context.Context, string, string) ([]net.IP, error) {
	return []net.IP{f.ip}, nil
}

type fakeCountries struct{ code string }

func (f fakeCountries) Country(net.IP) (string, error) { return f.code, nil }

type fakeFTP struct {
	entries  []FTPEntry
	maxDepth int
}

func (f *fakeFTP) List(_ context.Context, _ *url.URL, maxDepth, _ int) ([]FTPEntry, error) {
	f.maxDepth = maxDepth
	return f.entries, nil
}

type harness struct {
	stacker   *Stacker
	frontier  *noticed.NoticedURL
	registry  *profile.Registry
	index     *memory.Index
	errors    *memory.ErrorLog
	blacklist *blacklist.Blacklist
}

func newHarness(t *testing.T, mutate func(*Config, *Deps)) *harness {
	t.Helper()
	registry := profile.NewRegistry("agent")
	frontier, err := noticed.Open(t.TempDir(), balancer.Deps{Profiles: registry}, balancer.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = frontier.Close() })
	bl, err := blacklist.New([]string{"blocked.example.com"}, nil)
	require.NoError(t, err)

	h := &harness{
		frontier:  frontier,
		registry:  registry,
		index:     memory.NewIndex(),
		errors:    memory.NewErrorLog(100),
		blacklist: bl,
	}
	cfg := Config{
		PeerHash:              peerHash,
		QueueSize:             16,
		AcceptLocal:           true,
		AcceptGlobal:          true,
		UnparseableExtensions: []string{"zip"},
	}
	deps := Deps{
		Frontier:  frontier,
		Profiles:  registry,
		Blacklist: bl,
		Index:     h.index,
		Errors:    h.errors,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	h.stacker, err = New(cfg, deps)
	require.NoError(t, err)
	return h
}

func (h *harness) profile(t *testing.T, cfg profile.Config) *profile.CrawlProfile {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "job"
	}
	p, err := h.registry.Create(cfg)
	require.NoError(t, err)
	return p
}

func newRequest(t *testing.T, raw, handle string, depth int) request.Request {
	t.Helper()
	req, err := request.New(raw, "", peerHash, "", handle, depth)
	require.NoError(t, err)
	return req
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
