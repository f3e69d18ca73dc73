package balancer

import (
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/digest"
	"github.com/JakeFAU/crawl-frontier/internal/profile"
	"github.com/JakeFAU/crawl-frontier/internal/request"
)

type fakePoliteness struct {
	mu       sync.Mutex
	sleep    time.Duration
	guessed  map[string]time.Duration
	selected []string
}

func (f *fakePoliteness) DomainSleepTime(*profile.CrawlProfile, *url.URL) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sleep
}

func (f *fakePoliteness) UpdateAfterSelection(u *url.URL, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, u.String())
}

func (f *fakePoliteness) WaitingRemainingGuessed(_ string, _ int, hostHash, _ string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.guessed[hostHash]
}

func (f *fakePoliteness) selections() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.selected...)
}

type fixture struct {
	registry   *profile.Registry
	profile    *profile.CrawlProfile
	politeness *fakePoliteness
	deps       Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := profile.NewRegistry("test-agent")
	p, err := reg.Create(profile.Config{Name: "job", Depth: 10})
	require.NoError(t, err)
	pol := &fakePoliteness{guessed: map[string]time.Duration{}}
	return &fixture{
		registry:   reg,
		profile:    p,
		politeness: pol,
		deps: Deps{
			Profiles:   reg,
			Politeness: pol,
			Agent:      "test-agent",
		},
	}
}

func newRequest(t *testing.T, rawURL string, depth int, handle string) request.Request {
	t.Helper()
	req, err := request.New(rawURL, "", "", "", handle, depth)
	require.NoError(t, err)
	return req
}

func newHostQueue(t *testing.T, parent string, deps Deps) *HostQueue {
	t.Helper()
	q, err := NewHostQueue(parent, "h", 80, digest.HostHash("http", "h", 80), deps, Options{})
	require.NoError(t, err)
	return q
}
