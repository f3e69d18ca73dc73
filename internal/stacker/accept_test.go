package stacker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/noticed"
	"github.com/JakeFAU/crawl-frontier/internal/profile"
)

func TestUnsupportedProtocol(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(_ *Config, d *Deps) {
		d.Protocols = fakeProtocols{"http": true, "https": true}
	})
	p := h.profile(t, profile.Config{Depth: 2})

	rej := h.stacker.CheckAcceptanceChangeable(context.Background(), mustParse(t, "gopher://x/y"), p, 0)
	require.NotNil(t, rej)
	require.Equal(t, KindProtocol, rej.Kind)
	require.Equal(t, "unsupported protocol", rej.Reason)
}

func TestMustNotMatchFilter(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	p := h.profile(t, profile.Config{Depth: 5, URLMustNotMatch: `.*\.pdf$`})
	u := mustParse(t, "http://h/doc.pdf")

	rej := h.stacker.CheckAcceptanceChangeable(context.Background(), u, p, 3)
	require.NotNil(t, rej)
	require.Equal(t, KindMustNotMatch, rej.Kind)
	require.Equal(t, `url matches must-not-match crawling filter .*\.pdf$`, rej.Reason)

	require.Nil(t, h.stacker.CheckAcceptanceChangeable(context.Background(), u, p, 0))
}

func TestMustMatchFilter(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	p := h.profile(t, profile.Config{Depth: 5, URLMustMatch: `http://h/docs/.*`})

	rej := h.stacker.CheckAcceptanceChangeable(context.Background(), mustParse(t, "http://h/other"), p, 1)
	require.NotNil(t, rej)
	require.Equal(t, KindMustMatch, rej.Kind)
	require.Nil(t, h.stacker.CheckAcceptanceChangeable(context.Background(), mustParse(t, "http://h/docs/a"), p, 1))
}

func TestScopeBlacklistAndDynamicChecks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *Config, _ *Deps) { c.AcceptLocal = false })
	p := h.profile(t, profile.Config{Depth: 2})
	ctx := context.Background()

	rej := h.stacker.CheckAcceptanceChangeable(ctx, mustParse(t, "http://h/a"), p, 0)
	require.NotNil(t, rej)
	require.Equal(t, KindScope, rej.Kind)

	rej = h.stacker.CheckAcceptanceChangeable(ctx, mustParse(t, "http://blocked.example.com/a"), p, 0)
	require.NotNil(t, rej)
	require.Equal(t, KindBlacklist, rej.Kind)

	rej = h.stacker.CheckAcceptanceChangeable(ctx, mustParse(t, "http://example.com/run.cgi"), p, 0)
	require.NotNil(t, rej)
	require.Equal(t, KindDynamic, rej.Kind)

	rej = h.stacker.CheckAcceptanceChangeable(ctx, mustParse(t, "http://example.com/search?q=1"), p, 0)
	require.NotNil(t, rej)
	require.Equal(t, "post url not allowed", rej.Reason)

	open := h.profile(t, profile.Config{Name: "open", Depth: 2, AllowQuery: true, AllowPOST: true})
	require.Nil(t, h.stacker.CheckAcceptanceChangeable(ctx, mustParse(t, "http://example.com/search?q=1"), open, 0))
}

func TestIPAndCountryFilters(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(_ *Config, d *Deps) {
		d.Resolver = fakeResolver{ip: net.ParseIP("93.184.216.34")}
		d.Countries = fakeCountries{code: "US"}
	})
	ctx := context.Background()
	u := mustParse(t, "http://example.org/a")

	ipOnly := h.profile(t, profile.Config{Name: "ip", Depth: 3, IPMustMatch: `10\..*`})
	rej := h.stacker.CheckAcceptanceChangeable(ctx, u, ipOnly, 1)
	require.NotNil(t, rej)
	require.Equal(t, KindIP, rej.Kind)
	require.Nil(t, h.stacker.CheckAcceptanceChangeable(ctx, u, ipOnly, 0))

	germany := h.profile(t, profile.Config{Name: "de", Depth: 3, CountryMustMatch: []string{"DE"}})
	rej = h.stacker.CheckAcceptanceChangeable(ctx, u, germany, 1)
	require.NotNil(t, rej)
	require.Equal(t, KindCountry, rej.Kind)

	america := h.profile(t, profile.Config{Name: "us", Depth: 3, CountryMustMatch: []string{"us"}})
	require.Nil(t, h.stacker.CheckAcceptanceChangeable(ctx, u, america, 1))
}

func TestDuplicateIsStable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	p := h.profile(t, profile.Config{Depth: 2})
	req := newRequest(t, "http://h/a", p.Handle(), 0)
	require.NoError(t, h.stacker.StackCrawl(context.Background(), req))

	u := mustParse(t, req.URL)
	for i := 0; i < 2; i++ {
		rej := h.stacker.CheckAcceptanceInitially(context.Background(), req.Hash, u, p)
		require.NotNil(t, rej)
		require.True(t, IsDuplicate(rej))
		require.Equal(t, "double in: local", rej.Reason)
	}

	err := h.stacker.StackCrawl(context.Background(), req)
	require.True(t, IsDuplicate(err))
	require.Equal(t, 1, h.frontier.TotalSize())

	logged, err := h.errors.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, logged)
}

func TestRecrawlGating(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	p := h.profile(t, profile.Config{Depth: 2, RecrawlIfOlder: time.Hour})
	req := newRequest(t, "http://h/a", p.Handle(), 0)
	u := mustParse(t, req.URL)

	require.NoError(t, h.index.MarkIndexed(ctx, req.Hash, req.URL, time.Now().Add(-2*time.Hour)))
	require.Nil(t, h.stacker.CheckAcceptanceInitially(ctx, req.Hash, u, p))

	require.NoError(t, h.index.MarkIndexed(ctx, req.Hash, req.URL, time.Now().Add(-10*time.Minute)))
	rej := h.stacker.CheckAcceptanceInitially(ctx, req.Hash, u, p)
	require.NotNil(t, rej)
	require.Equal(t, KindRecrawlNotDue, rej.Kind)

	never := h.profile(t, profile.Config{Name: "never", Depth: 2})
	require.NoError(t, h.index.MarkIndexed(ctx, req.Hash, req.URL, time.Now().Add(-24*time.Hour)))
	rej = h.stacker.CheckAcceptanceInitially(ctx, req.Hash, u, never)
	require.NotNil(t, rej)
	require.Equal(t, KindRecrawlNotDue, rej.Kind)
}

func TestDomainCap(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	p := h.profile(t, profile.Config{Depth: 2, DomMaxPages: 2})

	require.NoError(t, h.stacker.StackCrawl(ctx, newRequest(t, "http://h/1", p.Handle(), 0)))
	require.NoError(t, h.stacker.StackCrawl(ctx, newRequest(t, "http://h/2", p.Handle(), 0)))

	third := newRequest(t, "http://h/3", p.Handle(), 0)
	rej := h.stacker.CheckAcceptanceInitially(ctx, third.Hash, mustParse(t, third.URL), p)
	require.NotNil(t, rej)
	require.Equal(t, KindDomainCap, rej.Kind)
	require.Equal(t, "crawl stack domain counter exceeded (test by profile)", rej.Reason)

	err := h.stacker.StackCrawl(ctx, third)
	require.Equal(t, KindDomainCap, KindOf(err))
	require.Equal(t, 2, h.frontier.Size(noticed.Local))
}

func TestInactiveProfileStopsEverything(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	p := h.profile(t, profile.Config{Depth: 2})
	require.True(t, h.registry.Deactivate(p.Handle()))

	req := newRequest(t, "http://h/a", p.Handle(), 0)
	for i := 0; i < 2; i++ {
		err := h.stacker.StackCrawl(ctx, req)
		require.ErrorIs(t, err, profile.ErrInactiveProfile)
		require.Equal(t, KindInactiveProfile, KindOf(err))
	}
	require.Equal(t, 0, h.frontier.TotalSize())

	err := h.stacker.EnqueueEntries(ctx, peerHash, p.Handle(), []Link{{URL: "http://h/b"}}, false, 0)
	require.ErrorIs(t, err, profile.ErrInactiveProfile)
	require.Equal(t, 0, h.stacker.QueueSize())

	require.NoError(t, <-h.stacker.EnqueueEntriesAsync(ctx, peerHash, p.Handle(), []Link{{URL: "http://h/c"}}, false, 0))
}

func TestRejectionsAreLogged(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	p := h.profile(t, profile.Config{Depth: 2})
	req := newRequest(t, "http://blocked.example.com/a", p.Handle(), 0)

	err := h.stacker.StackCrawl(context.Background(), req)
	require.Equal(t, KindBlacklist, KindOf(err))

	logged, err := h.errors.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	require.Equal(t, req.URL, logged[0].URL)
	require.Equal(t, string(KindBlacklist), logged[0].Kind)
	require.Equal(t, p.Handle(), logged[0].ProfileHandle)
}

func TestRoutingToPartitions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *Config, _ *Deps) { c.GlobalEligible = true })
	ctx := context.Background()

	remoteReq := newRequest(t, "http://h/remote", h.registry.Remote().Handle(), 0)
	remoteReq.Initiator = "otherpeer000"
	require.NoError(t, h.stacker.StackCrawl(ctx, remoteReq))
	stack, ok := h.frontier.ExistsInStack(remoteReq.Hash)
	require.True(t, ok)
	require.Equal(t, noticed.Remote, stack)

	proxyReq := newRequest(t, "http://h/proxy", h.registry.Proxy().Handle(), 0)
	proxyReq.Initiator = ""
	require.NoError(t, h.stacker.StackCrawl(ctx, proxyReq))
	stack, _ = h.frontier.ExistsInStack(proxyReq.Hash)
	require.Equal(t, noticed.Local, stack)

	global := h.profile(t, profile.Config{Name: "global", Depth: 1, RemoteIndexing: true})
	leaf := newRequest(t, "http://h/leaf", global.Handle(), 1)
	require.NoError(t, h.stacker.StackCrawl(ctx, leaf))
	stack, _ = h.frontier.ExistsInStack(leaf.Hash)
	require.Equal(t, noticed.Global, stack)

	orphan := newRequest(t, "http://h/orphan", global.Handle(), 0)
	orphan.Initiator = ""
	err := h.stacker.StackCrawl(ctx, orphan)
	require.Equal(t, KindNoRoute, KindOf(err))
}

func TestUnparseableExtensions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()

	meta := h.profile(t, profile.Config{Name: "meta", Depth: 1, IndexUnparseable: true})
	req := newRequest(t, "http://h/archive.zip", meta.Handle(), 0)
	require.NoError(t, h.stacker.StackCrawl(ctx, req))
	stack, ok := h.frontier.ExistsInStack(req.Hash)
	require.True(t, ok)
	require.Equal(t, noticed.NoLoad, stack)

	strict := h.profile(t, profile.Config{Name: "strict", Depth: 1})
	other := newRequest(t, "http://h/other.zip", strict.Handle(), 0)
	err := h.stacker.StackCrawl(ctx, other)
	require.Equal(t, KindMediaType, KindOf(err))

	checked := h.profile(t, profile.Config{Name: "checked", Depth: 1, CrossCheckMediaType: true})
	third := newRequest(t, "http://h/third.zip", checked.Handle(), 0)
	require.NoError(t, h.stacker.StackCrawl(ctx, third))
	stack, _ = h.frontier.ExistsInStack(third.Hash)
	require.Equal(t, noticed.Local, stack)
}
