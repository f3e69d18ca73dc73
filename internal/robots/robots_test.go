package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRobotsServer(t *testing.T, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			hits.Add(1)
			fmt.Fprint(w, body)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func hostPort(t *testing.T, raw string) (*url.URL, string, int) {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u, u.Hostname(), port
}

func TestCheckerDisallowAndCrawlDelay(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newRobotsServer(t, "User-agent: *\nDisallow: /blocked\nCrawl-delay: 3\n", &hits)
	c := New(Config{Enabled: true, UserAgent: "frontier-test"}, zap.NewNop())
	ctx := context.Background()

	base, host, port := hostPort(t, srv.URL)
	require.Equal(t, time.Duration(0), c.CrawlDelay(host, port, ""))

	blocked := base.JoinPath("blocked")
	allowed := base.JoinPath("allowed")
	require.True(t, c.IsDisallowed(ctx, blocked, ""))
	require.False(t, c.IsDisallowed(ctx, allowed, ""))
	require.Equal(t, 3*time.Second, c.CrawlDelay(host, port, ""))
	require.Equal(t, int32(1), hits.Load())
}

func TestCheckerRefetchesAfterTTL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newRobotsServer(t, "User-agent: *\nAllow: /\n", &hits)
	c := New(Config{Enabled: true, UserAgent: "frontier-test", CacheTTL: time.Minute}, nil)
	clock := time.Unix(1000, 0)
	c.now = func() time.Time { return clock }

	u, _, _ := hostPort(t, srv.URL)
	c.Ensure(context.Background(), u)
	c.Ensure(context.Background(), u)
	require.Equal(t, int32(1), hits.Load())

	clock = clock.Add(2 * time.Minute)
	c.Ensure(context.Background(), u)
	require.Equal(t, int32(2), hits.Load())
}

func TestCheckerFetchFailureAllows(t *testing.T) {
	t.Parallel()

	c := New(Config{Enabled: true, Timeout: 200 * time.Millisecond}, zap.NewNop())
	u, err := url.Parse("http://127.0.0.1:1/secret")
	require.NoError(t, err)
	require.False(t, c.IsDisallowed(context.Background(), u, "agent"))
}

func TestDisabledCheckerAllowsEverything(t *testing.T) {
	t.Parallel()

	c := New(Config{Enabled: false}, nil)
	u, err := url.Parse("http://example.invalid/x")
	require.NoError(t, err)
	require.False(t, c.IsDisallowed(context.Background(), u, ""))
	require.Zero(t, c.CrawlDelay("example.invalid", 80, ""))
}
