package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/config"
	"github.com/JakeFAU/crawl-frontier/internal/profile"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Frontier: config.FrontierConfig{QueuesDir: t.TempDir(), RemoveBudget: time.Second},
		Stacker: config.StackerConfig{
			PeerHash:     "peer00000000",
			QueueSize:    8,
			DrainTimeout: time.Second,
			AcceptLocal:  true,
			AcceptGlobal: true,
		},
		Latency: config.LatencyConfig{MaxDelay: time.Second},
		Robots:  config.RobotsConfig{UserAgent: "frontier-test"},
		Profiles: map[string]profile.Config{
			"news": {Depth: 2},
		},
	}
}

func TestBuildRegistersConfiguredProfiles(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	p, err := app.registry.Get("news")
	require.NoError(t, err)
	require.Equal(t, 2, p.Depth())
	require.Equal(t, "frontier-test", p.AgentName())
	require.Nil(t, app.scheduler)
	require.Nil(t, app.pool)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/profiles", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"handle":"news"`)
}

func TestBuildRejectsInvalidProfile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Profiles["broken"] = profile.Config{URLMustMatch: "("}
	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestBuildRejectsInvalidBlacklist(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Blacklist.URLPatterns = []string{"("}
	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestBuildWithScheduler(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Scheduler = config.SchedulerConfig{Enabled: true, Workers: 2, IdleSleep: 10 * time.Millisecond}
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()
	require.NotNil(t, app.scheduler)
	require.NoError(t, app.ready(context.Background()))
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Scheduler = config.SchedulerConfig{Enabled: true, Workers: 1, IdleSleep: 10 * time.Millisecond}
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}
