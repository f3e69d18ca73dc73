package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/request"
	"github.com/JakeFAU/crawl-frontier/internal/stacker"
)

type denyRobots struct{ path string }

func (d denyRobots) IsDisallowed(_ context.Context, u *url.URL, _ string) bool {
	return u.Path == d.path
}

func newRequest(t *testing.T, raw string) request.Request {
	t.Helper()
	req, err := request.New(raw, "", "peer00000000", "", "profile", 0)
	require.NoError(t, err)
	return req
}

func TestLoadExtractsLinks(t *testing.T) {
	t.Parallel()

	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.UserAgent())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body>
<a href="/a">First
  link</a>
<a href="http://other.example.com/b">Other</a>
<a href="/a">again</a>
</body></html>`)
	}))
	defer srv.Close()

	l := New(Config{UserAgent: "frontier-test", Timeout: time.Second}, nil, nil)
	res, err := l.Load(context.Background(), newRequest(t, srv.URL+"/"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, res.ContentType, "text/html")
	require.Equal(t, "frontier-test", agent.Load())
	require.Equal(t, []stacker.Link{
		{URL: srv.URL + "/a", Name: "First link"},
		{URL: "http://other.example.com/b", Name: "Other"},
	}, res.Links)
}

func TestLoadRevisitsSameURL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	l := New(Config{}, nil, nil)
	req := newRequest(t, srv.URL+"/page")
	_, err := l.Load(context.Background(), req)
	require.NoError(t, err)
	_, err = l.Load(context.Background(), req)
	require.NoError(t, err)
	require.EqualValues(t, 2, hits.Load())
}

func TestLoadReportsHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	l := New(Config{}, nil, nil)
	res, err := l.Load(context.Background(), newRequest(t, srv.URL+"/missing"))
	require.Error(t, err)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestLoadHonorsRobots(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("disallowed page must not be fetched")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	l := New(Config{}, denyRobots{path: "/private"}, nil)
	_, err := l.Load(context.Background(), newRequest(t, srv.URL+"/private"))
	require.True(t, errors.Is(err, ErrRobotsDisallowed))
}

func TestLoadRejectsFTP(t *testing.T) {
	t.Parallel()

	l := New(Config{}, nil, nil)
	_, err := l.Load(context.Background(), newRequest(t, "ftp://ftp.example.com/file.txt"))
	require.Error(t, err)
}

func TestIsSupportedProtocol(t *testing.T) {
	t.Parallel()

	l := New(Config{}, nil, nil)
	require.True(t, l.IsSupportedProtocol("http"))
	require.True(t, l.IsSupportedProtocol("HTTPS"))
	require.True(t, l.IsSupportedProtocol("ftp"))
	require.False(t, l.IsSupportedProtocol("smb"))
	require.False(t, l.IsSupportedProtocol("mailto"))
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	l := New(Config{}, nil, nil)
	var result Result
	var fetchErr error
	hooks := &stubHooks{}
	l.configureCollectorHooks(hooks, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onHTML)
	require.NotNil(t, hooks.onError)
	require.Equal(t, "a[href]", hooks.selector)

	u, err := url.Parse("https://example.com/x")
	require.NoError(t, err)
	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"text/plain"}},
		Request:    &colly.Request{URL: u},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, 4, result.Size)
	require.Equal(t, "text/plain", result.ContentType)

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
	require.Equal(t, http.StatusBadGateway, result.StatusCode)
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onHTML     colly.HTMLCallback
	onError    colly.ErrorCallback
	selector   string
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }

func (s *stubHooks) OnHTML(selector string, cb colly.HTMLCallback) {
	s.selector = selector
	s.onHTML = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) { s.onError = cb }
