package blacklist

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestBlacklistHostRules(t *testing.T) {
	t.Parallel()

	bl, err := New([]string{"example.org", "*.ru", " .Spam.Net "}, nil)
	require.NoError(t, err)

	cases := []struct {
		raw     string
		blocked bool
	}{
		{"http://example.org/a", true},
		{"http://sub.example.org/a", false},
		{"http://example.ru/", true},
		{"http://sub.domain.ru/", true},
		{"http://spam.net/", true},
		{"http://a.spam.net/", true},
		{"http://example.com/", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.blocked, bl.IsListed(mustURL(t, tc.raw)), tc.raw)
	}
}

func TestBlacklistURLRules(t *testing.T) {
	t.Parallel()

	bl, err := New(nil, []string{`https?://[^/]+/ads/.*`})
	require.NoError(t, err)
	require.True(t, bl.IsListed(mustURL(t, "http://h/ads/banner.gif")))
	require.False(t, bl.IsListed(mustURL(t, "http://h/news/ads")))

	_, err = New(nil, []string{"("})
	require.Error(t, err)
}

func TestBlacklistChangesAtRuntime(t *testing.T) {
	t.Parallel()

	bl, err := New(nil, nil)
	require.NoError(t, err)
	u := mustURL(t, "http://late.example/")
	require.False(t, bl.IsListed(u))

	bl.AddHost("late.example")
	require.True(t, bl.IsListed(u))

	require.NoError(t, bl.Replace(nil, nil))
	require.False(t, bl.IsListed(u))
}

func TestNilBlacklist(t *testing.T) {
	t.Parallel()

	var bl *Blacklist
	require.False(t, bl.IsListed(mustURL(t, "http://h/")))
}
