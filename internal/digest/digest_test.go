package digest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOfIsDeterministicAcrossEquivalentForms(t *testing.T) {
	t.Parallel()

	a, err := Of("HTTP://Example.com:80/a/../b#frag")
	require.NoError(t, err)
	b, err := Of("http://example.com/b")
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.Len(t, string(a), Length)
	require.True(t, a.Valid())
}

func TestHostHashSharedWithinHost(t *testing.T) {
	t.Parallel()

	a, err := Of("http://h.example/a")
	require.NoError(t, err)
	b, err := Of("http://h.example/b")
	require.NoError(t, err)
	c, err := Of("https://h.example/a")
	require.NoError(t, err)

	require.NotEqual(t, a, b)
	require.Equal(t, a.HostHash(), b.HostHash())
	require.NotEqual(t, a.HostHash(), c.HostHash())
	require.Equal(t, HostHash("http", "h.example", 80), a.HostHash())
}

func TestOfRejectsRelativeURL(t *testing.T) {
	t.Parallel()

	_, err := Of("/just/a/path")
	require.ErrorIs(t, err, ErrNotAbsolute)
}

func TestHostHashOfShortDigest(t *testing.T) {
	t.Parallel()

	require.Empty(t, Hash("abc").HostHash())
	require.False(t, Hash("abc").Valid())
}
