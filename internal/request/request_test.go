package request

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/digest"
)

func TestNewComputesDigestFromNormalizedURL(t *testing.T) {
	t.Parallel()

	req, err := New("HTTP://Example.com/a#x", "", "peer", "anchor", "handle", 2)
	require.NoError(t, err)

	want, err := digest.Of("http://example.com/a")
	require.NoError(t, err)
	require.Equal(t, want, req.Hash)
	require.Equal(t, "http://example.com/a", req.URL)

	host, port, hostHash, err := req.Host()
	require.NoError(t, err)
	require.Equal(t, "example.com", host)
	require.Equal(t, 80, port)
	require.Equal(t, want.HostHash(), hostHash)
}

func TestNewRejectsNegativeDepth(t *testing.T) {
	t.Parallel()

	_, err := New("http://h/a", "", "", "", "p", -1)
	require.Error(t, err)
}

func TestRowPreservesRequest(t *testing.T) {
	t.Parallel()

	req, err := New("http://h/a", "", "peer", "name", "handle", 3)
	require.NoError(t, err)
	req.TimezoneOffset = -120

	row, err := req.ToRow()
	require.NoError(t, err)
	got, err := FromRow(row)
	require.NoError(t, err)
	require.Equal(t, req.Hash, got.Hash)
	require.Equal(t, req.Depth, got.Depth)
	require.Equal(t, req.ProfileHandle, got.ProfileHandle)
	require.Equal(t, req.TimezoneOffset, got.TimezoneOffset)
	require.True(t, req.AppDate.Equal(got.AppDate))
}

func TestFromRowRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := FromRow(nil)
	require.Error(t, err)
	_, err = FromRow([]byte(`{"url":"http://h/"}`))
	require.Error(t, err)
}
