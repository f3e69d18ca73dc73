package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/digest"
)

func TestIndexLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := NewIndex()
	hash, err := digest.Of("http://h/a")
	require.NoError(t, err)

	_, ok, err := idx.LastIndexed(ctx, hash)
	require.NoError(t, err)
	require.False(t, ok)

	at := time.Unix(1700000000, 0).UTC()
	require.NoError(t, idx.MarkIndexed(ctx, hash, "http://h/a", at))
	got, ok, err := idx.LastIndexed(ctx, hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, at, got)

	require.NoError(t, idx.Remove(ctx, hash))
	_, ok, err = idx.LastIndexed(ctx, hash)
	require.NoError(t, err)
	require.False(t, ok)
}
