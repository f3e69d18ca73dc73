package noticed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/balancer"
	"github.com/JakeFAU/crawl-frontier/internal/profile"
	"github.com/JakeFAU/crawl-frontier/internal/request"
)

func newNoticed(t *testing.T) (*NoticedURL, *profile.CrawlProfile) {
	t.Helper()
	reg := profile.NewRegistry("agent")
	p, err := reg.Create(profile.Config{Name: "job", Depth: 3})
	require.NoError(t, err)
	n, err := Open(t.TempDir(), balancer.Deps{Profiles: reg}, balancer.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n, p
}

func mustRequest(t *testing.T, raw, handle string) request.Request {
	t.Helper()
	req, err := request.New(raw, "", "", "", handle, 0)
	require.NoError(t, err)
	return req
}

func TestParseStackType(t *testing.T) {
	t.Parallel()

	for _, s := range Stacks {
		got, err := ParseStackType(s.String())
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
	got, err := ParseStackType("GLOBAL")
	require.NoError(t, err)
	require.Equal(t, Global, got)
	_, err = ParseStackType("bogus")
	require.Error(t, err)
}

func TestNoticedPartitionsAreIndependent(t *testing.T) {
	t.Parallel()

	n, p := newNoticed(t)
	local := mustRequest(t, "http://h/local", p.Handle())
	noload := mustRequest(t, "http://h/file.zip", p.Handle())
	require.NoError(t, n.Push(Local, local, p))
	require.NoError(t, n.Push(NoLoad, noload, p))

	s, ok := n.ExistsInStack(noload.Hash)
	require.True(t, ok)
	require.Equal(t, NoLoad, s)
	require.Equal(t, 1, n.Size(Local))
	require.Equal(t, 0, n.Size(Global))
	require.Equal(t, 2, n.TotalSize())

	got, stack, err := n.Get(local.Hash)
	require.NoError(t, err)
	require.Equal(t, Local, stack)
	require.Equal(t, local.URL, got.URL)

	popped, err := n.Pop(context.Background(), Global, false)
	require.NoError(t, err)
	require.Nil(t, popped)

	popped, err = n.Pop(context.Background(), Local, false)
	require.NoError(t, err)
	require.Equal(t, local.Hash, popped.Hash)
}

func TestNoticedRemovals(t *testing.T) {
	t.Parallel()

	n, p := newNoticed(t)
	a := mustRequest(t, "http://a.example/", p.Handle())
	b := mustRequest(t, "http://b.example/", p.Handle())
	c := mustRequest(t, "http://c.example/", p.Handle())
	require.NoError(t, n.Push(Local, a, p))
	require.NoError(t, n.Push(Remote, b, p))
	require.NoError(t, n.Push(Global, c, p))

	require.Equal(t, 1, n.RemoveByURLHash(a.Hash))
	_, ok := n.ExistsInStack(a.Hash)
	require.False(t, ok)

	require.Equal(t, 1, n.RemoveByHostHashes(map[string]struct{}{b.Hash.HostHash(): {}}))
	require.Equal(t, 1, n.RemoveByProfileHandle(p.Handle(), time.Second))
	require.Equal(t, 0, n.TotalSize())

	hosts, err := n.Hosts(Local)
	require.NoError(t, err)
	require.Empty(t, hosts)
	require.NoError(t, n.Clear(Global))
}
