package embedding

import (
	"context"
	"errors"
	"testing"

	"coursesearch/internal/logging"
	"coursesearch/internal/util"

	"github.com/stretchr/testify/require"
)

func openMemoryCache(t *testing.T) *BadgerCache {
	t.Helper()
	c, err := OpenBadgerCache("", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestBadgerCacheRoundTrip(t *testing.T) {
	c := openMemoryCache(t)

	_, ok, err := c.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Put("k", []float32{0.25, -1.5, 3}))
	v, ok, err := c.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []float32{0.25, -1.5, 3}, v)
}

func TestBadgerCachePersistsOnDisk(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenBadgerCache(dir, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, c.Put("k", []float32{1, 2}))
	require.NoError(t, c.Close())

	c, err = OpenBadgerCache(dir, logging.Discard())
	require.NoError(t, err)
	defer c.Close()
	v, ok, err := c.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []float32{1, 2}, v)
}

func TestCachedClientSkipsProviderOnHit(t *testing.T) {
	p := &stubProvider{vectors: [][]float32{{0.1, 0.2, 0.3}}}
	cc := NewCached(newClient(t, p, 3), openMemoryCache(t), logging.Discard())
	ctx := context.Background()

	v1, err := cc.Embed(ctx, "same text")
	require.NoError(t, err)
	v2, err := cc.Embed(ctx, "same text")
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Len(t, p.calls, 1)

	_, err = cc.Embed(ctx, "other text")
	require.NoError(t, err)
	require.Len(t, p.calls, 2)

	hits, misses := cc.Stats()
	require.EqualValues(t, 1, hits)
	require.EqualValues(t, 2, misses)
}

func TestCachedClientKeysByModelAndDimension(t *testing.T) {
	cache := openMemoryCache(t)
	p3 := &stubProvider{vectors: [][]float32{{1, 0, 0}}}
	_, err := NewCached(newClient(t, p3, 3), cache, logging.Discard()).Embed(context.Background(), "x")
	require.NoError(t, err)

	p2 := &stubProvider{vectors: [][]float32{{0, 1}}}
	v, err := NewCached(newClient(t, p2, 2), cache, logging.Discard()).Embed(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, []float32{0, 1}, v)
	require.Len(t, p2.calls, 1)
}

type brokenCache struct{}

func (brokenCache) Get(string) ([]float32, bool, error) { return nil, false, errors.New("disk gone") }
func (brokenCache) Put(string, []float32) error         { return errors.New("disk gone") }

func TestCachedClientToleratesCacheFailures(t *testing.T) {
	p := &stubProvider{vectors: [][]float32{{1, 2}}}
	cc := NewCached(newClient(t, p, 2), brokenCache{}, logging.Discard())
	v, err := cc.Embed(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2}, v)
}

func TestCachedClientDoesNotCacheFailures(t *testing.T) {
	p := &stubProvider{err: errors.New("boom")}
	cache := openMemoryCache(t)
	cc := NewCached(newClient(t, p, 2), cache, logging.Discard())
	_, err := cc.Embed(context.Background(), "x")
	require.ErrorIs(t, err, util.ErrProvider)

	_, ok, err := cache.Get(cc.cacheKey("x"))
	require.NoError(t, err)
	require.False(t, ok)
}
