package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/raywall/tes-dashboard/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCaching(t *testing.T, clock *fakeClock, store cache.Store) *Caching {
	t.Helper()
	c, err := NewCaching(Config{
		Name: "caching", Type: TypeCaching, Enabled: true,
		Config: map[string]interface{}{
			"cache_ttl_seconds": 60,
			"cache_patterns":    []interface{}{"/api/instances", "/api/service_info"},
		},
	}, store)
	require.NoError(t, err)
	return c.WithClock(clock.Now)
}

func TestCaching_MissHitExpire(t *testing.T) {
	clock := newClock()
	c := newCaching(t, clock, nil)

	req := Request{Method: "GET", Endpoint: "/api/instances", Query: map[string]string{"b": "2", "a": "1"}}

	ctx := NewContext(req)
	res, err := c.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, false, res.Data["cached"])
	assert.True(t, ctx.ShouldCache())
	key, ok := ctx.CacheKey()
	require.True(t, ok)
	assert.Equal(t, CacheKey("GET", "/api/instances", map[string]string{"a": "1", "b": "2"}), key)

	c.CacheResponse(key, CachedResponse{StatusCode: 200, Body: []byte(`[]`)})

	clock.Advance(30 * time.Second)
	ctx = NewContext(req)
	res, err = c.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, true, res.Data["cached"])
	cached, ok := ctx.CachedResponse()
	require.True(t, ok)
	assert.Equal(t, 200, cached.StatusCode)
	assert.Equal(t, []byte(`[]`), cached.Body)
	assert.False(t, ctx.ShouldCache())

	clock.Advance(31 * time.Second)
	ctx = NewContext(req)
	res, err = c.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, false, res.Data["cached"])
	_, ok = ctx.CachedResponse()
	assert.False(t, ok)
	assert.Equal(t, 0, c.Metrics()["entries"])
}

func TestCaching_Skips(t *testing.T) {
	c := newCaching(t, newClock(), nil)

	res, err := c.Execute(NewContext(Request{Method: "POST", Endpoint: "/api/instances"}))
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, "Method POST is not cacheable", res.Message)

	res, err = c.Execute(NewContext(Request{Method: "GET", Endpoint: "/api/tasks"}))
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, "Endpoint does not match cache patterns", res.Message)
}

func TestCaching_SweepAndReset(t *testing.T) {
	clock := newClock()
	store := cache.NewMemoryStore(0)
	c := newCaching(t, clock, store)

	c.CacheResponse("old", CachedResponse{StatusCode: 200})
	clock.Advance(45 * time.Second)
	c.CacheResponse("fresh", CachedResponse{StatusCode: 200})
	clock.Advance(20 * time.Second)

	removed, err := c.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	n, _ := store.Len(context.Background())
	assert.Equal(t, 1, n)

	c.Reset()
	n, _ = store.Len(context.Background())
	assert.Equal(t, 0, n)
}

func sweeping(c *Caching) bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.cancel != nil
}

func TestCaching_SweeperFollowsRegistration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := newClock()
	oldStore, newStore := cache.NewMemoryStore(0), cache.NewMemoryStore(0)
	old := newCaching(t, clock, oldStore).WithSweepInterval(time.Hour)
	replacement := newCaching(t, clock, newStore).WithSweepInterval(5 * time.Millisecond)
	old.CacheResponse("k", CachedResponse{StatusCode: 200})
	replacement.CacheResponse("k", CachedResponse{StatusCode: 200})
	clock.Advance(2 * time.Minute)

	m := NewManager(nil)
	m.Register(old)
	m.Start(ctx)
	assert.True(t, sweeping(old))

	m.Register(replacement)
	assert.False(t, sweeping(old))
	assert.True(t, sweeping(replacement))
	assert.Eventually(t, func() bool {
		n, _ := newStore.Len(ctx)
		return n == 0
	}, time.Second, 5*time.Millisecond)
	n, _ := oldStore.Len(ctx)
	assert.Equal(t, 1, n)

	m.Stop()
	assert.False(t, sweeping(replacement))
}

func TestCacheKey_QueryOrderIndependent(t *testing.T) {
	a := CacheKey("get", "/api/service_info", map[string]string{"tes_url": "x", "v": "1"})
	b := CacheKey("GET", "/api/service_info", map[string]string{"v": "1", "tes_url": "x"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, CacheKey("GET", "/api/service_info", nil))
}
