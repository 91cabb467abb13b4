package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestRateLimiting_SlidingWindow(t *testing.T) {
	clock := newClock()
	rl, err := NewRateLimiting(Config{
		Name: "rate_limiting", Type: TypeRateLimiting, Enabled: true,
		Config: map[string]interface{}{"global_limit": 3, "window_size_minutes": 1},
	})
	require.NoError(t, err)
	rl.WithClock(clock.Now)

	newCtx := func() *Context {
		ctx := NewContext(Request{Method: "GET", Endpoint: "/api/tasks"})
		ctx.User = &User{Authenticated: true, UserID: "u1"}
		return ctx
	}

	for i := 0; i < 3; i++ {
		res, err := rl.Execute(newCtx())
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, res.Status)
		assert.Equal(t, 2-i, res.Data["requests_remaining"])
		clock.Advance(time.Second)
	}

	res, err := rl.Execute(newCtx())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "Rate limit exceeded: 3/3 requests in 1 minutes", res.Message)
	assert.Equal(t, 3, res.Data["current_count"])
	assert.Equal(t, 3, res.Data["limit"])
	assert.Equal(t, 1, res.Data["window_minutes"])

	clock.Advance(61 * time.Second)
	res, err = rl.Execute(newCtx())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
}

func TestRateLimiting_PerUserLimitAndAnonymousByIP(t *testing.T) {
	clock := newClock()
	rl, err := NewRateLimiting(Config{
		Name: "rate_limiting", Type: TypeRateLimiting, Enabled: true,
		Config: map[string]interface{}{
			"global_limit":        100,
			"window_size_minutes": 60,
			"rate_limits":         map[string]interface{}{"vip": 1},
		},
	})
	require.NoError(t, err)
	rl.WithClock(clock.Now)

	vip := func() *Context {
		ctx := NewContext(Request{Method: "GET", Endpoint: "/"})
		ctx.User = &User{Authenticated: true, UserID: "vip"}
		return ctx
	}
	res, _ := rl.Execute(vip())
	assert.Equal(t, StatusSuccess, res.Status)
	res, _ = rl.Execute(vip())
	assert.Equal(t, StatusFailed, res.Status)

	// anônimos de IPs diferentes não compartilham janela
	res, _ = rl.Execute(NewContext(Request{ClientIP: "10.0.0.1"}))
	assert.Equal(t, 99, res.Data["requests_remaining"])
	res, _ = rl.Execute(NewContext(Request{ClientIP: "10.0.0.2"}))
	assert.Equal(t, 99, res.Data["requests_remaining"])

	assert.Equal(t, 3, rl.Metrics()["tracked_clients"])
	rl.Reset()
	assert.Equal(t, 0, rl.Metrics()["tracked_clients"])
}

func TestRateLimiting_RejectsNonPositive(t *testing.T) {
	_, err := NewRateLimiting(Config{
		Name: "rl", Type: TypeRateLimiting,
		Config: map[string]interface{}{"global_limit": 0},
	})
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "rl", cerr.Name)
}
