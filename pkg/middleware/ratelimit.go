package middleware

import (
	"fmt"
	"sync"
	"time"
)

type rateSettings struct {
	RateLimits        map[string]int `yaml:"rate_limits"`
	GlobalLimit       int            `yaml:"global_limit"`
	WindowSizeMinutes int            `yaml:"window_size_minutes"`
}

// RateLimiting aplica uma janela deslizante por usuário (ou IP, para anônimos).
type RateLimiting struct {
	base
	mu       sync.Mutex
	settings rateSettings
	requests map[string][]time.Time
	now      func() time.Time
}

func NewRateLimiting(cfg Config) (*RateLimiting, error) {
	r := &RateLimiting{requests: make(map[string][]time.Time), now: time.Now}
	r.init(cfg)
	if err := r.UpdateConfig(nil); err != nil {
		return nil, err
	}
	return r, nil
}

// WithClock troca a fonte de tempo. Usado em testes.
func (r *RateLimiting) WithClock(now func() time.Time) *RateLimiting {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
	return r
}

func (r *RateLimiting) UpdateConfig(update map[string]interface{}) error {
	raw := r.merged(update)
	s := rateSettings{GlobalLimit: 1000, WindowSizeMinutes: 60}
	if err := decodeSettings(raw, &s); err != nil {
		return &ConfigurationError{Name: r.Name(), Reason: err.Error()}
	}
	if s.GlobalLimit <= 0 || s.WindowSizeMinutes <= 0 {
		return &ConfigurationError{Name: r.Name(), Reason: "global_limit e window_size_minutes devem ser positivos"}
	}
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
	r.commit(raw)
	return nil
}

func (r *RateLimiting) key(ctx *Context) string {
	if id := ctx.UserID(); id != anonymousUser {
		return id
	}
	if ctx.Request.ClientIP != "" {
		return ctx.Request.ClientIP
	}
	return anonymousUser
}

func (r *RateLimiting) Execute(ctx *Context) (Result, error) {
	key := r.key(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	window := time.Duration(r.settings.WindowSizeMinutes) * time.Minute
	cutoff := now.Add(-window)

	limit := r.settings.GlobalLimit
	if l, ok := r.settings.RateLimits[ctx.UserID()]; ok && l > 0 {
		limit = l
	}

	// Ordem obrigatória: descarta, conta, registra.
	kept := r.requests[key][:0]
	for _, ts := range r.requests[key] {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	current := len(kept)

	if current >= limit {
		r.requests[key] = kept
		return Failed(
			fmt.Sprintf("Rate limit exceeded: %d/%d requests in %d minutes", current, limit, r.settings.WindowSizeMinutes),
			map[string]interface{}{
				"current_count":  current,
				"limit":          limit,
				"window_minutes": r.settings.WindowSizeMinutes,
			},
		), nil
	}

	r.requests[key] = append(kept, now)
	return Success(
		fmt.Sprintf("Rate limit check passed: %d/%d", current+1, limit),
		map[string]interface{}{"requests_remaining": limit - current - 1},
	), nil
}

func (r *RateLimiting) Reset() {
	r.mu.Lock()
	r.requests = make(map[string][]time.Time)
	r.mu.Unlock()
}

func (r *RateLimiting) Metrics() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, ts := range r.requests {
		total += len(ts)
	}
	return map[string]interface{}{
		"tracked_clients":  len(r.requests),
		"tracked_requests": total,
	}
}
