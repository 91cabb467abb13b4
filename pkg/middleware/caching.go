package middleware

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/raywall/tes-dashboard/pkg/cache"
	"github.com/raywall/tes-dashboard/pkg/logger"
	"github.com/rs/zerolog"
)

type cacheSettings struct {
	CacheTTLSeconds  int      `yaml:"cache_ttl_seconds"`
	CacheableMethods []string `yaml:"cacheable_methods"`
	CachePatterns    []string `yaml:"cache_patterns"`
}

// Caching devolve respostas armazenadas para rotas cacheáveis e marca misses para write-back.
type Caching struct {
	base
	store cache.Store
	log   zerolog.Logger

	mu       sync.RWMutex
	ttl      time.Duration
	methods  map[string]bool
	patterns []*regexp.Regexp
	now      func() time.Time

	runMu    sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCaching cria o middleware. store nil usa um MemoryStore sem limite.
func NewCaching(cfg Config, store cache.Store) (*Caching, error) {
	if store == nil {
		store = cache.NewMemoryStore(0)
	}
	c := &Caching{store: store, now: time.Now, interval: time.Minute, log: logger.Component("cache")}
	c.init(cfg)
	if err := c.UpdateConfig(nil); err != nil {
		return nil, err
	}
	return c, nil
}

// WithClock troca a fonte de tempo. Usado em testes.
func (c *Caching) WithClock(now func() time.Time) *Caching {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// WithSweepInterval define o período da limpeza iniciada por Start. d <= 0 desliga a limpeza.
func (c *Caching) WithSweepInterval(d time.Duration) *Caching {
	c.runMu.Lock()
	c.interval = d
	c.runMu.Unlock()
	return c
}

func (c *Caching) UpdateConfig(update map[string]interface{}) error {
	raw := c.merged(update)
	s := cacheSettings{CacheTTLSeconds: 300, CacheableMethods: []string{"GET"}}
	if err := decodeSettings(raw, &s); err != nil {
		return &ConfigurationError{Name: c.Name(), Reason: err.Error()}
	}

	methods := make(map[string]bool, len(s.CacheableMethods))
	for _, m := range s.CacheableMethods {
		methods[strings.ToUpper(m)] = true
	}
	patterns := make([]*regexp.Regexp, 0, len(s.CachePatterns))
	for _, p := range s.CachePatterns {
		re, err := regexp.Compile("^(?:" + p + ")")
		if err != nil {
			return &ConfigurationError{Name: c.Name(), Reason: fmt.Sprintf("cache_pattern inválido '%s': %v", p, err)}
		}
		patterns = append(patterns, re)
	}

	c.mu.Lock()
	c.ttl = time.Duration(s.CacheTTLSeconds) * time.Second
	c.methods = methods
	c.patterns = patterns
	c.mu.Unlock()
	c.commit(raw)
	return nil
}

func (c *Caching) Execute(ctx *Context) (Result, error) {
	c.mu.RLock()
	ttl, methods, patterns, now := c.ttl, c.methods, c.patterns, c.now
	c.mu.RUnlock()

	method := ctx.Request.Method
	if !methods[method] {
		return Skipped(fmt.Sprintf("Method %s is not cacheable", method)), nil
	}

	if len(patterns) > 0 && !matchAny(patterns, ctx.Request.Endpoint) {
		return Skipped("Endpoint does not match cache patterns"), nil
	}

	key := CacheKey(method, ctx.Request.Endpoint, ctx.Request.Query)
	bg := context.Background()

	entry, found, err := c.store.Get(bg, key)
	if err != nil {
		return Result{}, fmt.Errorf("cache lookup: %w", err)
	}
	if found {
		if now().Sub(entry.StoredAt) < ttl {
			var resp CachedResponse
			if err := json.Unmarshal(entry.Value, &resp); err == nil {
				ctx.Metadata[MetaCachedResponse] = &resp
				return Success("Cache hit - returning cached response", map[string]interface{}{
					"cache_key": key,
					"cached":    true,
				}), nil
			}
		}
		// Expirada (ou corrompida): remoção lazy
		_ = c.store.Delete(bg, key)
	}

	ctx.Metadata[MetaCacheKey] = key
	ctx.Metadata[MetaShouldCache] = true
	return Success("Cache miss - will cache response", map[string]interface{}{
		"cache_key": key,
		"cached":    false,
	}), nil
}

// CacheResponse grava a resposta produzida pelo handler.
func (c *Caching) CacheResponse(key string, resp CachedResponse) {
	c.mu.RLock()
	ttl, now := c.ttl, c.now
	c.mu.RUnlock()

	resp.StoredAt = now()
	data, err := json.Marshal(resp)
	if err != nil {
		c.log.Warn().Err(err).Msg("falha ao serializar resposta para cache")
		return
	}
	if err := c.store.Set(context.Background(), key, cache.Entry{Value: data, StoredAt: resp.StoredAt}, ttl); err != nil {
		c.log.Warn().Err(err).Str("cache_key", key).Msg("falha ao gravar no cache")
	}
}

// Sweep remove as entradas expiradas. Devolve quantas foram removidas.
func (c *Caching) Sweep(ctx context.Context) (int, error) {
	c.mu.RLock()
	ttl, now := c.ttl, c.now
	c.mu.RUnlock()
	return c.store.Sweep(ctx, now().Add(-ttl))
}

// Start executa Sweep periodicamente até Stop ou o cancelamento de ctx.
func (c *Caching) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil || c.interval <= 0 {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.sweepLoop(ctx, c.interval, c.done)
}

// Stop encerra a limpeza e espera a goroutine terminar.
func (c *Caching) Stop() {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Caching) sweepLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := c.Sweep(ctx); err != nil {
				c.log.Warn().Err(err).Msg("falha na limpeza do cache")
			} else if n > 0 {
				c.log.Debug().Int("removed", n).Msg("entradas expiradas removidas")
			}
		}
	}
}

func (c *Caching) Reset() {
	if err := c.store.Clear(context.Background()); err != nil {
		c.log.Warn().Err(err).Msg("falha ao limpar cache")
	}
}

func (c *Caching) Metrics() map[string]interface{} {
	n, _ := c.store.Len(context.Background())
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]interface{}{
		"entries":           n,
		"cache_ttl_seconds": int(c.ttl.Seconds()),
	}
}

// CacheKey é o MD5 de "METHOD|endpoint|k=v&..." com a query ordenada.
func CacheKey(method, endpoint string, query map[string]string) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + query[k]
	}
	sum := md5.Sum([]byte(strings.ToUpper(method) + "|" + endpoint + "|" + strings.Join(pairs, "&")))
	return hex.EncodeToString(sum[:])
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
