package middleware

import (
	"context"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// Middleware processa uma requisição e devolve exatamente um Result.
// Um erro retornado (ou panic) vira um Result ERROR no Manager.
type Middleware interface {
	Name() string
	Type() Type
	Config() Config
	Execute(ctx *Context) (Result, error)
}

// Capacidades opcionais, verificadas com type assertion.

// ResponseCacher recebe a resposta a ser armazenada após o handler.
type ResponseCacher interface {
	CacheResponse(key string, resp CachedResponse)
}

// ResponseRecorder observa o status final da resposta.
type ResponseRecorder interface {
	RecordResponse(ctx *Context, statusCode int)
}

// Reconfigurable aceita merge de configuração em runtime.
type Reconfigurable interface {
	UpdateConfig(update map[string]interface{}) error
}

// Resettable limpa o estado privado acumulado (contadores, cache).
type Resettable interface {
	Reset()
}

// Lifecycle é implementado por middlewares com goroutines próprias.
// Start é chamado no registro com o Manager ativo; Stop na substituição ou remoção.
type Lifecycle interface {
	Start(ctx context.Context)
	Stop()
}

// MetricsReporter expõe métricas próprias do middleware.
type MetricsReporter interface {
	Metrics() map[string]interface{}
}

// base guarda a declaração e implementa a parte comum do contrato.
type base struct {
	mu  sync.RWMutex
	cfg Config
}

func (b *base) init(cfg Config) {
	if cfg.Config == nil {
		cfg.Config = map[string]interface{}{}
	}
	b.cfg = cfg
}

func (b *base) Name() string { return b.cfg.Name }

func (b *base) Type() Type { return b.cfg.Type }

func (b *base) Config() Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cp := b.cfg
	cp.Config = copyMap(b.cfg.Config)
	cp.Metadata = copyMap(b.cfg.Metadata)
	return cp
}

// merged devolve a config atual com update aplicado, sem gravar.
func (b *base) merged(update map[string]interface{}) map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := copyMap(b.cfg.Config)
	for k, v := range update {
		out[k] = v
	}
	return out
}

func (b *base) commit(raw map[string]interface{}) {
	b.mu.Lock()
	b.cfg.Config = raw
	b.mu.Unlock()
}

// decodeSettings converte o mapa dinâmico da declaração em uma struct tipada (tags yaml).
func decodeSettings(raw map[string]interface{}, out interface{}) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config inválida: %w", err)
	}
	return nil
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
