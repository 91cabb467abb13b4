package middleware

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/raywall/tes-dashboard/pkg/cache"
	"github.com/raywall/tes-dashboard/pkg/metrics"
	"github.com/raywall/tes-dashboard/pkg/rules"
)

// Dependencies são os recursos compartilhados entregues aos construtores.
type Dependencies struct {
	Rules   *rules.RuleManager
	Metrics metrics.Provider
	// Cache nil faz cada middleware de cache criar seu próprio MemoryStore.
	Cache cache.Store
	// SweepInterval é o período de limpeza dos middlewares de cache. Zero usa o padrão.
	SweepInterval time.Duration
}

// Constructor cria um middleware a partir de sua declaração.
type Constructor func(cfg Config, deps Dependencies) (Middleware, error)

// Factory associa cada Type a um construtor.
type Factory struct {
	mu       sync.RWMutex
	ctors    map[Type]Constructor
	deps     Dependencies
	validate *validator.Validate
}

// NewFactory cria uma Factory com os construtores embutidos.
// Security e LoadBalancing não têm implementação embutida e precisam de Register.
func NewFactory(deps Dependencies) *Factory {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("middleware_type", func(fl validator.FieldLevel) bool {
		return Type(fl.Field().String()).Valid()
	})

	f := &Factory{ctors: make(map[Type]Constructor), deps: deps, validate: v}
	f.Register(TypeAuthentication, func(cfg Config, _ Dependencies) (Middleware, error) {
		return NewAuthentication(cfg)
	})
	f.Register(TypeAuthorization, func(cfg Config, _ Dependencies) (Middleware, error) {
		return NewAuthorization(cfg)
	})
	f.Register(TypeRateLimiting, func(cfg Config, _ Dependencies) (Middleware, error) {
		return NewRateLimiting(cfg)
	})
	f.Register(TypeValidation, func(cfg Config, d Dependencies) (Middleware, error) {
		return NewValidation(cfg, d.Rules)
	})
	f.Register(TypeLogging, func(cfg Config, _ Dependencies) (Middleware, error) {
		return NewLogging(cfg)
	})
	f.Register(TypeCaching, newCachingFromDeps)
	f.Register(TypeMonitoring, func(cfg Config, d Dependencies) (Middleware, error) {
		return NewMonitoring(cfg, d.Metrics)
	})
	f.Register(TypeTransformation, func(cfg Config, d Dependencies) (Middleware, error) {
		return NewTransformation(cfg, d.Rules)
	})
	return f
}

func newCachingFromDeps(cfg Config, d Dependencies) (Middleware, error) {
	store := d.Cache
	if store == nil {
		var limits struct {
			MaxEntries int `yaml:"max_entries"`
		}
		if err := decodeSettings(cfg.Config, &limits); err != nil {
			return nil, &ConfigurationError{Name: cfg.Name, Reason: err.Error()}
		}
		store = cache.NewMemoryStore(limits.MaxEntries)
	}
	c, err := NewCaching(cfg, store)
	if err != nil {
		return nil, err
	}
	if d.SweepInterval > 0 {
		c.WithSweepInterval(d.SweepInterval)
	}
	return c, nil
}

// Register adiciona ou substitui o construtor de um tipo.
func (f *Factory) Register(t Type, ctor Constructor) {
	f.mu.Lock()
	f.ctors[t] = ctor
	f.mu.Unlock()
}

// Supports indica se há construtor para o tipo.
func (f *Factory) Supports(t Type) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.ctors[t]
	return ok
}

// Types lista os tipos com construtor, em ordem alfabética.
func (f *Factory) Types() []Type {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Type, 0, len(f.ctors))
	for t := range f.ctors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate faz a checagem estrutural da declaração.
func (f *Factory) Validate(cfg Config) error {
	err := f.validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ConfigurationError{Name: cfg.Name, Reason: err.Error()}
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("Campo '%s' falhou na regra '%s'", e.Field(), e.Tag()))
	}
	return &ConfigurationError{Name: cfg.Name, Reason: strings.Join(msgs, "; ")}
}

// Create valida a declaração e chama o construtor do tipo.
func (f *Factory) Create(cfg Config) (Middleware, error) {
	if err := f.Validate(cfg); err != nil {
		return nil, err
	}

	f.mu.RLock()
	ctor, ok := f.ctors[cfg.Type]
	f.mu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{Name: cfg.Name, Reason: fmt.Sprintf("Unknown middleware type: %s", cfg.Type)}
	}

	mw, err := ctor(cfg, f.deps)
	if err != nil {
		var cerr *ConfigurationError
		if errors.As(err, &cerr) {
			return nil, err
		}
		return nil, &ConfigurationError{Name: cfg.Name, Reason: err.Error()}
	}
	return mw, nil
}

// CreateFromMap decodifica uma declaração dinâmica. enabled e priority ausentes
// assumem true e 100.
func (f *Factory) CreateFromMap(raw map[string]interface{}) (Middleware, error) {
	var d declaration
	if err := decodeSettings(raw, &d); err != nil {
		return nil, &ConfigurationError{Reason: err.Error()}
	}
	return f.Create(d.config())
}

const defaultPriority = 100

// declaration é a forma serializada de Config, com enabled e priority opcionais.
type declaration struct {
	Name     string                 `yaml:"name"`
	Type     Type                   `yaml:"type"`
	Enabled  *bool                  `yaml:"enabled"`
	Priority *int                   `yaml:"priority"`
	Config   map[string]interface{} `yaml:"config"`
	Metadata map[string]interface{} `yaml:"metadata"`
}

func (d declaration) config() Config {
	cfg := Config{
		Name:     d.Name,
		Type:     Type(strings.ToLower(string(d.Type))),
		Enabled:  true,
		Priority: defaultPriority,
		Config:   d.Config,
		Metadata: d.Metadata,
	}
	if d.Enabled != nil {
		cfg.Enabled = *d.Enabled
	}
	if d.Priority != nil {
		cfg.Priority = *d.Priority
	}
	if cfg.Config == nil {
		cfg.Config = map[string]interface{}{}
	}
	return cfg
}
