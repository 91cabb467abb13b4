package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/raywall/tes-dashboard/pkg/logger"
	"github.com/raywall/tes-dashboard/pkg/metrics"
	"github.com/rs/zerolog"
)

// MiddlewareStats acumula as execuções de um middleware.
type MiddlewareStats struct {
	Count       int64   `json:"count"`
	TotalTimeMs float64 `json:"total_time"`
	Errors      int64   `json:"errors"`
}

// Metrics são os contadores agregados do Manager.
type Metrics struct {
	TotalRequests      int64                      `json:"total_requests"`
	SuccessfulRequests int64                      `json:"successful_requests"`
	FailedRequests     int64                      `json:"failed_requests"`
	ExecutionTimes     map[string]MiddlewareStats `json:"middleware_execution_times"`
}

// Descriptor descreve uma posição registrada.
type Descriptor struct {
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
}

// Info é o retrato estrutural do Manager.
type Info struct {
	TotalMiddlewares   int          `json:"total_middlewares"`
	EnabledMiddlewares int          `json:"enabled_middlewares"`
	Chain              []Descriptor `json:"middleware_chain"`
	Metrics            Metrics      `json:"metrics"`
}

// PriorityUpdate é um item de reordenação.
type PriorityUpdate struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

type entry struct {
	mw       Middleware
	enabled  bool
	priority int
	seq      int // ordem de registro, usada como desempate
}

// Manager registra os middlewares e executa a cadeia ordenada por prioridade.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
	chain   []*entry
	nextSeq int

	metricsMu sync.Mutex
	metrics   Metrics

	provider metrics.Provider
	log      zerolog.Logger

	// ctx não nulo indica Manager ativo (ver Start).
	ctx context.Context
}

// NewManager cria um Manager vazio. provider pode ser nil.
func NewManager(provider metrics.Provider) *Manager {
	if provider == nil {
		provider = &metrics.Recorder{}
	}
	return &Manager{
		entries:  make(map[string]*entry),
		metrics:  Metrics{ExecutionTimes: map[string]MiddlewareStats{}},
		provider: provider,
		log:      logger.Component("middleware-manager"),
	}
}

// Register insere ou substitui pelo nome. A substituição mantém a posição original de registro.
func (m *Manager) Register(mw Middleware) {
	cfg := mw.Config()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[mw.Name()]; ok {
		m.log.Warn().Str("middleware", mw.Name()).Msg("middleware já registrado, substituindo")
		if existing.mw != mw {
			stopLifecycle(existing.mw)
		}
		existing.mw = mw
		existing.enabled = cfg.Enabled
		existing.priority = cfg.Priority
	} else {
		m.entries[mw.Name()] = &entry{mw: mw, enabled: cfg.Enabled, priority: cfg.Priority, seq: m.nextSeq}
		m.nextSeq++
	}
	if m.ctx != nil {
		startLifecycle(m.ctx, mw)
	}
	m.rebuild()
}

// Unregister remove pelo nome. Retorna false se não existia.
func (m *Manager) Unregister(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[name]
	if !ok {
		return false
	}
	stopLifecycle(e.mw)
	delete(m.entries, name)
	m.rebuild()
	return true
}

// Start ativa o Manager: os middlewares registrados, e os que vierem depois,
// recebem Start com ctx. Chamadas repetidas são ignoradas.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx != nil {
		return
	}
	m.ctx = ctx
	for _, e := range m.entries {
		startLifecycle(ctx, e.mw)
	}
}

// Stop encerra as goroutines de todos os middlewares registrados.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx = nil
	for _, e := range m.entries {
		stopLifecycle(e.mw)
	}
}

func startLifecycle(ctx context.Context, mw Middleware) {
	if l, ok := mw.(Lifecycle); ok {
		l.Start(ctx)
	}
}

func stopLifecycle(mw Middleware) {
	if l, ok := mw.(Lifecycle); ok {
		l.Stop()
	}
}

// rebuild recalcula a cadeia. Deve ser chamado com m.mu travado.
func (m *Manager) rebuild() {
	ordered := m.ordered()
	chain := make([]*entry, 0, len(ordered))
	for _, e := range ordered {
		if e.enabled {
			chain = append(chain, e)
		}
	}
	m.chain = chain
}

// ordered devolve todas as entradas por prioridade, desempatando pela ordem de registro.
func (m *Manager) ordered() []*entry {
	all := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	sort.SliceStable(all, func(i, j int) bool { return all[i].priority < all[j].priority })
	return all
}

// Get retorna o middleware registrado com o nome.
func (m *Manager) Get(name string) (Middleware, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	if !ok {
		return nil, false
	}
	return e.mw, true
}

// Has indica se o nome está registrado.
func (m *Manager) Has(name string) bool {
	_, ok := m.Get(name)
	return ok
}

// List retorna os descritores na ordem da cadeia, com os desabilitados ao final.
func (m *Manager) List() []Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.ordered()
	sort.SliceStable(all, func(i, j int) bool { return all[i].enabled && !all[j].enabled })
	out := make([]Descriptor, 0, len(all))
	for _, e := range all {
		out = append(out, describe(e))
	}
	return out
}

// Configs exporta as declarações atuais, refletindo enabled/priority alterados em runtime.
func (m *Manager) Configs() []Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Config, 0, len(m.entries))
	for _, e := range m.ordered() {
		cfg := e.mw.Config()
		cfg.Enabled = e.enabled
		cfg.Priority = e.priority
		out = append(out, cfg)
	}
	return out
}

func (m *Manager) Enable(name string) error  { return m.SetEnabled(name, true) }
func (m *Manager) Disable(name string) error { return m.SetEnabled(name, false) }

func (m *Manager) SetEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	e.enabled = enabled
	m.rebuild()
	return nil
}

// Toggle inverte o estado e devolve o novo valor.
func (m *Manager) Toggle(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	e.enabled = !e.enabled
	m.rebuild()
	return e.enabled, nil
}

func (m *Manager) SetPriority(name string, priority int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	e.priority = priority
	m.rebuild()
	return nil
}

// Reorder aplica várias prioridades de uma vez. Nomes desconhecidos são ignorados e devolvidos.
func (m *Manager) Reorder(updates []PriorityUpdate) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var unknown []string
	for _, u := range updates {
		e, ok := m.entries[u.Name]
		if !ok {
			unknown = append(unknown, u.Name)
			continue
		}
		e.priority = u.Priority
	}
	m.rebuild()
	return unknown
}

// UpdateConfig faz merge da config de um middleware que suporte reconfiguração.
func (m *Manager) UpdateConfig(name string, update map[string]interface{}) error {
	mw, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	rc, ok := mw.(Reconfigurable)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotReconfigurable, name)
	}
	return rc.UpdateConfig(update)
}

// snapshot copia a cadeia para execução fora do lock.
func (m *Manager) snapshot() []Middleware {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Middleware, len(m.chain))
	for i, e := range m.chain {
		out[i] = e.mw
	}
	return out
}

// ExecuteChain roda os middlewares habilitados em ordem. Uma falha individual nunca
// interrompe a cadeia: a decisão de bloquear fica com quem chama (ver Blocking).
func (m *Manager) ExecuteChain(ctx *Context) []Result {
	chain := m.snapshot()
	results := make([]Result, 0, len(chain))

	for _, mw := range chain {
		res, raised := m.invoke(mw, ctx)

		if res.Status == StatusError {
			if raised {
				ctx.AddError(fmt.Sprintf("Middleware %s exception: %s", mw.Name(), res.Message))
			} else {
				ctx.AddError(fmt.Sprintf("Middleware %s failed: %s", mw.Name(), res.Message))
			}
		}

		results = append(results, res)
		ctx.Results = append(ctx.Results, res)
		m.recordExecution(res)
	}

	m.recordRequest(ctx)
	return results
}

// invoke executa um middleware medindo o tempo e convertendo erro/panic em ERROR.
func (m *Manager) invoke(mw Middleware, ctx *Context) (res Result, raised bool) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("middleware", mw.Name()).Interface("panic", r).Msg("panic no middleware")
			res = Errored(fmt.Sprintf("%v", r))
			raised = true
		}
		res.MiddlewareName = mw.Name()
		res.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
		res.Timestamp = time.Now().UTC()
	}()

	out, err := mw.Execute(ctx)
	if err != nil {
		return Errored(err.Error()), true
	}
	return out, false
}

func (m *Manager) recordExecution(res Result) {
	m.metricsMu.Lock()
	stats := m.metrics.ExecutionTimes[res.MiddlewareName]
	stats.Count++
	stats.TotalTimeMs += res.ExecutionTimeMs
	if res.Status == StatusError {
		stats.Errors++
	}
	m.metrics.ExecutionTimes[res.MiddlewareName] = stats
	m.metricsMu.Unlock()

	tags := []string{"middleware:" + res.MiddlewareName, "status:" + string(res.Status)}
	_ = m.provider.Histogram("middleware.execution_time_ms", res.ExecutionTimeMs, tags)
}

func (m *Manager) recordRequest(ctx *Context) {
	outcome := "success"
	m.metricsMu.Lock()
	m.metrics.TotalRequests++
	if ctx.HasErrors() {
		m.metrics.FailedRequests++
		outcome = "failed"
	} else {
		m.metrics.SuccessfulRequests++
	}
	m.metricsMu.Unlock()

	_ = m.provider.Count("middleware.requests", 1, []string{"outcome:" + outcome})
}

// Blocking procura um FAILED de autenticação (401) ou autorização (403).
// Os demais tipos são apenas informativos.
func (m *Manager) Blocking(ctx *Context) (Result, int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range ctx.Results {
		if r.Status != StatusFailed {
			continue
		}
		e, ok := m.entries[r.MiddlewareName]
		if !ok {
			continue
		}
		switch e.mw.Type() {
		case TypeAuthentication:
			return r, http.StatusUnauthorized, true
		case TypeAuthorization:
			return r, http.StatusForbidden, true
		}
	}
	return Result{}, 0, false
}

// Cachers retorna os middlewares habilitados com capacidade de write-back.
func (m *Manager) Cachers() []ResponseCacher {
	var out []ResponseCacher
	for _, mw := range m.snapshot() {
		if c, ok := mw.(ResponseCacher); ok {
			out = append(out, c)
		}
	}
	return out
}

// Recorders retorna os middlewares habilitados que observam a resposta.
func (m *Manager) Recorders() []ResponseRecorder {
	var out []ResponseRecorder
	for _, mw := range m.snapshot() {
		if r, ok := mw.(ResponseRecorder); ok {
			out = append(out, r)
		}
	}
	return out
}

// MiddlewareMetrics agrega as métricas próprias de cada middleware que as expõe.
func (m *Manager) MiddlewareMetrics() map[string]map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]map[string]interface{})
	for name, e := range m.entries {
		if r, ok := e.mw.(MetricsReporter); ok {
			out[name] = r.Metrics()
		}
	}
	return out
}

// Metrics devolve uma cópia dos contadores agregados.
func (m *Manager) Metrics() Metrics {
	m.metricsMu.Lock()
	defer m.metricsMu.Unlock()
	cp := m.metrics
	cp.ExecutionTimes = make(map[string]MiddlewareStats, len(m.metrics.ExecutionTimes))
	for k, v := range m.metrics.ExecutionTimes {
		cp.ExecutionTimes[k] = v
	}
	return cp
}

// ResetMetrics zera os contadores do Manager.
func (m *Manager) ResetMetrics() {
	m.metricsMu.Lock()
	m.metrics = Metrics{ExecutionTimes: map[string]MiddlewareStats{}}
	m.metricsMu.Unlock()
}

// Reset zera os contadores e o estado privado de cada middleware Resettable.
func (m *Manager) Reset() {
	m.ResetMetrics()
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if r, ok := e.mw.(Resettable); ok {
			r.Reset()
		}
	}
}

// Info devolve o retrato estrutural usado pelo endpoint de status.
func (m *Manager) Info() Info {
	m.mu.RLock()
	info := Info{
		TotalMiddlewares:   len(m.entries),
		EnabledMiddlewares: len(m.chain),
		Chain:              make([]Descriptor, 0, len(m.chain)),
	}
	for _, e := range m.chain {
		info.Chain = append(info.Chain, describe(e))
	}
	m.mu.RUnlock()

	info.Metrics = m.Metrics()
	return info
}

func describe(e *entry) Descriptor {
	return Descriptor{Name: e.mw.Name(), Type: e.mw.Type(), Priority: e.priority, Enabled: e.enabled}
}
