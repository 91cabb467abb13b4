package instances

import (
	"context"
	"net/http"
	"time"

	"github.com/raywall/tes-dashboard/pkg/logger"
	"github.com/raywall/tes-dashboard/pkg/tasks"
	"github.com/raywall/tes-dashboard/pkg/tes"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy      = "healthy"
	StatusUnreachable  = "unreachable"
	StatusAuthRequired = "auth_required"
	StatusUnhealthy    = "unhealthy"
)

// DefaultFanOut limita as checagens simultâneas.
const DefaultFanOut = 8

// Prober checa a conectividade de uma instância.
type Prober interface {
	Probe(ctx context.Context, inst tes.Instance) tes.ProbeResult
}

// TaskLister é a parte do store usada na contagem de tasks por instância.
type TaskLister interface {
	List(ctx context.Context, f tasks.Filter) ([]*tasks.Task, error)
}

// Report é o estado de uma instância em um instante.
type Report struct {
	Entry
	Status      string `json:"status"`
	Version     string `json:"version"`
	LatencyMS   *int64 `json:"latency"`
	Tasks       int    `json:"tasks"`
	TaskCount   int    `json:"taskCount"`
	Error       string `json:"error,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	LastChecked string `json:"last_checked"`
}

// Checker combina o catálogo com as checagens de conectividade.
type Checker struct {
	registry *Registry
	prober   Prober
	store    TaskLister
	fanOut   int
	now      func() time.Time
	log      zerolog.Logger
}

// NewChecker cria um Checker. store pode ser nil, e nesse caso as contagens
// ficam zeradas.
func NewChecker(registry *Registry, prober Prober, store TaskLister) *Checker {
	return &Checker{registry: registry, prober: prober, store: store, fanOut: DefaultFanOut, now: time.Now, log: logger.Component("instances")}
}

// Health checa todas as instâncias em paralelo, preservando a ordem do catálogo.
func (c *Checker) Health(ctx context.Context) []Report {
	entries := c.registry.Entries()
	instances := c.registry.Instances()
	counts := c.countTasks(ctx)

	results := c.probeAll(ctx, instances)
	reports := make([]Report, len(entries))
	for i, res := range results {
		reports[i] = c.report(entries[i], res, counts[instances[i].URL])
		if reports[i].Status != StatusHealthy {
			c.log.Debug().Str("tes_url", instances[i].URL).Str("status", reports[i].Status).Msg("instância indisponível")
		}
	}
	return reports
}

// Connection é o resultado de TestConnections. Status é online, error ou offline.
type Connection struct {
	Name         string  `json:"name"`
	URL          string  `json:"url"`
	Status       string  `json:"status"`
	ResponseTime float64 `json:"response_time,omitempty"` // segundos
	Error        string  `json:"error,omitempty"`
}

// TestConnections checa cada instância do catálogo sem contar tasks.
// Uma resposta HTTP que não seja 200 conta como error; sem resposta, offline.
func (c *Checker) TestConnections(ctx context.Context) []Connection {
	instances := c.registry.Instances()
	results := c.probeAll(ctx, instances)
	out := make([]Connection, len(instances))
	for i, res := range results {
		conn := Connection{Name: instances[i].Name, URL: instances[i].URL}
		switch {
		case res.Reachable && !res.AuthRequired:
			conn.Status = "online"
		case res.StatusCode > 0:
			conn.Status = "error"
		default:
			conn.Status = "offline"
		}
		if conn.Status != "offline" {
			conn.ResponseTime = res.Latency.Seconds()
		}
		if res.Err != nil {
			conn.Error = res.Err.Error()
		}
		out[i] = conn
	}
	return out
}

func (c *Checker) probeAll(ctx context.Context, instances []tes.Instance) []tes.ProbeResult {
	results := make([]tes.ProbeResult, len(instances))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fanOut)
	for i := range instances {
		g.Go(func() error {
			results[i] = c.prober.Probe(gctx, instances[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Healthy filtra as instâncias saudáveis ou que só exigem autenticação.
func (c *Checker) Healthy(ctx context.Context) []Report {
	var out []Report
	for _, r := range c.Health(ctx) {
		if r.Status == StatusHealthy || r.Status == StatusAuthRequired {
			out = append(out, r)
		}
	}
	return out
}

func (c *Checker) report(e Entry, res tes.ProbeResult, count int) Report {
	r := Report{
		Entry:       e,
		Tasks:       count,
		TaskCount:   count,
		Version:     res.Version,
		LastChecked: c.now().UTC().Format(time.RFC3339),
	}
	switch {
	case res.AuthRequired || res.StatusCode == http.StatusUnauthorized:
		r.Status = StatusAuthRequired
	case res.Reachable:
		r.Status = StatusHealthy
	case res.Err != nil && res.StatusCode > 0:
		r.Status = StatusUnhealthy
	default:
		r.Status = StatusUnreachable
	}
	if r.Status != StatusUnreachable {
		ms := res.Latency.Milliseconds()
		r.LatencyMS = &ms
	}
	if res.Err != nil {
		r.Error = res.Err.Error()
		r.ErrorCode = res.Err.Code
	}
	return r
}

func (c *Checker) countTasks(ctx context.Context) map[string]int {
	counts := map[string]int{}
	if c.store == nil {
		return counts
	}
	list, err := c.store.List(ctx, tasks.Filter{})
	if err != nil {
		c.log.Warn().Err(err).Msg("falha ao contar tasks por instância")
		return counts
	}
	for _, t := range list {
		counts[normalizeURL(t.TESURL)]++
	}
	return counts
}
