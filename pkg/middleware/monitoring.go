package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/raywall/tes-dashboard/pkg/metrics"
)

// maxSamples limita os tempos de resposta guardados por rota.
const maxSamples = 1000

type monitoringSettings struct {
	TrackResponseTimes *bool `yaml:"track_response_times"`
	TrackUserActivity  *bool `yaml:"track_user_activity"`
}

type endpointStats struct {
	total         int
	byUser        map[string]int
	statusCodes   map[string]int
	errors        int
	responseTimes []float64
}

// EndpointSummary é o resumo exposto por Summary.
type EndpointSummary struct {
	TotalRequests   int            `json:"total_requests"`
	ErrorRate       float64        `json:"error_rate"`
	AvgResponseTime float64        `json:"avg_response_time"`
	StatusCodes     map[string]int `json:"status_codes"`
	UniqueUsers     int            `json:"unique_users"`
}

// Monitoring conta requisições por rota e usuário e, após a resposta, mede tempos e status.
type Monitoring struct {
	base
	provider metrics.Provider

	mu         sync.Mutex
	trackTimes bool
	trackUsers bool
	endpoints  map[string]*endpointStats
	now        func() time.Time
}

// NewMonitoring cria o middleware. provider pode ser nil.
func NewMonitoring(cfg Config, provider metrics.Provider) (*Monitoring, error) {
	if provider == nil {
		provider = &metrics.Recorder{}
	}
	m := &Monitoring{provider: provider, endpoints: make(map[string]*endpointStats), now: time.Now}
	m.init(cfg)
	if err := m.UpdateConfig(nil); err != nil {
		return nil, err
	}
	return m, nil
}

// WithClock troca a fonte de tempo. Usado em testes.
func (m *Monitoring) WithClock(now func() time.Time) *Monitoring {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

func (m *Monitoring) UpdateConfig(update map[string]interface{}) error {
	raw := m.merged(update)
	var s monitoringSettings
	if err := decodeSettings(raw, &s); err != nil {
		return &ConfigurationError{Name: m.Name(), Reason: err.Error()}
	}
	m.mu.Lock()
	m.trackTimes = s.TrackResponseTimes == nil || *s.TrackResponseTimes
	m.trackUsers = s.TrackUserActivity == nil || *s.TrackUserActivity
	m.mu.Unlock()
	m.commit(raw)
	return nil
}

func (m *Monitoring) stats(key string) *endpointStats {
	st, ok := m.endpoints[key]
	if !ok {
		st = &endpointStats{byUser: map[string]int{}, statusCodes: map[string]int{}}
		m.endpoints[key] = st
	}
	return st
}

func (m *Monitoring) Execute(ctx *Context) (Result, error) {
	key := ctx.EndpointKey()
	user := ctx.UserID()

	m.mu.Lock()
	st := m.stats(key)
	st.total++
	if m.trackUsers {
		st.byUser[user]++
	}
	count := st.total
	trackTimes := m.trackTimes
	start := m.now()
	m.mu.Unlock()

	ctx.Metadata[MetaMonitoringStartTime] = start
	ctx.Metadata[MetaMonitoringEndpoint] = key
	if trackTimes {
		ctx.Metadata[MetaCollectResponseMetrics] = true
	}

	return Success("Monitoring initialized", map[string]interface{}{
		"endpoint":      key,
		"user_id":       user,
		"request_count": count,
	}), nil
}

// RecordResponse registra status e tempo de resposta após o handler.
func (m *Monitoring) RecordResponse(ctx *Context, statusCode int) {
	start, ok := ctx.MonitoringStart()
	if !ok {
		return
	}
	key, _ := ctx.Metadata[MetaMonitoringEndpoint].(string)
	if key == "" {
		key = "unknown"
	}

	m.mu.Lock()
	elapsed := float64(m.now().Sub(start).Microseconds()) / 1000.0
	st := m.stats(key)
	if ctx.CollectResponseMetrics() {
		st.responseTimes = append(st.responseTimes, elapsed)
		if len(st.responseTimes) > maxSamples {
			st.responseTimes = st.responseTimes[len(st.responseTimes)-maxSamples:]
		}
	}
	st.statusCodes["status_"+strconv.Itoa(statusCode)]++
	if statusCode >= 400 {
		st.errors++
	}
	m.mu.Unlock()

	tags := []string{"endpoint:" + key, "status:" + strconv.Itoa(statusCode)}
	_ = m.provider.Histogram("http.response_time_ms", elapsed, tags)
	_ = m.provider.Count("http.responses", 1, tags)
}

// Summary devolve o resumo por rota.
func (m *Monitoring) Summary() map[string]EndpointSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]EndpointSummary, len(m.endpoints))
	for key, st := range m.endpoints {
		s := EndpointSummary{
			TotalRequests: st.total,
			StatusCodes:   make(map[string]int, len(st.statusCodes)),
			UniqueUsers:   len(st.byUser),
		}
		if st.total > 0 {
			s.ErrorRate = float64(st.errors) / float64(st.total) * 100
		}
		if n := len(st.responseTimes); n > 0 {
			var sum float64
			for _, v := range st.responseTimes {
				sum += v
			}
			s.AvgResponseTime = sum / float64(n)
		}
		for k, v := range st.statusCodes {
			s.StatusCodes[k] = v
		}
		out[key] = s
	}
	return out
}

func (m *Monitoring) Metrics() map[string]interface{} {
	summary := m.Summary()
	out := make(map[string]interface{}, len(summary))
	for k, v := range summary {
		out[k] = v
	}
	return out
}

func (m *Monitoring) Reset() {
	m.mu.Lock()
	m.endpoints = make(map[string]*endpointStats)
	m.mu.Unlock()
}
