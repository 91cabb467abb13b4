package metrics

import "sync"

// Provider define o contrato para envio de métricas.
type Provider interface {
	Count(name string, value float64, tags []string) error
	Gauge(name string, value float64, tags []string) error
	Histogram(name string, value float64, tags []string) error
}

// MetricType define os tipos suportados.
type MetricType string

const (
	TypeCount     MetricType = "count"
	TypeGauge     MetricType = "gauge"
	TypeHistogram MetricType = "histogram"
)

// Sample é uma observação registrada pelo Recorder.
type Sample struct {
	Type  MetricType
	Name  string
	Value float64
	Tags  []string
}

// Recorder guarda as observações em memória. Usado em testes e no modo debug.
type Recorder struct {
	mu      sync.Mutex
	samples []Sample
}

func (r *Recorder) Count(name string, value float64, tags []string) error {
	return r.add(TypeCount, name, value, tags)
}

func (r *Recorder) Gauge(name string, value float64, tags []string) error {
	return r.add(TypeGauge, name, value, tags)
}

func (r *Recorder) Histogram(name string, value float64, tags []string) error {
	return r.add(TypeHistogram, name, value, tags)
}

func (r *Recorder) add(t MetricType, name string, value float64, tags []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, Sample{Type: t, Name: name, Value: value, Tags: append([]string(nil), tags...)})
	return nil
}

// Samples retorna uma cópia das observações, opcionalmente filtrada por nome.
func (r *Recorder) Samples(name string) []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Sample
	for _, s := range r.samples {
		if name == "" || s.Name == name {
			out = append(out, s)
		}
	}
	return out
}
