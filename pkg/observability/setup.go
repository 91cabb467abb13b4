package observability

import (
	"fmt"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/raywall/tes-dashboard/pkg/config"
	"github.com/raywall/tes-dashboard/pkg/metrics"
)

// NoopProvider é um placeholder para quando métricas estão desabilitadas.
type NoopProvider struct{}

func (n *NoopProvider) Count(name string, value float64, tags []string) error     { return nil }
func (n *NoopProvider) Gauge(name string, value float64, tags []string) error     { return nil }
func (n *NoopProvider) Histogram(name string, value float64, tags []string) error { return nil }

// DatadogProvider adapta a lib oficial do Datadog para nossa interface.
type DatadogProvider struct {
	client statsd.ClientInterface
}

func (d *DatadogProvider) Count(name string, value float64, tags []string) error {
	return d.client.Count(name, int64(value), tags, 1)
}

func (d *DatadogProvider) Gauge(name string, value float64, tags []string) error {
	return d.client.Gauge(name, value, tags, 1)
}

func (d *DatadogProvider) Histogram(name string, value float64, tags []string) error {
	return d.client.Histogram(name, value, tags, 1)
}

// Close libera o buffer do statsd.
func (d *DatadogProvider) Close() error {
	return d.client.Close()
}

// SetupMetrics inicializa o provedor correto baseado no YAML. Toda métrica
// sai com a tag service:<name> e as tags globais configuradas.
func SetupMetrics(service string, cfg config.MetricsConf) (metrics.Provider, error) {
	if !cfg.Datadog.Enabled {
		return &NoopProvider{}, nil
	}

	namespace := cfg.Datadog.Namespace
	if namespace == "" {
		namespace = "tes_dashboard."
	}

	client, err := statsd.New(cfg.Datadog.Addr,
		statsd.WithNamespace(namespace),
		statsd.WithTags(globalTags(service, cfg.Datadog.Tags)),
	)
	if err != nil {
		return nil, fmt.Errorf("falha ao conectar no datadog statsd: %w", err)
	}

	return &DatadogProvider{client: client}, nil
}

func globalTags(service string, extra []string) []string {
	tags := make([]string, 0, len(extra)+1)
	if service != "" {
		tags = append(tags, "service:"+service)
	}
	for _, t := range extra {
		if t != "" && t != "service:"+service {
			tags = append(tags, t)
		}
	}
	return tags
}
