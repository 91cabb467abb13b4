package config

import (
	"context"
	"fmt"

	"github.com/raywall/tes-dashboard/pkg/config/injector"
	"gopkg.in/yaml.v3"
)

// Loader carrega, interpola e valida a configuração do dashboard.
type Loader struct {
	Source    *Source
	Injector  *injector.Injector
	validator *ConfigValidator
}

// NewLoader cria um Loader. backend resolve ${ssm.*} e ${secret.*} e pode ser nil.
func NewLoader(source *Source, backend injector.Backend) *Loader {
	if source == nil {
		source = &Source{}
	}
	return &Loader{
		Source:    source,
		Injector:  injector.New(backend),
		validator: NewValidator(),
	}
}

// Load lê a configuração de um arquivo, s3:// ou dynamodb://.
func (l *Loader) Load(ctx context.Context, uri string) (*Config, error) {
	raw, err := l.Source.Fetch(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("falha leitura config (%s): %w", uri, err)
	}
	return l.Parse(ctx, raw)
}

// Parse aplica defaults, injeção de variáveis e validação sobre um documento YAML.
func (l *Loader) Parse(ctx context.Context, data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("YAML malformado: %w", err)
	}

	if err := l.Injector.Inject(ctx, cfg); err != nil {
		return nil, fmt.Errorf("falha na injeção de variáveis: %w", err)
	}

	if err := l.validator.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validação da configuração falhou: %w", err)
	}

	return cfg, nil
}

// Default retorna a configuração base sobre a qual o YAML é aplicado.
func Default() *Config {
	return &Config{
		Version: "1.0",
		Server: ServerConf{
			Name: "tes-dashboard",
			Port: 8000,
		},
		Logging: LoggingConf{Enabled: true, Level: "info", Format: "json"},
		Reconciler: ReconcilerConf{
			Enabled:      true,
			Interval:     "30s",
			ErrorBackoff: "60s",
		},
		Storage:    StorageConf{Backend: "memory"},
		Middleware: MiddlewareConf{UseDefaults: true},
		Cache:      CacheConf{Backend: "memory"},
	}
}
