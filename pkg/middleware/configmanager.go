package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/raywall/tes-dashboard/pkg/config"
	"github.com/raywall/tes-dashboard/pkg/logger"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ConfigManager carrega, constrói e persiste declarações de middleware.
type ConfigManager struct {
	factory *Factory
	source  *config.Source
	log     zerolog.Logger
}

// NewConfigManager cria o gerenciador. source nil lê apenas arquivos locais.
func NewConfigManager(factory *Factory, source *config.Source) *ConfigManager {
	if source == nil {
		source = &config.Source{}
	}
	return &ConfigManager{factory: factory, source: source, log: logger.Component("middleware-config")}
}

func (c *ConfigManager) Factory() *Factory { return c.factory }

// Load lê as declarações de um arquivo, s3:// ou dynamodb://.
func (c *ConfigManager) Load(ctx context.Context, uri string) ([]Config, error) {
	data, err := c.source.Fetch(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("falha ao ler declarações de middleware em '%s': %w", uri, err)
	}
	cfgs, err := ParseConfigs(data)
	if err != nil {
		return nil, fmt.Errorf("declarações de middleware inválidas em '%s': %w", uri, err)
	}
	return cfgs, nil
}

// ParseConfigs aceita JSON ou YAML, como lista ou como {middlewares: [...]}.
func ParseConfigs(data []byte) ([]Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	var decls []declaration
	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&decls); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		var wrapper struct {
			Middlewares []declaration `yaml:"middlewares"`
		}
		if err := root.Decode(&wrapper); err != nil {
			return nil, err
		}
		decls = wrapper.Middlewares
	default:
		return nil, fmt.Errorf("esperado uma lista de middlewares")
	}

	out := make([]Config, 0, len(decls))
	for _, d := range decls {
		out = append(out, d.config())
	}
	return out, nil
}

// Build cria os middlewares. Uma entrada inválida gera um erro próprio e não
// impede as demais.
func (c *ConfigManager) Build(cfgs []Config) ([]Middleware, []error) {
	var (
		built []Middleware
		errs  []error
	)
	for _, cfg := range cfgs {
		mw, err := c.factory.Create(cfg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		built = append(built, mw)
	}
	return built, errs
}

// Apply constrói e registra as declarações no Manager. Devolve quantas foram registradas.
func (c *ConfigManager) Apply(m *Manager, cfgs []Config) (int, []error) {
	built, errs := c.Build(cfgs)
	for _, err := range errs {
		c.log.Error().Err(err).Msg("middleware ignorado")
	}
	for _, mw := range built {
		m.Register(mw)
		c.log.Info().Str("middleware", mw.Name()).Str("type", string(mw.Type())).Msg("middleware registrado")
	}
	return len(built), errs
}

// Save grava as declarações em YAML (.yaml/.yml) ou JSON.
func Save(path string, cfgs []Config) error {
	doc := struct {
		Middlewares []Config `json:"middlewares" yaml:"middlewares"`
	}{Middlewares: cfgs}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(doc)
	default:
		data, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("falha ao serializar middlewares: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Template é o esqueleto oferecido para novas declarações.
func Template() Config {
	return Config{
		Name:     "new_middleware",
		Type:     TypeLogging,
		Enabled:  true,
		Priority: defaultPriority,
		Config:   map[string]interface{}{},
		Metadata: map[string]interface{}{
			"description": "New middleware configuration",
			"created_at":  time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// Defaults é o pipeline embutido, com tokens de demonstração.
func Defaults() []Config {
	return []Config{
		{
			Name: "authentication", Type: TypeAuthentication, Enabled: true, Priority: 10,
			Config: map[string]interface{}{
				"require_auth": false,
				"valid_tokens": map[string]interface{}{
					"test_token_123": map[string]interface{}{
						"user_id":     "test_user",
						"roles":       []interface{}{"user", "tester"},
						"permissions": []interface{}{"read", "write", "test"},
					},
					"admin_token_456": map[string]interface{}{
						"user_id":     "admin_user",
						"roles":       []interface{}{"admin"},
						"permissions": []interface{}{"read", "write", "admin", "test"},
					},
					"readonly_token_789": map[string]interface{}{
						"user_id":     "readonly_user",
						"roles":       []interface{}{"readonly"},
						"permissions": []interface{}{"read"},
					},
				},
			},
			Metadata: map[string]interface{}{"description": "Token based authentication"},
		},
		{
			Name: "authorization", Type: TypeAuthorization, Enabled: true, Priority: 20,
			Config: map[string]interface{}{
				"role_permissions": map[string]interface{}{
					"admin":    []interface{}{"read", "write", "admin", "test", "delete"},
					"user":     []interface{}{"read", "write", "test"},
					"tester":   []interface{}{"read", "write", "test"},
					"readonly": []interface{}{"read"},
				},
				"endpoint_permissions": map[string]interface{}{
					"POST:/api/submit_task": []interface{}{"write"},
					"POST:/api/workflows":   []interface{}{"write"},
					"POST:/api/batch_runs":  []interface{}{"write"},
					"GET:/api/admin":        []interface{}{"admin"},
				},
			},
			Metadata: map[string]interface{}{"description": "Role based access control"},
		},
		{
			Name: "rate_limiting", Type: TypeRateLimiting, Enabled: true, Priority: 30,
			Config: map[string]interface{}{
				"global_limit":        1000,
				"window_size_minutes": 60,
				"rate_limits": map[string]interface{}{
					"test_user":     500,
					"admin_user":    2000,
					"readonly_user": 100,
				},
			},
			Metadata: map[string]interface{}{"description": "Sliding window rate limiting"},
		},
		{
			Name: "validation", Type: TypeValidation, Enabled: true, Priority: 40,
			Config: map[string]interface{}{
				"strict_mode": false,
				"validation_rules": map[string]interface{}{
					"POST:/api/submit_task": map[string]interface{}{
						"required_fields": []interface{}{"tes_instance", "docker_image"},
						"field_types": map[string]interface{}{
							"tes_instance": "string",
							"docker_image": "string",
							"task_name":    "string",
						},
						"required_headers": []interface{}{"content-type"},
					},
					"POST:/api/workflows": map[string]interface{}{
						"required_fields": []interface{}{"workflow_type", "tes_instance"},
						"field_types": map[string]interface{}{
							"workflow_type": "string",
							"tes_instance":  "string",
						},
					},
				},
			},
			Metadata: map[string]interface{}{"description": "Request body validation"},
		},
		{
			Name: "logging", Type: TypeLogging, Enabled: true, Priority: 50,
			Config: map[string]interface{}{
				"log_level":          "INFO",
				"log_requests":       true,
				"log_sensitive_data": false,
			},
			Metadata: map[string]interface{}{"description": "Request logging"},
		},
		{
			Name: "caching", Type: TypeCaching, Enabled: true, Priority: 60,
			Config: map[string]interface{}{
				"cache_ttl_seconds": 300,
				"cacheable_methods": []interface{}{"GET"},
				"cache_patterns":    []interface{}{"/api/instances", "/api/service_info", "/api/tes_locations"},
			},
			Metadata: map[string]interface{}{"description": "Response caching"},
		},
		{
			Name: "monitoring", Type: TypeMonitoring, Enabled: true, Priority: 70,
			Config: map[string]interface{}{
				"track_response_times": true,
				"track_user_activity":  true,
			},
			Metadata: map[string]interface{}{"description": "Endpoint metrics"},
		},
	}
}

// TestDefaults é a variante relaxada usada pelo endpoint de teste.
func TestDefaults() []Config {
	cfgs := Defaults()
	for i := range cfgs {
		switch cfgs[i].Type {
		case TypeAuthentication:
			cfgs[i].Config["require_auth"] = false
		case TypeRateLimiting:
			cfgs[i].Config["global_limit"] = 10000
			cfgs[i].Config["window_size_minutes"] = 1
		case TypeValidation:
			cfgs[i].Config["strict_mode"] = false
		}
	}
	return cfgs
}
