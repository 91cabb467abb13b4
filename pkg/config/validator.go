package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type ConfigValidator struct {
	validate *validator.Validate
}

// NewValidator cria uma nova instância do validador
func NewValidator() *ConfigValidator {
	return &ConfigValidator{
		validate: validator.New(),
	}
}

// Validate realiza validações estruturais (tags) e semânticas (lógica)
func (cv *ConfigValidator) Validate(cfg *Config) error {
	if err := cv.validate.Struct(cfg); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMsgs []string
			for _, e := range validationErrors {
				errMsgs = append(errMsgs, fmt.Sprintf("Campo '%s' falhou na regra '%s'", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("erros de validação estrutural:\n- %s", strings.Join(errMsgs, "\n- "))
		}
		return fmt.Errorf("erro de validação estrutural: %w", err)
	}

	if err := cv.validateSemantics(cfg); err != nil {
		return fmt.Errorf("erro de validação semântica: %w", err)
	}

	return nil
}

func (cv *ConfigValidator) validateSemantics(cfg *Config) error {
	// 1. Nomes de instâncias estáticas devem ser únicos
	seen := make(map[string]bool)
	for _, inst := range cfg.Instances.Static {
		if seen[inst.Name] {
			return fmt.Errorf("instância TES duplicada: '%s'", inst.Name)
		}
		seen[inst.Name] = true
	}

	// 2. Durações, quando informadas, precisam ser parseáveis
	durations := map[string]string{
		"server.read_timeout":      cfg.Server.ReadTimeout,
		"server.write_timeout":     cfg.Server.WriteTimeout,
		"reconciler.interval":      cfg.Reconciler.Interval,
		"reconciler.error_backoff": cfg.Reconciler.ErrorBackoff,
		"cache.sweep_interval":     cfg.Cache.SweepInterval,
	}
	for field, raw := range durations {
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			return fmt.Errorf("duração inválida em '%s': '%s'", field, raw)
		}
	}

	// 3. Credenciais só fazem sentido para um único modo de autenticação
	for name, cred := range cfg.Instances.Credentials {
		if cred.Token != "" && cred.TokenURL != "" {
			return fmt.Errorf("credencial '%s': use token estático ou token_url, não ambos", name)
		}
	}

	return nil
}
