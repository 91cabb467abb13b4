package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/raywall/tes-dashboard/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Configure inicializa o logger global baseando-se na configuração do YAML.
func Configure(cfg config.LoggingConf) zerolog.Logger {
	return ConfigureTo(cfg, os.Stdout)
}

// ConfigureTo permite direcionar a saída (útil em testes).
func ConfigureTo(cfg config.LoggingConf, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// JSON para produção, Console "bonito" para local se solicitado
	output := out
	if !cfg.Enabled {
		output = io.Discard
	} else if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(output).
		With().
		Timestamp().
		Logger()

	// Pacotes usam log.Logger como base via Component
	log.Logger = logger
	return logger
}

// Component retorna um logger filho identificado pelo nome do componente.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
