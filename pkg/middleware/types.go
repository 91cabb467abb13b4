package middleware

import (
	"errors"
	"fmt"
	"time"
)

// Type identifica a família de um middleware.
type Type string

const (
	TypeAuthentication Type = "authentication"
	TypeAuthorization  Type = "authorization"
	TypeRateLimiting   Type = "rate_limiting"
	TypeLogging        Type = "logging"
	TypeCaching        Type = "caching"
	TypeValidation     Type = "validation"
	TypeTransformation Type = "transformation"
	TypeMonitoring     Type = "monitoring"
	TypeSecurity       Type = "security"
	TypeLoadBalancing  Type = "load_balancing"
)

// Types lista todos os tipos conhecidos, na ordem de declaração.
var Types = []Type{
	TypeAuthentication, TypeAuthorization, TypeRateLimiting, TypeLogging, TypeCaching,
	TypeValidation, TypeTransformation, TypeMonitoring, TypeSecurity, TypeLoadBalancing,
}

func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Status é o desfecho de uma execução de middleware.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Config é a declaração de um middleware. Name é a identidade e não muda durante o processo.
type Config struct {
	Name     string                 `json:"name" yaml:"name" validate:"required"`
	Type     Type                   `json:"type" yaml:"type" validate:"required,middleware_type"`
	Enabled  bool                   `json:"enabled" yaml:"enabled"`
	Priority int                    `json:"priority" yaml:"priority"`
	Config   map[string]interface{} `json:"config" yaml:"config"`
	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Result é produzido uma vez por middleware em cada requisição.
type Result struct {
	MiddlewareName  string                 `json:"middleware_name"`
	Status          Status                 `json:"status"`
	ExecutionTimeMs float64                `json:"execution_time_ms"`
	Message         string                 `json:"message"`
	Data            map[string]interface{} `json:"data,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

func Success(message string, data map[string]interface{}) Result {
	return Result{Status: StatusSuccess, Message: message, Data: data}
}

func Failed(message string, data map[string]interface{}) Result {
	return Result{Status: StatusFailed, Message: message, Data: data}
}

func Skipped(message string) Result {
	return Result{Status: StatusSkipped, Message: message}
}

func Errored(message string) Result {
	return Result{Status: StatusError, Message: message}
}

// CachedResponse é a resposta armazenada pelo middleware de cache.
type CachedResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       []byte            `json:"body"`
	StoredAt   time.Time         `json:"stored_at"`
}

var (
	// ErrNotFound indica um middleware não registrado.
	ErrNotFound = errors.New("middleware: not found")
	// ErrDuplicate indica uma instalação com nome já existente.
	ErrDuplicate = errors.New("middleware: already exists")
	// ErrNotReconfigurable indica que o middleware não aceita atualização de config.
	ErrNotReconfigurable = errors.New("middleware: configuration updates not supported")
)

// ConfigurationError é retornado quando uma declaração não pode gerar um middleware.
type ConfigurationError struct {
	Name   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("configuração de middleware inválida: %s", e.Reason)
	}
	return fmt.Sprintf("configuração de middleware '%s' inválida: %s", e.Name, e.Reason)
}
