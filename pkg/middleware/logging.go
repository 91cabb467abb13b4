package middleware

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/raywall/tes-dashboard/pkg/logger"
	"github.com/rs/zerolog"
)

const redacted = "[REDACTED]"

var defaultSensitiveHeaders = []string{"authorization", "x-api-key", "cookie"}

type loggingSettings struct {
	LogLevel         string   `yaml:"log_level"`
	LogRequests      *bool    `yaml:"log_requests"`
	LogSensitiveData bool     `yaml:"log_sensitive_data"`
	SensitiveHeaders []string `yaml:"sensitive_headers"`
	MaxBodyLogSize   int      `yaml:"max_body_log_size"`
}

// LogEntry é o registro estruturado de uma requisição.
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	UserID    string            `json:"user_id"`
	Endpoint  string            `json:"endpoint"`
	Method    string            `json:"method"`
	ClientIP  string            `json:"client_ip"`
	Headers   map[string]string `json:"request_headers,omitempty"`
	Body      string            `json:"request_body,omitempty"`
}

// Logging registra cada requisição, mascarando headers sensíveis.
type Logging struct {
	base
	log zerolog.Logger

	mu        sync.RWMutex
	level     zerolog.Level
	requests  bool
	sensitive bool
	masked    map[string]bool
	maxBody   int
}

func NewLogging(cfg Config) (*Logging, error) {
	l := &Logging{log: logger.Component("request-log")}
	l.init(cfg)
	if err := l.UpdateConfig(nil); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logging) UpdateConfig(update map[string]interface{}) error {
	raw := l.merged(update)
	s := loggingSettings{LogLevel: "info", MaxBodyLogSize: 4096}
	if err := decodeSettings(raw, &s); err != nil {
		return &ConfigurationError{Name: l.Name(), Reason: err.Error()}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s.LogLevel))
	if err != nil {
		return &ConfigurationError{Name: l.Name(), Reason: "log_level inválido: " + s.LogLevel}
	}
	headers := s.SensitiveHeaders
	if len(headers) == 0 {
		headers = defaultSensitiveHeaders
	}
	masked := make(map[string]bool, len(headers))
	for _, h := range headers {
		masked[strings.ToLower(h)] = true
	}

	l.mu.Lock()
	l.level = level
	l.requests = s.LogRequests == nil || *s.LogRequests
	l.sensitive = s.LogSensitiveData
	l.masked = masked
	l.maxBody = s.MaxBodyLogSize
	l.mu.Unlock()
	l.commit(raw)
	return nil
}

func (l *Logging) Execute(ctx *Context) (Result, error) {
	l.mu.RLock()
	level, requests, sensitive, masked, maxBody := l.level, l.requests, l.sensitive, l.masked, l.maxBody
	l.mu.RUnlock()

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		UserID:    ctx.UserID(),
		Endpoint:  ctx.Request.Endpoint,
		Method:    ctx.Request.Method,
		ClientIP:  ctx.Request.ClientIP,
	}
	if entry.ClientIP == "" {
		entry.ClientIP = "unknown"
	}

	if requests {
		entry.Headers = make(map[string]string, len(ctx.Request.Headers))
		for k, v := range ctx.Request.Headers {
			if !sensitive && masked[k] {
				v = redacted
			}
			entry.Headers[k] = v
		}
		if sensitive && len(ctx.Request.Body) > 0 {
			if b, err := json.Marshal(ctx.Request.Body); err == nil {
				body := string(b)
				if maxBody > 0 && len(body) > maxBody {
					body = truncateUTF8(body, maxBody) + "...(truncated)"
				}
				entry.Body = body
			}
		}
	}

	ctx.Metadata[MetaLogEntry] = entry

	ev := l.log.WithLevel(level).
		Str("user_id", entry.UserID).
		Str("method", entry.Method).
		Str("endpoint", entry.Endpoint).
		Str("client_ip", entry.ClientIP)
	if entry.Headers != nil {
		ev = ev.Interface("request_headers", entry.Headers)
	}
	if entry.Body != "" {
		ev = ev.Str("request_body", entry.Body)
	}
	ev.Msg("request logged")

	return Success("Request logged successfully", map[string]interface{}{"log_entry_id": entryID(entry)}), nil
}

func entryID(e LogEntry) string {
	b, _ := json.Marshal(e)
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])[:8]
}

// truncateUTF8 corta s em no máximo n bytes sem partir uma runa.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
