package middleware

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogging_RedactsSensitiveHeaders(t *testing.T) {
	l, err := NewLogging(Config{
		Name: "logging", Type: TypeLogging, Enabled: true,
		Config: map[string]interface{}{"log_level": "INFO"},
	})
	require.NoError(t, err)

	ctx := NewContext(Request{
		Method:   "POST",
		Endpoint: "/api/submit_task",
		ClientIP: "127.0.0.1",
		Headers: HeadersFromMap(map[string]string{
			"Authorization": "Bearer secret",
			"X-Api-Key":     "k",
			"Content-Type":  "application/json",
		}),
		Body: map[string]interface{}{"docker_image": "alpine"},
	})

	res, err := l.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Len(t, res.Data["log_entry_id"], 8)

	entry, ok := ctx.Metadata[MetaLogEntry].(LogEntry)
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", entry.Headers["authorization"])
	assert.Equal(t, "[REDACTED]", entry.Headers["x-api-key"])
	assert.Equal(t, "application/json", entry.Headers["content-type"])
	assert.Empty(t, entry.Body)
	assert.Equal(t, "anonymous", entry.UserID)
}

func TestLogging_SensitiveModeTruncatesBody(t *testing.T) {
	l, err := NewLogging(Config{
		Name: "logging", Type: TypeLogging, Enabled: true,
		Config: map[string]interface{}{"log_sensitive_data": true, "max_body_log_size": 10},
	})
	require.NoError(t, err)

	ctx := NewContext(Request{
		Method:  "POST",
		Headers: HeadersFromMap(map[string]string{"Authorization": "Bearer secret"}),
		Body:    map[string]interface{}{"command": strings.Repeat("x", 50)},
	})
	_, err = l.Execute(ctx)
	require.NoError(t, err)

	entry := ctx.Metadata[MetaLogEntry].(LogEntry)
	assert.Equal(t, "Bearer secret", entry.Headers["authorization"])
	assert.True(t, strings.HasSuffix(entry.Body, "...(truncated)"))
	assert.Equal(t, 10, len(strings.TrimSuffix(entry.Body, "...(truncated)")))
	assert.Equal(t, "unknown", entry.ClientIP)
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"curto", "abc", 10, "abc"},
		{"ascii", "abcdef", 3, "abc"},
		{"meio de runa", `{"name":"éé"}`, 10, `{"name":"`},
		{"fronteira de runa", `{"name":"éé"}`, 11, `{"name":"é`},
		{"emoji", "a😀b", 3, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateUTF8(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestLogging_TruncatedBodyStaysValidUTF8(t *testing.T) {
	l, err := NewLogging(Config{
		Name: "logging", Type: TypeLogging, Enabled: true,
		Config: map[string]interface{}{"log_sensitive_data": true, "max_body_log_size": 10},
	})
	require.NoError(t, err)

	ctx := NewContext(Request{Method: "POST", Body: map[string]interface{}{"name": "ééééé"}})
	_, err = l.Execute(ctx)
	require.NoError(t, err)

	entry := ctx.Metadata[MetaLogEntry].(LogEntry)
	assert.True(t, utf8.ValidString(entry.Body))
	assert.Equal(t, `{"name":"...(truncated)`, entry.Body)
}

func TestLogging_InvalidLevel(t *testing.T) {
	_, err := NewLogging(Config{
		Name: "logging", Type: TypeLogging,
		Config: map[string]interface{}{"log_level": "LOUD"},
	})
	var cerr *ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}
