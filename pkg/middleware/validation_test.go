package middleware

import (
	"testing"

	"github.com/raywall/tes-dashboard/pkg/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidation(t *testing.T, strict bool) *Validation {
	t.Helper()
	rm, err := rules.NewRuleManager()
	require.NoError(t, err)

	v, err := NewValidation(Config{
		Name: "validation", Type: TypeValidation, Enabled: true,
		Config: map[string]interface{}{
			"strict_mode": strict,
			"validation_rules": map[string]interface{}{
				"POST:/api/submit_task": map[string]interface{}{
					"required_fields":  []interface{}{"tes_instance", "docker_image"},
					"field_types":      map[string]interface{}{"tes_instance": "string", "cpu": "integer", "tags": "array"},
					"field_patterns":   map[string]interface{}{"docker_image": `[a-z0-9./-]+(:[\w.-]+)?$`},
					"required_headers": []interface{}{"Content-Type"},
					"expressions":      []interface{}{`!has(body.cpu) || double(body.cpu) <= 64.0`},
				},
			},
		},
	}, rm)
	require.NoError(t, err)
	return v
}

func submitCtx(body map[string]interface{}, headers map[string]string) *Context {
	return NewContext(Request{
		Method:   "POST",
		Endpoint: "/api/submit_task",
		Headers:  HeadersFromMap(headers),
		Body:     body,
	})
}

func TestValidation_Execute(t *testing.T) {
	jsonHeader := map[string]string{"Content-Type": "application/json"}

	tests := []struct {
		name       string
		strict     bool
		body       map[string]interface{}
		headers    map[string]string
		wantStatus Status
		wantErrs   []string
	}{
		{
			name:       "válido",
			body:       map[string]interface{}{"tes_instance": "https://tes", "docker_image": "alpine:3.19", "cpu": 2},
			headers:    jsonHeader,
			wantStatus: StatusSuccess,
		},
		{
			name:       "campo ausente em modo estrito",
			strict:     true,
			body:       map[string]interface{}{"tes_instance": "https://tes"},
			headers:    jsonHeader,
			wantStatus: StatusFailed,
			wantErrs:   []string{"Required field 'docker_image' is missing"},
		},
		{
			name:       "avisos em modo não estrito",
			body:       map[string]interface{}{"tes_instance": 12, "docker_image": "alpine", "tags": "x"},
			wantStatus: StatusSuccess,
			wantErrs: []string{
				"Field 'tags' must be an array",
				"Field 'tes_instance' must be a string",
				"Required header 'Content-Type' is missing",
			},
		},
		{
			name:       "padrão e expressão",
			strict:     true,
			body:       map[string]interface{}{"tes_instance": "x", "docker_image": "UPPER", "cpu": 128},
			headers:    jsonHeader,
			wantStatus: StatusFailed,
			wantErrs: []string{
				"Field 'docker_image' does not match required pattern",
				"Expression '!has(body.cpu) || double(body.cpu) <= 64.0' is not satisfied",
			},
		},
		{
			name:       "float inteiro conta como integer",
			body:       map[string]interface{}{"tes_instance": "x", "docker_image": "alpine", "cpu": float64(4)},
			headers:    jsonHeader,
			wantStatus: StatusSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newValidation(t, tt.strict)
			res, err := v.Execute(submitCtx(tt.body, tt.headers))
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, res.Status)
			if len(tt.wantErrs) == 0 {
				assert.Equal(t, "Validation passed", res.Message)
				return
			}
			assert.Equal(t, tt.wantErrs, res.Data["validation_errors"])
			if tt.strict {
				assert.Contains(t, res.Message, "Validation failed: ")
			} else {
				assert.Contains(t, res.Message, "Validation warnings: ")
			}
		})
	}
}

func TestValidation_NoRulesSkips(t *testing.T) {
	v := newValidation(t, true)
	res, err := v.Execute(NewContext(Request{Method: "GET", Endpoint: "/api/tasks"}))
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
}

func TestValidation_InvalidRules(t *testing.T) {
	tests := []struct {
		name  string
		rules map[string]interface{}
	}{
		{"tipo desconhecido", map[string]interface{}{"field_types": map[string]interface{}{"a": "uuid"}}},
		{"regex inválida", map[string]interface{}{"field_patterns": map[string]interface{}{"a": "("}}},
		{"expressão inválida", map[string]interface{}{"expressions": []interface{}{"body.a ==="}}},
	}

	rm, err := rules.NewRuleManager()
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewValidation(Config{
				Name: "validation", Type: TypeValidation,
				Config: map[string]interface{}{
					"validation_rules": map[string]interface{}{"POST:/x": tt.rules},
				},
			}, rm)
			var cerr *ConfigurationError
			assert.ErrorAs(t, err, &cerr)
		})
	}
}
