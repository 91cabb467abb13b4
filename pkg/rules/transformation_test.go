package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteTransformation(t *testing.T) {
	rm, err := NewRuleManager()
	require.NoError(t, err)

	vars := map[string]interface{}{
		"body":    map[string]interface{}{"ram_gb": 64.0, "tes_instance": "https://tes.example.org"},
		"request": map[string]interface{}{"method": "POST"},
	}

	tests := []struct {
		name          string
		rule          Transformation
		expectApplied bool
		expectValue   interface{}
		expectTarget  string
		expectError   bool
	}{
		{
			name: "Condição verdadeira",
			rule: Transformation{
				Name:      "large_job",
				Condition: "body.ram_gb >= 32.0",
				Value:     "'large'",
				ElseValue: "'small'",
				Target:    "job_size",
			},
			expectApplied: true,
			expectValue:   "large",
			expectTarget:  "job_size",
		},
		{
			name: "Condição falsa com else",
			rule: Transformation{
				Name:      "is_get",
				Condition: "request.method == 'GET'",
				Value:     "true",
				ElseValue: "false",
			},
			expectApplied: true,
			expectValue:   false,
			expectTarget:  "is_get",
		},
		{
			name: "Condição falsa sem else",
			rule: Transformation{
				Name:      "noop",
				Condition: "body.ram_gb < 1.0",
				Value:     "1",
			},
			expectApplied: false,
		},
		{
			name: "Erro na condição",
			rule: Transformation{
				Name:      "broken",
				Condition: "body.ram_gb >",
				Value:     "1",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := rm.ExecuteTransformation(tt.rule, vars)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectApplied, res.Applied)
			if tt.expectApplied {
				assert.Equal(t, tt.expectValue, res.Value)
				assert.Equal(t, tt.expectTarget, res.Target)
			}
		})
	}
}
