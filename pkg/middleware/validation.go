package middleware

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/raywall/tes-dashboard/pkg/rules"
)

// RouteRules são as regras de validação de uma rota "METHOD:endpoint".
type RouteRules struct {
	RequiredFields  []string          `yaml:"required_fields"`
	FieldTypes      map[string]string `yaml:"field_types"`
	FieldPatterns   map[string]string `yaml:"field_patterns"`
	RequiredHeaders []string          `yaml:"required_headers"`
	Expressions     []string          `yaml:"expressions"` // CEL, devem resultar em bool
}

type validationSettings struct {
	StrictMode      bool                  `yaml:"strict_mode"`
	ValidationRules map[string]RouteRules `yaml:"validation_rules"`
}

type compiledRules struct {
	RouteRules
	patterns map[string]*regexp.Regexp
}

// Validation verifica corpo e headers contra as regras da rota.
type Validation struct {
	base
	rules *rules.RuleManager

	mu     sync.RWMutex
	strict bool
	routes map[string]compiledRules
}

func NewValidation(cfg Config, rm *rules.RuleManager) (*Validation, error) {
	v := &Validation{rules: rm}
	v.init(cfg)
	if err := v.UpdateConfig(nil); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Validation) UpdateConfig(update map[string]interface{}) error {
	raw := v.merged(update)
	var s validationSettings
	if err := decodeSettings(raw, &s); err != nil {
		return &ConfigurationError{Name: v.Name(), Reason: err.Error()}
	}

	routes := make(map[string]compiledRules, len(s.ValidationRules))
	for key, rr := range s.ValidationRules {
		c := compiledRules{RouteRules: rr, patterns: map[string]*regexp.Regexp{}}
		for field, expected := range rr.FieldTypes {
			if !knownFieldType(expected) {
				return &ConfigurationError{Name: v.Name(), Reason: fmt.Sprintf("%s: tipo '%s' desconhecido para '%s'", key, expected, field)}
			}
		}
		for field, p := range rr.FieldPatterns {
			// Âncora no início, como em re.match
			re, err := regexp.Compile("^(?:" + p + ")")
			if err != nil {
				return &ConfigurationError{Name: v.Name(), Reason: fmt.Sprintf("%s: padrão inválido para '%s': %v", key, field, err)}
			}
			c.patterns[field] = re
		}
		if len(rr.Expressions) > 0 {
			if v.rules == nil {
				return &ConfigurationError{Name: v.Name(), Reason: "expressions exigem um RuleManager"}
			}
			for _, expr := range rr.Expressions {
				if err := v.rules.Check(expr); err != nil {
					return &ConfigurationError{Name: v.Name(), Reason: err.Error()}
				}
			}
		}
		routes[key] = c
	}

	v.mu.Lock()
	v.strict = s.StrictMode
	v.routes = routes
	v.mu.Unlock()
	v.commit(raw)
	return nil
}

func (v *Validation) Execute(ctx *Context) (Result, error) {
	v.mu.RLock()
	rr, ok := v.routes[ctx.RouteKey()]
	strict := v.strict
	v.mu.RUnlock()

	if !ok || rr.empty() {
		return Skipped("No validation rules defined for this endpoint"), nil
	}

	body := ctx.Request.Body
	if body == nil {
		body = map[string]interface{}{}
	}

	var errs []string
	for _, field := range rr.RequiredFields {
		if _, present := body[field]; !present {
			errs = append(errs, fmt.Sprintf("Required field '%s' is missing", field))
		}
	}

	for _, field := range sortedKeys(rr.FieldTypes) {
		val, present := body[field]
		if !present {
			continue
		}
		expected := rr.FieldTypes[field]
		if !matchesType(val, expected) {
			errs = append(errs, fmt.Sprintf("Field '%s' must be %s", field, article(expected)))
		}
	}

	for _, field := range sortedKeys(rr.FieldPatterns) {
		s, isString := body[field].(string)
		if isString && !rr.patterns[field].MatchString(s) {
			errs = append(errs, fmt.Sprintf("Field '%s' does not match required pattern", field))
		}
	}

	for _, h := range rr.RequiredHeaders {
		if _, present := ctx.Request.Headers[strings.ToLower(h)]; !present {
			errs = append(errs, fmt.Sprintf("Required header '%s' is missing", h))
		}
	}

	if len(rr.Expressions) > 0 {
		vars := requestVars(ctx)
		for _, expr := range rr.Expressions {
			ok, err := v.rules.EvaluateBool(expr, vars)
			if err != nil {
				errs = append(errs, fmt.Sprintf("Expression '%s' could not be evaluated: %v", expr, err))
			} else if !ok {
				errs = append(errs, fmt.Sprintf("Expression '%s' is not satisfied", expr))
			}
		}
	}

	if len(errs) > 0 {
		data := map[string]interface{}{"validation_errors": errs}
		if strict {
			return Failed("Validation failed: "+strings.Join(errs, "; "), data), nil
		}
		return Success("Validation warnings: "+strings.Join(errs, "; "), data), nil
	}

	return Success("Validation passed", map[string]interface{}{"validated_fields": len(body)}), nil
}

func (r compiledRules) empty() bool {
	return len(r.RequiredFields) == 0 && len(r.FieldTypes) == 0 && len(r.FieldPatterns) == 0 &&
		len(r.RequiredHeaders) == 0 && len(r.Expressions) == 0
}

func knownFieldType(t string) bool {
	switch t {
	case "string", "integer", "number", "boolean", "array", "object":
		return true
	}
	return false
}

// matchesType considera os tipos produzidos por encoding/json e yaml.
func matchesType(val interface{}, expected string) bool {
	switch expected {
	case "string":
		_, ok := val.(string)
		return ok
	case "integer":
		switch n := val.(type) {
		case int, int32, int64:
			return true
		case float64:
			return n == math.Trunc(n)
		}
		return false
	case "number":
		switch val.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "array":
		_, ok := val.([]interface{})
		return ok
	case "object":
		_, ok := val.(map[string]interface{})
		return ok
	}
	return false
}

func article(t string) string {
	if t == "integer" || t == "array" || t == "object" {
		return "an " + t
	}
	return "a " + t
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// requestVars monta as variáveis expostas às expressões CEL.
func requestVars(ctx *Context) map[string]interface{} {
	headers := make(map[string]interface{}, len(ctx.Request.Headers))
	for k, v := range ctx.Request.Headers {
		headers[k] = v
	}
	query := make(map[string]interface{}, len(ctx.Request.Query))
	for k, v := range ctx.Request.Query {
		query[k] = v
	}
	body := ctx.Request.Body
	if body == nil {
		body = map[string]interface{}{}
	}
	user := map[string]interface{}{}
	if ctx.User != nil {
		user = map[string]interface{}{
			"authenticated": ctx.User.Authenticated,
			"user_id":       ctx.User.UserID,
			"roles":         toAny(ctx.User.Roles),
			"permissions":   toAny(ctx.User.Permissions),
		}
	}
	return map[string]interface{}{
		"body":    body,
		"headers": headers,
		"query":   query,
		"user":    user,
		"request": map[string]interface{}{
			"method":    ctx.Request.Method,
			"endpoint":  ctx.Request.Endpoint,
			"client_ip": ctx.Request.ClientIP,
		},
		"vars": ctx.Vars(),
	}
}

func toAny(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
