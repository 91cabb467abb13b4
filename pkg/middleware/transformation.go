package middleware

import (
	"fmt"
	"sync"

	"github.com/raywall/tes-dashboard/pkg/rules"
)

type transformSettings struct {
	Rules []rules.Transformation `yaml:"rules"`
}

// Transformation calcula valores derivados (CEL) e os publica em ctx.Vars()
// para os middlewares e handlers seguintes.
type Transformation struct {
	base
	engine *rules.RuleManager

	mu        sync.RWMutex
	transform []rules.Transformation
}

func NewTransformation(cfg Config, rm *rules.RuleManager) (*Transformation, error) {
	if rm == nil {
		return nil, &ConfigurationError{Name: cfg.Name, Reason: "transformation exige um RuleManager"}
	}
	t := &Transformation{engine: rm}
	t.init(cfg)
	if err := t.UpdateConfig(nil); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Transformation) UpdateConfig(update map[string]interface{}) error {
	raw := t.merged(update)
	var s transformSettings
	if err := decodeSettings(raw, &s); err != nil {
		return &ConfigurationError{Name: t.Name(), Reason: err.Error()}
	}
	for _, r := range s.Rules {
		for _, expr := range []string{r.Condition, r.Value, r.ElseValue} {
			if expr == "" {
				continue
			}
			if err := t.engine.Check(expr); err != nil {
				return &ConfigurationError{Name: t.Name(), Reason: fmt.Sprintf("regra '%s': %v", r.Name, err)}
			}
		}
	}
	t.mu.Lock()
	t.transform = s.Rules
	t.mu.Unlock()
	t.commit(raw)
	return nil
}

func (t *Transformation) Execute(ctx *Context) (Result, error) {
	t.mu.RLock()
	list := t.transform
	t.mu.RUnlock()

	if len(list) == 0 {
		return Skipped("No transformation rules defined"), nil
	}

	vars := ctx.Vars()
	applied := make([]string, 0, len(list))
	for _, r := range list {
		// Cada regra enxerga os valores calculados pelas anteriores
		res, err := t.engine.ExecuteTransformation(r, requestVars(ctx))
		if err != nil {
			return Result{}, err
		}
		if res.Applied {
			vars[res.Target] = res.Value
			applied = append(applied, res.Target)
		}
	}

	return Success(fmt.Sprintf("%d transformations applied", len(applied)), map[string]interface{}{"applied": applied}), nil
}
