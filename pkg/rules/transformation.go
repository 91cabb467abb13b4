package rules

import "fmt"

// Transformation descreve um valor derivado calculado sobre a requisição.
type Transformation struct {
	Name      string `json:"name" yaml:"name"`
	Condition string `json:"condition" yaml:"condition"`
	Value     string `json:"value" yaml:"value"`
	ElseValue string `json:"else_value" yaml:"else_value"`
	Target    string `json:"target" yaml:"target"`
}

// TransformationResult contém o resultado de uma operação de transformação.
type TransformationResult struct {
	Applied bool
	Target  string
	Value   interface{}
}

// ExecuteTransformation verifica a condição e, se atendida, calcula o valor.
// Se não, usa ElseValue quando houver.
func (rm *RuleManager) ExecuteTransformation(rule Transformation, vars map[string]interface{}) (*TransformationResult, error) {
	conditionMet, err := rm.EvaluateBool(rule.Condition, vars)
	if err != nil {
		return nil, fmt.Errorf("falha ao avaliar condição da transformação '%s': %w", rule.Name, err)
	}

	expr := rule.Value
	if !conditionMet {
		if rule.ElseValue == "" {
			return &TransformationResult{Applied: false}, nil
		}
		expr = rule.ElseValue
	}

	val, err := rm.EvaluateValue(expr, vars)
	if err != nil {
		return nil, fmt.Errorf("falha ao calcular valor da transformação '%s': %w", rule.Name, err)
	}

	target := rule.Target
	if target == "" {
		target = rule.Name
	}
	return &TransformationResult{Target: target, Value: val, Applied: true}, nil
}
