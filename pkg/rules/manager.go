package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Variáveis disponíveis nas expressões avaliadas sobre uma requisição.
var requestVars = []string{
	"body",    // corpo JSON decodificado
	"headers", // headers em minúsculas
	"query",   // query params
	"request", // method, endpoint, client_ip
	"user",    // dados do usuário autenticado
	"vars",    // valores calculados por transformações anteriores
}

// RuleManager gerencia a compilação e avaliação de expressões CEL.
// Programas compilados ficam em cache, pois a mesma regra roda a cada requisição.
type RuleManager struct {
	env      *cel.Env
	programs sync.Map // expressão -> cel.Program
}

// NewRuleManager inicializa o ambiente CEL com as variáveis padrão esperadas.
func NewRuleManager() (*RuleManager, error) {
	opts := []cel.EnvOption{cel.StdLib()}
	for _, name := range requestVars {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("erro fatal CEL init: %w", err)
	}

	return &RuleManager{env: env}, nil
}

// EvaluateBool processa regras de validação (deve retornar true/false).
func (rm *RuleManager) EvaluateBool(expression string, vars map[string]interface{}) (bool, error) {
	if expression == "" {
		return true, nil // Expressão vazia = aprova
	}

	out, err := rm.eval(expression, vars)
	if err != nil {
		return false, err
	}

	if val, ok := out.(bool); ok {
		return val, nil
	}
	return false, fmt.Errorf("resultado de '%s' não é booleano", expression)
}

// EvaluateValue processa regras de transformação (retorna um valor dinâmico).
func (rm *RuleManager) EvaluateValue(expression string, vars map[string]interface{}) (interface{}, error) {
	if expression == "" {
		return nil, nil
	}
	return rm.eval(expression, vars)
}

// Check compila a expressão sem avaliá-la. Usado na validação das declarações.
func (rm *RuleManager) Check(expression string) error {
	_, err := rm.program(expression)
	return err
}

func (rm *RuleManager) eval(expression string, vars map[string]interface{}) (interface{}, error) {
	prg, err := rm.program(expression)
	if err != nil {
		return nil, err
	}

	activation := make(map[string]interface{}, len(requestVars))
	for _, name := range requestVars {
		activation[name] = map[string]interface{}{}
	}
	for k, v := range vars {
		activation[k] = v
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return nil, fmt.Errorf("erro execução CEL: %w", err)
	}
	return out.Value(), nil
}

func (rm *RuleManager) program(expr string) (cel.Program, error) {
	if cached, ok := rm.programs.Load(expr); ok {
		return cached.(cel.Program), nil
	}

	ast, issues := rm.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("erro compilação CEL '%s': %w", expr, issues.Err())
	}
	prg, err := rm.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("erro ao gerar programa CEL: %w", err)
	}

	rm.programs.Store(expr, prg)
	return prg, nil
}
