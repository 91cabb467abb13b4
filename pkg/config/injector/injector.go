package injector

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
)

// Captura padrões ${tipo.chave}
// Ex: ${env.TES_TOKEN}, ${ssm./tes/token}, ${secret.tes/creds#password}
var pattern = regexp.MustCompile(`\$\{(env|ssm|secret)\.([^}]+)\}`)

// Backend resolve as fontes remotas (SSM e Secrets Manager).
type Backend interface {
	Parameter(ctx context.Context, path string) (string, error)
	Secret(ctx context.Context, secretID string) (interface{}, error)
}

type Injector struct {
	backend Backend
}

// New cria um Injector. Com backend nil apenas ${env.*} e tags env são resolvidos.
func New(backend Backend) *Injector {
	return &Injector{backend: backend}
}

// Inject percorre target (ponteiro para struct) substituindo os placeholders.
func (i *Injector) Inject(ctx context.Context, target interface{}) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("target deve ser um ponteiro para struct não nulo")
	}
	return i.injectRecursive(ctx, v.Elem())
}

func (i *Injector) injectRecursive(ctx context.Context, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for k := 0; k < t.NumField(); k++ {
			field := t.Field(k)
			value := v.Field(k)
			if !field.IsExported() {
				continue
			}

			// 1. Tags env:"..." têm precedência sobre o valor do YAML
			if tag := field.Tag.Get("env"); tag != "" && value.Kind() == reflect.String {
				if val, ok := os.LookupEnv(tag); ok {
					value.SetString(val)
				}
			}

			// 2. Strings com interpolação
			if value.Kind() == reflect.String {
				newValue, err := i.interpolateString(ctx, value.String())
				if err != nil {
					return fmt.Errorf("campo %s: %w", field.Name, err)
				}
				value.SetString(newValue)
				continue
			}

			// 3. Recursão
			if err := i.injectRecursive(ctx, value); err != nil {
				return err
			}
		}

	case reflect.Map:
		if v.IsNil() || v.Type().Key().Kind() != reflect.String {
			return nil
		}
		return i.injectMap(ctx, v)

	case reflect.Ptr:
		if !v.IsNil() {
			return i.injectRecursive(ctx, v.Elem())
		}

	case reflect.Interface:
		// Apenas mapas são mutáveis através de uma interface
		if !v.IsNil() && v.Elem().Kind() == reflect.Map {
			return i.injectRecursive(ctx, v.Elem())
		}

	case reflect.Slice:
		for j := 0; j < v.Len(); j++ {
			elem := v.Index(j)
			if elem.Kind() == reflect.String {
				newValue, err := i.interpolateString(ctx, elem.String())
				if err != nil {
					return err
				}
				elem.SetString(newValue)
				continue
			}
			if err := i.injectRecursive(ctx, elem); err != nil {
				return err
			}
		}
	}
	return nil
}

// injectMap trata mapas com valores string, structs ou mapas aninhados.
// Valores de mapa não são endereçáveis, por isso cada entrada é copiada e regravada.
func (i *Injector) injectMap(ctx context.Context, v reflect.Value) error {
	iter := v.MapRange()
	type update struct{ key, val reflect.Value }
	var updates []update

	for iter.Next() {
		key := iter.Key()
		elem := iter.Value()
		if elem.Kind() == reflect.Interface {
			if elem.IsNil() {
				continue
			}
			elem = elem.Elem()
		}

		switch elem.Kind() {
		case reflect.String:
			newVal, err := i.interpolateString(ctx, elem.String())
			if err != nil {
				return fmt.Errorf("chave %s: %w", key.String(), err)
			}
			updates = append(updates, update{key, reflect.ValueOf(newVal).Convert(elem.Type())})
		case reflect.Map:
			if err := i.injectMap(ctx, elem); err != nil {
				return err
			}
		case reflect.Struct:
			cp := reflect.New(elem.Type()).Elem()
			cp.Set(elem)
			if err := i.injectRecursive(ctx, cp); err != nil {
				return err
			}
			updates = append(updates, update{key, cp})
		}
	}

	for _, u := range updates {
		v.SetMapIndex(u.key, u.val)
	}
	return nil
}

// interpolateString realiza a substituição baseada em Regex
func (i *Injector) interpolateString(ctx context.Context, input string) (string, error) {
	if !strings.Contains(input, "${") {
		return input, nil
	}

	var err error
	result := pattern.ReplaceAllStringFunc(input, func(match string) string {
		if err != nil {
			return match
		}
		sub := pattern.FindStringSubmatch(match)
		val, resolveErr := i.fetchValue(ctx, sub[1], sub[2])
		if resolveErr != nil {
			err = resolveErr
			return match
		}
		return val
	})

	return result, err
}

// fetchValue centraliza a busca de dados
func (i *Injector) fetchValue(ctx context.Context, sourceType, key string) (string, error) {
	switch sourceType {
	case "env":
		// Variável ausente resolve para vazio
		return os.Getenv(key), nil

	case "ssm":
		if i.backend == nil {
			return "", fmt.Errorf("ssm indisponível para '%s'", key)
		}
		return i.backend.Parameter(ctx, key)

	case "secret":
		if i.backend == nil {
			return "", fmt.Errorf("secrets manager indisponível para '%s'", key)
		}
		id, field, _ := strings.Cut(key, "#")
		val, err := i.backend.Secret(ctx, id)
		if err != nil {
			return "", err
		}
		if field == "" {
			if s, ok := val.(string); ok {
				return s, nil
			}
			return "", fmt.Errorf("segredo '%s' é JSON, informe o campo com #", id)
		}
		data, ok := val.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("segredo '%s' não é JSON", id)
		}
		fv, ok := data[field]
		if !ok {
			return "", fmt.Errorf("campo '%s' ausente no segredo '%s'", field, id)
		}
		return fmt.Sprintf("%v", fv), nil
	}

	return "", nil
}
