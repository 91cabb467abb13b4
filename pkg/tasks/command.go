package tasks

import (
	"encoding/json"
	"errors"
	"strings"
)

var shellOperators = []string{"&&", "||", "|", ">>", "2>", ">", "<", "&", ";", "$(", "`"}

var defaultCommand = []string{"echo", "Hello World"}

// CommandLine aceita tanto uma string quanto uma lista no JSON de submissão.
type CommandLine struct {
	Raw  string
	Args []string
}

func (c *CommandLine) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, &c.Args); err == nil {
		return nil
	}
	if err := json.Unmarshal(data, &c.Raw); err != nil {
		return errors.New("command must be a string or a list of strings")
	}
	return nil
}

func (c CommandLine) MarshalJSON() ([]byte, error) {
	if c.Args != nil {
		return json.Marshal(c.Args)
	}
	return json.Marshal(c.Raw)
}

// Build devolve o argv do executor. Comandos com operadores de shell rodam
// em /bin/sh -c; os demais são quebrados respeitando aspas.
func (c CommandLine) Build() ([]string, error) {
	if len(c.Args) > 0 {
		return c.Args, nil
	}
	raw := strings.TrimSpace(c.Raw)
	if raw == "" {
		return append([]string(nil), defaultCommand...), nil
	}
	if needsShell(raw) {
		return []string{"/bin/sh", "-c", raw}, nil
	}
	return splitWords(raw)
}

func needsShell(cmd string) bool {
	for _, op := range shellOperators {
		if strings.Contains(cmd, op) {
			return true
		}
	}
	return false
}

// splitWords quebra s como um shell POSIX faria em palavras simples:
// aspas simples são literais, aspas duplas aceitam \" e \\, e a barra fora
// de aspas escapa o próximo caractere.
func splitWords(s string) ([]string, error) {
	var (
		words   []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			if quote == '"' && r != '"' && r != '\\' {
				cur.WriteRune('\\')
			}
			cur.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				escaped = true
			default:
				cur.WriteRune(r)
			}
		case r == '\\':
			escaped, inWord = true, true
		case r == '\'' || r == '"':
			quote, inWord = r, true
		case r == ' ' || r == '\t' || r == '\n':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, errors.New("no closing quotation")
	}
	if escaped {
		return nil, errors.New("no escaped character")
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}
