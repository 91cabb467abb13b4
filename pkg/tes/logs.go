package tes

import (
	"encoding/json"
	"fmt"
)

// ExtractLogs monta as seções de stdout, stderr e metadata de uma tarefa
// devolvida por FetchTask, na ordem task logs, executors.
func ExtractLogs(task map[string]interface{}, view string) []string {
	var out []string
	for _, entry := range asList(task["logs"]) {
		for _, el := range asList(entry["logs"]) {
			out = appendStreams(out, "", el)
		}
		if meta, ok := entry["metadata"].(map[string]interface{}); ok && len(meta) > 0 {
			data, _ := json.MarshalIndent(meta, "", "  ")
			out = append(out, "=== METADATA ===\n"+string(data))
		}
	}
	for _, ex := range asList(task["executors"]) {
		for _, el := range asList(ex["logs"]) {
			out = appendStreams(out, "EXECUTOR ", el)
		}
	}
	if len(out) == 0 {
		out = append(out, fmt.Sprintf("=== NO LOGS AVAILABLE (view: %s) ===\nThe task may still be running or logs were not captured.", view))
	}
	return out
}

func appendStreams(out []string, prefix string, el map[string]interface{}) []string {
	code := exitCode(el["exit_code"])
	if s, _ := el["stdout"].(string); s != "" {
		out = append(out, fmt.Sprintf("=== %sSTDOUT (exit code: %s) ===\n%s", prefix, code, s))
	}
	if s, _ := el["stderr"].(string); s != "" {
		out = append(out, fmt.Sprintf("=== %sSTDERR (exit code: %s) ===\n%s", prefix, code, s))
	}
	return out
}

func exitCode(v interface{}) string {
	switch n := v.(type) {
	case nil:
		return "-"
	case float64:
		return fmt.Sprintf("%d", int64(n))
	default:
		return fmt.Sprint(n)
	}
}

func asList(v interface{}) []map[string]interface{} {
	items, _ := v.([]interface{})
	out := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}
