package runs

import (
	"fmt"
	"strings"
	"time"
)

// Log é o resumo textual exibido no visualizador de logs do dashboard.
func (w WorkflowRun) Log() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s Workflow Log ===\n", strings.ToUpper(w.Type))
	writeRun(&b, w)
	return b.String()
}

func (b BatchRun) Log() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Batch %s Log ===\n", strings.ToUpper(b.WorkflowType))
	fmt.Fprintf(&sb, "Run ID: %s\n", b.RunID)
	fmt.Fprintf(&sb, "Mode: %s\n", b.Mode)
	fmt.Fprintf(&sb, "Submitted: %s\n", b.SubmittedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Runs: %d\n", len(b.Runs))
	for _, r := range b.Runs {
		sb.WriteString("\n")
		writeRun(&sb, r)
	}
	return sb.String()
}

func writeRun(b *strings.Builder, w WorkflowRun) {
	fmt.Fprintf(b, "Run ID: %s\n", w.RunID)
	fmt.Fprintf(b, "TES Instance: %s\n", w.TESName)
	fmt.Fprintf(b, "TES URL: %s\n", orUnknown(w.TESURL))
	fmt.Fprintf(b, "Status: %s\n", w.Status)
	fmt.Fprintf(b, "Submitted: %s\n", w.SubmittedAt.Format(time.RFC3339))
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
