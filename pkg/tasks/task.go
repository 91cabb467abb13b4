// Package tasks guarda o histórico de tasks submetidas às instâncias TES e
// implementa o fluxo de submissão.
package tasks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raywall/tes-dashboard/pkg/tes"
)

// StateSubmissionFailed marca tasks que nunca chegaram ao upstream.
const StateSubmissionFailed = "SUBMISSION_FAILED"

var terminalStates = map[string]bool{
	tes.StateComplete:      true,
	tes.StateCanceled:      true,
	tes.StateSystemError:   true,
	tes.StateExecutorError: true,
	tes.StatePreempted:     true,
	StateSubmissionFailed:  true,
}

// TerminalStates devolve o conjunto de estados finais.
func TerminalStates() []string {
	return []string{
		tes.StateComplete, tes.StateCanceled, tes.StateSystemError,
		tes.StateExecutorError, tes.StatePreempted, StateSubmissionFailed,
	}
}

// IsTerminal indica se nenhuma mudança remota é esperada para o estado.
func IsTerminal(state string) bool { return terminalStates[state] }

var (
	ErrNotFound  = errors.New("task not found")
	ErrDuplicate = errors.New("task already exists")
)

// Key identifica uma task. IDs podem se repetir entre instâncias.
type Key struct {
	TaskID string
	TESURL string
}

// Task é o registro local de uma task.
type Task struct {
	ID           string                   `json:"task_id" dynamodbav:"task_id"`
	Name         string                   `json:"name" dynamodbav:"name"`
	Description  string                   `json:"description,omitempty" dynamodbav:"description,omitempty"`
	State        string                   `json:"state" dynamodbav:"state"`
	TESURL       string                   `json:"tes_url" dynamodbav:"tes_url"`
	TESName      string                   `json:"tes_name,omitempty" dynamodbav:"tes_name,omitempty"`
	DockerImage  string                   `json:"docker_image,omitempty" dynamodbav:"docker_image,omitempty"`
	CreationTime string                   `json:"creation_time,omitempty" dynamodbav:"creation_time,omitempty"`
	StartTime    string                   `json:"start_time,omitempty" dynamodbav:"start_time,omitempty"`
	EndTime      string                   `json:"end_time,omitempty" dynamodbav:"end_time,omitempty"`
	Executors    []tes.Executor           `json:"executors,omitempty" dynamodbav:"executors,omitempty"`
	Resources    tes.Resources            `json:"resources" dynamodbav:"resources"`
	Inputs       []tes.FileParam          `json:"inputs,omitempty" dynamodbav:"inputs,omitempty"`
	Outputs      []tes.FileParam          `json:"outputs,omitempty" dynamodbav:"outputs,omitempty"`
	Logs         []map[string]interface{} `json:"logs,omitempty" dynamodbav:"logs,omitempty"`
	SubmittedAt  time.Time                `json:"submitted_at" dynamodbav:"submitted_at"`
	ErrorCode    string                   `json:"error_code,omitempty" dynamodbav:"error_code,omitempty"`
	ErrorReason  string                   `json:"error_reason,omitempty" dynamodbav:"error_reason,omitempty"`
}

func (t *Task) Key() Key { return Key{TaskID: t.ID, TESURL: t.TESURL} }

func (t *Task) IsTerminal() bool { return IsTerminal(t.State) }

// Merge aplica a visão remota e devolve true se algo mudou.
func (t *Task) Merge(view *tes.TaskView) bool {
	changed := false
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&t.State, view.State)
	set(&t.CreationTime, view.CreationTime)
	set(&t.StartTime, view.StartTime)
	set(&t.EndTime, view.EndTime)
	if len(view.Logs) > 0 && !sameLogs(t.Logs, view.Logs) {
		t.Logs = view.Logs
		changed = true
	}
	return changed
}

// sameLogs compara pela forma JSON; logs relidos do store trazem números como float64.
func sameLogs(a, b []map[string]interface{}) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

// Log é o resumo textual exibido no visualizador de logs do dashboard.
func (t *Task) Log() string {
	var b strings.Builder
	b.WriteString("=== Task Execution Log ===\n")
	fmt.Fprintf(&b, "Task ID: %s\n", t.ID)
	fmt.Fprintf(&b, "Task Name: %s\n", firstNonEmpty(t.Name, "Unknown"))
	fmt.Fprintf(&b, "TES Instance: %s\n", firstNonEmpty(t.TESName, "Unknown"))
	fmt.Fprintf(&b, "State: %s\n", firstNonEmpty(t.State, "Unknown"))
	submitted := t.CreationTime
	if submitted == "" && !t.SubmittedAt.IsZero() {
		submitted = t.SubmittedAt.Format(time.RFC3339)
	}
	fmt.Fprintf(&b, "Submitted: %s\n", firstNonEmpty(submitted, "Unknown"))
	if t.StartTime != "" {
		fmt.Fprintf(&b, "Started: %s\n", t.StartTime)
	}
	if t.EndTime != "" {
		fmt.Fprintf(&b, "Completed: %s\n", t.EndTime)
	}
	return b.String()
}

// Filter restringe List. Campos vazios não filtram.
type Filter struct {
	State  string
	TESURL string
}

func (f Filter) Match(t *Task) bool {
	if f.State != "" && t.State != f.State {
		return false
	}
	if f.TESURL != "" && t.TESURL != f.TESURL {
		return false
	}
	return true
}

func clone(t *Task) *Task {
	c := *t
	c.Executors = append([]tes.Executor(nil), t.Executors...)
	c.Inputs = append([]tes.FileParam(nil), t.Inputs...)
	c.Outputs = append([]tes.FileParam(nil), t.Outputs...)
	c.Logs = append([]map[string]interface{}(nil), t.Logs...)
	return &c
}
