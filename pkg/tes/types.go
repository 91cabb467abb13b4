// Package tes é o cliente das instâncias GA4GH TES (v1) monitoradas pelo dashboard.
package tes

import "context"

// Estados definidos pelo TES v1.
const (
	StateUnknown       = "UNKNOWN"
	StateQueued        = "QUEUED"
	StateInitializing  = "INITIALIZING"
	StateRunning       = "RUNNING"
	StatePaused        = "PAUSED"
	StateComplete      = "COMPLETE"
	StateExecutorError = "EXECUTOR_ERROR"
	StateSystemError   = "SYSTEM_ERROR"
	StateCanceled      = "CANCELED"
	StatePreempted     = "PREEMPTED"
	StateCanceling     = "CANCELING"
)

// ValidStates são os estados aceitos na criação de um registro local.
var ValidStates = []string{
	StateUnknown, StateQueued, StateInitializing, StateRunning, StateComplete,
	StateCanceled, StateSystemError, StateExecutorError, StatePreempted,
}

// IsValidState indica se s pertence a ValidStates.
func IsValidState(s string) bool {
	for _, v := range ValidStates {
		if v == s {
			return true
		}
	}
	return false
}

// TokenSource fornece tokens bearer obtidos dinamicamente (OAuth2).
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Credentials de uma instância. Token tem precedência sobre User/Password,
// que por sua vez têm precedência sobre OAuth.
type Credentials struct {
	Token    string
	User     string
	Password string
	OAuth    TokenSource
}

// Instance é uma instância TES conhecida.
type Instance struct {
	Name        string
	URL         string
	Credentials Credentials
}

type Executor struct {
	Image   string            `json:"image"`
	Command []string          `json:"command"`
	Workdir string            `json:"workdir,omitempty"`
	Stdin   string            `json:"stdin,omitempty"`
	Stdout  string            `json:"stdout,omitempty"`
	Stderr  string            `json:"stderr,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

type Resources struct {
	CPUCores int     `json:"cpu_cores"`
	RAMGB    float64 `json:"ram_gb"`
	DiskGB   float64 `json:"disk_gb"`
}

// FileParam descreve um input ou output.
type FileParam struct {
	URL  string `json:"url"`
	Path string `json:"path"`
	Type string `json:"type"`
}

// TaskSpec é o documento enviado em POST /tasks.
type TaskSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Inputs      []FileParam `json:"inputs"`
	Outputs     []FileParam `json:"outputs"`
	Resources   Resources   `json:"resources"`
	Executors   []Executor  `json:"executors"`
}

// CreateResponse é a resposta de POST /tasks.
type CreateResponse struct {
	ID           string `json:"id"`
	State        string `json:"state,omitempty"`
	CreationTime string `json:"creation_time,omitempty"`
}

// TaskView é a visão FULL devolvida por GET /tasks/{id}.
type TaskView struct {
	ID           string                   `json:"id"`
	State        string                   `json:"state"`
	Name         string                   `json:"name,omitempty"`
	CreationTime string                   `json:"creation_time,omitempty"`
	StartTime    string                   `json:"start_time,omitempty"`
	EndTime      string                   `json:"end_time,omitempty"`
	Logs         []map[string]interface{} `json:"logs,omitempty"`
}

// ServiceInfo é o documento de service-info, mantido genérico.
type ServiceInfo map[string]interface{}
