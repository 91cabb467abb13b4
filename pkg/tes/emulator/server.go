// Package emulator implementa um servidor TES v1 em memória, usado em testes
// e no binário cmd/emulator para desenvolvimento local.
package emulator

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/raywall/tes-dashboard/pkg/tes"
)

type task struct {
	view tes.TaskView
	spec tes.TaskSpec
}

// Server guarda as tarefas criadas. Cada leitura de uma tarefa avança o estado
// QUEUED -> RUNNING -> COMPLETE.
type Server struct {
	mu    sync.Mutex
	tasks map[string]*task
	order []string
	token string
	name  string
	newID func() string
	now   func() time.Time
}

type Option func(*Server)

// WithToken exige "Authorization: Bearer <token>" em todas as rotas.
// Sem o header responde 401; com token errado, 403.
func WithToken(token string) Option { return func(s *Server) { s.token = token } }

// WithName define o nome exposto no service-info.
func WithName(name string) Option { return func(s *Server) { s.name = name } }

// WithIDs troca o gerador de ids.
func WithIDs(fn func() string) Option { return func(s *Server) { s.newID = fn } }

func New(opts ...Option) *Server {
	s := &Server{
		tasks: make(map[string]*task),
		name:  "tes-emulator",
		newID: func() string { return uuid.NewString() },
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler devolve as rotas do TES v1.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/ga4gh/tes/v1").Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc("/service-info", s.serviceInfo).Methods(http.MethodGet)
	api.HandleFunc("/tasks", s.createTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks", s.listTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id:[^/:]+}:cancel", s.cancelTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id:[^/:]+}", s.getTask).Methods(http.MethodGet)
	return r
}

// Len devolve quantas tarefas foram criadas.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Spec devolve o documento recebido na criação da tarefa.
func (s *Server) Spec(id string) (tes.TaskSpec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return tes.TaskSpec{}, false
	}
	return t.spec, true
}

// SetState força o estado de uma tarefa.
func (s *Server) SetState(id, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		t.view.State = state
	}
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		switch {
		case header == "":
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "missing credentials"})
		case strings.TrimPrefix(header, "Bearer ") != s.token:
			writeJSON(w, http.StatusForbidden, map[string]string{"message": "invalid token"})
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (s *Server) serviceInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      "org.ga4gh." + s.name,
		"name":    s.name,
		"type":    map[string]string{"group": "org.ga4gh", "artifact": "tes", "version": "1.1.0"},
		"version": "1.1.0",
		"storage": []string{"file:///tmp"},
	})
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var spec tes.TaskSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid task: " + err.Error()})
		return
	}
	if len(spec.Executors) == 0 || spec.Executors[0].Image == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "at least one executor with an image is required"})
		return
	}

	s.mu.Lock()
	id := s.newID()
	s.tasks[id] = &task{
		spec: spec,
		view: tes.TaskView{
			ID:           id,
			State:        tes.StateQueued,
			Name:         spec.Name,
			CreationTime: s.now().UTC().Format(time.RFC3339),
		},
	}
	s.order = append(s.order, id)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, tes.CreateResponse{ID: id})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "task not found"})
		return
	}
	s.advance(t)
	view := t.view
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, view)
}

// advance deve ser chamado com s.mu travado.
func (s *Server) advance(t *task) {
	now := s.now().UTC().Format(time.RFC3339)
	switch t.view.State {
	case tes.StateQueued:
		t.view.State = tes.StateRunning
		t.view.StartTime = now
	case tes.StateRunning:
		t.view.State = tes.StateComplete
		t.view.EndTime = now
		t.view.Logs = []map[string]interface{}{{
			"start_time": t.view.StartTime,
			"end_time":   now,
			"logs":       []map[string]interface{}{{"exit_code": 0, "stdout": ""}},
		}}
	}
}

func (s *Server) listTasks(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	ids := append([]string(nil), s.order...)
	out := make([]tes.TaskView, 0, len(ids))
	for _, id := range ids {
		out = append(out, tes.TaskView{ID: id, State: s.tasks[id].view.State})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": out})
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		switch t.view.State {
		case tes.StateComplete, tes.StateExecutorError, tes.StateSystemError, tes.StateCanceled:
		default:
			t.view.State = tes.StateCanceled
		}
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "task not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
