package transport

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/raywall/tes-dashboard/pkg/runs"
	"github.com/raywall/tes-dashboard/pkg/tasks"
	"github.com/raywall/tes-dashboard/pkg/tes"
	"github.com/rs/zerolog/log"
)

type taskDetails struct {
	Success        bool        `json:"success"`
	TaskJSON       interface{} `json:"task_json,omitempty"`
	Source         string      `json:"source,omitempty"`
	TESEndpoint    string      `json:"tes_endpoint,omitempty"`
	ViewLevel      string      `json:"view_level,omitempty"`
	InstanceName   string      `json:"instance_name,omitempty"`
	FetchTimestamp string      `json:"fetch_timestamp,omitempty"`
	Error          string      `json:"error,omitempty"`
	LastError      string      `json:"last_error,omitempty"`
}

// taskDetails consulta a instância e, se ela não souber da task, cai no registro local.
func (a *api) taskDetails(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, tesURL := q.Get("task_id"), q.Get("tes_url")
	view := q.Get("view")
	if view == "" {
		view = "FULL"
	}
	if id == "" || tesURL == "" {
		writeJSON(w, http.StatusBadRequest, taskDetails{Error: "task_id and tes_url parameters are required"})
		return
	}

	inst := a.Instances.Resolve(tesURL)
	now := a.now().UTC().Format(time.RFC3339)
	doc, err := a.Upstream.FetchTask(r.Context(), inst, id, view)
	if err == nil {
		writeJSON(w, http.StatusOK, taskDetails{
			Success: true, TaskJSON: doc.Task, Source: "tes_instance", TESEndpoint: doc.Endpoint,
			ViewLevel: doc.View, InstanceName: inst.Name, FetchTimestamp: now,
		})
		return
	}
	log.Ctx(r.Context()).Debug().Err(err).Str("task_id", id).Str("tes_url", tesURL).Msg("task indisponível na instância")

	task, ferr := tasks.FindByID(r.Context(), a.Tasks, id)
	if ferr == nil {
		writeJSON(w, http.StatusOK, taskDetails{
			Success: true, TaskJSON: task, Source: "dashboard_submitted",
			ViewLevel: view, InstanceName: inst.Name, FetchTimestamp: now,
		})
		return
	}
	writeJSON(w, http.StatusNotFound, taskDetails{
		Error:     "Task " + id + " not found in TES instance or dashboard records. Last error: " + err.Error(),
		LastError: err.Error(),
	})
}

// liveTaskLog extrai stdout e stderr direto da instância.
func (a *api) liveTaskLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tesURL, id := q.Get("tesUrl"), q.Get("taskId")
	if tesURL == "" || id == "" {
		writeError(w, http.StatusBadRequest, "Missing parameters")
		return
	}

	doc, err := a.Upstream.FetchTask(r.Context(), a.Instances.Resolve(tesURL), id, "FULL")
	if err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Str("task_id", id).Msg("falha ao buscar logs")
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"error":   "Could not retrieve task logs from any endpoint",
			"logs":    []string{"=== ERROR ===\nFailed to fetch logs from TES instance. Tried both FULL and MINIMAL views."},
		})
		return
	}
	logs := tes.ExtractLogs(doc.Task, doc.View)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"logs":       logs,
		"task":       doc.Task,
		"log_count":  len(logs),
		"endpoint":   doc.Endpoint,
		"view_level": doc.View,
	})
}

func (a *api) taskLog(w http.ResponseWriter, r *http.Request) {
	task, err := tasks.FindByID(r.Context(), a.Tasks, mux.Vars(r)["id"])
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": "Task not found"})
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "log": task.Log(), "task": task})
	}
}

func (a *api) workflowLog(w http.ResponseWriter, r *http.Request) {
	run, err := a.Runs.Workflow(r.Context(), mux.Vars(r)["id"])
	switch {
	case errors.Is(err, runs.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": "Workflow not found"})
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "log": run.Log(), "workflow": run})
	}
}

func (a *api) batchLog(w http.ResponseWriter, r *http.Request) {
	batch, err := a.Runs.Batch(r.Context(), mux.Vars(r)["id"])
	switch {
	case errors.Is(err, runs.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": "Batch run not found"})
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "log": batch.Log(), "batch": batch})
	}
}
