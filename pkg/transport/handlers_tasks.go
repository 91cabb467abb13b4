package transport

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/raywall/tes-dashboard/pkg/tasks"
	"github.com/rs/zerolog/log"
)

func (a *api) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := a.Tasks.List(r.Context(), tasks.Filter{State: q.Get("state"), TESURL: q.Get("tes_url")})
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("falha ao listar tasks")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// getTask sem tes_url devolve a submissão mais recente com o id.
func (a *api) getTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var (
		task *tasks.Task
		err  error
	)
	if tesURL := r.URL.Query().Get("tes_url"); tesURL != "" {
		task, err = a.Tasks.Get(r.Context(), tasks.Key{TaskID: id, TESURL: tesURL})
	} else {
		task, err = tasks.FindByID(r.Context(), a.Tasks, id)
	}
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		writeCodedError(w, http.StatusNotFound, "NOT_FOUND", "task não encontrada")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, task)
	}
}

type submitFailure struct {
	Success   bool   `json:"success"`
	ErrorType string `json:"error_type"`
	*tasks.SubmitError
}

type submitSuccess struct {
	Success bool `json:"success"`
	*tasks.SubmitResult
}

func (a *api) submitTask(w http.ResponseWriter, r *http.Request) {
	var req tasks.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeSubmitError(w, &tasks.SubmitError{
			HTTPStatus: http.StatusBadRequest,
			Code:       tasks.CodeInvalidRequest,
			Message:    "corpo JSON inválido: " + err.Error(),
		})
		return
	}

	res, err := a.Submitter.Submit(r.Context(), req)
	if err != nil {
		var serr *tasks.SubmitError
		if !errors.As(err, &serr) {
			serr = &tasks.SubmitError{HTTPStatus: http.StatusInternalServerError, Code: "UNKNOWN_ERROR", Message: "Task submission failed: " + err.Error()}
		}
		log.Ctx(r.Context()).Warn().Str("code", serr.Code).Str("tes_url", serr.TESURL).Msg("submissão recusada")
		writeSubmitError(w, serr)
		return
	}
	writeJSON(w, http.StatusOK, submitSuccess{Success: true, SubmitResult: res})
}

func writeSubmitError(w http.ResponseWriter, serr *tasks.SubmitError) {
	status := serr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, submitFailure{ErrorType: serr.ErrorType(), SubmitError: serr})
}
