package transport

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/raywall/tes-dashboard/pkg/runs"
	"github.com/rs/zerolog/log"
)

const maxUploadMemory = 32 << 20

// runForm junta campos de multipart, urlencoded ou JSON.
type runForm struct {
	fields  map[string]string
	uploads []runs.Upload
	files   []multipart.File
}

func (f *runForm) get(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(f.fields[k]); v != "" {
			return v
		}
	}
	return ""
}

func (f *runForm) close() {
	for _, file := range f.files {
		_ = file.Close()
	}
}

func readRunForm(r *http.Request) (*runForm, error) {
	form := &runForm{fields: map[string]string{}}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json":
		raw := map[string]interface{}{}
		if err := decodeJSON(r, &raw); err != nil {
			return nil, err
		}
		for k, v := range raw {
			if s, ok := v.(string); ok {
				form.fields[k] = s
			}
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			return nil, err
		}
		for k, v := range r.MultipartForm.Value {
			if len(v) > 0 {
				form.fields[k] = v[0]
			}
		}
		for key, headers := range r.MultipartForm.File {
			if len(headers) == 0 || headers[0].Filename == "" {
				continue
			}
			file, err := headers[0].Open()
			if err != nil {
				form.close()
				return nil, err
			}
			form.files = append(form.files, file)
			form.uploads = append(form.uploads, runs.Upload{Key: key, Filename: headers[0].Filename, Content: file})
		}
	default:
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		for k, v := range r.PostForm {
			if len(v) > 0 {
				form.fields[k] = v[0]
			}
		}
	}
	return form, nil
}

func (a *api) listWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := a.Runs.Workflows(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *api) listBatches(w http.ResponseWriter, r *http.Request) {
	list, err := a.Runs.Batches(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *api) latestWorkflow(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Runs.Latest())
}

func (a *api) submitWorkflow(w http.ResponseWriter, r *http.Request) {
	form, err := readRunForm(r)
	if err != nil {
		writeRunError(w, http.StatusBadRequest, err)
		return
	}
	defer form.close()

	wfType := form.get("workflow_type", "wf_type")
	if wfType == "" {
		wfType = "cwl"
	}
	run, err := a.Runs.SubmitWorkflow(r.Context(), runs.WorkflowRequest{
		Type:   strings.ToLower(wfType),
		TESURL: form.get("tes_instance", "wf_tes_instance", "tes_url"),
		Files:  form.uploads,
	})
	if err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("workflow recusado")
		writeRunError(w, runErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"run_id":  run.RunID,
		"run":     run,
		"message": fmt.Sprintf("%s workflow submitted successfully to %s", strings.ToUpper(run.Type), run.TESName),
	})
}

var batchLabels = map[string]string{"snakemake": "Snakemake", "nextflow": "Nextflow", "cwl": "CWL"}

// submitBatch atende POST /api/batch_runs e as rotas /api/batch_<tipo>.
func (a *api) submitBatch(w http.ResponseWriter, r *http.Request) {
	form, err := readRunForm(r)
	if err != nil {
		writeRunError(w, http.StatusBadRequest, err)
		return
	}
	defer form.close()

	wfType := mux.Vars(r)["type"]
	if wfType == "" {
		wfType = strings.ToLower(form.get("workflow_type", "wf_type"))
	}
	mode := form.get("batch_mode", "mode")
	if mode == "" {
		mode = runs.ModeAll
	}

	batch, err := a.Runs.SubmitBatch(r.Context(), runs.BatchRequest{Mode: mode, WorkflowType: wfType, Files: form.uploads})
	if err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("lote recusado")
		writeRunError(w, runErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"run_id":  batch.RunID,
		"batch":   batch,
		"message": fmt.Sprintf("Batch %s workflow submitted in %s mode", batchLabels[batch.WorkflowType], batch.Mode),
	})
}

func runErrorStatus(err error) int {
	if errors.Is(err, runs.ErrInvalidRequest) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeRunError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": err.Error()})
}
