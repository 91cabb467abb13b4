package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/raywall/tes-dashboard/pkg/middleware"
	"github.com/rs/zerolog/log"
)

func (a *api) mountMiddlewareAPI(r *mux.Router) {
	const p = "/api/middleware"
	r.HandleFunc(p, a.middlewareInfo).Methods(http.MethodGet)
	r.HandleFunc(p+"/status", a.middlewareStatus).Methods(http.MethodGet)
	r.HandleFunc(p+"/metrics", a.middlewareMetrics).Methods(http.MethodGet)
	r.HandleFunc(p+"/test", a.middlewareTest).Methods(http.MethodPost)
	r.HandleFunc(p+"/reset", a.middlewareReset).Methods(http.MethodPost)
	r.HandleFunc(p+"/reorder", a.middlewareReorder).Methods(http.MethodPost)
	r.HandleFunc(p+"/install", a.middlewareInstall).Methods(http.MethodPost)
	r.HandleFunc(p+"/{name}/toggle", a.middlewareToggle).Methods(http.MethodPost)
	r.HandleFunc(p+"/{name}/config", a.middlewareGetConfig).Methods(http.MethodGet)
	r.HandleFunc(p+"/{name}/config", a.middlewareUpdateConfig).Methods(http.MethodPut)
	r.HandleFunc(p+"/{name}/remove", a.middlewareRemove).Methods(http.MethodDelete)
}

func notFound(w http.ResponseWriter, name string) {
	writeCodedError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("Middleware '%s' not found", name))
}

func (a *api) middlewareInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Manager.Info())
}

type middlewareStatus struct {
	Name        string                 `json:"name"`
	Type        middleware.Type        `json:"type"`
	Enabled     bool                   `json:"enabled"`
	Priority    int                    `json:"priority"`
	Description string                 `json:"description"`
	Metrics     map[string]interface{} `json:"metrics"`
}

func (a *api) middlewareStatus(w http.ResponseWriter, _ *http.Request) {
	perMiddleware := a.Manager.MiddlewareMetrics()
	status := map[string]middlewareStatus{}
	enabled := 0
	for _, d := range a.Manager.List() {
		st := middlewareStatus{Name: d.Name, Type: d.Type, Enabled: d.Enabled, Priority: d.Priority, Metrics: perMiddleware[d.Name]}
		if mw, ok := a.Manager.Get(d.Name); ok {
			st.Description, _ = mw.Config().Metadata["description"].(string)
		}
		if st.Metrics == nil {
			st.Metrics = map[string]interface{}{}
		}
		if d.Enabled {
			enabled++
		}
		status[d.Name] = st
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "success",
		"middlewares":   status,
		"total_count":   len(status),
		"enabled_count": enabled,
	})
}

func (a *api) middlewareMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"metrics":   a.Manager.MiddlewareMetrics(),
		"summary":   a.Manager.Metrics(),
		"timestamp": a.now().UTC().Format(time.RFC3339),
	})
}

func (a *api) middlewareToggle(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	enabled, err := a.Manager.Toggle(name)
	if err != nil {
		notFound(w, name)
		return
	}
	log.Ctx(r.Context()).Info().Str("middleware", name).Bool("enabled", enabled).Msg("middleware alternado")
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "middleware": name, "enabled": enabled})
}

func (a *api) middlewareGetConfig(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	mw, ok := a.Manager.Get(name)
	if !ok {
		notFound(w, name)
		return
	}
	cfg := mw.Config()
	if cfg.Config == nil {
		cfg.Config = map[string]interface{}{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "middleware": name, "config": cfg.Config})
}

func (a *api) middlewareUpdateConfig(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	update := map[string]interface{}{}
	if err := decodeJSON(r, &update); err != nil {
		writeCodedError(w, http.StatusBadRequest, "INVALID_REQUEST", "corpo JSON inválido")
		return
	}

	err := a.Manager.UpdateConfig(name, update)
	var cerr *middleware.ConfigurationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "middleware": name, "message": "Configuration updated"})
	case errors.Is(err, middleware.ErrNotFound):
		notFound(w, name)
	case errors.Is(err, middleware.ErrNotReconfigurable):
		writeError(w, http.StatusBadRequest, "Middleware does not support configuration updates")
	case errors.As(err, &cerr):
		writeCodedError(w, http.StatusBadRequest, "INVALID_CONFIG", cerr.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type testRequest struct {
	UserID   string                 `json:"user_id"`
	Endpoint string                 `json:"endpoint"`
	Method   string                 `json:"method"`
	Headers  map[string]string      `json:"headers"`
	Data     map[string]interface{} `json:"data"`
}

// middlewareTest roda a cadeia contra uma requisição sintética.
func (a *api) middlewareTest(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := decodeJSON(r, &req); err != nil {
		writeCodedError(w, http.StatusBadRequest, "INVALID_REQUEST", "corpo JSON inválido")
		return
	}
	if req.UserID == "" {
		req.UserID = "test_user"
	}
	if req.Endpoint == "" {
		req.Endpoint = "/api/test"
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Data == nil {
		req.Data = map[string]interface{}{}
	}

	mc := middleware.NewContext(middleware.Request{
		Method:   req.Method,
		Endpoint: req.Endpoint,
		Headers:  middleware.HeadersFromMap(req.Headers),
		ClientIP: clientIP(r),
		Body:     req.Data,
	})
	results := a.Manager.ExecuteChain(mc)

	summary := map[string]interface{}{
		"user_id":  req.UserID,
		"endpoint": mc.Request.Endpoint,
		"method":   mc.Request.Method,
	}
	for _, res := range results {
		if res.Status == middleware.StatusFailed {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status":     "blocked",
				"message":    "Request blocked by middleware",
				"middleware": res.MiddlewareName,
				"response":   res.Message,
				"context":    summary,
				"results":    results,
			})
			return
		}
	}
	summary["processed_middlewares"] = len(results)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": "Request passed through middleware chain",
		"context": summary,
		"results": results,
	})
}

func (a *api) middlewareReset(w http.ResponseWriter, r *http.Request) {
	a.Manager.Reset()
	log.Ctx(r.Context()).Info().Msg("métricas e estado dos middlewares reiniciados")
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "message": "All middleware configurations and metrics reset"})
}

func (a *api) middlewareReorder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Middlewares *[]middleware.PriorityUpdate `json:"middlewares"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Middlewares == nil {
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	unknown := a.Manager.Reorder(*body.Middlewares)
	resp := map[string]interface{}{"status": "success", "message": "Middleware order updated successfully"}
	if len(unknown) > 0 {
		resp["unknown"] = unknown
	}
	writeJSON(w, http.StatusOK, resp)
}

// middlewareInstall cria um middleware local a partir de uma declaração.
// A origem github exige githubUrl e não é instalada por este serviço.
func (a *api) middlewareInstall(w http.ResponseWriter, r *http.Request) {
	raw := map[string]interface{}{}
	if err := decodeJSON(r, &raw); err != nil {
		writeCodedError(w, http.StatusBadRequest, "INVALID_REQUEST", "corpo JSON inválido")
		return
	}
	for _, field := range []string{"name", "type", "source"} {
		if s, _ := raw[field].(string); strings.TrimSpace(s) == "" {
			writeCodedError(w, http.StatusBadRequest, "MISSING_FIELD", "Missing required field: "+field)
			return
		}
	}
	name := raw["name"].(string)
	if a.Manager.Has(name) {
		writeCodedError(w, http.StatusConflict, "DUPLICATE", "Middleware with this name already exists")
		return
	}
	if raw["source"] == "github" {
		if s, _ := raw["githubUrl"].(string); s == "" {
			writeError(w, http.StatusBadRequest, "GitHub URL is required for external middlewares")
			return
		}
		writeCodedError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "GitHub middleware installation is not supported")
		return
	}

	decl := map[string]interface{}{}
	for _, k := range []string{"name", "type", "enabled", "priority", "config", "metadata"} {
		if v, ok := raw[k]; ok {
			decl[k] = v
		}
	}
	mw, err := a.Factory.CreateFromMap(decl)
	if err != nil {
		writeCodedError(w, http.StatusBadRequest, "INVALID_CONFIG", err.Error())
		return
	}
	a.Manager.Register(mw)
	log.Ctx(r.Context()).Info().Str("middleware", name).Str("type", string(mw.Type())).Msg("middleware instalado")

	var installed middleware.Descriptor
	for _, d := range a.Manager.List() {
		if d.Name == name {
			installed = d
		}
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"status":     "success",
		"message":    fmt.Sprintf("Local middleware '%s' created successfully", name),
		"middleware": installed,
	})
}

func (a *api) middlewareRemove(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !a.Manager.Unregister(name) {
		notFound(w, name)
		return
	}
	log.Ctx(r.Context()).Info().Str("middleware", name).Msg("middleware removido")
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "message": fmt.Sprintf("Middleware '%s' removed successfully", name)})
}
