package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/raywall/tes-dashboard/pkg/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, cfgs ...middleware.Config) *middleware.Manager {
	t.Helper()
	m := middleware.NewManager(nil)
	factory := middleware.NewFactory(middleware.Dependencies{})
	for _, cfg := range cfgs {
		mw, err := factory.Create(cfg)
		require.NoError(t, err)
		m.Register(mw)
	}
	return m
}

func authConfig(required bool) middleware.Config {
	return middleware.Config{
		Name: "authentication", Type: middleware.TypeAuthentication, Enabled: true, Priority: 10,
		Config: map[string]interface{}{
			"require_auth": required,
			"valid_tokens": map[string]interface{}{
				"writer": map[string]interface{}{"user_id": "ana", "permissions": []interface{}{"read", "write"}},
				"reader": map[string]interface{}{"user_id": "bia", "permissions": []interface{}{"read"}},
			},
		},
	}
}

func authzConfig() middleware.Config {
	return middleware.Config{
		Name: "authorization", Type: middleware.TypeAuthorization, Enabled: true, Priority: 20,
		Config: map[string]interface{}{
			"endpoint_permissions": map[string]interface{}{"POST:/api/submit_task": []interface{}{"write"}},
		},
	}
}

func cachingConfig() middleware.Config {
	return middleware.Config{
		Name: "caching", Type: middleware.TypeCaching, Enabled: true, Priority: 50,
		Config: map[string]interface{}{"cache_patterns": []interface{}{"/api/instances"}},
	}
}

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		writeJSON(w, http.StatusOK, map[string]string{"path": r.URL.Path})
	})
}

func TestPipeline_Blocking(t *testing.T) {
	m := newManager(t, authConfig(true), authzConfig())

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
		wantMW     string
	}{
		{"sem token", http.MethodGet, "/api/tasks", "", http.StatusUnauthorized, "authentication"},
		{"token inválido", http.MethodGet, "/api/tasks", "nope", http.StatusUnauthorized, "authentication"},
		{"sem permissão", http.MethodPost, "/api/submit_task", "reader", http.StatusForbidden, "authorization"},
		{"com permissão", http.MethodPost, "/api/submit_task", "writer", http.StatusOK, ""},
		{"leitura liberada", http.MethodGet, "/api/tasks", "reader", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			h := Pipeline(m, okHandler(&calls))
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "true", rec.Header().Get(HeaderProcessed))
			if tt.wantMW == "" {
				assert.Equal(t, 1, calls)
				return
			}
			assert.Zero(t, calls)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "Middleware blocked request", body["error"])
			assert.Equal(t, tt.wantMW, body["middleware"])
			assert.NotEmpty(t, body["timestamp"])
		})
	}
}

func TestPipeline_CacheWriteBack(t *testing.T) {
	m := newManager(t, cachingConfig())
	calls := 0
	h := Pipeline(m, okHandler(&calls))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/instances", nil))
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get(HeaderCache))

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/instances", nil))
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get(HeaderCache))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "1", second.Header().Get(HeaderCount))
	assert.Equal(t, 1, calls)

	// fora dos padrões não há cache
	other := httptest.NewRecorder()
	h.ServeHTTP(other, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	h.ServeHTTP(other, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	assert.Equal(t, 3, calls)
}

func TestPipeline_ErrorsAreNotCached(t *testing.T) {
	m := newManager(t, cachingConfig())
	calls := 0
	h := Pipeline(m, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		writeError(w, http.StatusBadGateway, "upstream fora")
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/instances", nil))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "MISS", rec.Header().Get(HeaderCache))
	}
	assert.Equal(t, 2, calls)
}

func TestPipeline_LargeResponsesAreNotCached(t *testing.T) {
	m := newManager(t, cachingConfig())
	chunk := bytes.Repeat([]byte("a"), 700<<10)
	calls := 0
	h := Pipeline(m, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		for i := 0; i < 3; i++ {
			_, _ = w.Write(chunk)
		}
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/instances", nil))
		assert.Equal(t, "MISS", rec.Header().Get(HeaderCache))
		assert.Equal(t, 3*len(chunk), rec.Body.Len())
	}
	assert.Equal(t, 2, calls)
}

func TestPipeline_RestoresLargeFormBody(t *testing.T) {
	m := newManager(t, authConfig(false))
	form := "k=v&pad=" + strings.Repeat("x", maxInspectBody)
	h := Pipeline(m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Len(t, data, len(form))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/batch_runs", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	h.ServeHTTP(httptest.NewRecorder(), req)
}

func TestPipeline_MonitoringGroupsByRouteTemplate(t *testing.T) {
	m := newManager(t, middleware.Config{Name: "monitoring", Type: middleware.TypeMonitoring, Enabled: true, Priority: 60})
	calls := 0
	r := mux.NewRouter()
	r.Handle("/api/tasks/{id}", okHandler(&calls)).Methods(http.MethodGet)
	r.NotFoundHandler = http.NotFoundHandler()
	h := Pipeline(m, r)

	for _, path := range []string{"/api/tasks/a", "/api/tasks/b", "/nada", "/outra"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	mw, ok := m.Get("monitoring")
	require.True(t, ok)
	summary := mw.(*middleware.Monitoring).Summary()
	require.Len(t, summary, 2)
	assert.Equal(t, 2, summary["GET:/api/tasks/{id}"].TotalRequests)
	assert.Equal(t, 2, summary["GET:unmatched"].TotalRequests)
	assert.Equal(t, 2, calls)
}

func TestPipeline_BypassAndHeaders(t *testing.T) {
	m := newManager(t, authConfig(true))
	calls := 0
	h := Pipeline(m, okHandler(&calls))

	for _, path := range []string{"/health", "/api/middleware", "/api/middleware/status"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Empty(t, rec.Header().Get(HeaderProcessed), path)
	}
	assert.Equal(t, 3, calls)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("X-Api-Key", "reader")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(HeaderCount))
	assert.True(t, strings.HasSuffix(rec.Header().Get(HeaderTime), "ms"))
}

func TestPipeline_RestoresBodyAndExposesContext(t *testing.T) {
	m := newManager(t, authConfig(false))
	h := Pipeline(m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mc, ok := MiddlewareContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "v", mc.Request.Body["k"])
		assert.Equal(t, "10.0.0.9", mc.Request.ClientIP)

		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		_, _ = w.Write(data)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/echo", strings.NewReader(`{"k":"v"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "10.0.0.9, 172.16.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, `{"k":"v"}`, rec.Body.String())
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"http://localhost:3000"}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	pre := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	pre.Header.Set("Origin", "http://localhost:3000")
	pre.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, pre)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), HeaderCache)

	other := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	other.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
