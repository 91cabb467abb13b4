package transport

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/raywall/tes-dashboard/pkg/config"
	"github.com/raywall/tes-dashboard/pkg/graphql"
	"github.com/raywall/tes-dashboard/pkg/instances"
	"github.com/raywall/tes-dashboard/pkg/middleware"
	"github.com/raywall/tes-dashboard/pkg/runs"
	"github.com/raywall/tes-dashboard/pkg/tasks"
	"github.com/raywall/tes-dashboard/pkg/tes"
	"github.com/raywall/tes-dashboard/pkg/tes/emulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deadURL = "http://127.0.0.1:1"

type fixture struct {
	handler http.Handler
	store   *tasks.MemoryStore
	manager *middleware.Manager
	nodes   *instances.NodeStore
	tesURL  string
}

func newFixture(t *testing.T, cfgs ...middleware.Config) *fixture {
	t.Helper()
	srv := httptest.NewServer(emulator.New().Handler())
	t.Cleanup(srv.Close)

	reg, err := instances.New(config.InstancesConf{
		Static:     []config.InstanceConf{{Name: "TESK Local", URL: srv.URL}},
		GatewayURL: "https://gateway.example",
	}, instances.WithGetenv(func(string) string { return "" }))
	require.NoError(t, err)

	client := tes.NewClient(srv.Client())
	store := tasks.NewMemoryStore()
	manager := newManager(t, cfgs...)

	gql, err := graphql.NewEngine(graphql.Sources{Tasks: store, Instances: reg, Middleware: manager})
	require.NoError(t, err)
	nodes, err := instances.OpenNodeStore("")
	require.NoError(t, err)

	handler := NewRouter(Deps{
		CORSOrigins: []string{"*"},
		Manager:     manager,
		Factory:     middleware.NewFactory(middleware.Dependencies{}),
		Tasks:       store,
		Submitter:   tasks.NewSubmitter(store, client, reg, nil),
		Instances:   reg,
		Health:      instances.NewChecker(reg, client, store),
		Upstream:    client,
		Nodes:       nodes,
		Runs:        runs.NewService(runs.NewMemoryCollection[runs.WorkflowRun](), runs.NewMemoryCollection[runs.BatchRun](), reg, t.TempDir()),
		GraphQL:     gql,
	})
	return &fixture{handler: handler, store: store, manager: manager, nodes: nodes, tesURL: srv.URL}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestRouter_Health(t *testing.T) {
	f := newFixture(t, authConfig(true))

	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(HeaderCorrelationID))

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(1), body["middlewares"])

	rec = f.do(t, http.MethodGet, "/api/nada", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_Tasks(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/submit_task", map[string]interface{}{
		"tes_instance": f.tesURL,
		"docker_image": "alpine",
		"task_name":    "hello",
		"command":      "echo hi",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ok struct {
		Success bool   `json:"success"`
		TaskID  string `json:"task_id"`
	}
	decode(t, rec, &ok)
	assert.True(t, ok.Success)
	require.NotEmpty(t, ok.TaskID)

	rec = f.do(t, http.MethodGet, "/api/tasks", nil, nil)
	var list []tasks.Task
	decode(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "TESK Local", list[0].TESName)
	assert.Equal(t, []string{"echo", "hi"}, list[0].Executors[0].Command)

	rec = f.do(t, http.MethodGet, "/api/tasks?state=COMPLETE", nil, nil)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/tasks/"+ok.TaskID, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/tasks/"+ok.TaskID+"?tes_url="+url.QueryEscape(f.tesURL), nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/tasks/"+ok.TaskID+"?tes_url=https://outra", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/tasks/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_SubmitErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		body       map[string]interface{}
		wantStatus int
		wantCode   string
		recorded   bool
	}{
		{"sem imagem", map[string]interface{}{"tes_instance": f.tesURL}, http.StatusBadRequest, tasks.CodeMissingField, false},
		{"comando inválido", map[string]interface{}{"tes_instance": f.tesURL, "docker_image": "alpine", "command": `echo "aberto`}, http.StatusBadRequest, tasks.CodeInvalidCommand, false},
		{"instância fora do ar", map[string]interface{}{"tes_instance": deadURL, "docker_image": "alpine"}, http.StatusServiceUnavailable, tes.CodeConnectionRefused, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.store.Len()
			rec := f.do(t, http.MethodPost, "/api/submit_task", tt.body, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body map[string]interface{}
			decode(t, rec, &body)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantCode, body["error_code"])
			assert.Equal(t, strings.ToLower(tt.wantCode), body["error_type"])
			if tt.recorded {
				assert.Equal(t, before+1, f.store.Len())
				assert.NotEmpty(t, body["task_id"])
			} else {
				assert.Equal(t, before, f.store.Len())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/submit_task", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_Instances(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/instances", nil, nil)
	var entries []instances.Entry
	decode(t, rec, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "TESK Local", entries[0].Name)

	for _, path := range []string{"/api/instances/health", "/api/instances-with-status", "/api/healthy-instances"} {
		rec = f.do(t, http.MethodGet, path, nil, nil)
		var body reportList
		decode(t, rec, &body)
		require.Equal(t, 1, body.Count, path)
		assert.Equal(t, instances.StatusHealthy, body.Instances[0].Status, path)
		assert.NotEmpty(t, body.LastUpdated)
	}

	rec = f.do(t, http.MethodGet, "/api/tes_locations", nil, nil)
	var reports []instances.Report
	decode(t, rec, &reports)
	assert.Len(t, reports, 1)
}

func TestRouter_ServiceInfo(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/service_info", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var missing serviceInfoError
	decode(t, rec, &missing)
	assert.Equal(t, "MISSING_PARAMETER", missing.ErrorCode)

	rec = f.do(t, http.MethodGet, "/api/service_info?tes_url="+url.QueryEscape(f.tesURL), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]interface{}
	decode(t, rec, &info)
	assert.NotEmpty(t, info["name"])

	rec = f.do(t, http.MethodGet, "/api/service_info?tes_url="+url.QueryEscape(deadURL), nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var failed serviceInfoError
	decode(t, rec, &failed)
	assert.Equal(t, tes.CodeConnectionRefused, failed.ErrorCode)
	assert.Equal(t, "connection_refused", failed.ErrorType)
}

func TestRouter_Workflows(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("workflow_type", "nextflow"))
	require.NoError(t, mw.WriteField("tes_instance", f.tesURL))
	part, err := mw.CreateFormFile("workflow", "main.nf")
	require.NoError(t, err)
	_, _ = part.Write([]byte("process hello {}"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/workflows", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "NEXTFLOW workflow submitted successfully to TESK Local", body["message"])

	rec = f.do(t, http.MethodGet, "/api/workflows", nil, nil)
	var list []runs.WorkflowRun
	decode(t, rec, &list)
	require.Len(t, list, 1)
	require.Len(t, list[0].Files, 1)
	assert.Equal(t, "workflow", list[0].Files[0].Key)
	assert.True(t, strings.HasSuffix(list[0].Files[0].Filename, "_main.nf"))

	rec = f.do(t, http.MethodGet, "/api/latest_workflow_status", nil, nil)
	assert.JSONEq(t, `{"currentStep": 2, "latestPath": ["TESK Local"]}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/workflows", map[string]string{"workflow_type": "bash", "tes_instance": f.tesURL}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_BatchRuns(t *testing.T) {
	f := newFixture(t)

	form := url.Values{"batch_mode": {"federated"}}
	req := httptest.NewRequest(http.MethodPost, "/api/batch_snakemake", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "Batch Snakemake workflow submitted in federated mode", body["message"])

	rec = f.do(t, http.MethodPost, "/api/batch_runs", map[string]string{"workflow_type": "cwl", "batch_mode": "all"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/batch_runs", nil, nil)
	var batches []runs.BatchRun
	decode(t, rec, &batches)
	require.Len(t, batches, 2)
	assert.Equal(t, runs.GatewayName, batches[0].Runs[0].TESName)
	assert.Equal(t, "https://gateway.example", batches[0].Runs[0].TESURL)
	require.Len(t, batches[1].Runs, 1)
	assert.Equal(t, batches[1].RunID+"_TESK Local", batches[1].Runs[0].RunID)

	rec = f.do(t, http.MethodGet, "/api/latest_workflow_status", nil, nil)
	assert.JSONEq(t, `{"currentStep": 5, "latestPath": ["TESK Local"]}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/batch_runs", map[string]string{"workflow_type": "cwl", "batch_mode": "todos"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_GraphQL(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/graphql", map[string]string{"query": "{ instances { name } }"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data": {"instances": [{"name": "TESK Local"}]}}`, rec.Body.String())
}
