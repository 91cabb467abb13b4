package transport

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/raywall/tes-dashboard/pkg/instances"
	"github.com/raywall/tes-dashboard/pkg/tasks"
	"github.com/raywall/tes-dashboard/pkg/tes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) submit(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/submit_task", map[string]interface{}{
		"tes_instance": f.tesURL, "docker_image": "alpine", "task_name": "hello", "command": "echo hi",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ok struct {
		TaskID string `json:"task_id"`
	}
	decode(t, rec, &ok)
	return ok.TaskID
}

func TestRouter_TaskDetails(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t)
	require.NoError(t, f.store.Append(context.Background(), &tasks.Task{
		ID: "local-1", Name: "offline", TESURL: deadURL, State: tes.StateQueued, SubmittedAt: time.Now(),
	}))

	tests := []struct {
		name     string
		query    url.Values
		status   int
		source   string
		endpoint string
	}{
		{"instância responde", url.Values{"task_id": {id}, "tes_url": {f.tesURL}}, http.StatusOK, "tes_instance", f.tesURL + "/ga4gh/tes/v1/tasks/" + id + "?view=FULL"},
		{"cai no registro local", url.Values{"task_id": {"local-1"}, "tes_url": {deadURL}}, http.StatusOK, "dashboard_submitted", ""},
		{"não existe", url.Values{"task_id": {"ghost"}, "tes_url": {f.tesURL}}, http.StatusNotFound, "", ""},
		{"sem parâmetros", url.Values{"task_id": {id}}, http.StatusBadRequest, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/api/task_details?"+tt.query.Encode(), nil, nil)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			var body taskDetails
			decode(t, rec, &body)
			assert.Equal(t, tt.status == http.StatusOK, body.Success)
			assert.Equal(t, tt.source, body.Source)
			assert.Equal(t, tt.endpoint, body.TESEndpoint)
		})
	}
}

func TestRouter_LiveTaskLog(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t)

	rec := f.do(t, http.MethodGet, "/api/task_log?"+url.Values{"tesUrl": {f.tesURL}, "taskId": {id}}.Encode(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Success  bool     `json:"success"`
		Logs     []string `json:"logs"`
		LogCount int      `json:"log_count"`
	}
	decode(t, rec, &body)
	assert.True(t, body.Success)
	assert.Equal(t, len(body.Logs), body.LogCount)
	assert.NotEmpty(t, body.Logs)

	rec = f.do(t, http.MethodGet, "/api/task_log?"+url.Values{"tesUrl": {deadURL}, "taskId": {id}}.Encode(), nil, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/task_log?taskId=x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_RecordLogs(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t)

	rec := f.do(t, http.MethodPost, "/api/workflows", map[string]string{"workflow_type": "cwl", "tes_instance": f.tesURL}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var wf struct {
		RunID string `json:"run_id"`
	}
	decode(t, rec, &wf)

	rec = f.do(t, http.MethodPost, "/api/batch_runs", map[string]string{"workflow_type": "cwl", "batch_mode": "all"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var batch struct {
		RunID string `json:"run_id"`
	}
	decode(t, rec, &batch)

	tests := []struct {
		name   string
		path   string
		status int
		log    string
	}{
		{"task", "/api/task_log/" + id, http.StatusOK, "Task ID: " + id},
		{"task inexistente", "/api/task_log/ghost", http.StatusNotFound, ""},
		{"workflow", "/api/workflow_log/" + wf.RunID, http.StatusOK, "=== CWL Workflow Log ==="},
		{"workflow inexistente", "/api/workflow_log/ghost", http.StatusNotFound, ""},
		{"lote", "/api/batch_log/" + batch.RunID, http.StatusOK, "Mode: all"},
		{"execução do lote", "/api/batch_log/" + url.PathEscape(batch.RunID+"_TESK Local"), http.StatusOK, "TES Instance: TESK Local"},
		{"lote inexistente", "/api/batch_log/ghost", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.path, nil, nil)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			var body struct {
				Success bool   `json:"success"`
				Log     string `json:"log"`
			}
			decode(t, rec, &body)
			assert.Equal(t, tt.status == http.StatusOK, body.Success)
			assert.Contains(t, body.Log, tt.log)
		})
	}
}

func TestRouter_Nodes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/nodes", map[string]interface{}{
		"id": "local", "name": "TESK Local", "url": f.tesURL + "/", "country": "Local",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/nodes", map[string]interface{}{"id": "local", "name": "x", "url": "https://x", "country": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/nodes", map[string]interface{}{"id": "y", "name": "y"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing required field: url")

	rec = f.do(t, http.MethodGet, "/api/nodes", nil, nil)
	var list struct {
		Nodes []instances.Node `json:"nodes"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Nodes, 1)
	assert.Equal(t, f.tesURL, list.Nodes[0].URL)

	rec = f.do(t, http.MethodPut, "/api/nodes/local", map[string]interface{}{"region": "Lab"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/nodes/local", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"region":"Lab"`)

	rec = f.do(t, http.MethodGet, "/api/nodes/local/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health nodeHealth
	decode(t, rec, &health)
	assert.Equal(t, "online", health.Status)
	assert.Equal(t, f.tesURL+"/ga4gh/tes/v1/service-info", health.Endpoint)
	assert.NotEmpty(t, health.ServiceInfo)

	rec = f.do(t, http.MethodDelete, "/api/nodes/local", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"remaining_nodes":0`)

	for _, path := range []string{"/api/nodes/local", "/api/nodes/local/health"} {
		rec = f.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec = f.do(t, http.MethodDelete, "/api/nodes/local", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_NodeHealthOffline(t *testing.T) {
	f := newFixture(t)
	_, err := f.nodes.Add(instances.NewNode{ID: "dead", Name: "dead", URL: deadURL, Country: "Local"})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/nodes/dead/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health nodeHealth
	decode(t, rec, &health)
	assert.Equal(t, "offline", health.Status)
	assert.Equal(t, "All service endpoints failed to respond", health.Error)
}

func TestRouter_TestConnection(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/test_connection", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status  string                 `json:"status"`
		Results []instances.Connection `json:"results"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "success", body.Status)
	require.Len(t, body.Results, 1)
	assert.Equal(t, "TESK Local", body.Results[0].Name)
	assert.Equal(t, "online", body.Results[0].Status)
}

func TestRouter_DashboardData(t *testing.T) {
	f := newFixture(t)
	f.submit(t)
	rec := f.do(t, http.MethodPost, "/api/workflows", map[string]string{"workflow_type": "cwl", "tes_instance": f.tesURL}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/dashboard_data", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body dashboardData
	decode(t, rec, &body)
	assert.Len(t, body.Tasks, 1)
	assert.Len(t, body.WorkflowRuns, 1)
	assert.Empty(t, body.BatchRuns)
	assert.Equal(t, 1, body.InstancesCount)
	assert.Len(t, body.HealthyInstances, 1)
	assert.Equal(t, dashboardStats{
		TotalTasks: 1, TotalWorkflows: 1, AvailableInstances: 1, HealthyInstances: 1,
		TasksByState: map[string]int{body.Tasks[0].State: 1},
	}, body.Statistics)
}
