package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/raywall/tes-dashboard/pkg/instances"
	"github.com/raywall/tes-dashboard/pkg/metrics"
	"github.com/raywall/tes-dashboard/pkg/middleware"
	"github.com/raywall/tes-dashboard/pkg/runs"
	"github.com/raywall/tes-dashboard/pkg/tasks"
	"github.com/raywall/tes-dashboard/pkg/tes"
)

// TaskStore é a parte do store lida pelas rotas de tasks.
type TaskStore interface {
	List(ctx context.Context, f tasks.Filter) ([]*tasks.Task, error)
	Get(ctx context.Context, key tasks.Key) (*tasks.Task, error)
}

type TaskSubmitter interface {
	Submit(ctx context.Context, req tasks.SubmitRequest) (*tasks.SubmitResult, error)
}

type InstanceCatalog interface {
	Entries() []instances.Entry
	Resolve(url string) tes.Instance
}

type HealthChecker interface {
	Health(ctx context.Context) []instances.Report
	Healthy(ctx context.Context) []instances.Report
	TestConnections(ctx context.Context) []instances.Connection
}

// UpstreamClient é a parte do cliente TES chamada direto pelas rotas.
type UpstreamClient interface {
	ServiceInfo(ctx context.Context, inst tes.Instance) (tes.ServiceInfo, error)
	Probe(ctx context.Context, inst tes.Instance) tes.ProbeResult
	FetchTask(ctx context.Context, inst tes.Instance, id, view string) (*tes.TaskDocument, error)
}

// NodeCatalog edita o arquivo de localizações.
type NodeCatalog interface {
	List() []instances.Node
	Get(id string) (instances.Node, error)
	Add(in instances.NewNode) (instances.Node, error)
	Update(id string, u instances.NodeUpdate) (instances.Node, error)
	Remove(id string) (int, error)
}

type RunService interface {
	SubmitWorkflow(ctx context.Context, req runs.WorkflowRequest) (runs.WorkflowRun, error)
	SubmitBatch(ctx context.Context, req runs.BatchRequest) (runs.BatchRun, error)
	Workflows(ctx context.Context) ([]runs.WorkflowRun, error)
	Batches(ctx context.Context) ([]runs.BatchRun, error)
	Workflow(ctx context.Context, runID string) (runs.WorkflowRun, error)
	Batch(ctx context.Context, runID string) (runs.BatchRun, error)
	Latest() runs.Progress
}

// Deps reúne tudo que as rotas usam. GraphQL nil desliga /graphql; Nodes nil desliga /api/nodes.
type Deps struct {
	CORSOrigins []string
	Metrics     metrics.Provider

	Manager   *middleware.Manager
	Factory   *middleware.Factory
	Tasks     TaskStore
	Submitter TaskSubmitter
	Instances InstanceCatalog
	Health    HealthChecker
	Upstream  UpstreamClient
	Nodes     NodeCatalog
	Runs      RunService
	GraphQL   http.Handler
}

type api struct {
	Deps
	now func() time.Time
}

// NewRouter registra as rotas e envolve o router com observabilidade, CORS e o pipeline.
func NewRouter(d Deps) http.Handler {
	a := &api{Deps: d, now: time.Now}
	r := mux.NewRouter()

	r.HandleFunc("/health", a.health).Methods(http.MethodGet)

	r.HandleFunc("/api/tasks", a.listTasks).Methods(http.MethodGet)
	r.HandleFunc("/api/tasks/{id}", a.getTask).Methods(http.MethodGet)
	r.HandleFunc("/api/submit_task", a.submitTask).Methods(http.MethodPost)

	r.HandleFunc("/api/instances", a.listInstances).Methods(http.MethodGet)
	r.HandleFunc("/api/instances/health", a.instancesHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/instances-with-status", a.instancesHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/healthy-instances", a.healthyInstances).Methods(http.MethodGet)
	r.HandleFunc("/api/tes_locations", a.locations).Methods(http.MethodGet)
	r.HandleFunc("/api/service_info", a.serviceInfo).Methods(http.MethodGet)
	r.HandleFunc("/api/test_connection", a.testConnection).Methods(http.MethodGet)
	r.HandleFunc("/api/dashboard_data", a.dashboardData).Methods(http.MethodGet)

	r.HandleFunc("/api/task_details", a.taskDetails).Methods(http.MethodGet)
	r.HandleFunc("/api/task_log", a.liveTaskLog).Methods(http.MethodGet)
	r.HandleFunc("/api/task_log/{id:.+}", a.taskLog).Methods(http.MethodGet)
	r.HandleFunc("/api/workflow_log/{id:.+}", a.workflowLog).Methods(http.MethodGet)
	r.HandleFunc("/api/batch_log/{id:.+}", a.batchLog).Methods(http.MethodGet)

	if d.Nodes != nil {
		r.HandleFunc("/api/nodes", a.listNodes).Methods(http.MethodGet)
		r.HandleFunc("/api/nodes", a.addNode).Methods(http.MethodPost)
		r.HandleFunc("/api/nodes/{id}", a.getNode).Methods(http.MethodGet)
		r.HandleFunc("/api/nodes/{id}", a.updateNode).Methods(http.MethodPut)
		r.HandleFunc("/api/nodes/{id}", a.removeNode).Methods(http.MethodDelete)
		r.HandleFunc("/api/nodes/{id}/health", a.nodeHealth).Methods(http.MethodGet)
	}

	r.HandleFunc("/api/workflows", a.listWorkflows).Methods(http.MethodGet)
	r.HandleFunc("/api/workflows", a.submitWorkflow).Methods(http.MethodPost)
	r.HandleFunc("/api/submit_workflow", a.submitWorkflow).Methods(http.MethodPost)
	r.HandleFunc("/api/latest_workflow_status", a.latestWorkflow).Methods(http.MethodGet)
	r.HandleFunc("/api/batch_runs", a.listBatches).Methods(http.MethodGet)
	r.HandleFunc("/api/batch_runs", a.submitBatch).Methods(http.MethodPost)
	r.HandleFunc("/api/batch_{type:snakemake|nextflow|cwl}", a.submitBatch).Methods(http.MethodPost)

	if d.GraphQL != nil {
		r.Handle("/graphql", d.GraphQL).Methods(http.MethodPost)
	}

	a.mountMiddlewareAPI(r)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeCodedError(w, http.StatusNotFound, "NOT_FOUND", "rota não encontrada")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeCodedError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "método não permitido")
	})

	return ObservabilityMiddleware(d.Metrics, CORS(d.CORSOrigins, Pipeline(d.Manager, r)))
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	info := a.Manager.Info()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":              "healthy",
		"timestamp":           a.now().UTC().Format(time.RFC3339),
		"middlewares":         info.TotalMiddlewares,
		"enabled_middlewares": info.EnabledMiddlewares,
	})
}
