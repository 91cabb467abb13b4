package transport

import (
	"net/http"
	"time"

	"github.com/raywall/tes-dashboard/pkg/instances"
	"github.com/raywall/tes-dashboard/pkg/runs"
	"github.com/raywall/tes-dashboard/pkg/tasks"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func (a *api) testConnection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"message":   "Backend is running",
		"timestamp": a.now().UTC().Format(time.RFC3339),
		"results":   a.Health.TestConnections(r.Context()),
	})
}

type dashboardStats struct {
	TotalTasks         int            `json:"total_tasks"`
	TotalWorkflows     int            `json:"total_workflows"`
	TotalBatchRuns     int            `json:"total_batch_runs"`
	AvailableInstances int            `json:"available_instances"`
	HealthyInstances   int            `json:"healthy_instances"`
	TasksByState       map[string]int `json:"tasks_by_state"`
}

type dashboardData struct {
	Tasks            []*tasks.Task      `json:"tasks"`
	WorkflowRuns     []runs.WorkflowRun `json:"workflow_runs"`
	BatchRuns        []runs.BatchRun    `json:"batch_runs"`
	TESInstances     []instances.Entry  `json:"tes_instances"`
	TESLocations     []instances.Entry  `json:"tes_locations"`
	HealthyInstances []instances.Report `json:"healthy_instances"`
	InstancesCount   int                `json:"instances_count"`
	Statistics       dashboardStats     `json:"statistics"`
}

// dashboardData junta, em uma chamada, o que a tela inicial carrega.
func (a *api) dashboardData(w http.ResponseWriter, r *http.Request) {
	entries := a.Instances.Entries()
	out := dashboardData{
		Tasks:            []*tasks.Task{},
		WorkflowRuns:     []runs.WorkflowRun{},
		BatchRuns:        []runs.BatchRun{},
		TESInstances:     entries,
		TESLocations:     entries,
		HealthyInstances: []instances.Report{},
		InstancesCount:   len(entries),
	}

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		list, err := a.Tasks.List(ctx, tasks.Filter{})
		if list != nil {
			out.Tasks = list
		}
		return err
	})
	g.Go(func() error {
		list, err := a.Runs.Workflows(ctx)
		if list != nil {
			out.WorkflowRuns = list
		}
		return err
	})
	g.Go(func() error {
		list, err := a.Runs.Batches(ctx)
		if list != nil {
			out.BatchRuns = list
		}
		return err
	})
	g.Go(func() error {
		if list := a.Health.Healthy(ctx); list != nil {
			out.HealthyInstances = list
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("falha ao montar dados do dashboard")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out.Statistics = dashboardStats{
		TotalTasks:         len(out.Tasks),
		TotalWorkflows:     len(out.WorkflowRuns),
		TotalBatchRuns:     len(out.BatchRuns),
		AvailableInstances: len(entries),
		HealthyInstances:   len(out.HealthyInstances),
		TasksByState:       map[string]int{},
	}
	for _, t := range out.Tasks {
		out.Statistics.TasksByState[t.State]++
	}
	writeJSON(w, http.StatusOK, out)
}
