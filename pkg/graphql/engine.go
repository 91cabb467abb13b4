// Package graphql expõe uma API GraphQL somente leitura sobre tasks,
// instâncias e o pipeline de middlewares.
package graphql

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/graphql-go/graphql"
	"github.com/raywall/tes-dashboard/pkg/instances"
	"github.com/raywall/tes-dashboard/pkg/logger"
	"github.com/raywall/tes-dashboard/pkg/middleware"
	"github.com/raywall/tes-dashboard/pkg/tasks"
	"github.com/rs/zerolog"
)

// TaskReader é a parte do store de tasks lida pela API.
type TaskReader interface {
	List(ctx context.Context, f tasks.Filter) ([]*tasks.Task, error)
}

type InstanceReader interface {
	Entries() []instances.Entry
}

type MiddlewareReader interface {
	List() []middleware.Descriptor
	Metrics() middleware.Metrics
}

// Sources reúne os dados servidos pela API.
type Sources struct {
	Tasks      TaskReader
	Instances  InstanceReader
	Middleware MiddlewareReader
}

type Engine struct {
	Schema graphql.Schema
	src    Sources
	log    zerolog.Logger
}

func NewEngine(src Sources) (*Engine, error) {
	e := &Engine{src: src, log: logger.Component("graphql")}
	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: e.query()})
	if err != nil {
		return nil, err
	}
	e.Schema = schema
	return e, nil
}

func (e *Engine) Execute(ctx context.Context, query string, variables map[string]interface{}) *graphql.Result {
	return graphql.Do(graphql.Params{
		Schema:         e.Schema,
		RequestString:  query,
		VariableValues: variables,
		Context:        ctx,
	})
}

type request struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables"`
	OperationName string                 `json:"operationName"`
}

// ServeHTTP atende POST com corpo {query, variables}.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "corpo deve conter o campo query"})
		return
	}

	res := graphql.Do(graphql.Params{
		Schema:         e.Schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        r.Context(),
	})
	if res.HasErrors() {
		e.log.Debug().Interface("errors", res.Errors).Msg("consulta com erros")
	}
	_ = json.NewEncoder(w).Encode(res)
}

func (e *Engine) query() *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"tasks": &graphql.Field{
				Type: graphql.NewList(taskType),
				Args: graphql.FieldConfigArgument{
					"state":   &graphql.ArgumentConfig{Type: graphql.String},
					"tes_url": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return e.src.Tasks.List(p.Context, tasks.Filter{
						State:  stringArg(p, "state"),
						TESURL: stringArg(p, "tes_url"),
					})
				},
			},
			"task": &graphql.Field{
				Type: taskType,
				Args: graphql.FieldConfigArgument{
					"id":      &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
					"tes_url": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: e.resolveTask,
			},
			"instances": &graphql.Field{
				Type: graphql.NewList(instanceType),
				Resolve: func(graphql.ResolveParams) (interface{}, error) {
					return e.src.Instances.Entries(), nil
				},
			},
			"middleware": &graphql.Field{
				Type: graphql.NewList(middlewareType),
				Resolve: func(graphql.ResolveParams) (interface{}, error) {
					return e.src.Middleware.List(), nil
				},
			},
			"middlewareMetrics": &graphql.Field{
				Type:    middlewareMetricsType,
				Resolve: e.resolveMetrics,
			},
		},
	})
}

// resolveTask sem tes_url devolve a submissão mais recente com o id.
func (e *Engine) resolveTask(p graphql.ResolveParams) (interface{}, error) {
	id := stringArg(p, "id")
	list, err := e.src.Tasks.List(p.Context, tasks.Filter{TESURL: stringArg(p, "tes_url")})
	if err != nil {
		return nil, err
	}
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].ID == id {
			return list[i], nil
		}
	}
	return nil, nil
}

func (e *Engine) resolveMetrics(graphql.ResolveParams) (interface{}, error) {
	m := e.src.Middleware.Metrics()
	names := make([]string, 0, len(m.ExecutionTimes))
	for name := range m.ExecutionTimes {
		names = append(names, name)
	}
	sort.Strings(names)

	execs := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		s := m.ExecutionTimes[name]
		execs = append(execs, map[string]interface{}{
			"name":       name,
			"count":      s.Count,
			"total_time": s.TotalTimeMs,
			"errors":     s.Errors,
		})
	}
	return map[string]interface{}{
		"total_requests":      m.TotalRequests,
		"successful_requests": m.SuccessfulRequests,
		"failed_requests":     m.FailedRequests,
		"executions":          execs,
	}, nil
}

func stringArg(p graphql.ResolveParams, name string) string {
	s, _ := p.Args[name].(string)
	return s
}
