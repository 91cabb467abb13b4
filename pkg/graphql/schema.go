package graphql

import (
	"github.com/graphql-go/graphql"
)

// Os campos seguem as tags json dos structs, lidas pelo resolver padrão.

var resourcesType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Resources",
	Fields: graphql.Fields{
		"cpu_cores": &graphql.Field{Type: graphql.Int},
		"ram_gb":    &graphql.Field{Type: graphql.Float},
		"disk_gb":   &graphql.Field{Type: graphql.Float},
	},
})

var executorType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Executor",
	Fields: graphql.Fields{
		"image":   &graphql.Field{Type: graphql.String},
		"command": &graphql.Field{Type: graphql.NewList(graphql.String)},
		"workdir": &graphql.Field{Type: graphql.String},
		"stdin":   &graphql.Field{Type: graphql.String},
		"stdout":  &graphql.Field{Type: graphql.String},
		"stderr":  &graphql.Field{Type: graphql.String},
	},
})

var fileParamType = graphql.NewObject(graphql.ObjectConfig{
	Name: "FileParam",
	Fields: graphql.Fields{
		"url":  &graphql.Field{Type: graphql.String},
		"path": &graphql.Field{Type: graphql.String},
		"type": &graphql.Field{Type: graphql.String},
	},
})

var taskType = graphql.NewObject(graphql.ObjectConfig{
	Name:        "Task",
	Description: "Task submetida a uma instância TES",
	Fields: graphql.Fields{
		"task_id":       &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		"name":          &graphql.Field{Type: graphql.String},
		"description":   &graphql.Field{Type: graphql.String},
		"state":         &graphql.Field{Type: graphql.String},
		"tes_url":       &graphql.Field{Type: graphql.String},
		"tes_name":      &graphql.Field{Type: graphql.String},
		"docker_image":  &graphql.Field{Type: graphql.String},
		"creation_time": &graphql.Field{Type: graphql.String},
		"start_time":    &graphql.Field{Type: graphql.String},
		"end_time":      &graphql.Field{Type: graphql.String},
		"submitted_at":  &graphql.Field{Type: graphql.DateTime},
		"error_code":    &graphql.Field{Type: graphql.String},
		"error_reason":  &graphql.Field{Type: graphql.String},
		"resources":     &graphql.Field{Type: resourcesType},
		"executors":     &graphql.Field{Type: graphql.NewList(executorType)},
		"inputs":        &graphql.Field{Type: graphql.NewList(fileParamType)},
		"outputs":       &graphql.Field{Type: graphql.NewList(fileParamType)},
	},
})

var instanceType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Instance",
	Fields: graphql.Fields{
		"id":           &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		"name":         &graphql.Field{Type: graphql.String},
		"url":          &graphql.Field{Type: graphql.String},
		"lat":          &graphql.Field{Type: graphql.Float},
		"lng":          &graphql.Field{Type: graphql.Float},
		"city":         &graphql.Field{Type: graphql.String},
		"country":      &graphql.Field{Type: graphql.String},
		"region":       &graphql.Field{Type: graphql.String},
		"description":  &graphql.Field{Type: graphql.String},
		"instanceType": &graphql.Field{Type: graphql.String},
	},
})

var middlewareType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Middleware",
	Fields: graphql.Fields{
		"name":     &graphql.Field{Type: graphql.String},
		"type":     &graphql.Field{Type: graphql.String},
		"priority": &graphql.Field{Type: graphql.Int},
		"enabled":  &graphql.Field{Type: graphql.Boolean},
	},
})

var executionStatsType = graphql.NewObject(graphql.ObjectConfig{
	Name: "MiddlewareExecution",
	Fields: graphql.Fields{
		"name":       &graphql.Field{Type: graphql.String},
		"count":      &graphql.Field{Type: graphql.Int},
		"total_time": &graphql.Field{Type: graphql.Float},
		"errors":     &graphql.Field{Type: graphql.Int},
	},
})

var middlewareMetricsType = graphql.NewObject(graphql.ObjectConfig{
	Name: "MiddlewareMetrics",
	Fields: graphql.Fields{
		"total_requests":      &graphql.Field{Type: graphql.Int},
		"successful_requests": &graphql.Field{Type: graphql.Int},
		"failed_requests":     &graphql.Field{Type: graphql.Int},
		"executions":          &graphql.Field{Type: graphql.NewList(executionStatsType)},
	},
})
