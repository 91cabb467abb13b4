package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/raywall/tes-dashboard/pkg/cloud"
	"github.com/raywall/tes-dashboard/pkg/config"
	"github.com/raywall/tes-dashboard/pkg/runs"
	"github.com/raywall/tes-dashboard/pkg/tasks"
)

var errUnknownBackend = errors.New("backend de storage desconhecido")

// openStore escolhe o store de tasks. O func devolvido libera conexões.
func openStore(ctx context.Context, conf config.StorageConf) (tasks.Store, func(), error) {
	noop := func() {}
	switch conf.Backend {
	case "", "memory":
		return tasks.NewMemoryStore(), noop, nil

	case "file":
		s, err := tasks.OpenFileStore(conf.Path)
		return s, noop, err

	case "sqlite":
		s, err := tasks.OpenSQLiteStore(conf.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	case "postgres":
		s, err := tasks.OpenPostgresStore(ctx, conf.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	case "dynamodb":
		awsCfg, err := cloud.AWSConfig(ctx, conf.Region)
		if err != nil {
			return nil, nil, fmt.Errorf("falha ao carregar config AWS: %w", err)
		}
		return tasks.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), conf.Table), noop, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", errUnknownBackend, conf.Backend)
}

// openRuns persiste workflows e batches em RunsDir quando definido.
func openRuns(conf config.StorageConf, catalog runs.Catalog) (*runs.Service, error) {
	if conf.RunsDir == "" {
		return runs.NewService(runs.NewMemoryCollection[runs.WorkflowRun](), runs.NewMemoryCollection[runs.BatchRun](), catalog, conf.UploadDir), nil
	}
	if err := os.MkdirAll(conf.RunsDir, 0o755); err != nil {
		return nil, err
	}
	workflows, err := runs.OpenFileCollection[runs.WorkflowRun](filepath.Join(conf.RunsDir, "workflows.json"))
	if err != nil {
		return nil, err
	}
	batches, err := runs.OpenFileCollection[runs.BatchRun](filepath.Join(conf.RunsDir, "batch_runs.json"))
	if err != nil {
		return nil, err
	}
	return runs.NewService(workflows, batches, catalog, conf.UploadDir), nil
}
