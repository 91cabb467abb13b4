package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/raywall/tes-dashboard/pkg/cache"
	"github.com/raywall/tes-dashboard/pkg/cloud"
	"github.com/raywall/tes-dashboard/pkg/config"
	"github.com/raywall/tes-dashboard/pkg/graphql"
	"github.com/raywall/tes-dashboard/pkg/instances"
	"github.com/raywall/tes-dashboard/pkg/logger"
	"github.com/raywall/tes-dashboard/pkg/metrics"
	"github.com/raywall/tes-dashboard/pkg/middleware"
	"github.com/raywall/tes-dashboard/pkg/observability"
	"github.com/raywall/tes-dashboard/pkg/reconciler"
	"github.com/raywall/tes-dashboard/pkg/rules"
	"github.com/raywall/tes-dashboard/pkg/secrets"
	"github.com/raywall/tes-dashboard/pkg/tasks"
	"github.com/raywall/tes-dashboard/pkg/tes"
	"github.com/raywall/tes-dashboard/pkg/transport"
	"github.com/rs/zerolog/log"
)

var (
	configPath string
	// Variáveis injetáveis para mocking
	serverStarter = transport.StartHTTPServer
)

func init() {
	configPath = os.Getenv("CONFIG_FILE_PATH")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, configPath); err != nil {
		log.Fatal().Err(err).Msg("FATAL: dashboard encerrado")
	}
}

// run monta as dependências e bloqueia até o servidor parar.
// Sem cfgPath a configuração padrão é usada.
func run(ctx context.Context, cfgPath string) error {
	cfg, err := loadConfig(ctx, cfgPath)
	if err != nil {
		return err
	}

	logger.Configure(cfg.Logging)
	boot := logger.Component("boot")

	provider, err := observability.SetupMetrics(cfg.Server.Name, cfg.Metrics)
	if err != nil {
		return err
	}
	if c, ok := provider.(interface{ Close() error }); ok {
		defer c.Close()
	}

	store, closeStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	registry, err := instances.New(cfg.Instances)
	if err != nil {
		return err
	}

	nodes, err := instances.OpenNodeStore(cfg.Instances.LocationsFile)
	if err != nil {
		// o arquivo fica intocado; edições valem só até o restart
		boot.Warn().Err(err).Str("file", cfg.Instances.LocationsFile).Msg("nodes em memória")
		nodes, _ = instances.OpenNodeStore("")
	}

	client := tes.NewClient(&http.Client{})
	recon := reconciler.New(store, client, registry, reconciler.Options{
		Interval:     cfg.Reconciler.GetInterval(),
		ErrorBackoff: cfg.Reconciler.GetErrorBackoff(),
		Metrics:      provider,
	})
	submitter := tasks.NewSubmitter(store, client, registry, provider).WithRefresher(recon)
	if cfg.Reconciler.Enabled {
		recon.Start(ctx)
		defer recon.Stop()
	}

	runService, err := openRuns(cfg.Storage, registry)
	if err != nil {
		return err
	}

	deps, closeCache, err := middlewareDeps(ctx, cfg.Cache, provider)
	if err != nil {
		return err
	}
	defer closeCache()

	factory := middleware.NewFactory(deps)
	manager := middleware.NewManager(provider)
	configs := middleware.NewConfigManager(factory, &config.Source{Region: cfg.Storage.Region})
	reload := &transport.MiddlewareReloader{Configs: configs, Manager: manager, Source: cfg.Middleware.Source}
	if cfg.Middleware.UseDefaults {
		reload.Fallback = middleware.Defaults()
	}
	if err := loadMiddlewares(ctx, reload); err != nil {
		return err
	}
	manager.Start(ctx)
	defer manager.Stop()

	gql, err := graphql.NewEngine(graphql.Sources{Tasks: store, Instances: registry, Middleware: manager})
	if err != nil {
		return err
	}

	if cfg.Reload.QueueURL != "" {
		awsCfg, err := cloud.AWSConfig(ctx, cfg.Storage.Region)
		if err != nil {
			return fmt.Errorf("falha ao carregar config AWS: %w", err)
		}
		go transport.NewSQSReloader(sqs.NewFromConfig(awsCfg), cfg.Reload.QueueURL, reload).Start(ctx)
	}

	handler := transport.NewRouter(transport.Deps{
		CORSOrigins: cfg.Server.CORSOrigins,
		Metrics:     provider,
		Manager:     manager,
		Factory:     factory,
		Tasks:       store,
		Submitter:   submitter,
		Instances:   registry,
		Health:      instances.NewChecker(registry, client, store),
		Upstream:    client,
		Nodes:       nodes,
		Runs:        runService,
		GraphQL:     gql,
	})

	boot.Info().
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Backend).
		Int("instances", len(registry.Instances())).
		Int("middlewares", len(manager.List())).
		Msg("dashboard iniciado")

	return serverStarter(ctx, transport.NewHTTPServer(cfg.Server, handler))
}

func loadConfig(ctx context.Context, path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	loader := config.NewLoader(&config.Source{}, secrets.NewResolver("", nil, nil))
	return loader.Load(ctx, path)
}

// loadMiddlewares aplica a carga inicial. Uma origem inválida só é tolerada
// quando há fallback.
func loadMiddlewares(ctx context.Context, reload *transport.MiddlewareReloader) error {
	if reload.Source == "" && reload.Fallback == nil {
		log.Warn().Msg("nenhum middleware configurado")
		return nil
	}
	err := reload.Reload(ctx)
	if err == nil {
		return nil
	}
	if reload.Source == "" || reload.Fallback == nil {
		return fmt.Errorf("falha ao carregar middlewares: %w", err)
	}
	log.Warn().Err(err).Str("source", reload.Source).Msg("usando middlewares padrão")
	fallback := *reload
	fallback.Source = ""
	return fallback.Reload(ctx)
}

func middlewareDeps(ctx context.Context, conf config.CacheConf, provider metrics.Provider) (middleware.Dependencies, func(), error) {
	rm, err := rules.NewRuleManager()
	if err != nil {
		return middleware.Dependencies{}, nil, err
	}
	deps := middleware.Dependencies{Rules: rm, Metrics: provider, SweepInterval: conf.GetSweepInterval()}
	if conf.Backend != "redis" {
		return deps, func() {}, nil
	}

	rs := cache.NewRedisStore(conf.RedisAddr, conf.RedisPassword, conf.RedisDB)
	if err := rs.Ping(ctx); err != nil {
		rs.Close()
		return deps, nil, fmt.Errorf("redis indisponível em %s: %w", conf.RedisAddr, err)
	}
	deps.Cache = rs
	return deps, func() { rs.Close() }, nil
}
