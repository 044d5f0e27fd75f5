package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/lightdash/metricflow-service/engine/adapter"
	"github.com/lightdash/metricflow-service/engine/build"
	"github.com/lightdash/metricflow-service/engine/environment"
	"github.com/lightdash/metricflow-service/engine/infra/server"
	"github.com/lightdash/metricflow-service/engine/provider"
	"github.com/lightdash/metricflow-service/engine/query"
	"github.com/lightdash/metricflow-service/engine/semantic"
	"github.com/lightdash/metricflow-service/engine/sqlnorm"
	"github.com/lightdash/metricflow-service/pkg/config"
	"github.com/lightdash/metricflow-service/pkg/logger"
	"github.com/lightdash/metricflow-service/pkg/perf"
)

func main() {
	if err := logger.Init(logger.DefaultConfig()); err != nil {
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	registry := environment.NewRegistry(cfg.Environments.ConfigPath, cfg.Environments.BaseDir)
	engines := provider.NewProvider(registry, provider.DefaultBuilder(
		func(env *environment.Config) (semantic.SQLClient, error) {
			return adapter.NewClient(context.Background(), env)
		},
	))
	perfLog := perf.NewLogger(cfg.Perf.LogPath)

	queries := query.NewService(query.Options{
		Store:        query.NewStore(cfg.Query.TTL()),
		Engines:      engines,
		NormalizeSQL: sqlnorm.Normalize,
		Perf:         perfLog,
		MaxLimit:     cfg.Query.MaxLimit,
		AsyncWorkers: cfg.Query.AsyncWorkers,
	})
	defer queries.Close()

	builds := build.NewManager(build.ManagerOptions{
		Store:    build.NewStore(),
		Registry: registry,
		Runner:   build.NewCommandRunner(cfg.Build.Command, cfg.Build.Timeout()),
		Engines:  engines,
		Perf:     perfLog,
	})

	srv := server.NewServer(&cfg.Server, registry, server.NewHandlers(queries, builds))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
