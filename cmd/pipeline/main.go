package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"go-tower-pipeline/internal/api"
	"go-tower-pipeline/internal/api/handler"
	"go-tower-pipeline/internal/config"
	"go-tower-pipeline/internal/logging"
	"go-tower-pipeline/internal/observability"
	"go-tower-pipeline/internal/pipeline"
	"go-tower-pipeline/internal/store"
	"go-tower-pipeline/pkg/router"
)

// @title Tower Pipeline API
// @version 1.0
// @description Clusters radio towers into bounding boxes and merges mobile network operator registries.
// @host localhost:8080
// @BasePath /api/v1
func main() {
	cfg := config.Load()
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.TracingEnabled,
		ServiceName: "tower-pipeline",
		Exporter:    cfg.TracingExporter,
		Endpoint:    cfg.TracingEndpoint,
		SampleRatio: cfg.TracingSampleRatio,
	}, log)
	if err != nil {
		log.Error(ctx, "failed to init tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	metrics, err := observability.NewPipelineCollector(prometheus.DefaultRegisterer)
	if err != nil {
		log.Error(ctx, "failed to register metrics", logging.Err(err))
		os.Exit(1)
	}

	// Init DB
	if err := store.InitDB(cfg.DBPath); err != nil {
		log.Error(ctx, "failed to open run store", logging.String("path", cfg.DBPath), logging.Err(err))
		os.Exit(1)
	}
	defer store.Close()

	deps := pipeline.DepsFromConfig(cfg, log, metrics)
	if err := deps.Outputs.EnsureOutputDirExists(); err != nil {
		log.Error(ctx, "failed to create output directory", logging.Err(err))
		os.Exit(1)
	}
	h := handler.NewRunHandler(deps)

	// Create router and register API routes
	r := router.New(log, metrics)
	api.RegisterRoutes(r, h, metrics.Handler())

	if err := r.Start(ctx, cfg.Port); err != nil {
		log.Error(ctx, "server stopped", logging.Err(err))
	}

	log.Info(context.Background(), "waiting for in-flight runs")
	h.Wait()
}
