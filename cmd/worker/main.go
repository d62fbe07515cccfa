package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/pixelmark/internal/backend"
	"github.com/dunamismax/pixelmark/internal/config"
	"github.com/dunamismax/pixelmark/internal/logging"
	"github.com/dunamismax/pixelmark/internal/pipeline"
	"github.com/dunamismax/pixelmark/internal/telemetry"
	"github.com/dunamismax/pixelmark/internal/webhook"
	"github.com/dunamismax/pixelmark/internal/worker"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New("worker", cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixelmark-worker",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	assets, err := backend.OpenAssets(ctx, cfg.Storage, cfg.Worker, logger)
	if err != nil {
		return err
	}

	jobs, closeJobs, err := backend.OpenJobStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeJobs(); err != nil {
			logger.Warn("job store close failed", zap.Error(err))
		}
	}()

	metrics := worker.NewMetrics()
	processor, err := pipeline.NewProcessor(assets.Fetcher, pipeline.Options{
		PNGCompression: cfg.Transform.PNGCompression,
		MaxWatermarks:  cfg.Transform.MaxWatermarks,
		Observer:       metrics,
		Logger:         logger.Named("pipeline"),
		Tracer:         telemetry.Tracer("pipeline"),
	})
	if err != nil {
		return fmt.Errorf("create processor: %w", err)
	}
	defer pipeline.Shutdown()

	srv, err := worker.NewServer(cfg.Queue, cfg.Worker, worker.Deps{
		Logger:    logger,
		Processor: processor,
		Emitter:   assets.Emitter,
		Webhooks: webhook.NewClient(webhook.Config{
			SigningSecret: cfg.Webhook.Secret,
			Timeout:       cfg.Webhook.Timeout,
			MaxAttempts:   cfg.Webhook.MaxAttempts,
		}),
		Jobs:    jobs,
		Metrics: metrics,
		Tracer:  telemetry.Tracer("worker"),
	})
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting worker",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.String("queue", cfg.Queue.Name),
		zap.String("redis", cfg.Queue.RedisAddr),
		zap.String("metrics_addr", cfg.Worker.MetricsAddr),
		zap.String("codec", pipeline.CodecName()),
	)

	// Run blocks until SIGINT or SIGTERM, then drains in-flight tasks.
	if err := srv.Run(); err != nil {
		return fmt.Errorf("run worker: %w", err)
	}
	logger.Info("worker stopped")
	return nil
}
