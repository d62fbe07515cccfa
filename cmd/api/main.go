package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelmark/internal/api"
	"github.com/dunamismax/pixelmark/internal/backend"
	"github.com/dunamismax/pixelmark/internal/config"
	"github.com/dunamismax/pixelmark/internal/logging"
	"github.com/dunamismax/pixelmark/internal/pipeline"
	"github.com/dunamismax/pixelmark/internal/queue"
	"github.com/dunamismax/pixelmark/internal/ratelimit"
	"github.com/dunamismax/pixelmark/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New("api", cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixelmark-api",
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

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close failed", zap.Error(err))
		}
	}()

	var limiter api.RateLimiter
	if cfg.API.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer func() { _ = redisClient.Close() }()

		bucket, err := ratelimit.NewRedisTokenBucket(redisClient, ratelimit.Config{
			Capacity: cfg.API.RateLimit.Capacity,
			Window:   cfg.API.RateLimit.Window,
		})
		if err != nil {
			return fmt.Errorf("create rate limiter: %w", err)
		}
		limiter = bucket
		logger.Info("rate limiting enabled",
			zap.Int("capacity", cfg.API.RateLimit.Capacity),
			zap.Duration("window", cfg.API.RateLimit.Window),
		)
	}

	metrics := api.NewMetrics()
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

	ready := func(ctx context.Context) error {
		if err := assets.Ping(ctx); err != nil {
			return fmt.Errorf("asset store: %w", err)
		}
		if err := queueClient.Ping(); err != nil {
			return fmt.Errorf("queue: %w", err)
		}
		return nil
	}

	app := api.NewServer(api.Deps{
		Logger:        logger,
		Processor:     processor,
		Queue:         queueClient,
		QueueName:     cfg.Queue.Name,
		Jobs:          jobs,
		Ready:         ready,
		MaxWatermarks: cfg.Transform.MaxWatermarks,
		Defaults: api.Defaults{
			Format:  cfg.Transform.DefaultFormat,
			Quality: cfg.Transform.DefaultQuality,
			Origin:  cfg.Transform.DefaultOrigin,
		},
		Metrics:               metrics,
		Tracer:                telemetry.Tracer("api"),
		RateLimiter:           limiter,
		RateLimitUserIDHeader: cfg.API.RateLimit.UserHeader,
	})

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.API.Addr),
			zap.String("codec", pipeline.CodecName()),
			zap.String("run_mode", cfg.RunMode),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}
