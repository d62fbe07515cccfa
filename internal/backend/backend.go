// Package backend opens the storage and job-store implementations selected
// by configuration. The API and the worker share it so both sides agree on
// where assets, renders and job records live.
package backend

import (
	"context"
	"fmt"

	"github.com/dunamismax/pixelmark/internal/config"
	"github.com/dunamismax/pixelmark/internal/pipeline"
	"github.com/dunamismax/pixelmark/internal/storage"
	"github.com/dunamismax/pixelmark/internal/store"
	"go.uber.org/zap"
)

type Assets struct {
	Fetcher pipeline.Fetcher
	Emitter pipeline.Emitter
	// Ping reports whether the backing store is reachable.
	Ping func(ctx context.Context) error
}

func OpenAssets(ctx context.Context, storageCfg config.StorageConfig, workerCfg config.WorkerConfig, logger *zap.Logger) (Assets, error) {
	switch storageCfg.Backend {
	case config.StorageBackendLocal:
		logger.Info("using local asset directory",
			zap.String("assets", storageCfg.LocalAssetDir),
			zap.String("outputs", workerCfg.LocalOutputDir),
		)
		return Assets{
			Fetcher: pipeline.DirFetcher{Root: storageCfg.LocalAssetDir},
			Emitter: pipeline.DirEmitter{OutputDir: workerCfg.LocalOutputDir, OutputPrefix: storageCfg.OutputPrefix},
			Ping:    func(context.Context) error { return nil },
		}, nil

	case config.StorageBackendMinio:
		client, err := storage.NewClient(storage.Config{
			Endpoint: storageCfg.Endpoint,
			Access:   storageCfg.AccessKey,
			Secret:   storageCfg.SecretKey,
			Bucket:   storageCfg.Bucket,
			Region:   storageCfg.Region,
			UseSSL:   storageCfg.UseSSL,
		})
		if err != nil {
			return Assets{}, fmt.Errorf("create storage client: %w", err)
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return Assets{}, fmt.Errorf("ensure bucket: %w", err)
		}
		logger.Info("using object storage",
			zap.String("endpoint", storageCfg.Endpoint),
			zap.String("bucket", client.Bucket()),
		)
		return Assets{
			Fetcher: pipeline.ObjectStoreFetcher{Storage: client},
			Emitter: pipeline.ObjectStoreEmitter{Storage: client, OutputPrefix: storageCfg.OutputPrefix},
			Ping:    client.Ping,
		}, nil

	default:
		return Assets{}, fmt.Errorf("unknown storage backend %q", storageCfg.Backend)
	}
}

// OpenJobStore returns Postgres when a DSN is configured and an in-process
// store otherwise. The in-process store is only visible to the process that
// created it, so split API and worker deployments need Postgres.
func OpenJobStore(ctx context.Context, dbCfg config.DatabaseConfig, logger *zap.Logger) (store.JobStore, func() error, error) {
	if dbCfg.DSN == "" {
		logger.Warn("POSTGRES_DSN is not set, render jobs are kept in memory")
		return store.NewMemoryJobStore(), func() error { return nil }, nil
	}

	pg, err := store.NewPostgresJobStore(ctx, dbCfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open job store: %w", err)
	}
	return pg, pg.Close, nil
}
