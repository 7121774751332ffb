// Package app wires configuration into the studio and its dependencies. Both
// the API server and the CLI start from here.
//
// A workspace graph is cached by the process that loaded it, so only one
// process should write to a database at a time: the CLI is meant for a
// database no server is using.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/lookbook/internal/config"
	"github.com/timmy/lookbook/internal/graph"
	"github.com/timmy/lookbook/internal/logger"
	"github.com/timmy/lookbook/internal/media"
	"github.com/timmy/lookbook/internal/poller"
	"github.com/timmy/lookbook/internal/provider"
	"github.com/timmy/lookbook/internal/repository"
	"github.com/timmy/lookbook/internal/service"
	"github.com/timmy/lookbook/internal/storage"
	"gorm.io/gorm"
)

const (
	fetchTimeout      = 60 * time.Second
	interruptedReason = "interrupted by restart"
)

// App holds the initialized services.
type App struct {
	DB        *gorm.DB
	Runs      *repository.RunRepository
	Providers *provider.Registry
	Storage   storage.ObjectStorage // nil when mirroring is disabled
	Hub       *service.Hub
	Studio    *service.Studio
}

// New connects the database and storage, builds the providers and the studio.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	db, err := repository.InitDB(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	artifactRepo := repository.NewArtifactRepository(db)
	runRepo := repository.NewRunRepository(db)

	var objectStorage storage.ObjectStorage
	if cfg.Storage.Enabled {
		objectStorage, err = storage.NewStorage(ctx, storage.FromAppConfig(cfg.Storage))
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		if err := objectStorage.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure storage bucket: %w", err)
		}
		log.WithFields(logger.Fields{
			"type":   cfg.Storage.Type,
			"bucket": cfg.Storage.Bucket,
		}).Info("Result mirroring enabled")
	}

	registry, err := provider.Build(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	policy, err := graph.ParseDeletePolicy(cfg.Graph.DeletePolicy)
	if err != nil {
		return nil, err
	}

	var graphOpts []graph.Option
	if cfg.Graph.ColumnWidth > 0 && cfg.Graph.RowHeight > 0 {
		graphOpts = append(graphOpts, graph.WithLayoutOptions(graph.LayoutOptions{
			ColumnWidth: cfg.Graph.ColumnWidth,
			RowHeight:   cfg.Graph.RowHeight,
		}))
	}
	hub := service.NewHub(0)
	workspaces, err := service.NewWorkspaces(artifactRepo, hub, cfg.Graph.CacheSize, log, graphOpts...)
	if err != nil {
		return nil, err
	}

	mirror := service.NewMirror(objectStorage, media.NewFetcher(fetchTimeout, cfg.Storage.MaxSize))
	studio := service.NewStudio(registry, workspaces, artifactRepo, runRepo, mirror, service.StudioConfig{
		Budget: poller.Budget{
			Interval:    cfg.Poller.Interval,
			MaxAttempts: cfg.Poller.MaxAttempts,
		},
		DeletePolicy:          policy,
		CrossWorkspaceParents: cfg.Graph.CrossWorkspaceParents,
		BatchConcurrency:      cfg.Generation.BatchConcurrency,
		MaxBatchSize:          cfg.Generation.MaxBatchSize,
	})

	return &App{
		DB:        db,
		Runs:      runRepo,
		Providers: registry,
		Storage:   objectStorage,
		Hub:       hub,
		Studio:    studio,
	}, nil
}

// FailInterruptedRuns marks runs left running by a previous server process as
// failed; their pollers died with it. Only the owning server calls this at
// startup, never a process sharing the database with a live server.
func (a *App) FailInterruptedRuns(ctx context.Context) (int64, error) {
	n, err := a.Runs.MarkInterrupted(ctx, interruptedReason)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted runs: %w", err)
	}
	return n, nil
}

// Close waits for background generations and closes the database.
func (a *App) Close() error {
	a.Studio.Wait()
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
