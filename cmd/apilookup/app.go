package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dshills/apilookup-mcp/internal/config"
	"github.com/dshills/apilookup-mcp/internal/ctags"
	"github.com/dshills/apilookup-mcp/internal/indexer"
	"github.com/dshills/apilookup-mcp/internal/logger"
	"github.com/dshills/apilookup-mcp/internal/mcp"
	"github.com/dshills/apilookup-mcp/internal/metrics"
	"github.com/dshills/apilookup-mcp/internal/searcher"
	"github.com/dshills/apilookup-mcp/internal/storage"
)

// app holds the process-wide components built from one Config
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	storage   *storage.SQLiteStorage
	ingester  *indexer.Ingester
	scheduler *indexer.Scheduler
	searcher  *searcher.Searcher
	runner    *ctags.Runner
}

// newApp opens the index (applying migrations) and wires every component
func newApp(cfg config.Config) (*app, error) {
	log, err := logger.NewLogger(cfg.Logging.Env, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	ing := indexer.NewIngester(store,
		indexer.WithLogger(log.Named("indexer")),
		indexer.WithMetrics(m),
	)
	sched := indexer.NewScheduler(ing, &indexer.Config{
		Workers:      cfg.Indexer.Workers,
		Extension:    cfg.Artifacts.Extension,
		PruneMissing: cfg.Artifacts.PruneMissing,
	})

	log.Debug("index opened",
		zap.String("db", cfg.Database.Path),
		zap.String("driver", storage.DriverName),
		zap.String("build_mode", storage.BuildMode),
	)

	return &app{
		cfg:       cfg,
		logger:    log,
		registry:  registry,
		metrics:   m,
		storage:   store,
		ingester:  ing,
		scheduler: sched,
		searcher: searcher.NewSearcher(store,
			searcher.WithCacheSize(cfg.Query.CacheSize),
			searcher.WithMetrics(m),
		),
		runner: ctags.NewRunner(cfg.Ctags.Binary, log.Named("ctags")),
	}, nil
}

// ensureArtifactsDir creates the artifacts directory if needed
func (a *app) ensureArtifactsDir() error {
	if err := os.MkdirAll(a.cfg.Artifacts.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifacts directory: %w", err)
	}
	return nil
}

// mcpServer builds the MCP tool surface over the app's components
func (a *app) mcpServer() (*mcp.Server, error) {
	return mcp.NewServer(mcp.Deps{
		Storage:   a.storage,
		Searcher:  a.searcher,
		Scheduler: a.scheduler,
		Runner:    a.runner,
	}, mcp.Options{
		ArtifactsDir: a.cfg.Artifacts.Dir,
		DefaultLimit: a.cfg.Query.DefaultLimit,
		MaxLimit:     a.cfg.Query.MaxLimit,
		Logger:       a.logger.Named("mcp"),
	})
}

// health backs /healthz: the database must answer and the FTS index must be consistent
func (a *app) health(ctx context.Context) error {
	return a.storage.CheckShadowIndex(ctx)
}

// Close releases the index and flushes logs
func (a *app) Close() error {
	err := a.storage.Close()
	_ = a.logger.Sync()
	return err
}
