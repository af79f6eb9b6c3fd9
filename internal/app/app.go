// Package app wires the engine together: config, storage backend, vector
// store, provider client, embedding cache, indexer, scheduler, conversation
// memory, assistant and the admin HTTP server. Every entry point (serve,
// index, ask) goes through Setup.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chantio/chantio/internal/assistant"
	"github.com/chantio/chantio/internal/config"
	"github.com/chantio/chantio/internal/convo"
	"github.com/chantio/chantio/internal/database"
	"github.com/chantio/chantio/internal/embcache"
	"github.com/chantio/chantio/internal/indexer"
	"github.com/chantio/chantio/internal/observability"
	"github.com/chantio/chantio/internal/provider"
	"github.com/chantio/chantio/internal/scheduler"
	"github.com/chantio/chantio/internal/vector"
)

// App is the fully wired engine.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Provider  *provider.Client
	Cache     *embcache.Cache
	Store     *vector.Store
	Indexer   *indexer.Indexer
	Scheduler *scheduler.Scheduler
	History   *convo.Manager
	Assistant *assistant.Assistant

	sqlite          *database.SQLite
	pool            *pgxpool.Pool
	stopSweep       context.CancelFunc
	tracingShutdown func(context.Context) error
}

// Setup builds the whole engine from cfg. The caller owns the returned App
// and must Close it. The scheduler is created but not started; entry points
// decide which jobs run.
func Setup(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger}

	if cfg.TracingEnabled {
		shutdown, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.TracingEndpoint,
			ServiceName: cfg.ServiceName,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
		a.tracingShutdown = shutdown
	}

	repo, err := a.openStorage(ctx, cfg)
	if err != nil {
		a.closePartial()
		return nil, err
	}

	a.Store = vector.New(repo, logger)
	if err := a.Store.Load(ctx); err != nil {
		a.closePartial()
		return nil, fmt.Errorf("loading vector index: %w", err)
	}

	a.Provider, err = provider.New(provider.Config{
		Host:        cfg.OllamaHost,
		EmbedModel:  cfg.EmbedModel,
		ChatModel:   cfg.ChatModel,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		HTTPTimeout: cfg.AnswerTimeout,
	})
	if err != nil {
		a.closePartial()
		return nil, fmt.Errorf("creating provider client: %w", err)
	}

	a.Cache = embcache.New(embcache.Config{
		Capacity:      cfg.CacheCapacity,
		TTL:           cfg.CacheTTL,
		SweepInterval: cfg.CacheSweep,
	}, logger)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	a.stopSweep = stopSweep
	go a.Cache.Run(sweepCtx)

	source := indexer.NewFileSource(filepath.Join(cfg.DataDir, "records"))
	a.Indexer = indexer.New(a.Store, a.Cache, a.Provider, source, indexer.Config{
		Model:      cfg.EmbedModel,
		InputLimit: cfg.EmbedInputLimit,
	}, logger)

	a.Scheduler = scheduler.New(a.Indexer, cfg, logger)

	a.History = convo.New(a.convoStore(), convo.Config{
		Limit:      cfg.HistoryLimit,
		ContentMax: cfg.HistoryContentMax,
	}, logger)

	a.Assistant = assistant.New(a.Provider, a.Cache, a.Store, a.History,
		assistant.Config{TopK: cfg.TopK}, logger)

	return a, nil
}

// openStorage opens the configured backend and returns the vector
// repository over it. The sqlite database is always opened: conversations
// live there even when vectors go to postgres, and its file lock keeps two
// engines off the same data directory.
func (a *App) openStorage(ctx context.Context, cfg config.Config) (vector.Repository, error) {
	db, err := database.OpenSQLite(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	a.sqlite = db

	if cfg.StorageDriver != config.DriverPostgres {
		return vector.NewSQLiteRepository(db.DB), nil
	}

	pool, err := database.OpenPostgres(ctx, cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	a.pool = pool

	repo := vector.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("preparing postgres schema: %w", err)
	}
	return repo, nil
}

func (a *App) convoStore() convo.Store {
	return convo.NewSQLiteStore(a.sqlite.DB)
}

// Close releases everything Setup acquired, in reverse order. Safe on a
// partially constructed App.
func (a *App) Close() error {
	var errs []error

	if a.Scheduler != nil {
		a.Scheduler.StopAll()
		a.Scheduler.Wait()
	}
	if a.stopSweep != nil {
		a.stopSweep()
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing sqlite: %w", err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracingShutdown != nil {
		if err := a.tracingShutdown(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("flushing traces: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) closePartial() {
	_ = a.Close()
}
