// Package app wires configuration into the components shared by every binary.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"coursesearch/internal/aggregator"
	"coursesearch/internal/config"
	"coursesearch/internal/embedding"
	"coursesearch/internal/extract"
	"coursesearch/internal/processor"
	"coursesearch/internal/providers"
	"coursesearch/internal/regen"
	"coursesearch/internal/storage"
	"coursesearch/internal/util"
	"coursesearch/internal/vector"
)

type App struct {
	Config      config.Config
	Logger      *slog.Logger
	DB          *storage.DB
	Content     *storage.ContentRepo
	Aggregator  *aggregator.Aggregator
	Embedder    processor.Embedder
	Processor   *processor.Processor
	Store       vector.Store
	Regenerator *regen.Regenerator

	cache *embedding.BadgerCache
}

// Build connects to Postgres, applies migrations and assembles the pipeline.
// A provider without credentials fails with providers.ErrMissingCredentials.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: configure providers: %w", util.ErrValidation, err)
	}
	if err := pm.CheckCredentials(); err != nil {
		return nil, err
	}
	provider, ref, err := pm.Select(cfg.EmbedPrimary)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", util.ErrValidation, err)
	}
	emb, err := embedding.New(provider, embedding.Options{
		Model:         cfg.EmbedModel,
		Dimension:     cfg.EmbedDim,
		RatePerSecond: cfg.EmbedRatePerSecond,
		Burst:         cfg.EmbedBurst,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("configure embedding client: %w", err)
	}

	var (
		embedder processor.Embedder = emb
		cache    *embedding.BadgerCache
	)
	if cfg.EmbedCacheDir != "" {
		cache, err = embedding.OpenBadgerCache(cfg.EmbedCacheDir, logger)
		if err != nil {
			return nil, err
		}
		embedder = embedding.NewCached(emb, cache, logger)
	}

	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		closeCache(cache)
		return nil, err
	}
	if err := db.Migrate(ctx, cfg.EmbedDim); err != nil {
		db.Close()
		closeCache(cache)
		return nil, err
	}
	blobs, err := storage.NewFileBlobStore(cfg.FilesRoot)
	if err != nil {
		db.Close()
		closeCache(cache)
		return nil, err
	}

	var store vector.Store
	switch cfg.VectorBackend {
	case "memory":
		store = vector.NewMemoryStore()
	case "", "postgres":
		store = vector.NewPGStore(db.Pool, cfg.SaveBatchSize, logger)
	default:
		db.Close()
		closeCache(cache)
		return nil, fmt.Errorf("%w: unsupported vector backend %q", util.ErrValidation, cfg.VectorBackend)
	}

	content := storage.NewContentRepo(db)
	agg := aggregator.New(content, aggregator.Options{
		Blobs:        blobs,
		Extractor:    extract.New(logger),
		MaxFileBytes: cfg.MaxFileBytes,
		Logger:       logger,
	})
	proc := processor.New(embedder, processor.Options{
		Delay:  time.Duration(cfg.EmbedDelayMillis) * time.Millisecond,
		Logger: logger,
	})
	reg := regen.New(agg, proc, store, content, regen.Options{
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		CostPerMillion: cfg.CostPerMillionToken,
		NonAtomic:      cfg.RegenerateNonAtomic,
		Logger:         logger,
	})
	logger.Info("pipeline ready",
		"provider", ref.Raw, "configured_providers", pm.EmbedCount(), "model", cfg.EmbedModel, "dim", cfg.EmbedDim,
		"vector_backend", cfg.VectorBackend, "embed_cache", cfg.EmbedCacheDir != "", "chunk_size", cfg.ChunkSize, "chunk_overlap", cfg.ChunkOverlap)

	return &App{
		Config:      cfg,
		Logger:      logger,
		DB:          db,
		Content:     content,
		Aggregator:  agg,
		Embedder:    embedder,
		Processor:   proc,
		Store:       store,
		Regenerator: reg,
		cache:       cache,
	}, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	a.DB.Close()
	if c, ok := a.Embedder.(*embedding.CachedClient); ok {
		hits, misses := c.Stats()
		a.Logger.Info("embedding cache", "hits", hits, "misses", misses)
	}
	closeCache(a.cache)
}

func closeCache(c *embedding.BadgerCache) {
	if c != nil {
		_ = c.Close()
	}
}
