// Package indexer turns changed business records (clients, sites, quotes,
// subcontractors, documents) into embedded chunks in the vector store.
//
// One record maps to one chunk unless its text exceeds the embedding input
// limit, in which case it is split at paragraph boundaries. Embeddings go
// through the cache first so a full reindex of unchanged records costs no
// provider calls while the cache is warm.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chantio/chantio/internal/embcache"
	"github.com/chantio/chantio/internal/vector"
)

// Record is one indexable business record.
type Record struct {
	SourceType string
	ID         string
	Text       string
	UpdatedAt  time.Time
}

// Source produces indexable records. It is the boundary to the CRUD side of
// the application; the engine never reads domain tables directly.
type Source interface {
	// All returns every indexable record.
	All(ctx context.Context) ([]Record, error)

	// ChangedSince returns records created or updated after t.
	ChangedSince(ctx context.Context, t time.Time) ([]Record, error)
}

// Embedder is the slice of the provider client the indexer needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result summarizes one indexing run.
type Result struct {
	Indexed  int
	Failed   int
	Duration time.Duration
}

// Indexer embeds records and upserts their vectors. Safe for concurrent use;
// the scheduler nevertheless never runs the same job concurrently.
type Indexer struct {
	store      *vector.Store
	cache      *embcache.Cache
	embedder   Embedder
	source     Source
	model      string
	inputLimit int
	logger     *slog.Logger
}

// Config for the indexer.
type Config struct {
	// Model is the embedding model name recorded on stored vectors.
	Model string
	// InputLimit is the maximum chunk size in bytes. Default 8 KiB.
	InputLimit int
}

// New creates an Indexer.
func New(store *vector.Store, cache *embcache.Cache, embedder Embedder, source Source, cfg Config, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InputLimit <= 0 {
		cfg.InputLimit = 8 * 1024
	}
	return &Indexer{
		store:      store,
		cache:      cache,
		embedder:   embedder,
		source:     source,
		model:      cfg.Model,
		inputLimit: cfg.InputLimit,
		logger:     logger,
	}
}

// IndexRecord chunks, embeds and upserts one record, then trims chunks left
// over from a longer previous version. Re-running on an unchanged record
// stores identical keys and content; only UpdatedAt moves.
func (idx *Indexer) IndexRecord(ctx context.Context, rec Record) error {
	if rec.SourceType == "" || rec.ID == "" {
		return fmt.Errorf("record needs source type and id")
	}

	chunks := Chunk(rec.Text, idx.inputLimit)
	for i, chunk := range chunks {
		vec, err := idx.embed(ctx, chunk)
		if err != nil {
			return fmt.Errorf("embedding %s/%s chunk %d: %w", rec.SourceType, rec.ID, i, err)
		}
		err = idx.store.Upsert(ctx, vector.Vector{
			SourceType: rec.SourceType,
			SourceID:   rec.ID,
			ChunkIndex: i,
			Text:       chunk,
			Values:     vec,
			Model:      idx.model,
		})
		if err != nil {
			return fmt.Errorf("storing %s/%s chunk %d: %w", rec.SourceType, rec.ID, i, err)
		}
	}

	if err := idx.store.TrimChunks(ctx, rec.SourceType, rec.ID, len(chunks)); err != nil {
		return fmt.Errorf("trimming stale chunks of %s/%s: %w", rec.SourceType, rec.ID, err)
	}
	return nil
}

// DeleteRecord removes every vector of a deleted source record.
func (idx *Indexer) DeleteRecord(ctx context.Context, sourceType, id string) error {
	return idx.store.DeleteBySource(ctx, sourceType, id)
}

// IndexAll embeds every record the source knows. A failing record is logged
// and counted, not fatal; the run continues.
func (idx *Indexer) IndexAll(ctx context.Context) (Result, error) {
	records, err := idx.source.All(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("listing records: %w", err)
	}
	return idx.indexBatch(ctx, records), nil
}

// IndexChangedSince embeds records changed after t.
func (idx *Indexer) IndexChangedSince(ctx context.Context, t time.Time) (Result, error) {
	records, err := idx.source.ChangedSince(ctx, t)
	if err != nil {
		return Result{}, fmt.Errorf("listing changed records: %w", err)
	}
	return idx.indexBatch(ctx, records), nil
}

func (idx *Indexer) indexBatch(ctx context.Context, records []Record) Result {
	start := time.Now()
	var res Result
	for _, rec := range records {
		if err := idx.IndexRecord(ctx, rec); err != nil {
			res.Failed++
			idx.logger.Warn("indexing record failed",
				"source_type", rec.SourceType, "source_id", rec.ID, "error", err)
			continue
		}
		res.Indexed++
	}
	res.Duration = time.Since(start)
	return res
}

// embed resolves a chunk's vector cache-first and returns it L2-normalized
// so similarity search reduces to a dot product.
func (idx *Indexer) embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := idx.cache.Get(text); ok {
		return normalizedCopy(vec), nil
	}
	vec, err := idx.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	idx.cache.Set(text, vec)
	return normalizedCopy(vec), nil
}

// normalizedCopy leaves the cached slice untouched.
func normalizedCopy(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return vector.L2Normalize(out)
}
