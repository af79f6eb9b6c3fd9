// Package vector holds embedding vectors and answers top-K similarity
// queries for the knowledge engine.
//
// The working set lives in memory guarded by a sync.RWMutex: search is
// read-heavy and a linear dot-product scan over a few thousand chunks is
// sub-millisecond, so reads never queue behind anything but the rare write.
// Durability comes from a Repository collaborator (sqlite by default,
// Postgres/pgvector optionally); the full index is loaded once at startup.
//
// Concurrent upserts to the same key serialize on the write lock; the last
// writer wins and refreshes UpdatedAt.
package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// ErrDimensionMismatch indicates an upserted vector's dimensionality differs
// from the vectors already stored.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Repository is the persistence collaborator behind the in-memory index.
// Implementations must be safe for concurrent use.
type Repository interface {
	// LoadAll returns every stored vector.
	LoadAll(ctx context.Context) ([]Vector, error)

	// Upsert inserts or replaces a vector by its key.
	Upsert(ctx context.Context, v Vector) error

	// DeleteBySource removes all chunks of one source record.
	DeleteBySource(ctx context.Context, sourceType, sourceID string) error

	// DeleteChunksFrom removes chunks of a source with ChunkIndex >= minChunk.
	// Used to trim stale chunks when a record shrinks on re-index.
	DeleteChunksFrom(ctx context.Context, sourceType, sourceID string, minChunk int) error

	// Close releases the underlying storage handle.
	Close() error
}

// Store is the vector similarity store. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	vectors map[Key]Vector
	dim     int

	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Store over repo. Call Load before serving queries.
func New(repo Repository, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		vectors: make(map[Key]Vector),
		repo:    repo,
		logger:  logger,
		now:     time.Now,
	}
}

// Load replaces the in-memory index with the persisted one.
func (s *Store) Load(ctx context.Context) error {
	vecs, err := s.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading vector index: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.vectors = make(map[Key]Vector, len(vecs))
	s.dim = 0
	for _, v := range vecs {
		s.vectors[v.Key()] = v
		if s.dim == 0 {
			s.dim = len(v.Values)
		}
	}
	s.logger.Info("vector index loaded", "count", len(s.vectors), "dim", s.dim)
	return nil
}

// Upsert inserts or replaces a vector by key, persisting first so a crash
// never leaves memory ahead of disk. Timestamps: CreatedAt is kept from an
// existing entry, UpdatedAt is always refreshed.
func (s *Store) Upsert(ctx context.Context, v Vector) error {
	if len(v.Values) == 0 {
		return fmt.Errorf("refusing to store empty vector for %v", v.Key())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim != 0 && len(v.Values) != s.dim {
		return fmt.Errorf("%w: got %d, store has %d", ErrDimensionMismatch, len(v.Values), s.dim)
	}

	now := s.now()
	if existing, ok := s.vectors[v.Key()]; ok {
		v.CreatedAt = existing.CreatedAt
	} else if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now

	if err := s.repo.Upsert(ctx, v); err != nil {
		return fmt.Errorf("persisting vector %v: %w", v.Key(), err)
	}

	if s.dim == 0 {
		s.dim = len(v.Values)
	}
	s.vectors[v.Key()] = v
	return nil
}

// DeleteBySource removes all chunks of one source record.
func (s *Store) DeleteBySource(ctx context.Context, sourceType, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.DeleteBySource(ctx, sourceType, sourceID); err != nil {
		return fmt.Errorf("deleting vectors for %s/%s: %w", sourceType, sourceID, err)
	}
	for k := range s.vectors {
		if k.SourceType == sourceType && k.SourceID == sourceID {
			delete(s.vectors, k)
		}
	}
	return nil
}

// TrimChunks removes chunks of a source with index >= keep. Re-indexing a
// record that shrank from N to M chunks calls TrimChunks(…, M).
func (s *Store) TrimChunks(ctx context.Context, sourceType, sourceID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.DeleteChunksFrom(ctx, sourceType, sourceID, keep); err != nil {
		return fmt.Errorf("trimming chunks for %s/%s: %w", sourceType, sourceID, err)
	}
	for k := range s.vectors {
		if k.SourceType == sourceType && k.SourceID == sourceID && k.ChunkIndex >= keep {
			delete(s.vectors, k)
		}
	}
	return nil
}

// Search returns the topK most similar vectors, ranked by dot product
// (cosine similarity, since stored vectors are pre-normalized). Ties break
// toward the most recent CreatedAt. filter, when non-empty, restricts the
// scan to the given source types. An empty store yields an empty result.
func (s *Store) Search(queryVector []float32, topK int, filter ...string) []Result {
	if topK <= 0 {
		return nil
	}

	var allowed map[string]struct{}
	if len(filter) > 0 {
		allowed = make(map[string]struct{}, len(filter))
		for _, f := range filter {
			allowed[f] = struct{}{}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]Result, 0, len(s.vectors))
	for _, v := range s.vectors {
		if allowed != nil {
			if _, ok := allowed[v.SourceType]; !ok {
				continue
			}
		}
		if len(v.Values) != len(queryVector) {
			continue
		}
		results = append(results, Result{Vector: v, Score: dot(queryVector, v.Values)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Count returns the number of stored vectors, and per-source-type counts.
func (s *Store) Count() (int, map[string]int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byType := make(map[string]int)
	for k := range s.vectors {
		byType[k.SourceType]++
	}
	return len(s.vectors), byType
}

// Keys returns the sorted keys of all stored vectors. Intended for tests and
// idempotency checks.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]Key, 0, len(s.vectors))
	for k := range s.vectors {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SourceType != keys[j].SourceType {
			return keys[i].SourceType < keys[j].SourceType
		}
		if keys[i].SourceID != keys[j].SourceID {
			return keys[i].SourceID < keys[j].SourceID
		}
		return keys[i].ChunkIndex < keys[j].ChunkIndex
	})
	return keys
}

// Get returns the stored vector for key.
func (s *Store) Get(key Key) (Vector, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vectors[key]
	return v, ok
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// L2Normalize scales v to unit length in place and returns it. Zero vectors
// are returned unchanged.
func L2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
