package vector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresRepository persists vectors in Postgres with the pgvector
// extension. Like the sqlite backend it is durability only; similarity
// ranking happens in the in-memory Store so both backends share identical
// search semantics.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository wraps an open pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the pgvector extension and the vectors table.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	if err != nil {
		return fmt.Errorf("creating vector extension: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS embedding_vectors (
			source_type TEXT NOT NULL,
			source_id   TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			text        TEXT NOT NULL,
			embedding   vector NOT NULL,
			model       TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (source_type, source_id, chunk_index)
		)`)
	if err != nil {
		return fmt.Errorf("creating embedding_vectors table: %w", err)
	}
	return nil
}

// LoadAll returns every stored vector.
func (r *PostgresRepository) LoadAll(ctx context.Context) ([]Vector, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT source_type, source_id, chunk_index, text, embedding, model, created_at, updated_at
		FROM embedding_vectors`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var vecs []Vector
	for rows.Next() {
		var v Vector
		var embedding pgvector.Vector
		if err := rows.Scan(&v.SourceType, &v.SourceID, &v.ChunkIndex, &v.Text,
			&embedding, &v.Model, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}
		v.Values = embedding.Slice()
		vecs = append(vecs, v)
	}
	return vecs, rows.Err()
}

// Upsert inserts or replaces a vector by its key.
func (r *PostgresRepository) Upsert(ctx context.Context, v Vector) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO embedding_vectors
			(source_type, source_id, chunk_index, text, embedding, model, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_type, source_id, chunk_index) DO UPDATE SET
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding,
			model = EXCLUDED.model,
			updated_at = EXCLUDED.updated_at`,
		v.SourceType, v.SourceID, v.ChunkIndex, v.Text,
		pgvector.NewVector(v.Values), v.Model, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting vector: %w", err)
	}
	return nil
}

// DeleteBySource removes all chunks of one source record.
func (r *PostgresRepository) DeleteBySource(ctx context.Context, sourceType, sourceID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM embedding_vectors WHERE source_type = $1 AND source_id = $2`,
		sourceType, sourceID)
	if err != nil {
		return fmt.Errorf("deleting vectors: %w", err)
	}
	return nil
}

// DeleteChunksFrom removes chunks with index >= minChunk.
func (r *PostgresRepository) DeleteChunksFrom(ctx context.Context, sourceType, sourceID string, minChunk int) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM embedding_vectors WHERE source_type = $1 AND source_id = $2 AND chunk_index >= $3`,
		sourceType, sourceID, minChunk)
	if err != nil {
		return fmt.Errorf("trimming vectors: %w", err)
	}
	return nil
}

// Close closes the pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
