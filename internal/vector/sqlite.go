package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLiteRepository persists vectors in a SQLite table. The embedding is
// stored as a JSON array; search never touches SQL, so no vector extension
// is needed.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository wraps an open database. The schema is managed by
// internal/database migrations.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// LoadAll returns every stored vector.
func (r *SQLiteRepository) LoadAll(ctx context.Context) ([]Vector, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT source_type, source_id, chunk_index, text, embedding, model, created_at, updated_at
		FROM embedding_vectors`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var vecs []Vector
	for rows.Next() {
		var v Vector
		var embedding []byte
		var createdAt, updatedAt string
		if err := rows.Scan(&v.SourceType, &v.SourceID, &v.ChunkIndex, &v.Text,
			&embedding, &v.Model, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}
		if err := json.Unmarshal(embedding, &v.Values); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s/%s[%d]: %w",
				v.SourceType, v.SourceID, v.ChunkIndex, err)
		}
		if v.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if v.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		vecs = append(vecs, v)
	}
	return vecs, rows.Err()
}

// Upsert inserts or replaces a vector by its key.
func (r *SQLiteRepository) Upsert(ctx context.Context, v Vector) error {
	embedding, err := json.Marshal(v.Values)
	if err != nil {
		return fmt.Errorf("encoding embedding: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO embedding_vectors
			(source_type, source_id, chunk_index, text, embedding, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_type, source_id, chunk_index) DO UPDATE SET
			text = excluded.text,
			embedding = excluded.embedding,
			model = excluded.model,
			updated_at = excluded.updated_at`,
		v.SourceType, v.SourceID, v.ChunkIndex, v.Text, embedding, v.Model,
		v.CreatedAt.UTC().Format(time.RFC3339Nano), v.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upserting vector: %w", err)
	}
	return nil
}

// DeleteBySource removes all chunks of one source record.
func (r *SQLiteRepository) DeleteBySource(ctx context.Context, sourceType, sourceID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM embedding_vectors WHERE source_type = ? AND source_id = ?`,
		sourceType, sourceID)
	if err != nil {
		return fmt.Errorf("deleting vectors: %w", err)
	}
	return nil
}

// DeleteChunksFrom removes chunks with index >= minChunk.
func (r *SQLiteRepository) DeleteChunksFrom(ctx context.Context, sourceType, sourceID string, minChunk int) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM embedding_vectors WHERE source_type = ? AND source_id = ? AND chunk_index >= ?`,
		sourceType, sourceID, minChunk)
	if err != nil {
		return fmt.Errorf("trimming vectors: %w", err)
	}
	return nil
}

// Close is a no-op; the database handle is owned by the caller.
func (*SQLiteRepository) Close() error { return nil }
