package vector_test

import (
	"context"
	"testing"
	"time"

	"github.com/chantio/chantio/internal/database"
	"github.com/chantio/chantio/internal/log"
	"github.com/chantio/chantio/internal/vector"
)

func openRepo(t *testing.T) *vector.SQLiteRepository {
	t.Helper()
	db, err := database.OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return vector.NewSQLiteRepository(db.DB)
}

func TestSQLiteRepository_RoundTrip(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	v := vector.Vector{
		SourceType: vector.SourceTypeQuote,
		SourceID:   "q-42",
		ChunkIndex: 0,
		Text:       "quote for bathroom renovation, blue tile 30x30",
		Values:     []float32{0.6, 0.8},
		Model:      "nomic-embed-text",
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
		UpdatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := repo.Upsert(ctx, v); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	vecs, err := repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(vecs) != 1 {
		t.Fatalf("got %d vectors, want 1", len(vecs))
	}
	got := vecs[0]
	if got.Key() != v.Key() {
		t.Errorf("key = %v, want %v", got.Key(), v.Key())
	}
	if got.Text != v.Text || got.Model != v.Model {
		t.Errorf("text/model mismatch: %+v", got)
	}
	if len(got.Values) != 2 || got.Values[0] != 0.6 {
		t.Errorf("values = %v", got.Values)
	}
	if !got.CreatedAt.Equal(v.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, v.CreatedAt)
	}
}

func TestSQLiteRepository_UpsertReplacesByKey(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	v := vector.Vector{
		SourceType: vector.SourceTypeSite, SourceID: "s1", ChunkIndex: 0,
		Text: "old", Values: []float32{1}, Model: "m",
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := repo.Upsert(ctx, v); err != nil {
		t.Fatal(err)
	}
	v.Text = "new"
	if err := repo.Upsert(ctx, v); err != nil {
		t.Fatal(err)
	}

	vecs, err := repo.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 1 || vecs[0].Text != "new" {
		t.Errorf("upsert did not replace: %+v", vecs)
	}
}

func TestSQLiteRepository_DeleteBySourceAndTrim(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := repo.Upsert(ctx, vector.Vector{
			SourceType: vector.SourceTypeDocument, SourceID: "d1", ChunkIndex: i,
			Text: "chunk", Values: []float32{1}, Model: "m",
			CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	if err := repo.DeleteChunksFrom(ctx, vector.SourceTypeDocument, "d1", 1); err != nil {
		t.Fatalf("DeleteChunksFrom: %v", err)
	}
	vecs, _ := repo.LoadAll(ctx)
	if len(vecs) != 1 || vecs[0].ChunkIndex != 0 {
		t.Errorf("after trim: %+v", vecs)
	}

	if err := repo.DeleteBySource(ctx, vector.SourceTypeDocument, "d1"); err != nil {
		t.Fatalf("DeleteBySource: %v", err)
	}
	vecs, _ = repo.LoadAll(ctx)
	if len(vecs) != 0 {
		t.Errorf("after delete: %+v", vecs)
	}
}

// TestStoreOverSQLite exercises the Store through the real sqlite backend.
func TestStoreOverSQLite(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	s := vector.New(repo, log.NewNop())
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	err := s.Upsert(ctx, vector.Vector{
		SourceType: vector.SourceTypeQuote, SourceID: "q1",
		Values: vector.L2Normalize([]float32{3, 4}), Model: "m", Text: "t",
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// A fresh Store over the same repo must see the persisted vector.
	s2 := vector.New(repo, log.NewNop())
	if err := s2.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	results := s2.Search([]float32{0.6, 0.8}, 1)
	if len(results) != 1 || results[0].SourceID != "q1" {
		t.Fatalf("search after reload: %+v", results)
	}
	if results[0].Score < 0.999 {
		t.Errorf("score = %f, want ~1.0", results[0].Score)
	}
}
