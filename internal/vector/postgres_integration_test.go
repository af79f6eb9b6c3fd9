package vector_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chantio/chantio/internal/log"
	"github.com/chantio/chantio/internal/testutil"
	"github.com/chantio/chantio/internal/vector"
)

func TestPostgresRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	repo := vector.NewPostgresRepository(db.Pool)
	require.NoError(t, repo.EnsureSchema(ctx))

	now := time.Now().UTC().Truncate(time.Millisecond)
	v := vector.Vector{
		SourceType: vector.SourceTypeSubcontractor,
		SourceID:   "sub-7",
		ChunkIndex: 0,
		Text:       "electrician, available from March, covers the north region",
		Values:     []float32{0.6, 0.8},
		Model:      "nomic-embed-text",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, repo.Upsert(ctx, v))

	// Replace by key.
	v.Text = "electrician, fully booked"
	require.NoError(t, repo.Upsert(ctx, v))

	vecs, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, "electrician, fully booked", vecs[0].Text)
	assert.Equal(t, []float32{0.6, 0.8}, vecs[0].Values)
	assert.Equal(t, v.Key(), vecs[0].Key())

	// The Store works identically over this backend.
	store := vector.New(repo, log.NewNop())
	require.NoError(t, store.Load(ctx))
	results := store.Search([]float32{0.6, 0.8}, 5)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)

	require.NoError(t, repo.DeleteBySource(ctx, vector.SourceTypeSubcontractor, "sub-7"))
	vecs, err = repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}
