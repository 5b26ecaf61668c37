package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorOps(t *testing.T) {
	w := newTestWorker(t, t.TempDir(), RuntimeConfig{})
	ctx := context.Background()

	collection := "bookmarks"
	vector := []float32{0.1, 0.2, 0.3, 0.4, 0.5}
	metadata := map[string]string{"session_id": "s-1", "url": "https://go.dev"}

	results, err := w.SearchVectors(ctx, collection, vector, 3, nil)
	require.NoError(t, err)
	assert.Empty(t, results, "unknown collection yields nothing")

	require.NoError(t, w.UpsertVector(ctx, collection, "bm_01", vector, metadata, "The Go website"))
	require.NoError(t, w.UpsertVector(ctx, collection, "bm_02", []float32{0.9, 0.1, 0, 0, 0}, map[string]string{"session_id": "s-2"}, "Other session"))

	results, err = w.SearchVectors(ctx, collection, vector, 10, map[string]string{"session_id": "s-1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "bm_01", results[0].ID)
	assert.Equal(t, "The Go website", results[0].Content)
	assert.Equal(t, metadata, results[0].Metadata)
	assert.InDelta(t, 1.0, results[0].Score, 0.0001)

	results, err = w.SearchVectors(ctx, collection, []float32{0.9, 0.1, 0, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "bm_02", results[0].ID)

	require.NoError(t, w.UpsertVector(ctx, collection, "bm_01", vector, metadata, "Updated title"))
	results, err = w.SearchVectors(ctx, collection, vector, 1, map[string]string{"session_id": "s-1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Updated title", results[0].Content)
}
