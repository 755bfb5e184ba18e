package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHNSWRecallRanksByCosineSimilarity(t *testing.T) {
	idx := NewHNSWIndex()
	require.NoError(t, idx.Add(
		VectorEntry{IndexID: "idx-close", CollectionID: "c1", Vector: []float32{1, 0.1, 0}},
		VectorEntry{IndexID: "idx-far", CollectionID: "c1", Vector: []float32{0, 1, 0}},
		VectorEntry{IndexID: "idx-mid", CollectionID: "c2", Vector: []float32{1, 1, 0}},
	))
	assert.Equal(t, 3, idx.Len())

	hits, err := idx.Recall(context.Background(), []float32{1, 0, 0}, 3, nil, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "idx-close", hits[0].ID)
	assert.Equal(t, "idx-far", hits[2].ID)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 1.0)
	}
}

func TestHNSWRecallCollectionFilters(t *testing.T) {
	idx := NewHNSWIndex()
	require.NoError(t, idx.Add(
		VectorEntry{IndexID: "a", CollectionID: "c1", Vector: []float32{1, 0}},
		VectorEntry{IndexID: "b", CollectionID: "c2", Vector: []float32{0.9, 0.1}},
		VectorEntry{IndexID: "c", CollectionID: "c3", Vector: []float32{0.8, 0.2}},
	))
	ctx := context.Background()
	query := []float32{1, 0}

	t.Run("allow restricts", func(t *testing.T) {
		hits, err := idx.Recall(ctx, query, 3, []string{"c2"}, nil)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "b", hits[0].ID)
	})

	t.Run("empty allow denies everything", func(t *testing.T) {
		hits, err := idx.Recall(ctx, query, 3, []string{}, nil)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("deny excludes", func(t *testing.T) {
		hits, err := idx.Recall(ctx, query, 3, nil, []string{"c1"})
		require.NoError(t, err)
		require.Len(t, hits, 2)
		for _, h := range hits {
			assert.NotEqual(t, "c1", h.CollectionID)
		}
	})
}

func TestHNSWAddValidation(t *testing.T) {
	idx := NewHNSWIndex()
	err := idx.Add(VectorEntry{IndexID: "bad", CollectionID: "c1"})
	require.Error(t, err)

	// Re-adding an index id replaces its vector rather than growing the index.
	require.NoError(t, idx.Add(VectorEntry{IndexID: "a", CollectionID: "c1", Vector: []float32{1, 0}}))
	require.NoError(t, idx.Add(VectorEntry{IndexID: "a", CollectionID: "c2", Vector: []float32{0, 1}}))
	assert.Equal(t, 1, idx.Len())

	// Recall sees only the replacement vector and collection.
	hits, err := idx.Recall(context.Background(), []float32{0, 1}, 5, nil, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "c2", hits[0].CollectionID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)

	hits, err = idx.Recall(context.Background(), []float32{1, 0}, 5, nil, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c2", hits[0].CollectionID, "stale node must never surface")
}

func TestHNSWRecallTruncationKeepsNearest(t *testing.T) {
	idx := NewHNSWIndex()
	require.NoError(t, idx.Add(
		VectorEntry{IndexID: "best", CollectionID: "c1", Vector: []float32{1, 0, 0}},
		VectorEntry{IndexID: "good", CollectionID: "c1", Vector: []float32{1, 0.2, 0}},
		VectorEntry{IndexID: "ok", CollectionID: "c1", Vector: []float32{1, 1, 0}},
		VectorEntry{IndexID: "worst", CollectionID: "c1", Vector: []float32{0, 0, 1}},
	))

	hits, err := idx.Recall(context.Background(), []float32{1, 0, 0}, 2, nil, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "best", hits[0].ID)
	assert.Equal(t, "good", hits[1].ID)
}

func TestHNSWRecallEmptyIndex(t *testing.T) {
	idx := NewHNSWIndex()
	hits, err := idx.Recall(context.Background(), []float32{1, 0}, 5, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
