package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/kbsearch/kbsearch/internal/errors"
	"github.com/kbsearch/kbsearch/internal/index"
	"github.com/kbsearch/kbsearch/internal/rerank"
	"github.com/kbsearch/kbsearch/internal/store"
)

type stubVector struct {
	hits []index.Hit
}

func (s *stubVector) Recall(_ context.Context, _ []float32, limit int, allow, deny []string) ([]index.Hit, error) {
	return filterHits(s.hits, limit, allow, deny), nil
}

type stubText struct {
	hits []index.Hit
}

func (s *stubText) Search(_ context.Context, _ string, limit int, allow, deny []string) ([]index.Hit, error) {
	return filterHits(s.hits, limit, allow, deny), nil
}

func filterHits(hits []index.Hit, limit int, allow, deny []string) []index.Hit {
	allowSet := map[string]struct{}{}
	for _, a := range allow {
		allowSet[a] = struct{}{}
	}
	denySet := map[string]struct{}{}
	for _, d := range deny {
		denySet[d] = struct{}{}
	}

	var out []index.Hit
	for _, h := range hits {
		if allow != nil {
			if _, ok := allowSet[h.CollectionID]; !ok {
				continue
			}
		}
		if _, ok := denySet[h.CollectionID]; ok {
			continue
		}
		out = append(out, h)
		if len(out) >= limit {
			break
		}
	}
	return out
}

type fixedEmbedder struct{ tokens int }

func (f fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, int, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, f.tokens, nil
}
func (fixedEmbedder) ModelName() string { return "fixed" }
func (fixedEmbedder) Dimensions() int   { return 2 }

type stubReranker struct {
	scores map[string]float64
	err    error
}

func (s *stubReranker) Rerank(_ context.Context, _ string, docs []rerank.Document) ([]rerank.Result, int, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	out := make([]rerank.Result, 0, len(docs))
	for _, d := range docs {
		out = append(out, rerank.Result{ID: d.ID, Score: s.scores[d.ID]})
	}
	return out, 11, nil
}
func (s *stubReranker) Available() bool { return true }

func seedEngineStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ms := store.NewMemoryStore()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	ms.AddCollections(
		store.Collection{ID: "col-open", DatasetID: "ds1", Type: store.CollectionTypeFile, CreateTime: now},
		store.Collection{ID: "col-forbidden", DatasetID: "ds1", Type: store.CollectionTypeFile, Forbid: true, CreateTime: now},
	)
	ms.AddData(
		store.DataRecord{
			ID: "data-1", DatasetID: "ds1", CollectionID: "col-open",
			Q: "first answer", UpdateTime: now,
			Indexes: []store.DataIndex{{IndexID: "idx-1", Text: "first answer"}},
		},
		store.DataRecord{
			ID: "data-2", DatasetID: "ds1", CollectionID: "col-open",
			Q: "second answer", UpdateTime: now,
			Indexes: []store.DataIndex{{IndexID: "idx-2", Text: "second answer"}},
		},
		store.DataRecord{
			ID: "data-3", DatasetID: "ds1", CollectionID: "col-forbidden",
			Q: "secret answer", UpdateTime: now,
			Indexes: []store.DataIndex{{IndexID: "idx-3", Text: "secret answer"}},
		},
	)
	return ms
}

func newTestEngine(t *testing.T, reranker rerank.Reranker) *Engine {
	t.Helper()
	return NewEngine(Deps{
		Store: seedEngineStore(t),
		Vector: &stubVector{hits: []index.Hit{
			{ID: "idx-1", CollectionID: "col-open", Score: 0.9},
			{ID: "idx-3", CollectionID: "col-forbidden", Score: 0.85},
			{ID: "idx-2", CollectionID: "col-open", Score: 0.7},
		}},
		Text: &stubText{hits: []index.Hit{
			{ID: "data-2", CollectionID: "col-open", Score: 4.1},
			{ID: "data-3", CollectionID: "col-forbidden", Score: 3.0},
			{ID: "data-1", CollectionID: "col-open", Score: 2.2},
		}},
		Embedder: fixedEmbedder{tokens: 7},
		Reranker: reranker,
	})
}

func TestSearchValidation(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.Search(ctx, SearchParams{DatasetIDs: []string{"ds1"}})
	assert.Equal(t, kberrors.ErrCodeQueryEmpty, kberrors.GetCode(err))

	_, err = e.Search(ctx, SearchParams{Queries: []string{"  "}, DatasetIDs: []string{"ds1"}})
	assert.Equal(t, kberrors.ErrCodeQueryEmpty, kberrors.GetCode(err))

	_, err = e.Search(ctx, SearchParams{Queries: []string{"q"}})
	assert.Equal(t, kberrors.ErrCodeDatasetEmpty, kberrors.GetCode(err))

	_, err = e.Search(ctx, SearchParams{Queries: []string{"q"}, DatasetIDs: []string{"ds1"}, Mode: "bogus"})
	assert.Equal(t, kberrors.ErrCodeInvalidInput, kberrors.GetCode(err))

	_, err = e.Search(ctx, SearchParams{
		Queries: []string{"q"}, DatasetIDs: []string{"ds1"},
		CollectionFilterMatch: "not a filter at all",
	})
	assert.Equal(t, kberrors.ErrCodeInvalidFilter, kberrors.GetCode(err))
}

func TestSearchEmbeddingMode(t *testing.T) {
	e := newTestEngine(t, nil)

	resp, err := e.Search(context.Background(), SearchParams{
		Queries:    []string{"first"},
		DatasetIDs: []string{"ds1"},
		Mode:       ModeEmbedding,
	})
	require.NoError(t, err)
	require.Len(t, resp.Items, 2, "forbidden collection never surfaces")
	assert.Equal(t, "data-1", resp.Items[0].ID)
	assert.Equal(t, "data-2", resp.Items[1].ID)
	assert.Equal(t, 7, resp.EmbeddingTokens)
	assert.False(t, resp.UsingReRank)

	emb, ok := resp.Items[0].scoreOfType(ScoreEmbedding)
	require.True(t, ok)
	assert.InDelta(t, 0.9, emb.Value, 1e-9)
}

func TestSearchFullTextMode(t *testing.T) {
	e := newTestEngine(t, nil)

	resp, err := e.Search(context.Background(), SearchParams{
		Queries:    []string{"second answer"},
		DatasetIDs: []string{"ds1"},
		Mode:       ModeFullText,
	})
	require.NoError(t, err)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "data-2", resp.Items[0].ID)
	assert.Zero(t, resp.EmbeddingTokens, "full-text mode never embeds")

	_, hasEmb := resp.Items[0].scoreOfType(ScoreEmbedding)
	assert.False(t, hasEmb)
}

func TestSearchMixedModeFuses(t *testing.T) {
	e := newTestEngine(t, nil)

	resp, err := e.Search(context.Background(), SearchParams{
		Queries:         []string{"answer"},
		DatasetIDs:      []string{"ds1"},
		Mode:            ModeMixed,
		EmbeddingWeight: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, resp.Items, 2)

	for _, item := range resp.Items {
		assert.NotEqual(t, "data-3", item.ID)
		_, hasRRF := item.scoreOfType(ScoreRRF)
		assert.True(t, hasRRF, "mixed mode attaches fusion scores")
	}
}

func TestSearchForbiddenInvariantAcrossModes(t *testing.T) {
	e := newTestEngine(t, nil)

	for _, mode := range ValidModes() {
		resp, err := e.Search(context.Background(), SearchParams{
			Queries:    []string{"secret answer"},
			DatasetIDs: []string{"ds1"},
			Mode:       mode,
		})
		require.NoError(t, err, "mode %s", mode)
		for _, item := range resp.Items {
			assert.NotEqual(t, "data-3", item.ID, "mode %s leaked a forbidden item", mode)
		}
	}
}

func TestSearchRerankAuthoritativeAtFullWeight(t *testing.T) {
	// The cross-encoder disagrees with both recall channels.
	reranker := &stubReranker{scores: map[string]float64{"data-2": 0.95, "data-1": 0.30}}
	e := newTestEngine(t, reranker)

	resp, err := e.Search(context.Background(), SearchParams{
		Queries:      []string{"answer"},
		DatasetIDs:   []string{"ds1"},
		Mode:         ModeMixed,
		UsingReRank:  true,
		RerankWeight: 1,
	})
	require.NoError(t, err)
	require.True(t, resp.UsingReRank)
	assert.Equal(t, 11, resp.RerankInputTokens)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "data-2", resp.Items[0].ID)
	assert.Equal(t, "data-1", resp.Items[1].ID)

	rr, ok := resp.Items[0].scoreOfType(ScoreReRank)
	require.True(t, ok)
	assert.InDelta(t, 0.95, rr.Value, 1e-9)
	assert.Equal(t, 0, rr.Index)
}

func TestSearchSimilarityFilterUsesRerankScore(t *testing.T) {
	reranker := &stubReranker{scores: map[string]float64{"data-1": 0.9, "data-2": 0.7}}
	e := newTestEngine(t, reranker)

	resp, err := e.Search(context.Background(), SearchParams{
		Queries:      []string{"answer"},
		DatasetIDs:   []string{"ds1"},
		Mode:         ModeMixed,
		UsingReRank:  true,
		RerankWeight: 1,
		Similarity:   0.8,
	})
	require.NoError(t, err)
	assert.True(t, resp.UsingSimilarityFilter)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "data-1", resp.Items[0].ID)
}

// subsetReranker scores only the documents it knows and omits the rest
// from its results.
type subsetReranker struct{ scores map[string]float64 }

func (s *subsetReranker) Rerank(_ context.Context, _ string, docs []rerank.Document) ([]rerank.Result, int, error) {
	out := make([]rerank.Result, 0, len(docs))
	for _, d := range docs {
		if score, ok := s.scores[d.ID]; ok {
			out = append(out, rerank.Result{ID: d.ID, Score: score})
		}
	}
	return out, 11, nil
}
func (s *subsetReranker) Available() bool { return true }

func TestSearchSimilarityFilterKeepsUnrerankedItems(t *testing.T) {
	// Only data-1 comes back scored. Items the reranker omitted carry no
	// rerank entry and must not be filtered for lacking one.
	e := newTestEngine(t, &subsetReranker{scores: map[string]float64{"data-1": 0.9}})

	resp, err := e.Search(context.Background(), SearchParams{
		Queries:      []string{"answer"},
		DatasetIDs:   []string{"ds1"},
		Mode:         ModeMixed,
		UsingReRank:  true,
		RerankWeight: 0.5,
		Similarity:   0.1,
	})
	require.NoError(t, err)
	assert.True(t, resp.UsingSimilarityFilter)
	assert.Len(t, resp.Items, 2)
}

func TestSearchSimilarityFilterSkippedInMixedWithoutRerank(t *testing.T) {
	e := newTestEngine(t, nil)

	resp, err := e.Search(context.Background(), SearchParams{
		Queries:    []string{"answer"},
		DatasetIDs: []string{"ds1"},
		Mode:       ModeMixed,
		Similarity: 0.99,
	})
	require.NoError(t, err)
	assert.False(t, resp.UsingSimilarityFilter)
	assert.Len(t, resp.Items, 2, "threshold does not apply without a gating score")
}

func TestSearchRerankFailureDegrades(t *testing.T) {
	reranker := &stubReranker{err: kberrors.New(kberrors.ErrCodeRerankFailed, "service down", nil)}
	e := newTestEngine(t, reranker)

	resp, err := e.Search(context.Background(), SearchParams{
		Queries:      []string{"answer"},
		DatasetIDs:   []string{"ds1"},
		Mode:         ModeMixed,
		UsingReRank:  true,
		RerankWeight: 1,
	})
	require.NoError(t, err, "rerank failure is not fatal")
	assert.False(t, resp.UsingReRank)
	assert.Len(t, resp.Items, 2)
}

func TestSearchMultiQueryMergesAcrossQueries(t *testing.T) {
	e := newTestEngine(t, nil)

	resp, err := e.Search(context.Background(), SearchParams{
		Queries:    []string{"first answer", "second answer"},
		DatasetIDs: []string{"ds1"},
		Mode:       ModeEmbedding,
	})
	require.NoError(t, err)
	require.Len(t, resp.Items, 2)

	// Two query lists entered fusion, so items carry a fusion entry.
	_, hasRRF := resp.Items[0].scoreOfType(ScoreRRF)
	assert.True(t, hasRRF)
}

type silentUsageReranker struct{ stubReranker }

func (s *silentUsageReranker) Rerank(ctx context.Context, query string, docs []rerank.Document) ([]rerank.Result, int, error) {
	out, _, err := s.stubReranker.Rerank(ctx, query, docs)
	return out, 0, err
}

func TestRerankTokensEstimatedWhenUnreported(t *testing.T) {
	e := newTestEngine(t, &silentUsageReranker{stubReranker{
		scores: map[string]float64{"data-1": 0.9, "data-2": 0.5},
	}})

	resp, err := e.Search(context.Background(), SearchParams{
		Queries:     []string{"first answer"},
		DatasetIDs:  []string{"ds1"},
		Mode:        ModeEmbedding,
		UsingReRank: true,
	})
	require.NoError(t, err)
	assert.True(t, resp.UsingReRank)
	assert.Positive(t, resp.RerankInputTokens)
}
