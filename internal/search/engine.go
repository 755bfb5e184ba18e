package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kbsearch/kbsearch/internal/embed"
	kberrors "github.com/kbsearch/kbsearch/internal/errors"
	"github.com/kbsearch/kbsearch/internal/index"
	"github.com/kbsearch/kbsearch/internal/rerank"
	"github.com/kbsearch/kbsearch/internal/store"
)

// maxConcurrentRecalls bounds parallel full-text recalls per search.
const maxConcurrentRecalls = 4

// Engine runs hybrid searches over a document store and its recall
// indexes.
type Engine struct {
	store    store.DocumentStore
	vector   index.VectorIndex
	text     index.TextIndex
	embedder embed.Embedder
	reranker rerank.Reranker
	log      *slog.Logger
}

// Deps carries the engine's collaborators.
type Deps struct {
	Store    store.DocumentStore
	Vector   index.VectorIndex
	Text     index.TextIndex
	Embedder embed.Embedder
	Reranker rerank.Reranker
	Logger   *slog.Logger
}

// NewEngine creates a search engine. A nil reranker falls back to the
// no-op implementation; a nil logger falls back to slog.Default.
func NewEngine(deps Deps) *Engine {
	if deps.Reranker == nil {
		deps.Reranker = rerank.NoOpReranker{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Engine{
		store:    deps.Store,
		vector:   deps.Vector,
		text:     deps.Text,
		embedder: deps.Embedder,
		reranker: deps.Reranker,
		log:      deps.Logger,
	}
}

// Search executes the full retrieval pipeline for one request.
func (e *Engine) Search(ctx context.Context, params SearchParams) (SearchResponse, error) {
	start := time.Now()

	queries := nonBlankQueries(params.Queries)
	if len(queries) == 0 {
		return SearchResponse{}, kberrors.New(kberrors.ErrCodeQueryEmpty, "search requires a non-empty query", nil)
	}
	if len(params.DatasetIDs) == 0 {
		return SearchResponse{}, kberrors.New(kberrors.ErrCodeDatasetEmpty, "search requires at least one dataset", nil)
	}
	mode := params.Mode
	if mode == "" {
		mode = ModeEmbedding
	}
	if mode != ModeEmbedding && mode != ModeFullText && mode != ModeMixed {
		return SearchResponse{}, kberrors.Newf(kberrors.ErrCodeInvalidInput, "unknown search mode %q", mode)
	}

	filter, err := ParseCollectionFilter(params.CollectionFilterMatch)
	if err != nil {
		return SearchResponse{}, err
	}
	scope, err := e.resolveScope(ctx, params.DatasetIDs, filter)
	if err != nil {
		return SearchResponse{}, err
	}

	limits := countRecallLimit(mode)
	embList, ftList, embedTokens, err := e.multiQueryRecall(ctx, queries, params.DatasetIDs, limits, scope)
	if err != nil {
		return SearchResponse{}, err
	}

	usingReRank := params.UsingReRank && e.reranker.Available()
	var rerankResults []SearchResultItem
	var rerankTokens int
	if usingReRank {
		rerankQuery := params.RerankQuery
		if rerankQuery == "" {
			rerankQuery = queries[0]
		}
		rerankResults, rerankTokens, err = e.rerankCandidates(ctx, rerankQuery, embList, ftList)
		if err != nil {
			// Reranking is best effort; degrade to fusion scores.
			e.log.Warn("rerank_degraded", "error", err)
			usingReRank = false
			rerankResults = nil
		}
	}

	fused := e.finalFusion(params, embList, ftList, rerankResults, usingReRank)
	fused = DedupeByContent(fused)

	usingSimilarityFilter := false
	if params.Similarity > 0 {
		fused, usingSimilarityFilter = filterBySimilarity(fused, params.Similarity, usingReRank, mode)
	}

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 3000
	}
	fused = FilterByMaxTokens(fused, maxTokens)

	e.log.Info("search_complete",
		"queries", len(queries),
		"mode", string(mode),
		"results", len(fused),
		"rerank", usingReRank,
		"duration_ms", time.Since(start).Milliseconds())

	return SearchResponse{
		Items:                 fused,
		EmbeddingTokens:       embedTokens,
		RerankInputTokens:     rerankTokens,
		UsingReRank:           usingReRank,
		UsingSimilarityFilter: usingSimilarityFilter,
	}, nil
}

// multiQueryRecall runs both channels for every query and merges the
// per-query lists per channel with equal-weight fusion, capped at the
// channel's recall limit.
func (e *Engine) multiQueryRecall(ctx context.Context, queries []string, datasetIDs []string, limits recallLimits, scope collectionScope) ([]SearchResultItem, []SearchResultItem, int, error) {
	var (
		embPerQuery [][]SearchResultItem
		ftPerQuery  = make([][]SearchResultItem, len(queries))
		embedTokens int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRecalls)

	g.Go(func() error {
		lists, tokens, err := e.embeddingRecall(gctx, queries, datasetIDs, limits.embedding, scope)
		if err != nil {
			return err
		}
		embPerQuery = lists
		embedTokens = tokens
		return nil
	})
	for i, q := range queries {
		g.Go(func() error {
			items, err := e.fullTextRecall(gctx, q, datasetIDs, limits.fullText, scope)
			if err != nil {
				return err
			}
			ftPerQuery[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, 0, err
	}

	embMerged := mergePerQuery(embPerQuery, limits.embedding)
	ftMerged := mergePerQuery(ftPerQuery, limits.fullText)
	return embMerged, ftMerged, embedTokens, nil
}

// mergePerQuery fuses the per-query lists of one channel with weight 1
// each and caps the merged list.
func mergePerQuery(lists [][]SearchResultItem, limit int) []SearchResultItem {
	weighted := make([]WeightedList, len(lists))
	for i, l := range lists {
		weighted[i] = WeightedList{Weight: 1, Items: l}
	}
	merged := FuseResults(weighted...)
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// finalFusion combines the two channel lists, and the rerank list when
// present, into the final ranking. A rerank weight of 1 makes the
// cross-encoder ordering authoritative.
func (e *Engine) finalFusion(params SearchParams, embList, ftList, rerankResults []SearchResultItem, usingReRank bool) []SearchResultItem {
	embeddingWeight := params.EmbeddingWeight
	if embeddingWeight <= 0 || embeddingWeight > 1 {
		embeddingWeight = 0.5
	}

	channelFused := FuseResults(
		WeightedList{Weight: embeddingWeight, Items: embList},
		WeightedList{Weight: 1 - embeddingWeight, Items: ftList},
	)

	if !usingReRank || len(rerankResults) == 0 {
		return channelFused
	}

	rerankWeight := params.RerankWeight
	if rerankWeight <= 0 || rerankWeight > 1 {
		rerankWeight = 0.5
	}
	if rerankWeight == 1 {
		return rerankResults
	}
	return FuseResults(
		WeightedList{Weight: rerankWeight, Items: rerankResults},
		WeightedList{Weight: 1 - rerankWeight, Items: channelFused},
	)
}

func nonBlankQueries(queries []string) []string {
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		if strings.TrimSpace(q) != "" {
			out = append(out, q)
		}
	}
	return out
}
