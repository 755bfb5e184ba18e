package search

import (
	"context"
	"sort"
	"strings"

	kberrors "github.com/kbsearch/kbsearch/internal/errors"
	"github.com/kbsearch/kbsearch/internal/rerank"
)

// rerankCandidates scores the combined recall candidates with the
// cross-encoder and returns them in rerank order. The candidate set is
// the embedding list plus any full-text items not already in it, with
// duplicate content collapsed before spending reranker budget on it.
func (e *Engine) rerankCandidates(ctx context.Context, query string, embList, ftList []SearchResultItem) ([]SearchResultItem, int, error) {
	seen := make(map[string]struct{}, len(embList))
	candidates := make([]SearchResultItem, 0, len(embList)+len(ftList))
	for _, item := range embList {
		seen[item.ID] = struct{}{}
		candidates = append(candidates, item)
	}
	for _, item := range ftList {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		candidates = append(candidates, item)
	}
	candidates = DedupeByContent(candidates)
	if len(candidates) == 0 {
		return nil, 0, nil
	}

	docs := make([]rerank.Document, len(candidates))
	byID := make(map[string]SearchResultItem, len(candidates))
	for i, c := range candidates {
		text := c.Q
		if c.A != "" {
			text = c.Q + "\n" + c.A
		}
		docs[i] = rerank.Document{ID: c.ID, Text: strings.TrimSpace(text)}
		byID[c.ID] = c
	}

	results, tokens, err := e.reranker.Rerank(ctx, query, docs)
	if err != nil {
		return nil, 0, err
	}
	if len(results) == 0 {
		return nil, 0, kberrors.New(kberrors.ErrCodeRerankFailed, "reranker returned no results", nil)
	}
	if tokens == 0 {
		// Not every rerank endpoint reports usage.
		tokens = EstimateTokens(query)
		for _, d := range docs {
			tokens += EstimateTokens(d.Text)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	out := make([]SearchResultItem, 0, len(results))
	for _, r := range results {
		item, ok := byID[r.ID]
		if !ok {
			continue
		}
		out = append(out, item.withScore(ScoreEntry{
			Type:  ScoreReRank,
			Value: r.Score,
			Index: len(out),
		}))
	}
	return out, tokens, nil
}
