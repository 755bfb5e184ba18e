package search

import (
	"context"
	"strings"

	"github.com/kbsearch/kbsearch/internal/errors"
	"github.com/kbsearch/kbsearch/internal/index"
	"github.com/kbsearch/kbsearch/internal/store"
)

// embeddingRecall embeds every query in one batch call and runs vector
// recall per query. Hydration happens once over the union of hits;
// index entries whose record has gone missing are dropped with a log
// line rather than failing recall.
func (e *Engine) embeddingRecall(ctx context.Context, queries []string, datasetIDs []string, limit int, scope collectionScope) ([][]SearchResultItem, int, error) {
	if limit <= 0 || len(queries) == 0 {
		return make([][]SearchResultItem, len(queries)), 0, nil
	}

	var embedTokens int
	vectors, err := errors.RetryWithResult(ctx, errors.DefaultRetryConfig(), func() ([][]float32, error) {
		vecs, tokens, err := e.embedder.Embed(ctx, queries)
		if err == nil {
			embedTokens = tokens
		}
		return vecs, err
	})
	if err != nil {
		return nil, 0, err
	}

	hitsPerQuery := make([][]index.Hit, len(queries))
	for i, vec := range vectors {
		hits, err := e.vector.Recall(ctx, vec, limit, scope.allow, scope.deny)
		if err != nil {
			return nil, 0, errors.Wrap(errors.ErrCodeIndexRecall, err)
		}
		hitsPerQuery[i] = hits
	}

	var indexIDs []string
	for _, hits := range hitsPerQuery {
		for _, h := range hits {
			indexIDs = append(indexIDs, h.ID)
		}
	}
	records, err := e.store.FindDataByIndexIDs(ctx, datasetIDs, indexIDs)
	if err != nil {
		return nil, 0, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}

	recordByIndexID := make(map[string]store.DataRecord)
	for _, r := range records {
		for _, idx := range r.Indexes {
			recordByIndexID[idx.IndexID] = r
		}
	}

	results := make([][]SearchResultItem, len(queries))
	for qi, hits := range hitsPerQuery {
		seen := make(map[string]struct{}, len(hits))
		items := make([]SearchResultItem, 0, len(hits))
		for _, h := range hits {
			r, ok := recordByIndexID[h.ID]
			if !ok {
				e.log.Warn("vector_hit_missing_record", "index_id", h.ID)
				continue
			}
			// Several index entries can point at the same record; the
			// best ranked hit wins.
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			items = append(items, recordToItem(r).withScore(ScoreEntry{
				Type:  ScoreEmbedding,
				Value: h.Score,
				Index: len(items),
			}))
		}
		results[qi] = items
	}
	return results, embedTokens, nil
}

// fullTextRecall runs lexical recall for one query and hydrates the hits.
func (e *Engine) fullTextRecall(ctx context.Context, query string, datasetIDs []string, limit int, scope collectionScope) ([]SearchResultItem, error) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	terms := SegmentQuery(query)
	if len(terms) == 0 {
		return nil, nil
	}

	hits, err := e.text.Search(ctx, strings.Join(terms, " "), limit, scope.allow, scope.deny)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeIndexRecall, err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	records, err := e.store.FindDataByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQuery, err)
	}
	byID := make(map[string]store.DataRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	items := make([]SearchResultItem, 0, len(hits))
	for _, h := range hits {
		r, ok := byID[h.ID]
		if !ok {
			e.log.Warn("fulltext_hit_missing_record", "data_id", h.ID)
			continue
		}
		items = append(items, recordToItem(r).withScore(ScoreEntry{
			Type:  ScoreFullText,
			Value: h.Score,
			Index: len(items),
		}))
	}
	return items, nil
}

func recordToItem(r store.DataRecord) SearchResultItem {
	return SearchResultItem{
		ID:           r.ID,
		DatasetID:    r.DatasetID,
		CollectionID: r.CollectionID,
		Q:            r.Q,
		A:            r.A,
		ChunkIndex:   r.ChunkIndex,
		UpdateTime:   r.UpdateTime,
	}
}
