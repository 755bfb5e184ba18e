// Package rerank scores candidate passages against a query with a
// cross-encoder. Reranking is optional; when the service is unavailable
// the engine degrades to fusion scores.
package rerank

import "context"

// Document is one candidate passage sent to the reranker.
type Document struct {
	ID   string
	Text string
}

// Result is one scored passage. Score is the cross-encoder relevance in
// [0, 1], higher is better.
type Result struct {
	ID    string
	Score float64
}

// Reranker scores documents against a query. The returned token count is
// the provider-reported usage for the call, zero when unknown.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []Document) ([]Result, int, error)
	Available() bool
}

// NoOpReranker is used when no rerank service is configured. It reports
// itself unavailable so callers skip the rerank step entirely.
type NoOpReranker struct{}

// Rerank implements Reranker by returning documents unscored in order.
func (NoOpReranker) Rerank(_ context.Context, _ string, docs []Document) ([]Result, int, error) {
	out := make([]Result, len(docs))
	for i, d := range docs {
		out[i] = Result{ID: d.ID}
	}
	return out, 0, nil
}

// Available implements Reranker.
func (NoOpReranker) Available() bool { return false }

var _ Reranker = NoOpReranker{}
