package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	kberrors "github.com/kbsearch/kbsearch/internal/errors"
)

const defaultRequestTimeout = 30 * time.Second

// HTTPReranker talks to a cross-encoder service over HTTP. The service
// accepts a query plus documents and returns per-document relevance
// scores. A circuit breaker keeps a flapping service from stalling every
// search with full timeouts.
type HTTPReranker struct {
	baseURL string
	model   string
	client  *http.Client
	breaker *kberrors.CircuitBreaker
	log     *slog.Logger
}

// HTTPRerankerOption configures an HTTPReranker.
type HTTPRerankerOption func(*HTTPReranker)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) HTTPRerankerOption {
	return func(r *HTTPReranker) {
		r.client.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) HTTPRerankerOption {
	return func(r *HTTPReranker) {
		r.log = log
	}
}

// NewHTTPReranker creates a reranker client for the given service.
func NewHTTPReranker(baseURL, model string, opts ...HTTPRerankerOption) *HTTPReranker {
	r := &HTTPReranker{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: defaultRequestTimeout},
		breaker: kberrors.NewCircuitBreaker("reranker"),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"relevance_score"`
	} `json:"results"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Available reports whether the service answers its health endpoint and
// the circuit is not open.
func (r *HTTPReranker) Available() bool {
	if !r.breaker.Allow() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Rerank implements Reranker.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, docs []Document) ([]Result, int, error) {
	if len(docs) == 0 {
		return nil, 0, nil
	}

	type scored struct {
		results []Result
		tokens  int
	}
	out, err := kberrors.CircuitExecuteWithResult(r.breaker, func() (scored, error) {
		results, tokens, err := r.call(ctx, query, docs)
		return scored{results, tokens}, err
	}, func() (scored, error) {
		return scored{}, kberrors.RemoteError(kberrors.ErrCodeRerankFailed,
			"rerank circuit open", kberrors.ErrCircuitOpen)
	})
	if err != nil {
		return nil, 0, err
	}
	return out.results, out.tokens, nil
}

func (r *HTTPReranker) call(ctx context.Context, query string, docs []Document) ([]Result, int, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}

	body, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: texts})
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, kberrors.RemoteError(kberrors.ErrCodeRerankFailed, "rerank request failed", err).
			WithDetail("model", r.model).
			WithDetail("endpoint", r.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, 0, kberrors.Newf(kberrors.ErrCodeRerankFailed,
			"rerank service returned %d: %s", resp.StatusCode, string(payload))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 0, kberrors.Wrap(kberrors.ErrCodeRerankFailed, fmt.Errorf("decode rerank response: %w", err))
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, item := range parsed.Results {
		if item.Index < 0 || item.Index >= len(docs) {
			continue
		}
		results = append(results, Result{ID: docs[item.Index].ID, Score: item.Score})
	}

	r.log.Debug("rerank_complete",
		"documents", len(docs),
		"results", len(results),
		"duration_ms", time.Since(start).Milliseconds())
	return results, parsed.Usage.TotalTokens, nil
}

var _ Reranker = (*HTTPReranker)(nil)
