package embed

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 2048

// CachedEmbedder wraps an Embedder with a per-text LRU cache. A batch is
// split into hits and misses; misses go to the underlying provider in a
// single call and only those texts count toward token usage.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
	log   *slog.Logger
}

// NewCachedEmbedder wraps inner with an LRU of the given size. A size of
// zero or less uses the default.
func NewCachedEmbedder(inner Embedder, size int, log *slog.Logger) (*CachedEmbedder, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &CachedEmbedder{inner: inner, cache: cache, log: log}, nil
}

// Embed implements Embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	if len(texts) == 0 {
		return nil, 0, nil
	}

	vectors := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			vectors[i] = v
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return vectors, 0, nil
	}

	fresh, tokens, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, 0, err
	}
	for j, v := range fresh {
		vectors[missIdx[j]] = v
		c.cache.Add(missTexts[j], v)
	}

	c.log.Debug("embedding_batch",
		"total", len(texts),
		"cache_hits", len(texts)-len(missTexts),
		"tokens", tokens)
	return vectors, tokens, nil
}

// ModelName implements Embedder.
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }

// Dimensions implements Embedder.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

var _ Embedder = (*CachedEmbedder)(nil)
