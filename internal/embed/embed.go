// Package embed turns text into vectors for semantic recall. Providers
// implement the Embedder interface; CachedEmbedder wraps any provider
// with an LRU so repeated queries skip the remote call.
package embed

import "context"

// Embedder generates embedding vectors for batches of text. The returned
// token count is the provider-reported prompt token usage for the batch.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, int, error)

	// ModelName returns the provider model identifier.
	ModelName() string

	// Dimensions returns the vector width this embedder produces.
	Dimensions() int
}
