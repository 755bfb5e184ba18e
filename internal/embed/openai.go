package embed

import (
	"context"

	"github.com/sashabaranov/go-openai"

	kberrors "github.com/kbsearch/kbsearch/internal/errors"
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint. It works
// against any server speaking the same API by overriding the base URL.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder creates an embedder for the given endpoint and model.
// baseURL may be empty to use the default OpenAI endpoint.
func NewOpenAIEmbedder(baseURL, apiKey, model string, dimensions int) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: dimensions,
	}
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	if len(texts) == 0 {
		return nil, 0, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, 0, kberrors.RemoteError(kberrors.ErrCodeEmbeddingFailed, "embedding request failed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, 0, kberrors.Newf(kberrors.ErrCodeEmbeddingFailed,
			"embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, resp.Usage.PromptTokens, nil
}

// ModelName implements Embedder.
func (e *OpenAIEmbedder) ModelName() string { return e.model }

// Dimensions implements Embedder.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

var _ Embedder = (*OpenAIEmbedder)(nil)
