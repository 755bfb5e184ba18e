package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder records call batches and returns a deterministic vector
// per text (length of the text as the single component).
type stubEmbedder struct {
	calls [][]string
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, int, error) {
	s.calls = append(s.calls, texts)
	out := make([][]float32, len(texts))
	tokens := 0
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
		tokens += len(t)
	}
	return out, tokens, nil
}

func (s *stubEmbedder) ModelName() string { return "stub" }
func (s *stubEmbedder) Dimensions() int   { return 1 }

func TestCachedEmbedderBatchesMisses(t *testing.T) {
	stub := &stubEmbedder{}
	cached, err := NewCachedEmbedder(stub, 16, nil)
	require.NoError(t, err)
	ctx := context.Background()

	vecs, tokens, err := cached.Embed(ctx, []string{"aa", "bbb"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(2), vecs[0][0])
	assert.Equal(t, float32(3), vecs[1][0])
	assert.Equal(t, 5, tokens)
	require.Len(t, stub.calls, 1)

	// Second batch mixes a hit and a miss; only the miss reaches the provider.
	vecs, tokens, err = cached.Embed(ctx, []string{"aa", "cccc"})
	require.NoError(t, err)
	assert.Equal(t, float32(2), vecs[0][0])
	assert.Equal(t, float32(4), vecs[1][0])
	assert.Equal(t, 4, tokens)
	require.Len(t, stub.calls, 2)
	assert.Equal(t, []string{"cccc"}, stub.calls[1])

	// Fully cached batch makes no provider call and reports zero tokens.
	_, tokens, err = cached.Embed(ctx, []string{"bbb", "cccc"})
	require.NoError(t, err)
	assert.Zero(t, tokens)
	assert.Len(t, stub.calls, 2)
}

func TestCachedEmbedderEmptyInput(t *testing.T) {
	stub := &stubEmbedder{}
	cached, err := NewCachedEmbedder(stub, 0, nil)
	require.NoError(t, err)

	vecs, tokens, err := cached.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
	assert.Zero(t, tokens)
	assert.Empty(t, stub.calls)
}
