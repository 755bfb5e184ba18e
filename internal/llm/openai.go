package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"

	kberrors "github.com/kbsearch/kbsearch/internal/errors"
)

// OpenAICompleter calls an OpenAI-compatible chat completions endpoint.
type OpenAICompleter struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAICompleter creates a completer for the given endpoint and model.
// baseURL may be empty to use the default OpenAI endpoint.
func NewOpenAICompleter(baseURL, apiKey, model string, temperature float32) *OpenAICompleter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAICompleter{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
	}
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, messages []Message) (string, Usage, error) {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", Usage{}, kberrors.RemoteError(kberrors.ErrCodeCompletionFailed, "chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, kberrors.New(kberrors.ErrCodeCompletionFailed, "chat completion returned no choices", nil)
	}

	usage := Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	return resp.Choices[0].Message.Content, usage, nil
}

var _ Completer = (*OpenAICompleter)(nil)
