// Package llm provides the chat completion client used for query
// expansion and deep-search planning.
package llm

import "context"

// Role values for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat turn.
type Message struct {
	Role    string
	Content string
}

// Usage reports token consumption for one completion call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Completer produces a single completion for a conversation.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, Usage, error)
}
