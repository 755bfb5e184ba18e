package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/kbsearch/kbsearch/internal/llm"
)

const (
	defaultExpansionCount = 10
	defaultExpandAttempts = 3
	historyTokenBudget    = 2000
)

const expansionPromptTemplate = `You assist a knowledge base search system. Rewrite the user's question into %d standalone search queries that together cover the question from different angles. Resolve pronouns and references using the conversation history. Answer with a JSON array of strings and nothing else.

Examples:
History: ""
Question: "介绍下剧情。"
Answer: ["介绍下故事的剧情。","故事的大纲是什么？","剧情的主要内容概述。"]

History: """user: 对话背景。
assistant: 当前对话是关于 Nginx 的介绍和使用等。"""
Question: "怎么下载"
Answer: ["Nginx 如何下载？","下载 Nginx 需要什么条件？","有哪些渠道可以下载 Nginx？"]

History: ""
Question: "how to deploy the service"
Answer: ["how to deploy the service","service deployment steps","deployment prerequisites for the service"]

History: """%s"""
Question: "%s"
Answer: `

// Expander rewrites a user question into several standalone search
// queries so recall covers the question from more than one phrasing.
// Expansion is best effort: when the model never produces a parseable
// list the search proceeds on the original query alone.
type Expander struct {
	completer   llm.Completer
	count       int
	maxAttempts int
	log         *slog.Logger
}

// ExpanderOption configures an Expander.
type ExpanderOption func(*Expander)

// WithExpansionCount sets how many rewrites to request.
func WithExpansionCount(n int) ExpanderOption {
	return func(x *Expander) {
		if n > 0 {
			x.count = n
		}
	}
}

// WithExpandAttempts sets how many completion attempts to make before
// giving up.
func WithExpandAttempts(n int) ExpanderOption {
	return func(x *Expander) {
		if n > 0 {
			x.maxAttempts = n
		}
	}
}

// WithExpanderLogger sets the logger.
func WithExpanderLogger(log *slog.Logger) ExpanderOption {
	return func(x *Expander) {
		x.log = log
	}
}

// NewExpander creates an Expander backed by the given completer.
func NewExpander(completer llm.Completer, opts ...ExpanderOption) *Expander {
	x := &Expander{
		completer:   completer,
		count:       defaultExpansionCount,
		maxAttempts: defaultExpandAttempts,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Expand returns rewritten queries for the question, excluding the
// question itself. A question that is already a JSON array is treated
// as pre-expanded and returned without calling the model.
func (x *Expander) Expand(ctx context.Context, query string, history []llm.Message) ([]string, llm.Usage, error) {
	if strings.HasPrefix(strings.TrimSpace(query), "[") {
		if expansions := parseQueryList(query); expansions != nil {
			return dedupeQueries(expansions, query), llm.Usage{}, nil
		}
	}

	prompt := fmt.Sprintf(expansionPromptTemplate, x.count, formatHistory(history), query)
	var total llm.Usage

	for attempt := 0; attempt < x.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, total, err
		}

		answer, usage, err := x.completer.Complete(ctx, []llm.Message{
			{Role: llm.RoleUser, Content: prompt},
		})
		total.InputTokens += usage.InputTokens
		total.OutputTokens += usage.OutputTokens
		if err != nil {
			x.log.Warn("query_expansion_attempt_failed", "attempt", attempt+1, "error", err)
			continue
		}

		if expansions := parseQueryList(answer); expansions != nil {
			return dedupeQueries(expansions, query), total, nil
		}
		x.log.Warn("query_expansion_unparseable", "attempt", attempt+1)
	}

	// Unexpandable questions still get searched as-is.
	return nil, total, nil
}

// parseQueryList extracts a JSON string array from model output. The
// array is located between the first bracket and the last; broken JSON
// gets one repair pass. Returns nil when nothing parseable is present.
func parseQueryList(raw string) []string {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil
	}
	fragment := raw[start : end+1]

	var list []string
	if err := json.Unmarshal([]byte(fragment), &list); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(fragment)
		if repairErr != nil {
			return nil
		}
		if err := json.Unmarshal([]byte(repaired), &list); err != nil {
			return nil
		}
	}

	out := make([]string, 0, len(list))
	for _, q := range list {
		if strings.TrimSpace(q) != "" {
			out = append(out, strings.TrimSpace(q))
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// formatHistory renders recent chat turns for the prompt, newest last,
// dropping older turns once the token budget is spent.
func formatHistory(history []llm.Message) string {
	if len(history) == 0 {
		return ""
	}

	var kept []string
	budget := historyTokenBudget
	for i := len(history) - 1; i >= 0; i-- {
		line := history[i].Role + ": " + history[i].Content
		cost := EstimateTokens(line)
		if cost > budget {
			break
		}
		budget -= cost
		kept = append([]string{line}, kept...)
	}
	return strings.Join(kept, "\n")
}

func dedupeQueries(queries []string, original string) []string {
	// Content-hash keys collapse variants that differ only in
	// punctuation or spacing, the same rule result dedup uses.
	seen := map[string]struct{}{contentHash(original, ""): {}}
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		key := contentHash(q, "")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
	}
	return out
}
