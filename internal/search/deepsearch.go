package search

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kbsearch/kbsearch/internal/llm"
)

const defaultDeepSearchIterations = 3

var numberedLine = regexp.MustCompile(`^\s*\d+[\.)、]\s*(.+)$`)

const decomposePrompt = `Break the research question below into independent sub-questions that can each be answered by a knowledge base search. Output one sub-question per line, numbered "1." "2." and so on. Output at most 5 lines and nothing else.

Question: %s`

const refinePrompt = `You are steering an iterative knowledge base search.

Original question: %s

Passages found so far:
%s

If the passages already cover the question, reply with the single word Done. Otherwise list up to 3 follow-up search queries that would fill the gaps, one per line, numbered "1." "2." and so on.`

// DeepSearcher answers a question by iterating search rounds: it
// decomposes the question into sub-queries, recalls for each, asks the
// model whether coverage suffices and refines with follow-up queries
// until it says done, no round surfaces anything new, or the iteration
// budget runs out.
type DeepSearcher struct {
	engine        *Engine
	completer     llm.Completer
	maxIterations int
	log           *slog.Logger
}

// NewDeepSearcher creates a DeepSearcher. Iterations of zero or less
// use the default budget.
func NewDeepSearcher(engine *Engine, completer llm.Completer, iterations int, log *slog.Logger) *DeepSearcher {
	if iterations <= 0 {
		iterations = defaultDeepSearchIterations
	}
	if log == nil {
		log = slog.Default()
	}
	return &DeepSearcher{engine: engine, completer: completer, maxIterations: iterations, log: log}
}

// DeepSearchResult is the accumulated outcome of all rounds.
type DeepSearchResult struct {
	Items           []SearchResultItem
	Iterations      int
	EmbeddingTokens int
	Usage           llm.Usage
}

// Search runs the iterative loop. params supplies everything except
// Queries, which the loop controls round by round.
func (d *DeepSearcher) Search(ctx context.Context, question string, params SearchParams) (DeepSearchResult, error) {
	var result DeepSearchResult

	queries := d.decompose(ctx, question, &result.Usage)
	collected := make(map[string]struct{})

	for round := 0; round < d.maxIterations; round++ {
		result.Iterations = round + 1

		roundParams := params
		roundParams.Queries = append([]string{question}, queries...)
		resp, err := d.engine.Search(ctx, roundParams)
		if err != nil {
			return result, err
		}
		result.EmbeddingTokens += resp.EmbeddingTokens

		newItems := 0
		for _, item := range resp.Items {
			if _, ok := collected[item.ID]; ok {
				continue
			}
			collected[item.ID] = struct{}{}
			result.Items = append(result.Items, item)
			newItems++
		}
		d.log.Info("deep_search_round",
			"round", round+1,
			"queries", len(roundParams.Queries),
			"new_items", newItems)

		if newItems == 0 {
			break
		}
		if round == d.maxIterations-1 {
			break
		}

		followUps, done := d.refine(ctx, question, result.Items, &result.Usage)
		if done || len(followUps) == 0 {
			break
		}
		queries = followUps
	}
	return result, nil
}

// decompose asks the model to split the question into sub-queries. A
// non-empty answer with no numbered lines is used whole; a failed call
// leaves only the question to search.
func (d *DeepSearcher) decompose(ctx context.Context, question string, usage *llm.Usage) []string {
	answer, u, err := d.completer.Complete(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: fmt.Sprintf(decomposePrompt, question)},
	})
	usage.InputTokens += u.InputTokens
	usage.OutputTokens += u.OutputTokens
	if err != nil {
		d.log.Warn("question_decompose_failed", "error", err)
		return nil
	}

	subs := parseNumberedLines(answer)
	if len(subs) == 0 {
		// An unnumbered answer is still a usable reformulation.
		if trimmed := strings.TrimSpace(answer); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	}
	return subs
}

// refine asks whether the collected passages cover the question.
func (d *DeepSearcher) refine(ctx context.Context, question string, items []SearchResultItem, usage *llm.Usage) ([]string, bool) {
	var found strings.Builder
	budget := historyTokenBudget
	for i, item := range items {
		line := fmt.Sprintf("- %s", firstLine(item.Q))
		cost := EstimateTokens(line)
		if cost > budget {
			break
		}
		budget -= cost
		if i > 0 {
			found.WriteString("\n")
		}
		found.WriteString(line)
	}

	answer, u, err := d.completer.Complete(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: fmt.Sprintf(refinePrompt, question, found.String())},
	})
	usage.InputTokens += u.InputTokens
	usage.OutputTokens += u.OutputTokens
	if err != nil {
		d.log.Warn("deep_search_refine_failed", "error", err)
		return nil, true
	}

	if strings.EqualFold(strings.TrimSpace(answer), "done") ||
		strings.HasPrefix(strings.TrimSpace(answer), "Done") {
		return nil, true
	}
	return parseNumberedLines(answer), false
}

// parseNumberedLines extracts "1. text" style entries from model output.
func parseNumberedLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if m := numberedLine.FindStringSubmatch(line); m != nil {
			if q := strings.TrimSpace(m[1]); q != "" {
				out = append(out, q)
			}
		}
	}
	return out
}

func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}
