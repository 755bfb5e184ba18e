package search

// filterBySimilarity drops items scoring below the threshold. Which score
// gates depends on how the pipeline ran: the rerank score when reranking
// happened, the embedding score when recall was embedding-only, and no
// filtering otherwise. The second return reports whether a filter
// actually applied.
func filterBySimilarity(items []SearchResultItem, similarity float64, usedRerank bool, mode SearchMode) ([]SearchResultItem, bool) {
	var gate ScoreType
	switch {
	case usedRerank:
		gate = ScoreReRank
	case mode == ModeEmbedding:
		gate = ScoreEmbedding
	default:
		return items, false
	}

	out := make([]SearchResultItem, 0, len(items))
	for _, item := range items {
		// An item without the gating score is kept; only a present
		// score below the threshold filters it out.
		if s, ok := item.scoreOfType(gate); ok && s.Value < similarity {
			continue
		}
		out = append(out, item)
	}
	return out, true
}

// FilterByMaxTokens truncates a ranked list to fit an estimated token
// budget. A non-empty input never truncates to nothing; the top item is
// returned even when it alone exceeds the budget.
func FilterByMaxTokens(items []SearchResultItem, maxTokens int) []SearchResultItem {
	if len(items) == 0 {
		return items
	}

	total := 0
	for i, item := range items {
		total += EstimateTokens(item.Q + item.A)
		if total > maxTokens {
			if i == 0 {
				return items[:1]
			}
			return items[:i]
		}
	}
	return items
}
