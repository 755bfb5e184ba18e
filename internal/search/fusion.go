package search

import "sort"

// rrfK is the rank smoothing constant in reciprocal rank fusion.
const rrfK = 60

// WeightedList is one ranked candidate list entering fusion, with the
// weight its reciprocal rank contributions are scaled by.
type WeightedList struct {
	Weight float64
	Items  []SearchResultItem
}

// FuseResults merges ranked lists with weighted reciprocal rank fusion.
// Items appearing in several lists accumulate contributions and keep the
// score history from every occurrence. With zero non-empty inputs the
// result is empty; with exactly one the list passes through unchanged,
// no fusion entry is attached. Ties keep first-encounter order.
func FuseResults(lists ...WeightedList) []SearchResultItem {
	nonEmpty := lists[:0:0]
	for _, l := range lists {
		if len(l.Items) > 0 {
			nonEmpty = append(nonEmpty, l)
		}
	}
	if len(nonEmpty) == 0 {
		return []SearchResultItem{}
	}
	if len(nonEmpty) == 1 {
		return nonEmpty[0].Items
	}

	type fused struct {
		item  SearchResultItem
		score float64
		order int
	}
	byID := make(map[string]*fused)
	var ordered []*fused

	for _, list := range nonEmpty {
		for rank, item := range list.Items {
			contribution := list.Weight / float64(rrfK+rank+1)
			if f, ok := byID[item.ID]; ok {
				f.score += contribution
				f.item.Score = append(f.item.Score, item.Score...)
				continue
			}
			f := &fused{item: item, score: contribution, order: len(ordered)}
			// Copy the history so appends never alias the input slice.
			f.item.Score = append([]ScoreEntry(nil), item.Score...)
			byID[item.ID] = f
			ordered = append(ordered, f)
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].score > ordered[j].score
	})

	out := make([]SearchResultItem, len(ordered))
	for i, f := range ordered {
		out[i] = f.item.withScore(ScoreEntry{Type: ScoreRRF, Value: f.score, Index: i})
	}
	return out
}
