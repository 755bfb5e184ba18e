package search

import (
	"container/heap"
	"math"
)

// defaultDiversityAlpha balances relevance to the original question
// against novelty relative to already selected queries.
const defaultDiversityAlpha = 0.3

// EmbeddedQuery pairs a candidate query with its embedding vector.
type EmbeddedQuery struct {
	Text   string
	Vector []float32
}

// SelectDiverse picks up to k candidates maximizing a submodular
// relevance-plus-diversity objective: each pick scores
// alpha*cos(original, candidate) plus one minus its maximum similarity
// to anything already selected. Lazy greedy evaluation skips recomputing
// gains that cannot have improved since they were last scored; results
// are identical to plain greedy. Equal gains resolve to the lower input
// index.
func SelectDiverse(original []float32, candidates []EmbeddedQuery, k int, alpha float64) []EmbeddedQuery {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if alpha <= 0 {
		alpha = defaultDiversityAlpha
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	relevance := make([]float64, len(candidates))
	for i, c := range candidates {
		relevance[i] = cosineSimilarity(original, c.Vector)
	}
	// maxSim[i] tracks the highest similarity of candidate i to the
	// selected set; monotone non-decreasing, so cached gains only ever
	// overestimate and the lazy check stays sound.
	maxSim := make([]float64, len(candidates))

	pq := make(gainQueue, len(candidates))
	for i := range candidates {
		pq[i] = &gainEntry{index: i, gain: alpha*relevance[i] + 1, round: 0}
	}
	heap.Init(&pq)

	var selected []EmbeddedQuery
	round := 0

	for len(selected) < k && pq.Len() > 0 {
		top := heap.Pop(&pq).(*gainEntry)
		if top.round != round {
			// Stale gain; refresh against the current selection and
			// push back for reconsideration.
			top.gain = alpha*relevance[top.index] + (1 - maxSim[top.index])
			top.round = round
			heap.Push(&pq, top)
			continue
		}

		selected = append(selected, candidates[top.index])
		round++

		for i := range candidates {
			if i == top.index {
				continue
			}
			sim := cosineSimilarity(candidates[i].Vector, candidates[top.index].Vector)
			if sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}
	return selected
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type gainEntry struct {
	index int
	gain  float64
	round int
}

type gainQueue []*gainEntry

func (q gainQueue) Len() int { return len(q) }

func (q gainQueue) Less(i, j int) bool {
	if q[i].gain != q[j].gain {
		return q[i].gain > q[j].gain
	}
	return q[i].index < q[j].index
}

func (q gainQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *gainQueue) Push(x any) { *q = append(*q, x.(*gainEntry)) }

func (q *gainQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
