package search

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// greedySelect is the plain quadratic greedy the lazy version must match.
func greedySelect(original []float32, candidates []EmbeddedQuery, k int, alpha float64) []EmbeddedQuery {
	if k > len(candidates) {
		k = len(candidates)
	}
	maxSim := make([]float64, len(candidates))
	taken := make([]bool, len(candidates))

	var selected []EmbeddedQuery
	for len(selected) < k {
		best := -1
		bestGain := math.Inf(-1)
		for i := range candidates {
			if taken[i] {
				continue
			}
			gain := alpha*cosineSimilarity(original, candidates[i].Vector) + (1 - maxSim[i])
			if gain > bestGain {
				bestGain = gain
				best = i
			}
		}
		taken[best] = true
		selected = append(selected, candidates[best])
		for i := range candidates {
			if taken[i] {
				continue
			}
			sim := cosineSimilarity(candidates[i].Vector, candidates[best].Vector)
			if sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}
	return selected
}

func TestSelectDiverseMatchesPlainGreedy(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const dims = 8

	randomVec := func() []float32 {
		v := make([]float32, dims)
		for i := range v {
			v[i] = rng.Float32()*2 - 1
		}
		return v
	}

	for trial := 0; trial < 20; trial++ {
		original := randomVec()
		candidates := make([]EmbeddedQuery, 12)
		for i := range candidates {
			candidates[i] = EmbeddedQuery{Text: fmt.Sprintf("q%d", i), Vector: randomVec()}
		}

		lazy := SelectDiverse(original, candidates, 5, 0.3)
		plain := greedySelect(original, candidates, 5, 0.3)
		require.Equal(t, queryTexts(plain), queryTexts(lazy), "trial %d", trial)
	}
}

func TestSelectDiversePrefersNovelty(t *testing.T) {
	original := []float32{1, 0, 0}
	candidates := []EmbeddedQuery{
		{Text: "close-a", Vector: []float32{1, 0.01, 0}},
		{Text: "close-b", Vector: []float32{1, 0.02, 0}},
		{Text: "different", Vector: []float32{0, 1, 0}},
	}

	out := SelectDiverse(original, candidates, 2, 0.3)
	require.Len(t, out, 2)
	assert.Equal(t, "close-a", out[0].Text, "highest relevance goes first")
	assert.Equal(t, "different", out[1].Text, "near duplicate of the first pick loses to the novel one")
}

func TestSelectDiverseTieBreaksByIndex(t *testing.T) {
	original := []float32{1, 0}
	candidates := []EmbeddedQuery{
		{Text: "first", Vector: []float32{0, 1}},
		{Text: "second", Vector: []float32{0, 1}},
	}
	out := SelectDiverse(original, candidates, 1, 0.3)
	require.Len(t, out, 1)
	assert.Equal(t, "first", out[0].Text)
}

func TestSelectDiverseBounds(t *testing.T) {
	candidates := []EmbeddedQuery{{Text: "only", Vector: []float32{1}}}

	assert.Nil(t, SelectDiverse([]float32{1}, candidates, 0, 0.3))
	assert.Nil(t, SelectDiverse([]float32{1}, nil, 3, 0.3))

	out := SelectDiverse([]float32{1}, candidates, 5, 0.3)
	assert.Len(t, out, 1, "k larger than the pool returns everything")
}

func queryTexts(qs []EmbeddedQuery) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.Text
	}
	return out
}
