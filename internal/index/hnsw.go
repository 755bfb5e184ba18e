package index

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	kberrors "github.com/kbsearch/kbsearch/internal/errors"
)

// VectorEntry is one embedded index text registered with the vector index.
type VectorEntry struct {
	IndexID      string
	CollectionID string
	Vector       []float32
}

// HNSWIndex is an in-process approximate nearest neighbor index over
// normalized embedding vectors. Cosine distance on unit vectors keeps
// scores in [0, 1] after conversion.
type HNSWIndex struct {
	mu          sync.RWMutex
	graph       *hnsw.Graph[uint64]
	nextKey     uint64
	idByKey     map[uint64]string
	collByKey   map[uint64]string
	keysByIndex map[string]uint64
}

// NewHNSWIndex creates an empty vector index.
func NewHNSWIndex() *HNSWIndex {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	return &HNSWIndex{
		graph:       g,
		idByKey:     make(map[uint64]string),
		collByKey:   make(map[uint64]string),
		keysByIndex: make(map[string]uint64),
	}
}

// Add registers entries with the index. Vectors are normalized in place
// copies so cosine distance behaves as expected.
func (h *HNSWIndex) Add(entries ...VectorEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, e := range entries {
		if len(e.Vector) == 0 {
			return kberrors.ValidationError("vector entry has empty vector")
		}
		vec := normalize(e.Vector)

		// Lazy replacement: re-adding an id unmaps the old node
		// instead of deleting it from the graph. The stale node
		// keeps its slot but can never surface in results.
		if old, exists := h.keysByIndex[e.IndexID]; exists {
			delete(h.idByKey, old)
			delete(h.collByKey, old)
		}
		key := h.nextKey
		h.nextKey++
		h.keysByIndex[e.IndexID] = key
		h.idByKey[key] = e.IndexID
		h.collByKey[key] = e.CollectionID
		h.graph.Add(hnsw.MakeNode(key, vec))
	}
	return nil
}

// Len reports the number of live indexed vectors.
func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.keysByIndex)
}

// Recall implements VectorIndex. It over-fetches to compensate for
// collection filtering and converts cosine distance to a similarity
// score in [0, 1].
func (h *HNSWIndex) Recall(ctx context.Context, vector []float32, limit int, allow, deny []string) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph.Len() == 0 {
		return nil, nil
	}

	allowSet := toSet(allow)
	denySet := toSet(deny)

	// Filtered-out and stale neighbors still occupy result slots, so
	// fetch extra.
	fetch := limit
	if allow != nil || len(deny) > 0 {
		fetch = limit * 4
	}
	fetch += h.graph.Len() - len(h.keysByIndex)
	if fetch > h.graph.Len() {
		fetch = h.graph.Len()
	}

	query := normalize(vector)
	neighbors := h.graph.Search(query, fetch)

	// The library returns its candidate heap's backing slice, which is
	// heap order rather than nearest-first. Rank by score here.
	hits := make([]Hit, 0, len(neighbors))
	for _, n := range neighbors {
		id, live := h.idByKey[n.Key]
		if !live {
			continue
		}
		coll := h.collByKey[n.Key]
		if allow != nil {
			if _, ok := allowSet[coll]; !ok {
				continue
			}
		}
		if _, ok := denySet[coll]; ok {
			continue
		}
		hits = append(hits, Hit{
			ID:           id,
			CollectionID: coll,
			Score:        cosineScore(query, n.Value),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// cosineScore maps cosine distance between unit vectors to [0, 1].
func cosineScore(a, b []float32) float64 {
	return 1 - float64(hnsw.CosineDistance(a, b))/2
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

var _ VectorIndex = (*HNSWIndex)(nil)
