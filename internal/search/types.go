// Package search implements the hybrid retrieval pipeline: multi-query
// recall over vector and full-text indexes, reciprocal rank fusion,
// optional cross-encoder reranking, score filtering and token-budget
// truncation. The engine treats result items as immutable; every stage
// that attaches a score produces new items.
package search

import "time"

// SearchMode selects which recall channels run.
type SearchMode string

const (
	// ModeEmbedding runs semantic recall only.
	ModeEmbedding SearchMode = "embedding"
	// ModeFullText runs lexical recall only.
	ModeFullText SearchMode = "fullTextRecall"
	// ModeMixed runs both channels and fuses them.
	ModeMixed SearchMode = "mixedRecall"
)

// ValidModes lists the accepted search modes.
func ValidModes() []SearchMode {
	return []SearchMode{ModeEmbedding, ModeFullText, ModeMixed}
}

// ScoreType identifies the origin of one score entry.
type ScoreType string

const (
	ScoreEmbedding ScoreType = "embedding"
	ScoreFullText  ScoreType = "fullText"
	ScoreReRank    ScoreType = "reRank"
	ScoreRRF       ScoreType = "rrf"
)

// ScoreEntry records one score an item earned during the pipeline along
// with the rank position it held at that stage.
type ScoreEntry struct {
	Type  ScoreType `json:"type"`
	Value float64   `json:"value"`
	Index int       `json:"index"`
}

// SearchResultItem is one retrieved chunk. Score carries the full
// history of scores across pipeline stages; the most recent entry of a
// given type is the authoritative one for that stage.
type SearchResultItem struct {
	ID           string       `json:"id"`
	DatasetID    string       `json:"datasetId"`
	CollectionID string       `json:"collectionId"`
	Q            string       `json:"q"`
	A            string       `json:"a"`
	ChunkIndex   int          `json:"chunkIndex"`
	UpdateTime   time.Time    `json:"updateTime"`
	Score        []ScoreEntry `json:"score"`
}

// withScore returns a copy of the item with the entry appended. The
// original item and its score slice are never modified.
func (it SearchResultItem) withScore(entry ScoreEntry) SearchResultItem {
	scores := make([]ScoreEntry, len(it.Score), len(it.Score)+1)
	copy(scores, it.Score)
	it.Score = append(scores, entry)
	return it
}

// scoreOfType returns the first score entry of the given type.
func (it SearchResultItem) scoreOfType(t ScoreType) (ScoreEntry, bool) {
	for _, s := range it.Score {
		if s.Type == t {
			return s, true
		}
	}
	return ScoreEntry{}, false
}

// SearchParams describes one search request after query expansion.
// Queries holds the concept queries to recall with; the first entry is
// treated as the primary query for reranking.
type SearchParams struct {
	Queries               []string
	DatasetIDs            []string
	Mode                  SearchMode
	MaxTokens             int
	Similarity            float64
	EmbeddingWeight       float64
	UsingReRank           bool
	RerankWeight          float64
	RerankQuery           string
	CollectionFilterMatch string
}

// SearchResponse is the outcome of one search.
type SearchResponse struct {
	Items                 []SearchResultItem
	EmbeddingTokens       int
	RerankInputTokens     int
	UsingReRank           bool
	UsingSimilarityFilter bool
}

// recallLimits is how many candidates each channel fetches per query.
type recallLimits struct {
	embedding int
	fullText  int
}

func countRecallLimit(mode SearchMode) recallLimits {
	switch mode {
	case ModeEmbedding:
		return recallLimits{embedding: 100}
	case ModeFullText:
		return recallLimits{fullText: 100}
	default:
		return recallLimits{embedding: 80, fullText: 60}
	}
}
