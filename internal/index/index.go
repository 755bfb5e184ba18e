// Package index provides the recall indexes the search engine queries:
// an HNSW vector index for embedding recall and a Bleve text index for
// full-text recall. Both speak in terms of index hits that the engine
// hydrates against the document store.
package index

import "context"

// Hit is a single recall result. ID is the index entry id for vector
// recall and the data record id for text recall; the engine hydrates
// either through the document store.
type Hit struct {
	ID           string
	CollectionID string
	Score        float64
}

// VectorIndex answers nearest-neighbor queries over embedded index text.
// Allow restricts recall to the given collection ids when non-nil; deny
// always excludes its collection ids.
type VectorIndex interface {
	Recall(ctx context.Context, vector []float32, limit int, allow, deny []string) ([]Hit, error)
}

// TextIndex answers lexical queries over record text.
type TextIndex interface {
	Search(ctx context.Context, query string, limit int, allow, deny []string) ([]Hit, error)
}
