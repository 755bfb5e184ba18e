// Package store defines the document store consumed by the retrieval
// engine, plus reference implementations. The engine only ever reads
// through find-style calls with typed predicates; persistence and write
// paths belong to whoever owns the data.
package store

import (
	"context"
	"time"
)

// DataRecord is one knowledge snippet (a question/answer chunk of a
// collection). A record may carry several index entries; the vector index
// stores one vector per entry, all pointing back at the same record.
type DataRecord struct {
	ID           string      `json:"id"`
	DatasetID    string      `json:"datasetId"`
	CollectionID string      `json:"collectionId"`
	Q            string      `json:"q"`
	A            string      `json:"a,omitempty"`
	ChunkIndex   int         `json:"chunkIndex,omitempty"`
	UpdateTime   time.Time   `json:"updateTime"`
	Indexes      []DataIndex `json:"indexes,omitempty"`
}

// DataIndex is one index entry of a record.
type DataIndex struct {
	// IndexID is the id the vector index knows this entry by.
	IndexID string `json:"id"`
	// Text is the embedded text of this entry.
	Text string `json:"text"`
}

// CollectionType discriminates folder collections from leaf collections.
type CollectionType string

const (
	CollectionTypeFolder  CollectionType = "folder"
	CollectionTypeFile    CollectionType = "file"
	CollectionTypeVirtual CollectionType = "virtual"
)

// Collection groups records. Folder collections contain other collections
// and hold no records of their own.
type Collection struct {
	ID         string         `json:"id"`
	DatasetID  string         `json:"datasetId"`
	ParentID   string         `json:"parentId,omitempty"`
	Name       string         `json:"name,omitempty"`
	Type       CollectionType `json:"type"`
	Forbid     bool           `json:"forbid,omitempty"`
	TagIDs     []string       `json:"tags,omitempty"`
	CreateTime time.Time      `json:"createTime"`
}

// Tag is a dataset-scoped collection tag.
type Tag struct {
	ID        string `json:"id"`
	DatasetID string `json:"datasetId"`
	Name      string `json:"name"`
}

// CollectionQuery is the predicate for FindCollections. Zero-valued fields
// do not restrict. All restrictions are combined with AND, except
// AnyTagIDs/IncludeUntagged which form one OR clause.
type CollectionQuery struct {
	// IDs restricts to these collection ids.
	IDs []string

	// ParentIDs restricts to direct children of these collections.
	ParentIDs []string

	// Forbidden, when set, restricts by the forbid flag.
	Forbidden *bool

	// AllTagIDs restricts to collections carrying every one of these tags.
	AllTagIDs []string

	// AnyTagIDs restricts to collections carrying at least one of these
	// tags. When IncludeUntagged is also set, collections with zero tags
	// match as well.
	AnyTagIDs []string

	// IncludeUntagged alone restricts to collections with zero tags.
	IncludeUntagged bool

	// CreateTimeGTE/CreateTimeLTE restrict by creation time.
	CreateTimeGTE *time.Time
	CreateTimeLTE *time.Time
}

// DocumentStore is the read-side contract the engine depends on.
// Implementations must be safe for concurrent use: the engine issues
// hydration reads from several goroutines at once.
type DocumentStore interface {
	// FindDataByIndexIDs returns records within the datasets that own at
	// least one of the given index entry ids.
	FindDataByIndexIDs(ctx context.Context, datasetIDs []string, indexIDs []string) ([]DataRecord, error)

	// FindDataByIDs returns records by their primary ids.
	FindDataByIDs(ctx context.Context, ids []string) ([]DataRecord, error)

	// FindCollections returns collections of the datasets matching the query.
	FindCollections(ctx context.Context, datasetIDs []string, q CollectionQuery) ([]Collection, error)

	// FindTags resolves tag names to tag records within the datasets.
	FindTags(ctx context.Context, datasetIDs []string, names []string) ([]Tag, error)
}
