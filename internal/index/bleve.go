package index

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"

	_ "github.com/blevesearch/bleve/v2/analysis/lang/cjk" // CJK bigram analyzer
)

// TextEntry is one record registered with the full-text index. The id is
// the data record id; Text carries the searchable content (q plus index
// texts concatenated by the caller).
type TextEntry struct {
	DataID       string
	CollectionID string
	Text         string
}

// BleveIndex is an in-memory full-text index. The CJK analyzer handles
// mixed Chinese and Latin content, matching how record text is segmented
// for lexical recall.
type BleveIndex struct {
	idx bleve.Index
}

type bleveDoc struct {
	Text         string `json:"text"`
	CollectionID string `json:"collection_id"`
}

// NewBleveIndex creates an empty in-memory text index.
func NewBleveIndex() (*BleveIndex, error) {
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = "cjk"
	textField.Store = false

	collField := bleve.NewTextFieldMapping()
	collField.Analyzer = keyword.Name
	collField.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("text", textField)
	doc.AddFieldMappingsAt("collection_id", collField)

	mapping := bleve.NewIndexMapping()
	mapping.DefaultMapping = doc

	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("create text index: %w", err)
	}
	return &BleveIndex{idx: idx}, nil
}

// Add registers entries with the index.
func (b *BleveIndex) Add(entries ...TextEntry) error {
	batch := b.idx.NewBatch()
	for _, e := range entries {
		if err := batch.Index(e.DataID, bleveDoc{Text: e.Text, CollectionID: e.CollectionID}); err != nil {
			return fmt.Errorf("index text entry %s: %w", e.DataID, err)
		}
	}
	return b.idx.Batch(batch)
}

// Close releases index resources.
func (b *BleveIndex) Close() error {
	return b.idx.Close()
}

// Search implements TextIndex.
func (b *BleveIndex) Search(ctx context.Context, queryText string, limit int, allow, deny []string) ([]Hit, error) {
	if limit <= 0 || queryText == "" {
		return nil, nil
	}

	match := bleve.NewMatchQuery(queryText)
	match.SetField("text")

	boolQ := bleve.NewBooleanQuery()
	boolQ.AddMust(match)

	if allow != nil {
		// Empty allow list means no collection is permitted.
		if len(allow) == 0 {
			return nil, nil
		}
		allowQ := bleve.NewBooleanQuery()
		for _, id := range allow {
			tq := bleve.NewTermQuery(id)
			tq.SetField("collection_id")
			allowQ.AddShould(tq)
		}
		allowQ.SetMinShould(1)
		boolQ.AddMust(allowQ)
	}
	for _, id := range deny {
		tq := bleve.NewTermQuery(id)
		tq.SetField("collection_id")
		boolQ.AddMustNot(tq)
	}

	req := bleve.NewSearchRequestOptions(boolQ, limit, 0, false)
	req.Fields = []string{"collection_id"}

	res, err := b.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		coll, _ := h.Fields["collection_id"].(string)
		hits = append(hits, Hit{ID: h.ID, CollectionID: coll, Score: h.Score})
	}
	return hits, nil
}

var _ TextIndex = (*BleveIndex)(nil)
