package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStore is a DocumentStore backed by SQLite. It is the persistent
// reference implementation; the schema mirrors the read model the engine
// hydrates from (records, index entries, collections, tags).
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS dataset_data (
	id           TEXT PRIMARY KEY,
	dataset_id   TEXT NOT NULL,
	collection_id TEXT NOT NULL,
	q            TEXT NOT NULL,
	a            TEXT NOT NULL DEFAULT '',
	chunk_index  INTEGER NOT NULL DEFAULT 0,
	update_time  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_data_dataset ON dataset_data(dataset_id);
CREATE INDEX IF NOT EXISTS idx_data_collection ON dataset_data(collection_id);

CREATE TABLE IF NOT EXISTS data_indexes (
	index_id TEXT PRIMARY KEY,
	data_id  TEXT NOT NULL REFERENCES dataset_data(id),
	text     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_indexes_data ON data_indexes(data_id);

CREATE TABLE IF NOT EXISTS collections (
	id          TEXT PRIMARY KEY,
	dataset_id  TEXT NOT NULL,
	parent_id   TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL DEFAULT '',
	type        TEXT NOT NULL DEFAULT 'file',
	forbid      INTEGER NOT NULL DEFAULT 0,
	create_time TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_collections_dataset ON collections(dataset_id);
CREATE INDEX IF NOT EXISTS idx_collections_parent ON collections(parent_id);

CREATE TABLE IF NOT EXISTS collection_tags (
	id         TEXT PRIMARY KEY,
	dataset_id TEXT NOT NULL,
	name       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tags_dataset ON collection_tags(dataset_id);

CREATE TABLE IF NOT EXISTS collection_tag_refs (
	collection_id TEXT NOT NULL REFERENCES collections(id),
	tag_id        TEXT NOT NULL REFERENCES collection_tags(id),
	PRIMARY KEY (collection_id, tag_id)
);
`

// NewSQLiteStore opens (and if needed initializes) a SQLite-backed store.
// WAL mode allows concurrent readers alongside a writer process.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertData writes records and their index entries. Used by fixtures and
// tooling; the engine itself never writes.
func (s *SQLiteStore) InsertData(ctx context.Context, records ...DataRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range records {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO dataset_data (id, dataset_id, collection_id, q, a, chunk_index, update_time)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.DatasetID, r.CollectionID, r.Q, r.A, r.ChunkIndex, r.UpdateTime); err != nil {
			return err
		}
		for _, idx := range r.Indexes {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO data_indexes (index_id, data_id, text) VALUES (?, ?, ?)`,
				idx.IndexID, r.ID, idx.Text); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// InsertCollections writes collections and their tag links.
func (s *SQLiteStore) InsertCollections(ctx context.Context, collections ...Collection) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range collections {
		forbid := 0
		if c.Forbid {
			forbid = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO collections (id, dataset_id, parent_id, name, type, forbid, create_time)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.DatasetID, c.ParentID, c.Name, string(c.Type), forbid, c.CreateTime); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM collection_tag_refs WHERE collection_id = ?`, c.ID); err != nil {
			return err
		}
		for _, tagID := range c.TagIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO collection_tag_refs (collection_id, tag_id) VALUES (?, ?)`,
				c.ID, tagID); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// InsertTags writes tag records.
func (s *SQLiteStore) InsertTags(ctx context.Context, tags ...Tag) error {
	for _, t := range tags {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO collection_tags (id, dataset_id, name) VALUES (?, ?, ?)`,
			t.ID, t.DatasetID, t.Name); err != nil {
			return err
		}
	}
	return nil
}

// FindDataByIndexIDs implements DocumentStore.
func (s *SQLiteStore) FindDataByIndexIDs(ctx context.Context, datasetIDs []string, indexIDs []string) ([]DataRecord, error) {
	if len(datasetIDs) == 0 || len(indexIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		`SELECT DISTINCT d.id, d.dataset_id, d.collection_id, d.q, d.a, d.chunk_index, d.update_time
		 FROM dataset_data d
		 JOIN data_indexes i ON i.data_id = d.id
		 WHERE d.dataset_id IN (%s) AND i.index_id IN (%s)`,
		placeholders(len(datasetIDs)), placeholders(len(indexIDs)))

	args := make([]any, 0, len(datasetIDs)+len(indexIDs))
	for _, id := range datasetIDs {
		args = append(args, id)
	}
	for _, id := range indexIDs {
		args = append(args, id)
	}

	records, err := s.queryData(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return s.attachIndexes(ctx, records)
}

// FindDataByIDs implements DocumentStore.
func (s *SQLiteStore) FindDataByIDs(ctx context.Context, ids []string) ([]DataRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		`SELECT id, dataset_id, collection_id, q, a, chunk_index, update_time
		 FROM dataset_data WHERE id IN (%s)`, placeholders(len(ids)))

	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	records, err := s.queryData(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return s.attachIndexes(ctx, records)
}

// FindCollections implements DocumentStore.
func (s *SQLiteStore) FindCollections(ctx context.Context, datasetIDs []string, q CollectionQuery) ([]Collection, error) {
	if len(datasetIDs) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString(`SELECT c.id, c.dataset_id, c.parent_id, c.name, c.type, c.forbid, c.create_time
		FROM collections c WHERE c.dataset_id IN (`)
	sb.WriteString(placeholders(len(datasetIDs)))
	sb.WriteString(")")

	args := make([]any, 0, len(datasetIDs)+8)
	for _, id := range datasetIDs {
		args = append(args, id)
	}

	if len(q.IDs) > 0 {
		sb.WriteString(" AND c.id IN (" + placeholders(len(q.IDs)) + ")")
		for _, id := range q.IDs {
			args = append(args, id)
		}
	}
	if len(q.ParentIDs) > 0 {
		sb.WriteString(" AND c.parent_id IN (" + placeholders(len(q.ParentIDs)) + ")")
		for _, id := range q.ParentIDs {
			args = append(args, id)
		}
	}
	if q.Forbidden != nil {
		sb.WriteString(" AND c.forbid = ?")
		if *q.Forbidden {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	if len(q.AllTagIDs) > 0 {
		sb.WriteString(fmt.Sprintf(
			` AND (SELECT COUNT(DISTINCT r.tag_id) FROM collection_tag_refs r
			   WHERE r.collection_id = c.id AND r.tag_id IN (%s)) = ?`,
			placeholders(len(q.AllTagIDs))))
		for _, id := range q.AllTagIDs {
			args = append(args, id)
		}
		args = append(args, len(q.AllTagIDs))
	}
	if len(q.AnyTagIDs) > 0 {
		clause := fmt.Sprintf(
			`EXISTS (SELECT 1 FROM collection_tag_refs r
			  WHERE r.collection_id = c.id AND r.tag_id IN (%s))`,
			placeholders(len(q.AnyTagIDs)))
		if q.IncludeUntagged {
			clause += ` OR NOT EXISTS (SELECT 1 FROM collection_tag_refs r WHERE r.collection_id = c.id)`
		}
		sb.WriteString(" AND (" + clause + ")")
		for _, id := range q.AnyTagIDs {
			args = append(args, id)
		}
	} else if q.IncludeUntagged {
		sb.WriteString(` AND NOT EXISTS (SELECT 1 FROM collection_tag_refs r WHERE r.collection_id = c.id)`)
	}
	if q.CreateTimeGTE != nil {
		sb.WriteString(" AND c.create_time >= ?")
		args = append(args, *q.CreateTimeGTE)
	}
	if q.CreateTimeLTE != nil {
		sb.WriteString(" AND c.create_time <= ?")
		args = append(args, *q.CreateTimeLTE)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query collections: %w", err)
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var c Collection
		var typ string
		var forbid int
		var created time.Time
		if err := rows.Scan(&c.ID, &c.DatasetID, &c.ParentID, &c.Name, &typ, &forbid, &created); err != nil {
			return nil, err
		}
		c.Type = CollectionType(typ)
		c.Forbid = forbid != 0
		c.CreateTime = created
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return s.attachTagRefs(ctx, out)
}

// FindTags implements DocumentStore.
func (s *SQLiteStore) FindTags(ctx context.Context, datasetIDs []string, names []string) ([]Tag, error) {
	if len(datasetIDs) == 0 || len(names) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		`SELECT id, dataset_id, name FROM collection_tags
		 WHERE dataset_id IN (%s) AND name IN (%s)`,
		placeholders(len(datasetIDs)), placeholders(len(names)))

	args := make([]any, 0, len(datasetIDs)+len(names))
	for _, id := range datasetIDs {
		args = append(args, id)
	}
	for _, n := range names {
		args = append(args, n)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	var out []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.DatasetID, &t.Name); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) queryData(ctx context.Context, query string, args ...any) ([]DataRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query data: %w", err)
	}
	defer rows.Close()

	var out []DataRecord
	for rows.Next() {
		var r DataRecord
		var updated time.Time
		if err := rows.Scan(&r.ID, &r.DatasetID, &r.CollectionID, &r.Q, &r.A, &r.ChunkIndex, &updated); err != nil {
			return nil, err
		}
		r.UpdateTime = updated
		out = append(out, r)
	}
	return out, rows.Err()
}

// attachIndexes loads the index entries of the given records.
func (s *SQLiteStore) attachIndexes(ctx context.Context, records []DataRecord) ([]DataRecord, error) {
	if len(records) == 0 {
		return records, nil
	}

	ids := make([]any, 0, len(records))
	byID := make(map[string]int, len(records))
	for i, r := range records {
		ids = append(ids, r.ID)
		byID[r.ID] = i
	}

	query := fmt.Sprintf(
		`SELECT index_id, data_id, text FROM data_indexes WHERE data_id IN (%s)`,
		placeholders(len(ids)))

	rows, err := s.db.QueryContext(ctx, query, ids...)
	if err != nil {
		return nil, fmt.Errorf("query data indexes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var indexID, dataID, text string
		if err := rows.Scan(&indexID, &dataID, &text); err != nil {
			return nil, err
		}
		if i, ok := byID[dataID]; ok {
			records[i].Indexes = append(records[i].Indexes, DataIndex{IndexID: indexID, Text: text})
		}
	}
	return records, rows.Err()
}

// attachTagRefs loads the tag links of the given collections.
func (s *SQLiteStore) attachTagRefs(ctx context.Context, collections []Collection) ([]Collection, error) {
	if len(collections) == 0 {
		return collections, nil
	}

	ids := make([]any, 0, len(collections))
	byID := make(map[string]int, len(collections))
	for i, c := range collections {
		ids = append(ids, c.ID)
		byID[c.ID] = i
	}

	query := fmt.Sprintf(
		`SELECT collection_id, tag_id FROM collection_tag_refs WHERE collection_id IN (%s)`,
		placeholders(len(ids)))

	rows, err := s.db.QueryContext(ctx, query, ids...)
	if err != nil {
		return nil, fmt.Errorf("query tag refs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var collectionID, tagID string
		if err := rows.Scan(&collectionID, &tagID); err != nil {
			return nil, err
		}
		if i, ok := byID[collectionID]; ok {
			collections[i].TagIDs = append(collections[i].TagIDs, tagID)
		}
	}
	return collections, rows.Err()
}

// placeholders returns "?, ?, ..." with n placeholders.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Verify interface implementation at compile time
var _ DocumentStore = (*SQLiteStore)(nil)
