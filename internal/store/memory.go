package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory DocumentStore. It backs tests and the demo
// fixtures of the CLI; linear scans are fine at those sizes.
type MemoryStore struct {
	mu          sync.RWMutex
	data        map[string]DataRecord
	collections map[string]Collection
	tags        map[string]Tag
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:        make(map[string]DataRecord),
		collections: make(map[string]Collection),
		tags:        make(map[string]Tag),
	}
}

// AddData inserts or replaces records.
func (s *MemoryStore) AddData(records ...DataRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.data[r.ID] = r
	}
}

// AddCollections inserts or replaces collections.
func (s *MemoryStore) AddCollections(collections ...Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range collections {
		s.collections[c.ID] = c
	}
}

// AddTags inserts or replaces tags.
func (s *MemoryStore) AddTags(tags ...Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tags {
		s.tags[t.ID] = t
	}
}

// FindDataByIndexIDs implements DocumentStore.
func (s *MemoryStore) FindDataByIndexIDs(_ context.Context, datasetIDs []string, indexIDs []string) ([]DataRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	datasets := toSet(datasetIDs)
	wanted := toSet(indexIDs)

	var out []DataRecord
	for _, r := range s.data {
		if _, ok := datasets[r.DatasetID]; !ok {
			continue
		}
		for _, idx := range r.Indexes {
			if _, ok := wanted[idx.IndexID]; ok {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

// FindDataByIDs implements DocumentStore.
func (s *MemoryStore) FindDataByIDs(_ context.Context, ids []string) ([]DataRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DataRecord, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.data[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// FindCollections implements DocumentStore.
func (s *MemoryStore) FindCollections(_ context.Context, datasetIDs []string, q CollectionQuery) ([]Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	datasets := toSet(datasetIDs)
	ids := toSet(q.IDs)
	parents := toSet(q.ParentIDs)

	var out []Collection
	for _, c := range s.collections {
		if _, ok := datasets[c.DatasetID]; !ok {
			continue
		}
		if len(q.IDs) > 0 {
			if _, ok := ids[c.ID]; !ok {
				continue
			}
		}
		if len(q.ParentIDs) > 0 {
			if _, ok := parents[c.ParentID]; !ok {
				continue
			}
		}
		if q.Forbidden != nil && c.Forbid != *q.Forbidden {
			continue
		}
		if len(q.AllTagIDs) > 0 && !hasAllTags(c, q.AllTagIDs) {
			continue
		}
		if len(q.AnyTagIDs) > 0 {
			if !hasAnyTag(c, q.AnyTagIDs) && !(q.IncludeUntagged && len(c.TagIDs) == 0) {
				continue
			}
		} else if q.IncludeUntagged && len(c.TagIDs) > 0 {
			continue
		}
		if q.CreateTimeGTE != nil && c.CreateTime.Before(*q.CreateTimeGTE) {
			continue
		}
		if q.CreateTimeLTE != nil && c.CreateTime.After(*q.CreateTimeLTE) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// FindTags implements DocumentStore.
func (s *MemoryStore) FindTags(_ context.Context, datasetIDs []string, names []string) ([]Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	datasets := toSet(datasetIDs)
	wanted := toSet(names)

	var out []Tag
	for _, t := range s.tags {
		if _, ok := datasets[t.DatasetID]; !ok {
			continue
		}
		if _, ok := wanted[t.Name]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func toSet(values []string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

func hasAllTags(c Collection, tagIDs []string) bool {
	have := toSet(c.TagIDs)
	for _, id := range tagIDs {
		if _, ok := have[id]; !ok {
			return false
		}
	}
	return true
}

func hasAnyTag(c Collection, tagIDs []string) bool {
	have := toSet(c.TagIDs)
	for _, id := range tagIDs {
		if _, ok := have[id]; ok {
			return true
		}
	}
	return false
}

// Verify interface implementation at compile time
var _ DocumentStore = (*MemoryStore)(nil)
