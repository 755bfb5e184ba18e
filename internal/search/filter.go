package search

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kaptinlin/jsonrepair"

	kberrors "github.com/kbsearch/kbsearch/internal/errors"
	"github.com/kbsearch/kbsearch/internal/store"
)

// TagCondition matches collections by tag membership. Entries are tag
// names; a nil entry means "untagged". And requires every condition to
// hold, which makes a mix of names and nil unsatisfiable. Or accepts any.
type TagCondition struct {
	And []*string `json:"$and,omitempty"`
	Or  []*string `json:"$or,omitempty"`
}

// TimeCondition matches collections by creation time.
type TimeCondition struct {
	GTE *FilterTime `json:"$gte,omitempty"`
	LTE *FilterTime `json:"$lte,omitempty"`
}

// FilterTime accepts RFC 3339 timestamps or plain dates.
type FilterTime struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (ft *FilterTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			ft.Time = t
			return nil
		}
	}
	return kberrors.Newf(kberrors.ErrCodeInvalidFilter, "unparseable filter time %q", raw)
}

// CollectionFilter is the metadata predicate a caller attaches to a
// search to scope which collections recall may touch.
type CollectionFilter struct {
	Tags       *TagCondition  `json:"tags,omitempty"`
	CreateTime *TimeCondition `json:"createTime,omitempty"`
}

// empty reports whether the filter contains no predicate at all.
func (f *CollectionFilter) empty() bool {
	if f == nil {
		return true
	}
	tagsEmpty := f.Tags == nil || (len(f.Tags.And) == 0 && len(f.Tags.Or) == 0)
	timeEmpty := f.CreateTime == nil || (f.CreateTime.GTE == nil && f.CreateTime.LTE == nil)
	return tagsEmpty && timeEmpty
}

// ParseCollectionFilter parses a raw filter payload. Slightly broken
// JSON is repaired before giving up; a payload that still does not parse
// is a caller error, not a silent no-op.
func ParseCollectionFilter(raw string) (*CollectionFilter, error) {
	if raw == "" {
		return nil, nil
	}

	var f CollectionFilter
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, kberrors.New(kberrors.ErrCodeInvalidFilter, "malformed collection filter", err)
		}
		if err := json.Unmarshal([]byte(repaired), &f); err != nil {
			return nil, kberrors.New(kberrors.ErrCodeInvalidFilter, "malformed collection filter", err)
		}
	}
	return &f, nil
}

// collectionScope is the resolved access constraint recall runs under.
// Allow is nil when no filter narrows the scope; an empty non-nil allow
// denies everything. Deny always carries the forbidden collections.
type collectionScope struct {
	allow []string
	deny  []string
}

// resolveScope turns the forbidden flag and an optional metadata filter
// into concrete collection id constraints.
func (e *Engine) resolveScope(ctx context.Context, datasetIDs []string, filter *CollectionFilter) (collectionScope, error) {
	forbidden := true
	forbiddenCols, err := e.store.FindCollections(ctx, datasetIDs, store.CollectionQuery{Forbidden: &forbidden})
	if err != nil {
		return collectionScope{}, kberrors.Wrap(kberrors.ErrCodeStoreQuery, err)
	}
	scope := collectionScope{deny: collectionIDs(forbiddenCols)}

	if filter.empty() {
		return scope, nil
	}

	var sets []map[string]store.Collection

	if filter.Tags != nil && len(filter.Tags.And) > 0 {
		set, err := e.resolveAndTags(ctx, datasetIDs, filter.Tags.And)
		if err != nil {
			return collectionScope{}, err
		}
		sets = append(sets, set)
	}
	if filter.Tags != nil && len(filter.Tags.Or) > 0 {
		set, err := e.resolveOrTags(ctx, datasetIDs, filter.Tags.Or)
		if err != nil {
			return collectionScope{}, err
		}
		sets = append(sets, set)
	}
	if filter.CreateTime != nil && (filter.CreateTime.GTE != nil || filter.CreateTime.LTE != nil) {
		q := store.CollectionQuery{}
		if filter.CreateTime.GTE != nil {
			q.CreateTimeGTE = &filter.CreateTime.GTE.Time
		}
		if filter.CreateTime.LTE != nil {
			q.CreateTimeLTE = &filter.CreateTime.LTE.Time
		}
		cols, err := e.store.FindCollections(ctx, datasetIDs, q)
		if err != nil {
			return collectionScope{}, kberrors.Wrap(kberrors.ErrCodeStoreQuery, err)
		}
		sets = append(sets, collectionMap(cols))
	}

	matched := intersectCollectionSets(sets)
	leaves, err := e.expandFolders(ctx, datasetIDs, matched)
	if err != nil {
		return collectionScope{}, err
	}

	// Non-nil even when empty: a filter that matches nothing denies all.
	scope.allow = leaves
	if scope.allow == nil {
		scope.allow = []string{}
	}
	return scope, nil
}

// resolveAndTags handles the conjunction condition. Mixing tag names
// with the untagged marker cannot be satisfied; all names requires a
// dataset to carry every tag and a collection to carry every matching
// tag id; all untagged markers match collections without tags.
func (e *Engine) resolveAndTags(ctx context.Context, datasetIDs []string, conds []*string) (map[string]store.Collection, error) {
	var names []string
	hasNull := false
	for _, c := range conds {
		if c == nil {
			hasNull = true
		} else {
			names = append(names, *c)
		}
	}

	if hasNull && len(names) > 0 {
		return map[string]store.Collection{}, nil
	}

	if hasNull {
		cols, err := e.store.FindCollections(ctx, datasetIDs, store.CollectionQuery{IncludeUntagged: true})
		if err != nil {
			return nil, kberrors.Wrap(kberrors.ErrCodeStoreQuery, err)
		}
		return collectionMap(cols), nil
	}

	tags, err := e.store.FindTags(ctx, datasetIDs, names)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.ErrCodeStoreQuery, err)
	}

	tagsByDataset := make(map[string]map[string]string)
	for _, t := range tags {
		if tagsByDataset[t.DatasetID] == nil {
			tagsByDataset[t.DatasetID] = make(map[string]string)
		}
		tagsByDataset[t.DatasetID][t.Name] = t.ID
	}

	out := make(map[string]store.Collection)
	for datasetID, byName := range tagsByDataset {
		if len(byName) < len(names) {
			continue
		}
		tagIDs := make([]string, 0, len(names))
		for _, name := range names {
			tagIDs = append(tagIDs, byName[name])
		}
		cols, err := e.store.FindCollections(ctx, []string{datasetID}, store.CollectionQuery{AllTagIDs: tagIDs})
		if err != nil {
			return nil, kberrors.Wrap(kberrors.ErrCodeStoreQuery, err)
		}
		for _, c := range cols {
			out[c.ID] = c
		}
	}
	return out, nil
}

// resolveOrTags handles the disjunction condition. Any listed tag name
// qualifies a collection; a nil marker additionally admits untagged
// collections.
func (e *Engine) resolveOrTags(ctx context.Context, datasetIDs []string, conds []*string) (map[string]store.Collection, error) {
	var names []string
	hasNull := false
	for _, c := range conds {
		if c == nil {
			hasNull = true
		} else {
			names = append(names, *c)
		}
	}

	var tagIDs []string
	if len(names) > 0 {
		tags, err := e.store.FindTags(ctx, datasetIDs, names)
		if err != nil {
			return nil, kberrors.Wrap(kberrors.ErrCodeStoreQuery, err)
		}
		for _, t := range tags {
			tagIDs = append(tagIDs, t.ID)
		}
	}

	if len(tagIDs) == 0 && !hasNull {
		return map[string]store.Collection{}, nil
	}

	cols, err := e.store.FindCollections(ctx, datasetIDs, store.CollectionQuery{
		AnyTagIDs:       tagIDs,
		IncludeUntagged: hasNull,
	})
	if err != nil {
		return nil, kberrors.Wrap(kberrors.ErrCodeStoreQuery, err)
	}
	return collectionMap(cols), nil
}

// expandFolders replaces folder collections with their leaf descendants.
func (e *Engine) expandFolders(ctx context.Context, datasetIDs []string, matched map[string]store.Collection) ([]string, error) {
	var leaves []string
	var folders []string
	seen := make(map[string]struct{}, len(matched))

	for id, c := range matched {
		seen[id] = struct{}{}
		if c.Type == store.CollectionTypeFolder {
			folders = append(folders, id)
		} else {
			leaves = append(leaves, id)
		}
	}

	for len(folders) > 0 {
		children, err := e.store.FindCollections(ctx, datasetIDs, store.CollectionQuery{ParentIDs: folders})
		if err != nil {
			return nil, kberrors.Wrap(kberrors.ErrCodeStoreQuery, err)
		}
		folders = folders[:0]
		for _, c := range children {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			if c.Type == store.CollectionTypeFolder {
				folders = append(folders, c.ID)
			} else {
				leaves = append(leaves, c.ID)
			}
		}
	}
	return leaves, nil
}

func collectionMap(cols []store.Collection) map[string]store.Collection {
	out := make(map[string]store.Collection, len(cols))
	for _, c := range cols {
		out[c.ID] = c
	}
	return out
}

func collectionIDs(cols []store.Collection) []string {
	ids := make([]string, 0, len(cols))
	for _, c := range cols {
		ids = append(ids, c.ID)
	}
	return ids
}

func intersectCollectionSets(sets []map[string]store.Collection) map[string]store.Collection {
	if len(sets) == 0 {
		return nil
	}
	out := sets[0]
	for _, s := range sets[1:] {
		next := make(map[string]store.Collection)
		for id, c := range out {
			if _, ok := s[id]; ok {
				next[id] = c
			}
		}
		out = next
	}
	return out
}
