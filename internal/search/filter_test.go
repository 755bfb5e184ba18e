package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/kbsearch/kbsearch/internal/errors"
	"github.com/kbsearch/kbsearch/internal/store"
)

func strPtr(s string) *string { return &s }

func filterTestEngine(t *testing.T) (*Engine, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	ms.AddTags(
		store.Tag{ID: "t-api", DatasetID: "ds1", Name: "api"},
		store.Tag{ID: "t-guide", DatasetID: "ds1", Name: "guide"},
		store.Tag{ID: "t-api-ds2", DatasetID: "ds2", Name: "api"},
	)
	ms.AddCollections(
		store.Collection{ID: "folder", DatasetID: "ds1", Type: store.CollectionTypeFolder,
			TagIDs: []string{"t-api"}, CreateTime: base},
		store.Collection{ID: "in-folder", DatasetID: "ds1", ParentID: "folder",
			Type: store.CollectionTypeFile, CreateTime: base},
		store.Collection{ID: "both-tags", DatasetID: "ds1", Type: store.CollectionTypeFile,
			TagIDs: []string{"t-api", "t-guide"}, CreateTime: base.AddDate(0, 0, 2)},
		store.Collection{ID: "api-only", DatasetID: "ds1", Type: store.CollectionTypeFile,
			TagIDs: []string{"t-api"}, CreateTime: base.AddDate(0, 0, 8)},
		store.Collection{ID: "untagged", DatasetID: "ds1", Type: store.CollectionTypeFile,
			CreateTime: base.AddDate(0, 0, 4)},
		store.Collection{ID: "forbidden", DatasetID: "ds1", Type: store.CollectionTypeFile,
			Forbid: true, CreateTime: base},
		store.Collection{ID: "ds2-api", DatasetID: "ds2", Type: store.CollectionTypeFile,
			TagIDs: []string{"t-api-ds2"}, CreateTime: base},
	)
	return NewEngine(Deps{Store: ms}), ms
}

func TestParseCollectionFilter(t *testing.T) {
	t.Run("empty payload means no filter", func(t *testing.T) {
		f, err := ParseCollectionFilter("")
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("valid payload", func(t *testing.T) {
		f, err := ParseCollectionFilter(`{"tags":{"$and":["api",null]},"createTime":{"$gte":"2024-05-01"}}`)
		require.NoError(t, err)
		require.NotNil(t, f.Tags)
		require.Len(t, f.Tags.And, 2)
		assert.Equal(t, "api", *f.Tags.And[0])
		assert.Nil(t, f.Tags.And[1])
		require.NotNil(t, f.CreateTime.GTE)
	})

	t.Run("slightly broken payload is repaired", func(t *testing.T) {
		f, err := ParseCollectionFilter(`{"tags":{"$or":["api",]}}`)
		require.NoError(t, err)
		require.NotNil(t, f.Tags)
		require.Len(t, f.Tags.Or, 1)
	})

	t.Run("hopeless payload is a caller error", func(t *testing.T) {
		_, err := ParseCollectionFilter(`tags === api`)
		require.Error(t, err)
		assert.Equal(t, kberrors.ErrCodeInvalidFilter, kberrors.GetCode(err))
	})
}

func TestResolveScopeForbiddenAlwaysDenied(t *testing.T) {
	e, _ := filterTestEngine(t)
	scope, err := e.resolveScope(context.Background(), []string{"ds1"}, nil)
	require.NoError(t, err)
	assert.Nil(t, scope.allow, "no filter leaves recall unrestricted")
	assert.ElementsMatch(t, []string{"forbidden"}, scope.deny)
}

func TestResolveScopeAndTags(t *testing.T) {
	e, _ := filterTestEngine(t)
	ctx := context.Background()

	t.Run("all names require every tag", func(t *testing.T) {
		scope, err := e.resolveScope(ctx, []string{"ds1"},
			&CollectionFilter{Tags: &TagCondition{And: []*string{strPtr("api"), strPtr("guide")}}})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"both-tags"}, scope.allow)
	})

	t.Run("name plus untagged marker is unsatisfiable", func(t *testing.T) {
		scope, err := e.resolveScope(ctx, []string{"ds1"},
			&CollectionFilter{Tags: &TagCondition{And: []*string{strPtr("api"), nil}}})
		require.NoError(t, err)
		require.NotNil(t, scope.allow)
		assert.Empty(t, scope.allow, "contradictory condition matches nothing")
	})

	t.Run("all untagged markers match untagged collections", func(t *testing.T) {
		scope, err := e.resolveScope(ctx, []string{"ds1"},
			&CollectionFilter{Tags: &TagCondition{And: []*string{nil}}})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"in-folder", "untagged", "forbidden"}, scope.allow)
	})

	t.Run("tag names resolve per dataset", func(t *testing.T) {
		scope, err := e.resolveScope(ctx, []string{"ds1", "ds2"},
			&CollectionFilter{Tags: &TagCondition{And: []*string{strPtr("api")}}})
		require.NoError(t, err)
		// Folder expands to its leaf; ds2 has its own tag named api.
		assert.ElementsMatch(t, []string{"in-folder", "both-tags", "api-only", "ds2-api"}, scope.allow)
	})
}

func TestResolveScopeOrTags(t *testing.T) {
	e, _ := filterTestEngine(t)
	ctx := context.Background()

	t.Run("any tag qualifies", func(t *testing.T) {
		scope, err := e.resolveScope(ctx, []string{"ds1"},
			&CollectionFilter{Tags: &TagCondition{Or: []*string{strPtr("guide")}}})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"both-tags"}, scope.allow)
	})

	t.Run("untagged marker widens the set", func(t *testing.T) {
		scope, err := e.resolveScope(ctx, []string{"ds1"},
			&CollectionFilter{Tags: &TagCondition{Or: []*string{strPtr("guide"), nil}}})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"both-tags", "in-folder", "untagged", "forbidden"}, scope.allow)
	})

	t.Run("unknown tag matches nothing", func(t *testing.T) {
		scope, err := e.resolveScope(ctx, []string{"ds1"},
			&CollectionFilter{Tags: &TagCondition{Or: []*string{strPtr("nope")}}})
		require.NoError(t, err)
		require.NotNil(t, scope.allow)
		assert.Empty(t, scope.allow)
	})
}

func TestResolveScopeCreateTime(t *testing.T) {
	e, _ := filterTestEngine(t)

	gte := FilterTime{time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)}
	lte := FilterTime{time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)}
	scope, err := e.resolveScope(context.Background(), []string{"ds1"},
		&CollectionFilter{CreateTime: &TimeCondition{GTE: &gte, LTE: &lte}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"both-tags", "untagged"}, scope.allow)
}

func TestResolveScopeIntersectsTagAndTime(t *testing.T) {
	e, _ := filterTestEngine(t)

	gte := FilterTime{time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC)}
	scope, err := e.resolveScope(context.Background(), []string{"ds1"},
		&CollectionFilter{
			Tags:       &TagCondition{Or: []*string{strPtr("api")}},
			CreateTime: &TimeCondition{GTE: &gte},
		})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"api-only"}, scope.allow)
}

func TestResolveScopeExpandsFolders(t *testing.T) {
	e, _ := filterTestEngine(t)

	// The folder carries the api tag; matching it must surface its leaf
	// children, not the folder id itself.
	scope, err := e.resolveScope(context.Background(), []string{"ds1"},
		&CollectionFilter{Tags: &TagCondition{Or: []*string{strPtr("api")}}})
	require.NoError(t, err)
	assert.NotContains(t, scope.allow, "folder")
	assert.Contains(t, scope.allow, "in-folder")
}
