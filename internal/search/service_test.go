package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	mu        sync.Mutex
	healthy   bool
	results   []Result
	searchErr error
	indexed   []CommentRecord
	deleted   []string
}

func (f *fakeIndex) Search(q Query) ([]Result, int, error) {
	if f.searchErr != nil {
		return nil, 0, f.searchErr
	}
	return f.results, len(f.results), nil
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) IndexComment(c CommentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, c)
	return nil
}

func (f *fakeIndex) DeleteComment(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeIndex) IndexComments(comments []CommentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, comments...)
	return nil
}

type fakeFallback struct {
	results []Result
	err     error
	calls   int
}

func (f *fakeFallback) Search(q Query) ([]Result, int, error) {
	f.calls++
	return f.results, len(f.results), f.err
}

func (f *fakeFallback) Healthy() bool { return true }

type loaderFunc func(ctx context.Context) ([]CommentRecord, error)

func (fn loaderFunc) LoadAllRecords(ctx context.Context) ([]CommentRecord, error) { return fn(ctx) }

func TestServiceSearchPrefersHealthyIndex(t *testing.T) {
	index := &fakeIndex{healthy: true, results: []Result{{ID: "c1"}}}
	fallback := &fakeFallback{results: []Result{{ID: "pg"}}}
	svc := NewService(index, fallback, nil)

	resp := svc.Search(Query{Text: "cat"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "c1", resp.Results[0].ID)
	assert.Equal(t, "cat", resp.Query)
	assert.Zero(t, fallback.calls)
}

func TestServiceSearchFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		index Index
	}{
		{name: "no index", index: nil},
		{name: "unhealthy index", index: &fakeIndex{healthy: false}},
		{name: "index error", index: &fakeIndex{healthy: true, searchErr: errors.New("down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fallback := &fakeFallback{results: []Result{{ID: "pg"}}}
			svc := NewService(tt.index, fallback, nil)
			resp := svc.Search(Query{Text: "cat"})
			require.Len(t, resp.Results, 1)
			assert.Equal(t, "pg", resp.Results[0].ID)
			assert.Equal(t, 1, fallback.calls)
		})
	}
}

func TestServiceSearchNeverReturnsNilResults(t *testing.T) {
	svc := NewService(nil, &fakeFallback{err: errors.New("boom")}, nil)
	resp := svc.Search(Query{Text: "cat"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)

	svc = NewService(nil, &fakeFallback{}, nil)
	assert.NotNil(t, svc.Search(Query{Text: "cat"}).Results)
}

func TestServiceIndexWritesAreAsyncAndSkippedWhenUnhealthy(t *testing.T) {
	index := &fakeIndex{healthy: true}
	svc := NewService(index, nil, nil)
	svc.IndexComment(CommentRecord{ID: "c1", Body: "hello"})
	svc.DeleteComment("c2")
	svc.Wait()
	require.Len(t, index.indexed, 1)
	assert.Equal(t, "c1", index.indexed[0].ID)
	assert.Equal(t, []string{"c2"}, index.deleted)

	index.healthy = false
	svc.IndexComment(CommentRecord{ID: "c3"})
	svc.Wait()
	assert.Len(t, index.indexed, 1)
}

func TestServiceReindexAll(t *testing.T) {
	index := &fakeIndex{healthy: true}
	svc := NewService(index, nil, nil)
	svc.ReindexAll(context.Background(), loaderFunc(func(context.Context) ([]CommentRecord, error) {
		return []CommentRecord{{ID: "a"}, {ID: "b"}}, nil
	}))
	assert.Len(t, index.indexed, 2)

	svc.ReindexAll(context.Background(), loaderFunc(func(context.Context) ([]CommentRecord, error) {
		return nil, errors.New("db down")
	}))
	assert.Len(t, index.indexed, 2)
}

func TestBuildFilters(t *testing.T) {
	assert.Equal(t, []string{"isResolved = false"}, buildFilters(Query{}))
	assert.Equal(t, []string{`contentId = "abc"`}, buildFilters(Query{ContentID: "abc", IncludeResolved: true}))
	assert.Empty(t, buildFilters(Query{IncludeResolved: true}))
}

func TestBuildWhere(t *testing.T) {
	where, args := buildWhere(Query{Text: "cat", ContentID: "abc"})
	assert.Equal(t, "c.fts @@ plainto_tsquery('english', $1) AND c.content_id = $2 AND NOT c.is_resolved", where)
	assert.Equal(t, []any{"cat", "abc"}, args)

	where, args = buildWhere(Query{Text: "cat", IncludeResolved: true})
	assert.Equal(t, "c.fts @@ plainto_tsquery('english', $1)", where)
	assert.Len(t, args, 1)
}

func TestHitToResultPrefersFormattedSnippet(t *testing.T) {
	hit := meili.Hit{
		"id":           json.RawMessage(`"c1"`),
		"contentId":    json.RawMessage(`"doc"`),
		"body":         json.RawMessage(`"explain the cat"`),
		"selectedText": json.RawMessage(`"cat"`),
		"isResolved":   json.RawMessage(`true`),
		"_formatted":   json.RawMessage(`{"body":"explain the <mark>cat</mark>","isResolved":true}`),
	}
	r := hitToResult(hit)
	assert.Equal(t, Result{
		ID:           "c1",
		ContentID:    "doc",
		Snippet:      "explain the <mark>cat</mark>",
		SelectedText: "cat",
		IsResolved:   true,
	}, r)

	delete(hit, "_formatted")
	assert.Equal(t, "explain the cat", hitToResult(hit).Snippet)
}
