package app

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lessonmark/api/internal/auth"
	"lessonmark/api/internal/comments"
	"lessonmark/api/internal/config"
	"lessonmark/api/internal/export"
	"lessonmark/api/internal/logger"
	"lessonmark/api/internal/rbac"
	"lessonmark/api/internal/search"
	"lessonmark/api/internal/store"
)

const (
	testSecret  = "test-secret"
	teacherID   = "11111111-1111-4111-8111-111111111111"
	studentID   = "22222222-2222-4222-8222-222222222222"
	contentID   = "33333333-3333-4333-8333-333333333333"
	commentID   = "44444444-4444-4444-8444-444444444444"
	unknownUser = "55555555-5555-4555-8555-555555555555"
)

type fakeStore struct {
	users    map[string]store.User
	contents map[string]store.Content
	comments []store.Comment
	pingFn   func(context.Context) error
	saveFn   func(ctx context.Context, contentID, title, body string, expected int64) (int64, error)
	deleted  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: map[string]store.User{
			teacherID: {ID: teacherID, DisplayName: "Ada", Role: "teacher"},
			studentID: {ID: studentID, DisplayName: "Sam", Role: "student"},
		},
		contents: map[string]store.Content{
			contentID: {
				ID:       contentID,
				AuthorID: teacherID,
				Title:    "Cats",
				Body:     `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"The cat sat on the mat"}]}]}`,
				Version:  1,
			},
		},
	}
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetUser(_ context.Context, id string) (store.User, error) {
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetContent(_ context.Context, id string) (store.Content, error) {
	item, ok := f.contents[id]
	if !ok {
		return store.Content{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) ListContents(context.Context) ([]store.Content, error) {
	out := make([]store.Content, 0, len(f.contents))
	for _, item := range f.contents {
		out = append(out, item)
	}
	return out, nil
}

func (f *fakeStore) InsertContent(_ context.Context, item store.Content) (store.Content, error) {
	item.Version = 1
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	f.contents[item.ID] = item
	return item, nil
}

func (f *fakeStore) SaveContent(ctx context.Context, id, title, body string, expected int64) (int64, error) {
	if f.saveFn != nil {
		return f.saveFn(ctx, id, title, body, expected)
	}
	item := f.contents[id]
	if item.Version != expected {
		return 0, store.ErrVersionConflict
	}
	item.Title, item.Body, item.Version = title, body, item.Version+1
	f.contents[id] = item
	return item.Version, nil
}

func (f *fakeStore) DeleteContent(_ context.Context, id string) (bool, error) {
	if _, ok := f.contents[id]; !ok {
		return false, nil
	}
	delete(f.contents, id)
	f.deleted = append(f.deleted, id)
	return true, nil
}

func (f *fakeStore) ListComments(_ context.Context, id string) ([]store.Comment, error) {
	return f.comments, nil
}

func (f *fakeStore) UserRole(_ context.Context, userID string) (rbac.Role, error) {
	user, ok := f.users[userID]
	if !ok {
		return "", nil
	}
	return rbac.Normalize(user.Role), nil
}

func (f *fakeStore) ContentAuthor(_ context.Context, id string) (string, error) {
	return f.contents[id].AuthorID, nil
}

type fakeEngine struct {
	createFn   func(comments.CreateInput, comments.Caller) (comments.Comment, error)
	updateFn   func(string, comments.Patch, comments.Caller) (comments.Comment, error)
	transition func(action, id string, caller comments.Caller) (comments.Comment, error)
	deleteFn   func(string, comments.Caller) error
	listFn     func(string, bool, comments.Caller) ([]comments.ListedComment, error)
}

func (f *fakeEngine) Create(_ context.Context, in comments.CreateInput, c comments.Caller) (comments.Comment, error) {
	return f.createFn(in, c)
}

func (f *fakeEngine) Update(_ context.Context, id string, p comments.Patch, c comments.Caller) (comments.Comment, error) {
	return f.updateFn(id, p, c)
}

func (f *fakeEngine) Resolve(_ context.Context, id string, c comments.Caller) (comments.Comment, error) {
	return f.transition("resolve", id, c)
}

func (f *fakeEngine) Reopen(_ context.Context, id string, c comments.Caller) (comments.Comment, error) {
	return f.transition("reopen", id, c)
}

func (f *fakeEngine) Relocate(_ context.Context, id string, c comments.Caller) (comments.Comment, error) {
	return f.transition("relocate", id, c)
}

func (f *fakeEngine) Delete(_ context.Context, id string, c comments.Caller) error {
	return f.deleteFn(id, c)
}

func (f *fakeEngine) ListForContent(_ context.Context, id string, includeStale bool, c comments.Caller) ([]comments.ListedComment, error) {
	return f.listFn(id, includeStale, c)
}

type fakeSearch struct {
	queries []search.Query
	deleted []string
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	f.queries = append(f.queries, q)
	return search.Response{Results: []search.Result{{ID: commentID, ContentID: contentID, Snippet: "the <mark>cat</mark>"}}, Total: 1, Query: q.Text}
}

func (f *fakeSearch) DeleteComment(id string) {
	f.deleted = append(f.deleted, id)
}

type fakeExporter struct {
	fn func(export.Request) (*export.Result, error)
}

func (f fakeExporter) Export(_ context.Context, req export.Request) (*export.Result, error) {
	return f.fn(req)
}

type harness struct {
	store   *fakeStore
	engine  *fakeEngine
	search  *fakeSearch
	service *Service
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fs := newFakeStore()
	engine := &fakeEngine{}
	searcher := &fakeSearch{}
	svc := &Service{
		cfg:      config.Config{JWTSecret: testSecret},
		store:    fs,
		comments: engine,
		policy:   rbac.NewPolicy(fs),
		search:   searcher,
		log:      logger.Nop(),
	}
	return &harness{
		store:   fs,
		engine:  engine,
		search:  searcher,
		service: svc,
		handler: NewHTTPServer(svc, "*", nil).Handler(),
	}
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.NewClaims(userID, "tester", "", time.Hour))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (h *harness) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, userID))
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}
