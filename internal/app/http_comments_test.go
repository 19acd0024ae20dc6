package app

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"lessonmark/api/internal/anchor"
	"lessonmark/api/internal/comments"
)

func sampleComment() comments.Comment {
	return comments.Comment{
		ID:        commentID,
		ContentID: contentID,
		AuthorID:  teacherID,
		Comment:   "Explain this word",
		Anchor:    anchor.TextAnchor{SelectionStart: 4, SelectionEnd: 7, SelectedText: "cat"},
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

const createBody = `{"comment":"Explain this word","anchor":{"selectionStart":4,"selectionEnd":7,"selectedText":"cat","positionPath":[0,0]}}`

func TestCreateCommentPassesInputToEngine(t *testing.T) {
	h := newHarness(t)
	var got comments.CreateInput
	var caller comments.Caller
	h.engine.createFn = func(in comments.CreateInput, c comments.Caller) (comments.Comment, error) {
		got, caller = in, c
		return sampleComment(), nil
	}

	rr := h.do(t, http.MethodPost, "/api/contents/"+contentID+"/comments", teacherID, createBody)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.ContentID != contentID || got.Comment != "Explain this word" || caller.UserID != teacherID {
		t.Fatalf("unexpected engine input: %+v caller=%+v", got, caller)
	}
	if got.Anchor.SelectionStart != 4 || got.Anchor.SelectionEnd != 7 || got.Anchor.SelectedText != "cat" || len(got.Anchor.PositionPath) != 2 {
		t.Fatalf("unexpected anchor: %+v", got.Anchor)
	}
	comment := decodeJSON(t, rr.Body.Bytes())["comment"].(map[string]any)
	if comment["isResolved"] != false || comment["isEdited"] != false || comment["id"] != commentID {
		t.Fatalf("unexpected comment payload: %v", comment)
	}
}

func TestCreateCommentMapsEngineErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{err: &comments.Error{Kind: comments.KindNotFound, Message: "content not found"}, status: http.StatusNotFound, code: "NOT_FOUND"},
		{err: &comments.Error{Kind: comments.KindForbidden, Message: "missing edit capability"}, status: http.StatusForbidden, code: "FORBIDDEN"},
		{err: &comments.Error{Kind: comments.KindEmptyComment, Message: "comment text is blank"}, status: http.StatusUnprocessableEntity, code: "EMPTY_COMMENT"},
		{err: &comments.Error{Kind: comments.KindInvalidAnchor, Message: "selected text does not match the document", Details: map[string]any{"currentText": "cat"}}, status: http.StatusUnprocessableEntity, code: "INVALID_ANCHOR"},
		{err: fmt.Errorf("boom"), status: http.StatusInternalServerError, code: "SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			h := newHarness(t)
			h.engine.createFn = func(comments.CreateInput, comments.Caller) (comments.Comment, error) {
				return comments.Comment{}, tt.err
			}
			rr := h.do(t, http.MethodPost, "/api/contents/"+contentID+"/comments", teacherID, createBody)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			payload := decodeJSON(t, rr.Body.Bytes())
			if payload["code"] != tt.code {
				t.Fatalf("expected code %s, got %v", tt.code, payload["code"])
			}
			if tt.code == "INVALID_ANCHOR" {
				details := payload["details"].(map[string]any)
				if details["currentText"] != "cat" {
					t.Fatalf("expected currentText detail, got %v", details)
				}
			}
		})
	}
}

func TestCreateCommentBoundaryValidation(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
		field  string
	}{
		{name: "content id not uuid", path: "/api/contents/not-a-uuid/comments", body: createBody, status: http.StatusUnprocessableEntity, field: "contentId"},
		{name: "malformed json", path: "/api/contents/" + contentID + "/comments", body: `{"comment":`, status: http.StatusBadRequest},
		{name: "anchor missing", path: "/api/contents/" + contentID + "/comments", body: `{"comment":"hi"}`, status: http.StatusUnprocessableEntity, field: "anchor"},
		{name: "negative start", path: "/api/contents/" + contentID + "/comments", body: `{"comment":"hi","anchor":{"selectionStart":-1,"selectionEnd":2,"selectedText":"abc"}}`, status: http.StatusUnprocessableEntity, field: "anchor.selectionStart"},
		{name: "inverted range", path: "/api/contents/" + contentID + "/comments", body: `{"comment":"hi","anchor":{"selectionStart":5,"selectionEnd":2,"selectedText":""}}`, status: http.StatusUnprocessableEntity, field: "anchor.selectionEnd"},
		{name: "author not uuid", path: "/api/contents/" + contentID + "/comments", body: `{"authorId":"bob","comment":"hi","anchor":{"selectionStart":4,"selectionEnd":7,"selectedText":"cat"}}`, status: http.StatusUnprocessableEntity, field: "authorId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.engine.createFn = func(comments.CreateInput, comments.Caller) (comments.Comment, error) {
				t.Fatal("engine must not be called for invalid input")
				return comments.Comment{}, nil
			}
			rr := h.do(t, http.MethodPost, tt.path, teacherID, tt.body)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			if tt.field == "" {
				return
			}
			details, _ := decodeJSON(t, rr.Body.Bytes())["details"].(map[string]any)
			if _, ok := details[tt.field]; !ok {
				t.Fatalf("expected details for %s, got %v", tt.field, details)
			}
		})
	}
}

func TestListCommentsIncludeStale(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{query: "", want: true},
		{query: "?includeStale=true", want: true},
		{query: "?includeStale=false", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			h := newHarness(t)
			var got *bool
			h.engine.listFn = func(id string, includeStale bool, c comments.Caller) ([]comments.ListedComment, error) {
				got = &includeStale
				stale := comments.ListedComment{Comment: sampleComment(), IsStale: true, CurrentText: "big",
					Suggested: &anchor.TextAnchor{SelectionStart: 8, SelectionEnd: 11, SelectedText: "cat"}}
				return []comments.ListedComment{stale}, nil
			}
			rr := h.do(t, http.MethodGet, "/api/contents/"+contentID+"/comments"+tt.query, studentID, "")
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			if got == nil || *got != tt.want {
				t.Fatalf("expected includeStale=%v, got %v", tt.want, got)
			}
			items := decodeJSON(t, rr.Body.Bytes())["items"].([]any)
			item := items[0].(map[string]any)
			if item["isStale"] != true || item["suggestedAnchor"] == nil {
				t.Fatalf("expected derived staleness in payload: %v", item)
			}
		})
	}

	h := newHarness(t)
	rr := h.do(t, http.MethodGet, "/api/contents/"+contentID+"/comments?includeStale=maybe", studentID, "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad includeStale, got %d", rr.Code)
	}
}

func TestPatchComment(t *testing.T) {
	h := newHarness(t)
	var got comments.Patch
	h.engine.updateFn = func(id string, p comments.Patch, c comments.Caller) (comments.Comment, error) {
		if id != commentID {
			t.Fatalf("unexpected id %s", id)
		}
		got = p
		updated := sampleComment()
		updated.IsResolved = true
		return updated, nil
	}

	rr := h.do(t, http.MethodPatch, "/api/comments/"+commentID, teacherID, `{"isResolved":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.IsResolved == nil || !*got.IsResolved || got.Comment != nil || got.Anchor != nil || got.CommentRich != nil {
		t.Fatalf("unexpected patch: %+v", got)
	}

	rr = h.do(t, http.MethodPatch, "/api/comments/"+commentID, teacherID, `{"comment":"new","anchor":{"selectionStart":0,"selectionEnd":3,"selectedText":"The"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.Comment == nil || *got.Comment != "new" || got.Anchor == nil || got.Anchor.SelectedText != "The" {
		t.Fatalf("unexpected patch: %+v", got)
	}

	rr = h.do(t, http.MethodPatch, "/api/comments/"+commentID, teacherID, `{"anchor":{"selectionStart":3,"selectionEnd":0}}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for inverted anchor, got %d", rr.Code)
	}

	h.engine.updateFn = func(string, comments.Patch, comments.Caller) (comments.Comment, error) {
		return comments.Comment{}, &comments.Error{Kind: comments.KindForbidden, Message: "only the author or a moderator may change this comment"}
	}
	rr = h.do(t, http.MethodPatch, "/api/comments/"+commentID, studentID, `{"comment":"x"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestCommentTransitions(t *testing.T) {
	for _, action := range []string{"resolve", "reopen", "relocate"} {
		t.Run(action, func(t *testing.T) {
			h := newHarness(t)
			var called string
			h.engine.transition = func(a, id string, c comments.Caller) (comments.Comment, error) {
				called = a
				return sampleComment(), nil
			}
			rr := h.do(t, http.MethodPost, "/api/comments/"+commentID+"/"+action, teacherID, "")
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			if called != action {
				t.Fatalf("expected %s, engine saw %q", action, called)
			}
		})
	}
}

func TestDeleteComment(t *testing.T) {
	h := newHarness(t)
	h.engine.deleteFn = func(id string, c comments.Caller) error {
		return &comments.Error{Kind: comments.KindNotFound, Message: "comment not found"}
	}
	rr := h.do(t, http.MethodDelete, "/api/comments/"+commentID, teacherID, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	h.engine.deleteFn = func(string, comments.Caller) error { return nil }
	rr = h.do(t, http.MethodDelete, "/api/comments/"+commentID, teacherID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = h.do(t, http.MethodDelete, "/api/comments/42", teacherID, "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for non-uuid id, got %d", rr.Code)
	}
}
