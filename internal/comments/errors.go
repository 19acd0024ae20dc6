package comments

import (
	"database/sql"
	"errors"
	"fmt"

	"lessonmark/api/internal/store"
)

// Kind classifies engine failures. Every kind is recoverable by the caller.
type Kind string

const (
	KindNotFound      Kind = "NOT_FOUND"
	KindForbidden     Kind = "FORBIDDEN"
	KindEmptyComment  Kind = "EMPTY_COMMENT"
	KindInvalidAnchor Kind = "INVALID_ANCHOR"
)

// Error is the typed failure returned by Engine operations.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches on Kind so callers can compare against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound      = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden     = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrEmptyComment  = &Error{Kind: KindEmptyComment, Message: "comment text is blank"}
	ErrInvalidAnchor = &Error{Kind: KindInvalidAnchor, Message: "anchor does not match the document"}
)

func newError(kind Kind, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

func notFound(what, id string) *Error {
	return newError(KindNotFound, what+" not found", map[string]any{"id": id})
}

// translateStoreError turns missing-row conditions into NotFound and wraps the rest.
func translateStoreError(err error, what, id string) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, store.ErrContentMissing) {
		return notFound(what, id)
	}
	return fmt.Errorf("%s %s: %w", what, id, err)
}
