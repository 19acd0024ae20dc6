package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"lessonmark/api/internal/auth"
	"lessonmark/api/internal/comments"
	"lessonmark/api/internal/export"
	"lessonmark/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var commentStatus = map[comments.Kind]int{
	comments.KindNotFound:      http.StatusNotFound,
	comments.KindForbidden:     http.StatusForbidden,
	comments.KindEmptyComment:  http.StatusUnprocessableEntity,
	comments.KindInvalidAnchor: http.StatusUnprocessableEntity,
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var commentErr *comments.Error
	if errors.As(err, &commentErr) {
		status, ok := commentStatus[commentErr.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		var details any
		if len(commentErr.Details) > 0 {
			details = commentErr.Details
		}
		return status, string(commentErr.Kind), commentErr.Message, details
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict, "VERSION_CONFLICT", "Content was modified by another save", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be html or pdf", nil
	case errors.Is(err, export.ErrPDFDisabled), errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil
	case errors.Is(err, export.ErrContentChanged):
		return http.StatusConflict, "CONTENT_CHANGED", "Content changed during export, try again", nil
	case errors.Is(err, export.ErrContentUnavailable):
		return http.StatusUnprocessableEntity, "EXPORT_FAILED", "Content could not be rendered", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
