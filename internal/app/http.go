package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lessonmark/api/internal/anchor"
	"lessonmark/api/internal/auth"
	"lessonmark/api/internal/comments"
	"lessonmark/api/internal/export"
	"lessonmark/api/internal/logger"
	"lessonmark/api/internal/richtext"
	"lessonmark/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *logger.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, log *logger.Logger) *HTTPServer {
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log.With("component", "http")}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

type anchorPayload struct {
	SelectionStart int    `json:"selectionStart" validate:"gte=0"`
	SelectionEnd   int    `json:"selectionEnd" validate:"gte=0,gtefield=SelectionStart"`
	SelectedText   string `json:"selectedText"`
	PositionPath   []int  `json:"positionPath" validate:"omitempty,dive,gte=0"`
}

func (p *anchorPayload) toAnchor() anchor.TextAnchor {
	return anchor.TextAnchor{
		SelectionStart: p.SelectionStart,
		SelectionEnd:   p.SelectionEnd,
		SelectedText:   p.SelectedText,
		PositionPath:   p.PositionPath,
	}
}

type contentRequest struct {
	Title       string         `json:"title" validate:"notblank,max=200"`
	JSONContent *richtext.Node `json:"jsonContent" validate:"required"`
	Version     int64          `json:"version"`
}

type createCommentRequest struct {
	AuthorID    string         `json:"authorId" validate:"omitempty,uuid"`
	Comment     string         `json:"comment"`
	CommentRich *richtext.Node `json:"commentRich"`
	Anchor      *anchorPayload `json:"anchor" validate:"required"`
}

type patchCommentRequest struct {
	Comment     *string        `json:"comment"`
	CommentRich *richtext.Node `json:"commentRich"`
	Anchor      *anchorPayload `json:"anchor" validate:"omitempty"`
	IsResolved  *bool          `json:"isResolved"`
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		ready, checks := s.service.Readiness(ctx)
		status, statusCode := "ready", http.StatusOK
		if !ready {
			status, statusCode = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     ready,
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch parts[1] {
	case "contents":
		s.handleContents(w, r, session, parts)
		return
	case "comments":
		if len(parts) >= 3 {
			s.handleComment(w, r, session, parts)
			return
		}
	case "search":
		if len(parts) == 2 && r.Method == http.MethodGet {
			s.handleSearch(w, r, session)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleContents(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListContents(r.Context(), session)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": items})
		case http.MethodPost:
			var body contentRequest
			if !s.decodeAndValidate(w, r, &body) {
				return
			}
			created, err := s.service.CreateContent(r.Context(), session, body.Title, *body.JSONContent)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"content": created})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	contentID := parts[2]
	if err := validateID("contentId", contentID); err != nil {
		s.fail(w, r, err)
		return
	}

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			item, err := s.service.GetContent(r.Context(), session, contentID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"content": item})
		case http.MethodPut:
			var body contentRequest
			if !s.decodeAndValidate(w, r, &body) {
				return
			}
			if body.Version < 1 {
				s.fail(w, r, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request validation failed", map[string]string{"version": "version is required"}))
				return
			}
			saved, err := s.service.SaveContent(r.Context(), session, contentID, body.Title, *body.JSONContent, body.Version)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"content": saved})
		case http.MethodDelete:
			if err := s.service.DeleteContent(r.Context(), session, contentID); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 4 && parts[3] == "comments" {
		switch r.Method {
		case http.MethodGet:
			includeStale := true
			if raw := strings.TrimSpace(r.URL.Query().Get("includeStale")); raw != "" {
				parsed, err := strconv.ParseBool(raw)
				if err != nil {
					s.fail(w, r, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "includeStale must be a boolean", nil))
					return
				}
				includeStale = parsed
			}
			items, err := s.service.ListComments(r.Context(), session, contentID, includeStale)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": items})
		case http.MethodPost:
			var body createCommentRequest
			if !s.decodeAndValidate(w, r, &body) {
				return
			}
			created, err := s.service.CreateComment(r.Context(), session, comments.CreateInput{
				ContentID:   contentID,
				AuthorID:    body.AuthorID,
				Comment:     body.Comment,
				CommentRich: body.CommentRich,
				Anchor:      body.Anchor.toAnchor(),
			})
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"comment": created})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 4 && parts[3] == "export" && r.Method == http.MethodGet {
		s.handleExport(w, r, session, contentID)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleComment(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	commentID := parts[2]
	if err := validateID("commentId", commentID); err != nil {
		s.fail(w, r, err)
		return
	}

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodPatch:
			var body patchCommentRequest
			if !s.decodeAndValidate(w, r, &body) {
				return
			}
			patch := comments.Patch{
				Comment:     body.Comment,
				CommentRich: body.CommentRich,
				IsResolved:  body.IsResolved,
			}
			if body.Anchor != nil {
				a := body.Anchor.toAnchor()
				patch.Anchor = &a
			}
			updated, err := s.service.UpdateComment(r.Context(), session, commentID, patch)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"comment": updated})
		case http.MethodDelete:
			if err := s.service.DeleteComment(r.Context(), session, commentID); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 4 && r.Method == http.MethodPost {
		var (
			result comments.Comment
			err    error
		)
		switch parts[3] {
		case "resolve":
			result, err = s.service.ResolveComment(r.Context(), session, commentID)
		case "reopen":
			result, err = s.service.ReopenComment(r.Context(), session, commentID)
		case "relocate":
			result, err = s.service.RelocateComment(r.Context(), session, commentID)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"comment": result})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	q := search.Query{
		Text:            strings.TrimSpace(query.Get("q")),
		ContentID:       strings.TrimSpace(query.Get("contentId")),
		IncludeResolved: query.Get("includeResolved") == "true",
	}
	if q.Text == "" {
		s.fail(w, r, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil))
		return
	}
	if q.ContentID != "" {
		if err := validateID("contentId", q.ContentID); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if rawLimit := strings.TrimSpace(query.Get("limit")); rawLimit != "" {
		if parsed, err := strconv.Atoi(rawLimit); err == nil && parsed > 0 && parsed <= 100 {
			q.Limit = parsed
		}
	}
	resp, err := s.service.Search(r.Context(), session, q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, session Session, contentID string) {
	format, err := export.ParseFormat(strings.TrimSpace(r.URL.Query().Get("format")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.Export(r.Context(), session, export.Request{
		ContentID:       contentID,
		Format:          format,
		IncludeResolved: r.URL.Query().Get("includeResolved") == "true",
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) decodeAndValidate(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	if err := validateStruct(target); err != nil {
		s.fail(w, r, err)
		return false
	}
	return true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "request_id", requestIDFrom(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.log.Error("session lookup failed", "request_id", requestIDFrom(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
