package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"lessonmark/api/internal/auth"
	"lessonmark/api/internal/comments"
	"lessonmark/api/internal/config"
	"lessonmark/api/internal/export"
	"lessonmark/api/internal/logger"
	"lessonmark/api/internal/rbac"
	"lessonmark/api/internal/richtext"
	"lessonmark/api/internal/search"
	"lessonmark/api/internal/store"
)

type Session struct {
	Token    string
	UserID   string
	UserName string
	Role     rbac.Role
}

func (s Session) Caller() comments.Caller {
	return comments.Caller{UserID: s.UserID}
}

type dataStore interface {
	Ping(context.Context) error
	GetUser(context.Context, string) (store.User, error)
	GetContent(context.Context, string) (store.Content, error)
	ListContents(context.Context) ([]store.Content, error)
	InsertContent(context.Context, store.Content) (store.Content, error)
	SaveContent(context.Context, string, string, string, int64) (int64, error)
	DeleteContent(context.Context, string) (bool, error)
	ListComments(context.Context, string) ([]store.Comment, error)
}

type commentEngine interface {
	Create(context.Context, comments.CreateInput, comments.Caller) (comments.Comment, error)
	Update(context.Context, string, comments.Patch, comments.Caller) (comments.Comment, error)
	Resolve(context.Context, string, comments.Caller) (comments.Comment, error)
	Reopen(context.Context, string, comments.Caller) (comments.Comment, error)
	Relocate(context.Context, string, comments.Caller) (comments.Comment, error)
	Delete(context.Context, string, comments.Caller) error
	ListForContent(context.Context, string, bool, comments.Caller) ([]comments.ListedComment, error)
}

type accessPolicy interface {
	HasCapability(context.Context, string, string, rbac.Capability) (bool, error)
}

type searchService interface {
	Search(search.Query) search.Response
	DeleteComment(string)
}

type exporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

// Probe is an optional dependency checked by the readiness endpoint.
type Probe struct {
	Name  string
	Check func(context.Context) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	comments commentEngine
	policy   accessPolicy
	search   searchService
	exporter exporter
	probes   []Probe
	log      *logger.Logger
}

// Deps groups the collaborators New wires together. Search, Exporter and
// Probes are optional.
type Deps struct {
	Store    *store.PostgresStore
	Comments *comments.Engine
	Policy   *rbac.Policy
	Search   *search.Service
	Exporter *export.Service
	Probes   []Probe
	Logger   *logger.Logger
}

func New(cfg config.Config, deps Deps) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    deps.Store,
		comments: deps.Comments,
		policy:   deps.Policy,
		probes:   deps.Probes,
		log:      deps.Logger,
	}
	if deps.Search != nil {
		svc.search = deps.Search
	}
	if deps.Exporter != nil {
		svc.exporter = deps.Exporter
	}
	if svc.log == nil {
		svc.log = logger.Nop()
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	user, err := s.store.GetUser(ctx, claims.Subject)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:    token,
		UserID:   user.ID,
		UserName: user.DisplayName,
		Role:     rbac.Normalize(user.Role),
	}, nil
}

// ContentView is the wire shape of a content item.
type ContentView struct {
	ID          string        `json:"id"`
	AuthorID    string        `json:"authorId"`
	Title       string        `json:"title"`
	JSONContent richtext.Node `json:"jsonContent"`
	PlainText   string        `json:"plainText"`
	Version     int64         `json:"version"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

func contentView(item store.Content) (ContentView, error) {
	doc, err := richtext.Parse([]byte(item.Body))
	if err != nil {
		return ContentView{}, fmt.Errorf("decode content %s: %w", item.ID, err)
	}
	return ContentView{
		ID:          item.ID,
		AuthorID:    item.AuthorID,
		Title:       item.Title,
		JSONContent: doc,
		PlainText:   richtext.PlainText(doc),
		Version:     item.Version,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}, nil
}

func (s *Service) require(ctx context.Context, session Session, contentID string, capability rbac.Capability) error {
	ok, err := s.policy.HasCapability(ctx, session.UserID, contentID, capability)
	if err != nil {
		return err
	}
	if !ok {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", map[string]any{"capability": capability})
	}
	return nil
}

func (s *Service) ListContents(ctx context.Context, session Session) ([]ContentView, error) {
	if !rbac.Can(session.Role, rbac.CapabilityRead) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	items, err := s.store.ListContents(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]ContentView, 0, len(items))
	for _, item := range items {
		view, err := contentView(item)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// CreateContent stores a new content item authored by the caller.
func (s *Service) CreateContent(ctx context.Context, session Session, title string, doc richtext.Node) (ContentView, error) {
	if !rbac.Can(session.Role, rbac.CapabilityEdit) {
		return ContentView{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only teachers may author content", nil)
	}
	body, err := richtext.Marshal(doc)
	if err != nil {
		return ContentView{}, err
	}
	created, err := s.store.InsertContent(ctx, store.Content{
		ID:       uuid.NewString(),
		AuthorID: session.UserID,
		Title:    title,
		Body:     string(body),
	})
	if err != nil {
		return ContentView{}, err
	}
	s.log.Info("content created", "content_id", created.ID, "author_id", session.UserID)
	return contentView(created)
}

func (s *Service) GetContent(ctx context.Context, session Session, contentID string) (ContentView, error) {
	item, err := s.store.GetContent(ctx, contentID)
	if err != nil {
		return ContentView{}, err
	}
	if err := s.require(ctx, session, contentID, rbac.CapabilityRead); err != nil {
		return ContentView{}, err
	}
	return contentView(item)
}

// SaveContent replaces the document when expectedVersion is current. Comments
// are not touched; their staleness is recomputed on the next read.
func (s *Service) SaveContent(ctx context.Context, session Session, contentID, title string, doc richtext.Node, expectedVersion int64) (ContentView, error) {
	if _, err := s.store.GetContent(ctx, contentID); err != nil {
		return ContentView{}, err
	}
	if err := s.require(ctx, session, contentID, rbac.CapabilityEdit); err != nil {
		return ContentView{}, err
	}
	body, err := richtext.Marshal(doc)
	if err != nil {
		return ContentView{}, err
	}
	version, err := s.store.SaveContent(ctx, contentID, title, string(body), expectedVersion)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return ContentView{}, domainError(http.StatusConflict, "VERSION_CONFLICT", "Content was modified by another save", map[string]any{"expectedVersion": expectedVersion})
		}
		return ContentView{}, err
	}
	s.log.Info("content saved", "content_id", contentID, "version", version, "user_id", session.UserID)
	saved, err := s.store.GetContent(ctx, contentID)
	if err != nil {
		return ContentView{}, err
	}
	return contentView(saved)
}

// DeleteContent removes the content and, through the cascade, its comments.
func (s *Service) DeleteContent(ctx context.Context, session Session, contentID string) error {
	if _, err := s.store.GetContent(ctx, contentID); err != nil {
		return err
	}
	if err := s.require(ctx, session, contentID, rbac.CapabilityEdit); err != nil {
		return err
	}
	orphans, err := s.store.ListComments(ctx, contentID)
	if err != nil {
		return err
	}
	deleted, err := s.store.DeleteContent(ctx, contentID)
	if err != nil {
		return err
	}
	if !deleted {
		return sql.ErrNoRows
	}
	if s.search != nil {
		for _, c := range orphans {
			s.search.DeleteComment(c.ID)
		}
	}
	s.log.Info("content deleted", "content_id", contentID, "comments", len(orphans), "user_id", session.UserID)
	return nil
}

func (s *Service) ListComments(ctx context.Context, session Session, contentID string, includeStale bool) ([]comments.ListedComment, error) {
	return s.comments.ListForContent(ctx, contentID, includeStale, session.Caller())
}

func (s *Service) CreateComment(ctx context.Context, session Session, in comments.CreateInput) (comments.Comment, error) {
	return s.comments.Create(ctx, in, session.Caller())
}

func (s *Service) UpdateComment(ctx context.Context, session Session, commentID string, patch comments.Patch) (comments.Comment, error) {
	return s.comments.Update(ctx, commentID, patch, session.Caller())
}

func (s *Service) ResolveComment(ctx context.Context, session Session, commentID string) (comments.Comment, error) {
	return s.comments.Resolve(ctx, commentID, session.Caller())
}

func (s *Service) ReopenComment(ctx context.Context, session Session, commentID string) (comments.Comment, error) {
	return s.comments.Reopen(ctx, commentID, session.Caller())
}

func (s *Service) RelocateComment(ctx context.Context, session Session, commentID string) (comments.Comment, error) {
	return s.comments.Relocate(ctx, commentID, session.Caller())
}

func (s *Service) DeleteComment(ctx context.Context, session Session, commentID string) error {
	return s.comments.Delete(ctx, commentID, session.Caller())
}

func (s *Service) Search(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	if q.ContentID != "" {
		if _, err := s.store.GetContent(ctx, q.ContentID); err != nil {
			return search.Response{}, err
		}
		if err := s.require(ctx, session, q.ContentID, rbac.CapabilityRead); err != nil {
			return search.Response{}, err
		}
	} else if !rbac.Can(session.Role, rbac.CapabilityRead) {
		return search.Response{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(q), nil
}

func (s *Service) Export(ctx context.Context, session Session, req export.Request) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	req.Caller = session.Caller()
	return s.exporter.Export(ctx, req)
}

// Readiness runs the database ping and every optional probe.
func (s *Service) Readiness(ctx context.Context) (bool, map[string]any) {
	ready := true
	checks := map[string]any{}
	record := func(name string, err error) {
		if err != nil {
			ready = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			return
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	record("database", s.store.Ping(ctx))
	for _, probe := range s.probes {
		record(probe.Name, probe.Check(ctx))
	}
	return ready, checks
}
