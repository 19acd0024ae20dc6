// Package comments is the comment engine: creation, partial updates, the
// resolve/reopen lifecycle, deletion and read-time staleness of anchored comments.
package comments

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"lessonmark/api/internal/anchor"
	"lessonmark/api/internal/cache"
	"lessonmark/api/internal/logger"
	"lessonmark/api/internal/rbac"
	"lessonmark/api/internal/richtext"
	"lessonmark/api/internal/search"
	"lessonmark/api/internal/store"
)

// DocumentStore yields one consistent snapshot of a content item.
type DocumentStore interface {
	Snapshot(ctx context.Context, contentID string) (anchor.Snapshot, error)
}

// CommentRepository persists comments. Every write runs inside InTx.
type CommentRepository interface {
	ListComments(ctx context.Context, contentID string) ([]store.Comment, error)
	InTx(ctx context.Context, fn func(store.CommentWriter) error) error
}

type AccessPolicy interface {
	HasCapability(ctx context.Context, userID, contentID string, capability rbac.Capability) (bool, error)
}

// StalenessCache memoizes derived staleness per content version.
type StalenessCache interface {
	Get(ctx context.Context, contentID string, version int64, fields []string) (map[string]cache.Entry, error)
	Put(ctx context.Context, contentID string, version int64, entries map[string]cache.Entry) error
}

// Indexer receives comment changes for search. Calls must not block.
type Indexer interface {
	IndexComment(c search.CommentRecord)
	DeleteComment(id string)
}

type Option func(*Engine)

func WithCache(c StalenessCache) Option {
	return func(e *Engine) { e.cache = c }
}

func WithIndexer(i Indexer) Option {
	return func(e *Engine) { e.indexer = i }
}

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(next func() string) Option {
	return func(e *Engine) { e.newID = next }
}

// Engine owns the comment lifecycle. It holds no per-request state.
type Engine struct {
	docs    DocumentStore
	repo    CommentRepository
	policy  AccessPolicy
	cache   StalenessCache
	indexer Indexer
	log     *logger.Logger
	now     func() time.Time
	newID   func() string
}

func New(docs DocumentStore, repo CommentRepository, policy AccessPolicy, opts ...Option) *Engine {
	e := &Engine{
		docs:   docs,
		repo:   repo,
		policy: policy,
		log:    logger.Nop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "comments")
	return e
}

// timestamp is truncated to the storage precision so cache keys survive a round trip.
func (e *Engine) timestamp() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

// Create validates the anchor against the current document and persists a new,
// unresolved and unedited comment.
func (e *Engine) Create(ctx context.Context, in CreateInput, caller Caller) (Comment, error) {
	snap, err := e.docs.Snapshot(ctx, in.ContentID)
	if err != nil {
		return Comment{}, translateStoreError(err, "content", in.ContentID)
	}
	authorID := in.AuthorID
	if authorID == "" {
		authorID = caller.UserID
	}
	if authorID != caller.UserID {
		return Comment{}, newError(KindForbidden, "comments can only be authored as the caller", nil)
	}
	if err := e.require(ctx, caller, in.ContentID, rbac.CapabilityEdit); err != nil {
		return Comment{}, err
	}

	text, err := commentText(in.Comment, in.CommentRich)
	if err != nil {
		return Comment{}, err
	}
	if err := checkAnchor(in.Anchor, snap); err != nil {
		return Comment{}, err
	}

	now := e.timestamp()
	created := Comment{
		ID:          e.newID(),
		ContentID:   in.ContentID,
		AuthorID:    authorID,
		Comment:     text,
		CommentRich: in.CommentRich,
		Anchor:      in.Anchor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	row, err := toRow(created)
	if err != nil {
		return Comment{}, err
	}
	err = e.repo.InTx(ctx, func(w store.CommentWriter) error {
		return w.InsertComment(ctx, row)
	})
	if err != nil {
		return Comment{}, translateStoreError(err, "content", in.ContentID)
	}

	e.log.Debug("comment created", "comment_id", created.ID, "content_id", created.ContentID, "author_id", authorID)
	e.index(created)
	return created, nil
}

// Update applies a partial patch. Text or anchor changes mark the comment edited;
// a resolution-only patch does not and is authorized like Resolve.
func (e *Engine) Update(ctx context.Context, id string, patch Patch, caller Caller) (Comment, error) {
	authorize := e.requireOwnerOrModerator
	if patch.IsResolved != nil && !patch.touchesContent() {
		authorize = e.requireResolver
	}
	return e.mutate(ctx, id, caller, authorize, func(current *Comment) error {
		if patch.Comment != nil {
			text, err := commentText(*patch.Comment, patch.CommentRich)
			if err != nil {
				return err
			}
			current.Comment = text
			current.CommentRich = nil
		}
		if patch.CommentRich != nil {
			current.CommentRich = patch.CommentRich
		}
		if patch.Anchor != nil {
			snap, err := e.docs.Snapshot(ctx, current.ContentID)
			if err != nil {
				return translateStoreError(err, "content", current.ContentID)
			}
			if err := checkAnchor(*patch.Anchor, snap); err != nil {
				return err
			}
			current.Anchor = *patch.Anchor
		}
		if patch.touchesContent() {
			current.IsEdited = true
		}
		if patch.IsResolved != nil {
			current.IsResolved = *patch.IsResolved
		}
		return nil
	})
}

// Resolve marks the comment resolved. Resolving a resolved comment is a no-op.
func (e *Engine) Resolve(ctx context.Context, id string, caller Caller) (Comment, error) {
	return e.setResolved(ctx, id, true, caller)
}

// Reopen marks the comment unresolved. Reopening an open comment is a no-op.
func (e *Engine) Reopen(ctx context.Context, id string, caller Caller) (Comment, error) {
	return e.setResolved(ctx, id, false, caller)
}

func (e *Engine) setResolved(ctx context.Context, id string, resolved bool, caller Caller) (Comment, error) {
	return e.mutate(ctx, id, caller, e.requireResolver, func(current *Comment) error {
		if current.IsResolved == resolved {
			return errUnchanged
		}
		current.IsResolved = resolved
		return nil
	})
}

// Relocate moves a stale anchor to the nearest occurrence of its selected text.
// A comment whose anchor still validates is returned unchanged.
func (e *Engine) Relocate(ctx context.Context, id string, caller Caller) (Comment, error) {
	return e.mutate(ctx, id, caller, e.requireOwnerOrModerator, func(current *Comment) error {
		snap, err := e.docs.Snapshot(ctx, current.ContentID)
		if err != nil {
			return translateStoreError(err, "content", current.ContentID)
		}
		if anchor.Validate(current.Anchor, snap).Valid {
			return errUnchanged
		}
		suggested := anchor.Reanchor(current.Anchor, "", snap.Text)
		if suggested == nil {
			return newError(KindInvalidAnchor, "selected text no longer occurs in the document", map[string]any{
				"selectedText": current.Anchor.SelectedText,
			})
		}
		current.Anchor = *suggested
		current.IsEdited = true
		return nil
	})
}

// Delete removes the comment permanently.
func (e *Engine) Delete(ctx context.Context, id string, caller Caller) error {
	err := e.repo.InTx(ctx, func(w store.CommentWriter) error {
		row, err := w.GetCommentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := e.requireOwnerOrModerator(ctx, caller, row.ContentID, row.AuthorID); err != nil {
			return err
		}
		deleted, err := w.DeleteComment(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return notFound("comment", id)
		}
		return nil
	})
	if err != nil {
		return translateStoreError(err, "comment", id)
	}
	e.log.Debug("comment deleted", "comment_id", id, "user_id", caller.UserID)
	if e.indexer != nil {
		e.indexer.DeleteComment(id)
	}
	return nil
}

// ListForContent returns the content's comments ordered by selection start then
// creation time, each annotated with staleness against one document snapshot.
func (e *Engine) ListForContent(ctx context.Context, contentID string, includeStale bool, caller Caller) ([]ListedComment, error) {
	snap, err := e.docs.Snapshot(ctx, contentID)
	if err != nil {
		return nil, translateStoreError(err, "content", contentID)
	}
	if err := e.require(ctx, caller, contentID, rbac.CapabilityRead); err != nil {
		return nil, err
	}

	rows, err := e.repo.ListComments(ctx, contentID)
	if err != nil {
		return nil, translateStoreError(err, "content", contentID)
	}
	items := make([]Comment, 0, len(rows))
	for _, row := range rows {
		c, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Anchor.SelectionStart != items[j].Anchor.SelectionStart {
			return items[i].Anchor.SelectionStart < items[j].Anchor.SelectionStart
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	entries := e.staleness(ctx, snap, items)
	out := make([]ListedComment, 0, len(items))
	for _, c := range items {
		entry := entries[cacheField(c)]
		if entry.Stale && !includeStale {
			continue
		}
		out = append(out, ListedComment{
			Comment:     c,
			IsStale:     entry.Stale,
			CurrentText: entry.CurrentText,
			Suggested:   entry.Suggested,
		})
	}
	return out, nil
}

// staleness resolves every comment against snap, reusing cached results for
// the snapshot's version and storing whatever had to be recomputed.
func (e *Engine) staleness(ctx context.Context, snap anchor.Snapshot, items []Comment) map[string]cache.Entry {
	fields := make([]string, 0, len(items))
	for _, c := range items {
		fields = append(fields, cacheField(c))
	}

	entries := map[string]cache.Entry{}
	if e.cache != nil && len(fields) > 0 {
		cached, err := e.cache.Get(ctx, snap.ContentID, snap.Version, fields)
		if err != nil {
			e.log.Warn("staleness cache read failed", "content_id", snap.ContentID, "error", err)
		} else {
			entries = cached
		}
	}

	computed := map[string]cache.Entry{}
	for _, c := range items {
		field := cacheField(c)
		if _, ok := entries[field]; ok {
			continue
		}
		entry := evaluate(c.Anchor, snap)
		entries[field] = entry
		computed[field] = entry
	}

	if e.cache != nil && len(computed) > 0 {
		if err := e.cache.Put(ctx, snap.ContentID, snap.Version, computed); err != nil {
			e.log.Warn("staleness cache write failed", "content_id", snap.ContentID, "error", err)
		}
	}
	return entries
}

func evaluate(a anchor.TextAnchor, snap anchor.Snapshot) cache.Entry {
	v := anchor.Validate(a, snap)
	entry := cache.Entry{Stale: !v.Valid, CurrentText: v.CurrentText}
	if entry.Stale {
		entry.Suggested = anchor.Reanchor(a, "", snap.Text)
	}
	return entry
}

// errUnchanged short-circuits a mutation that would not change anything.
var errUnchanged = errors.New("unchanged")

type authorizer func(ctx context.Context, caller Caller, contentID, authorID string) error

// mutate loads the comment under a row lock, authorizes, applies change and
// writes the result in one transaction.
func (e *Engine) mutate(ctx context.Context, id string, caller Caller, authorize authorizer, change func(*Comment) error) (Comment, error) {
	var result Comment
	written := false
	err := e.repo.InTx(ctx, func(w store.CommentWriter) error {
		row, err := w.GetCommentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		current, err := fromRow(row)
		if err != nil {
			return err
		}
		if err := authorize(ctx, caller, current.ContentID, current.AuthorID); err != nil {
			return err
		}
		if err := change(&current); err != nil {
			if errors.Is(err, errUnchanged) {
				result = current
				return nil
			}
			return err
		}
		current.UpdatedAt = e.timestamp()
		updated, err := toRow(current)
		if err != nil {
			return err
		}
		if err := w.UpdateComment(ctx, updated); err != nil {
			return err
		}
		result = current
		written = true
		return nil
	})
	if err != nil {
		return Comment{}, translateStoreError(err, "comment", id)
	}
	if written {
		e.log.Debug("comment updated", "comment_id", id, "user_id", caller.UserID,
			"resolved", result.IsResolved, "edited", result.IsEdited)
		e.index(result)
	}
	return result, nil
}

func (e *Engine) index(c Comment) {
	if e.indexer != nil {
		e.indexer.IndexComment(toRecord(c))
	}
}

func (e *Engine) require(ctx context.Context, caller Caller, contentID string, capability rbac.Capability) error {
	ok, err := e.policy.HasCapability(ctx, caller.UserID, contentID, capability)
	if err != nil {
		return translateStoreError(err, "user", caller.UserID)
	}
	if !ok {
		return newError(KindForbidden, "missing "+string(capability)+" capability", map[string]any{"contentId": contentID})
	}
	return nil
}

func (e *Engine) requireOwnerOrModerator(ctx context.Context, caller Caller, contentID, authorID string) error {
	if caller.UserID != "" && caller.UserID == authorID {
		return nil
	}
	err := e.require(ctx, caller, contentID, rbac.CapabilityModerate)
	if errors.Is(err, ErrForbidden) {
		return newError(KindForbidden, "only the author or a moderator may change this comment", nil)
	}
	return err
}

func (e *Engine) requireResolver(ctx context.Context, caller Caller, contentID, authorID string) error {
	if caller.UserID != "" && caller.UserID == authorID {
		return nil
	}
	for _, capability := range []rbac.Capability{rbac.CapabilityEdit, rbac.CapabilityModerate} {
		ok, err := e.policy.HasCapability(ctx, caller.UserID, contentID, capability)
		if err != nil {
			return translateStoreError(err, "user", caller.UserID)
		}
		if ok {
			return nil
		}
	}
	return newError(KindForbidden, "only the author, the content editor or a moderator may resolve this comment", nil)
}

// commentText returns the plain comment body, falling back to the rich body's text.
func commentText(text string, rich *richtext.Node) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}
	if rich != nil && !richtext.IsEmpty(*rich) {
		return richtext.PlainText(*rich), nil
	}
	return "", newError(KindEmptyComment, "comment text is blank", nil)
}

func checkAnchor(a anchor.TextAnchor, snap anchor.Snapshot) error {
	if err := anchor.CheckShape(a); err != nil {
		return newError(KindInvalidAnchor, err.Error(), nil)
	}
	v := anchor.Validate(a, snap)
	if !v.Valid {
		return newError(KindInvalidAnchor, "selected text does not match the document", map[string]any{
			"selectedText": a.SelectedText,
			"currentText":  v.CurrentText,
		})
	}
	return nil
}
