package comments

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"lessonmark/api/internal/anchor"
	"lessonmark/api/internal/richtext"
	"lessonmark/api/internal/search"
	"lessonmark/api/internal/store"
)

// Comment is an anchored remark on a content item.
type Comment struct {
	ID          string            `json:"id"`
	ContentID   string            `json:"contentId"`
	AuthorID    string            `json:"authorId"`
	Comment     string            `json:"comment"`
	CommentRich *richtext.Node    `json:"commentRich,omitempty"`
	Anchor      anchor.TextAnchor `json:"anchor"`
	IsResolved  bool              `json:"isResolved"`
	IsEdited    bool              `json:"isEdited"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// ListedComment carries the derived staleness computed at read time.
type ListedComment struct {
	Comment
	IsStale     bool               `json:"isStale"`
	CurrentText string             `json:"currentText"`
	Suggested   *anchor.TextAnchor `json:"suggestedAnchor,omitempty"`
}

// Caller identifies who is performing an operation.
type Caller struct {
	UserID string
}

// CreateInput is the payload for Engine.Create. AuthorID defaults to the caller.
type CreateInput struct {
	ContentID   string
	AuthorID    string
	Comment     string
	CommentRich *richtext.Node
	Anchor      anchor.TextAnchor
}

// Patch is a partial update. Nil fields are left untouched, except that a new
// Comment without CommentRich drops the previous rich body.
type Patch struct {
	Comment     *string
	CommentRich *richtext.Node
	Anchor      *anchor.TextAnchor
	IsResolved  *bool
}

func (p Patch) touchesContent() bool {
	return p.Comment != nil || p.CommentRich != nil || p.Anchor != nil
}

func fromRow(row store.Comment) (Comment, error) {
	c := Comment{
		ID:        row.ID,
		ContentID: row.ContentID,
		AuthorID:  row.AuthorID,
		Comment:   row.Body,
		Anchor: anchor.TextAnchor{
			SelectionStart: row.SelectionStart,
			SelectionEnd:   row.SelectionEnd,
			SelectedText:   row.SelectedText,
		},
		IsResolved: row.IsResolved,
		IsEdited:   row.IsEdited,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	if row.BodyRich != "" {
		rich, err := richtext.Parse([]byte(row.BodyRich))
		if err != nil {
			return Comment{}, fmt.Errorf("decode comment %s body: %w", row.ID, err)
		}
		c.CommentRich = &rich
	}
	if row.PositionPath != "" && row.PositionPath != "null" {
		if err := json.Unmarshal([]byte(row.PositionPath), &c.Anchor.PositionPath); err != nil {
			return Comment{}, fmt.Errorf("decode comment %s position path: %w", row.ID, err)
		}
	}
	return c, nil
}

func toRow(c Comment) (store.Comment, error) {
	row := store.Comment{
		ID:             c.ID,
		ContentID:      c.ContentID,
		AuthorID:       c.AuthorID,
		Body:           c.Comment,
		SelectionStart: c.Anchor.SelectionStart,
		SelectionEnd:   c.Anchor.SelectionEnd,
		SelectedText:   c.Anchor.SelectedText,
		IsResolved:     c.IsResolved,
		IsEdited:       c.IsEdited,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	if c.CommentRich != nil {
		raw, err := richtext.Marshal(*c.CommentRich)
		if err != nil {
			return store.Comment{}, fmt.Errorf("encode comment body: %w", err)
		}
		row.BodyRich = string(raw)
	}
	if len(c.Anchor.PositionPath) > 0 {
		raw, err := json.Marshal(c.Anchor.PositionPath)
		if err != nil {
			return store.Comment{}, fmt.Errorf("encode position path: %w", err)
		}
		row.PositionPath = string(raw)
	}
	return row, nil
}

func toRecord(c Comment) search.CommentRecord {
	return search.CommentRecord{
		ID:           c.ID,
		ContentID:    c.ContentID,
		AuthorID:     c.AuthorID,
		Body:         c.Comment,
		SelectedText: c.Anchor.SelectedText,
		IsResolved:   c.IsResolved,
	}
}

// cacheField keys a comment's cached staleness on its last write, so any
// anchor change invalidates the entry without an explicit delete.
func cacheField(c Comment) string {
	return c.ID + ":" + strconv.FormatInt(c.UpdatedAt.UnixNano(), 10)
}
