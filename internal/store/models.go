package store

import "time"

type User struct {
	ID          string
	DisplayName string
	Email       string
	Role        string
	CreatedAt   time.Time
}

// Content is a lesson body. Body holds the serialized rich-text tree.
type Content struct {
	ID        string
	AuthorID  string
	Title     string
	Body      string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Comment is the persisted row. BodyRich and PositionPath hold JSON or "".
type Comment struct {
	ID             string
	ContentID      string
	AuthorID       string
	Body           string
	BodyRich       string
	SelectionStart int
	SelectionEnd   int
	SelectedText   string
	PositionPath   string
	IsResolved     bool
	IsEdited       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
