package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"lessonmark/api/internal/rbac"
)

var (
	// ErrVersionConflict is returned when a content save races another writer.
	ErrVersionConflict = errors.New("content version conflict")
	// ErrContentMissing is returned when a comment references content that no longer exists.
	ErrContentMissing = errors.New("content missing")
)

const commentColumns = `id, content_id, author_id, body, COALESCE(body_rich::text, ''), selection_start, selection_end, selected_text, COALESCE(position_path::text, ''), is_resolved, is_edited, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, role, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) InsertUser(ctx context.Context, user User) (User, error) {
	role := user.Role
	if role == "" {
		role = "student"
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (display_name, email, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET display_name=EXCLUDED.display_name
		RETURNING id, display_name, email, role, created_at
	`, user.DisplayName, user.Email, role).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// GetUserRole returns the stored role string, or "" for unknown users.
func (s *PostgresStore) GetUserRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM users WHERE id=$1`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read role: %w", err)
	}
	return role, nil
}

// UserRole satisfies rbac.Directory. Unknown users get the empty role, which holds no capability.
func (s *PostgresStore) UserRole(ctx context.Context, userID string) (rbac.Role, error) {
	role, err := s.GetUserRole(ctx, userID)
	if err != nil || role == "" {
		return "", err
	}
	return rbac.Normalize(role), nil
}

func (s *PostgresStore) GetContent(ctx context.Context, contentID string) (Content, error) {
	var item Content
	err := s.db.QueryRowContext(ctx, `
		SELECT id, author_id, title, json_content::text, version, created_at, updated_at
		FROM contents
		WHERE id=$1
	`, contentID).Scan(&item.ID, &item.AuthorID, &item.Title, &item.Body, &item.Version, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Content{}, err
	}
	return item, nil
}

func (s *PostgresStore) ContentVersion(ctx context.Context, contentID string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM contents WHERE id=$1`, contentID).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *PostgresStore) ContentAuthor(ctx context.Context, contentID string) (string, error) {
	var authorID string
	err := s.db.QueryRowContext(ctx, `SELECT author_id FROM contents WHERE id=$1`, contentID).Scan(&authorID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read content author: %w", err)
	}
	return authorID, nil
}

func (s *PostgresStore) ListContents(ctx context.Context) ([]Content, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, author_id, title, json_content::text, version, created_at, updated_at
		FROM contents
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list contents: %w", err)
	}
	defer rows.Close()

	items := make([]Content, 0)
	for rows.Next() {
		var item Content
		if err := rows.Scan(&item.ID, &item.AuthorID, &item.Title, &item.Body, &item.Version, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertContent(ctx context.Context, item Content) (Content, error) {
	body := item.Body
	if body == "" {
		body = `{"type":"doc"}`
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO contents (id, author_id, title, json_content)
		VALUES ($1, $2, $3, $4::jsonb)
		RETURNING version, created_at, updated_at
	`, item.ID, item.AuthorID, item.Title, body).Scan(&item.Version, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Content{}, fmt.Errorf("insert content: %w", err)
	}
	item.Body = body
	return item, nil
}

// SaveContent replaces the title and body when expectedVersion matches the
// stored version, and returns the bumped version.
func (s *PostgresStore) SaveContent(ctx context.Context, contentID, title, body string, expectedVersion int64) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE contents
		SET title=$2, json_content=$3::jsonb, version=version+1, updated_at=NOW()
		WHERE id=$1 AND version=$4
		RETURNING version
	`, contentID, title, body, expectedVersion).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("save content: %w", err)
	}
	if _, lookupErr := s.ContentVersion(ctx, contentID); lookupErr != nil {
		return 0, lookupErr
	}
	return 0, ErrVersionConflict
}

// DeleteContent removes the content; its comments go with it via ON DELETE CASCADE.
func (s *PostgresStore) DeleteContent(ctx context.Context, contentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM contents WHERE id=$1`, contentID)
	if err != nil {
		return false, fmt.Errorf("delete content: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete content rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, contentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE content_id=$1
		ORDER BY selection_start ASC, created_at ASC
	`, contentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=$1`, commentID)
	return scanComment(row)
}

// CommentWriter is the transactional view handed to InTx callbacks.
type CommentWriter interface {
	GetCommentForUpdate(ctx context.Context, commentID string) (Comment, error)
	InsertComment(ctx context.Context, comment Comment) error
	UpdateComment(ctx context.Context, comment Comment) error
	DeleteComment(ctx context.Context, commentID string) (bool, error)
}

// InTx runs fn inside a single transaction. Any error rolls back.
func (s *PostgresStore) InTx(ctx context.Context, fn func(CommentWriter) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&txWriter{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type txWriter struct {
	tx *sql.Tx
}

func (w *txWriter) GetCommentForUpdate(ctx context.Context, commentID string) (Comment, error) {
	row := w.tx.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=$1 FOR UPDATE`, commentID)
	return scanComment(row)
}

func (w *txWriter) InsertComment(ctx context.Context, comment Comment) error {
	_, err := w.tx.ExecContext(ctx, `
		INSERT INTO comments (id, content_id, author_id, body, body_rich, selection_start, selection_end, selected_text, position_path, is_resolved, is_edited, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::jsonb, $6, $7, $8, NULLIF($9, '')::jsonb, $10, $11, $12, $13)
	`, comment.ID, comment.ContentID, comment.AuthorID, comment.Body, comment.BodyRich,
		comment.SelectionStart, comment.SelectionEnd, comment.SelectedText, comment.PositionPath,
		comment.IsResolved, comment.IsEdited, comment.CreatedAt, comment.UpdatedAt)
	if isForeignKeyViolation(err) {
		return ErrContentMissing
	}
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (w *txWriter) UpdateComment(ctx context.Context, comment Comment) error {
	result, err := w.tx.ExecContext(ctx, `
		UPDATE comments
		SET body=$2, body_rich=NULLIF($3, '')::jsonb, selection_start=$4, selection_end=$5, selected_text=$6,
			position_path=NULLIF($7, '')::jsonb, is_resolved=$8, is_edited=$9, updated_at=$10
		WHERE id=$1
	`, comment.ID, comment.Body, comment.BodyRich, comment.SelectionStart, comment.SelectionEnd,
		comment.SelectedText, comment.PositionPath, comment.IsResolved, comment.IsEdited, comment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update comment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (w *txWriter) DeleteComment(ctx context.Context, commentID string) (bool, error) {
	result, err := w.tx.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	if err != nil {
		return false, fmt.Errorf("delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete comment rows: %w", err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComment(row rowScanner) (Comment, error) {
	var item Comment
	err := row.Scan(
		&item.ID,
		&item.ContentID,
		&item.AuthorID,
		&item.Body,
		&item.BodyRich,
		&item.SelectionStart,
		&item.SelectionEnd,
		&item.SelectedText,
		&item.PositionPath,
		&item.IsResolved,
		&item.IsEdited,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Comment{}, err
	}
	return item, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
