package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches comments.fts with plainto_tsquery, ranked by ts_rank.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where, args := buildWhere(q)

	countSQL := "SELECT count(*) FROM comments c WHERE " + where
	dataSQL := fmt.Sprintf(`SELECT c.id::text, c.content_id::text,
			ts_headline('english', c.body, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet,
			c.selected_text, c.is_resolved
		FROM comments c
		WHERE %s
		ORDER BY ts_rank(c.fts, plainto_tsquery('english', $1)) DESC, c.created_at ASC
		LIMIT %d OFFSET %d`, where, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.ContentID, &r.Snippet, &r.SelectedText, &r.IsResolved); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

func buildWhere(q Query) (string, []any) {
	clauses := []string{"c.fts @@ plainto_tsquery('english', $1)"}
	args := []any{q.Text}
	if q.ContentID != "" {
		args = append(args, q.ContentID)
		clauses = append(clauses, fmt.Sprintf("c.content_id = $%d", len(args)))
	}
	if !q.IncludeResolved {
		clauses = append(clauses, "NOT c.is_resolved")
	}
	return strings.Join(clauses, " AND "), args
}

// LoadAllRecords returns every comment for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]CommentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, content_id::text, author_id::text, body, selected_text, is_resolved
		FROM comments
	`)
	if err != nil {
		return nil, fmt.Errorf("load comments: %w", err)
	}
	defer rows.Close()

	records := make([]CommentRecord, 0)
	for rows.Next() {
		var c CommentRecord
		if err := rows.Scan(&c.ID, &c.ContentID, &c.AuthorID, &c.Body, &c.SelectedText, &c.IsResolved); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		records = append(records, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return records, nil
}
