package store

import (
	"context"
	"fmt"

	"lessonmark/api/internal/anchor"
	"lessonmark/api/internal/richtext"
)

// Snapshot reads the content's text and version in a single query.
// Missing content surfaces as sql.ErrNoRows.
func (s *PostgresStore) Snapshot(ctx context.Context, contentID string) (anchor.Snapshot, error) {
	var body string
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT json_content::text, version FROM contents WHERE id=$1`, contentID).Scan(&body, &version)
	if err != nil {
		return anchor.Snapshot{}, err
	}
	return SnapshotOf(contentID, body, version)
}

// SnapshotOf flattens a serialized document into an anchor snapshot.
func SnapshotOf(contentID, body string, version int64) (anchor.Snapshot, error) {
	doc, err := richtext.Parse([]byte(body))
	if err != nil {
		return anchor.Snapshot{}, fmt.Errorf("parse content %s: %w", contentID, err)
	}
	return anchor.Snapshot{
		ContentID: contentID,
		Text:      richtext.PlainText(doc),
		Version:   version,
	}, nil
}
