package comments

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"lessonmark/api/internal/anchor"
	"lessonmark/api/internal/cache"
	"lessonmark/api/internal/rbac"
	"lessonmark/api/internal/search"
	"lessonmark/api/internal/store"
)

// memoryStore is an in-memory document store and comment repository. InTx
// stages writes on a copy and only publishes them when fn succeeds.
type memoryStore struct {
	docs     map[string]anchor.Snapshot
	comments map[string]store.Comment
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		docs:     map[string]anchor.Snapshot{},
		comments: map[string]store.Comment{},
	}
}

func (m *memoryStore) setText(contentID, text string) {
	snap := m.docs[contentID]
	m.docs[contentID] = anchor.Snapshot{ContentID: contentID, Text: text, Version: snap.Version + 1}
}

func (m *memoryStore) Snapshot(_ context.Context, contentID string) (anchor.Snapshot, error) {
	snap, ok := m.docs[contentID]
	if !ok {
		return anchor.Snapshot{}, sql.ErrNoRows
	}
	return snap, nil
}

func (m *memoryStore) ListComments(_ context.Context, contentID string) ([]store.Comment, error) {
	out := make([]store.Comment, 0)
	for _, c := range m.comments {
		if c.ContentID == contentID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryStore) InTx(_ context.Context, fn func(store.CommentWriter) error) error {
	staged := make(map[string]store.Comment, len(m.comments))
	for id, c := range m.comments {
		staged[id] = c
	}
	if err := fn(&memoryWriter{docs: m.docs, rows: staged}); err != nil {
		return err
	}
	m.comments = staged
	return nil
}

type memoryWriter struct {
	docs map[string]anchor.Snapshot
	rows map[string]store.Comment
}

func (w *memoryWriter) GetCommentForUpdate(_ context.Context, id string) (store.Comment, error) {
	c, ok := w.rows[id]
	if !ok {
		return store.Comment{}, sql.ErrNoRows
	}
	return c, nil
}

func (w *memoryWriter) InsertComment(_ context.Context, c store.Comment) error {
	if _, ok := w.docs[c.ContentID]; !ok {
		return store.ErrContentMissing
	}
	if _, exists := w.rows[c.ID]; exists {
		return fmt.Errorf("duplicate comment %s", c.ID)
	}
	w.rows[c.ID] = c
	return nil
}

func (w *memoryWriter) UpdateComment(_ context.Context, c store.Comment) error {
	if _, ok := w.rows[c.ID]; !ok {
		return sql.ErrNoRows
	}
	w.rows[c.ID] = c
	return nil
}

func (w *memoryWriter) DeleteComment(_ context.Context, id string) (bool, error) {
	if _, ok := w.rows[id]; !ok {
		return false, nil
	}
	delete(w.rows, id)
	return true, nil
}

type directory struct {
	roles   map[string]rbac.Role
	authors map[string]string
}

func (d directory) UserRole(_ context.Context, userID string) (rbac.Role, error) {
	return d.roles[userID], nil
}

func (d directory) ContentAuthor(_ context.Context, contentID string) (string, error) {
	return d.authors[contentID], nil
}

type countingCache struct {
	entries map[string]map[string]cache.Entry
	puts    int
	getErr  error
	putErr  error
}

func newCountingCache() *countingCache {
	return &countingCache{entries: map[string]map[string]cache.Entry{}}
}

func (c *countingCache) key(contentID string, version int64) string {
	return fmt.Sprintf("%s:%d", contentID, version)
}

func (c *countingCache) Get(_ context.Context, contentID string, version int64, fields []string) (map[string]cache.Entry, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	out := map[string]cache.Entry{}
	for _, f := range fields {
		if e, ok := c.entries[c.key(contentID, version)][f]; ok {
			out[f] = e
		}
	}
	return out, nil
}

func (c *countingCache) Put(_ context.Context, contentID string, version int64, entries map[string]cache.Entry) error {
	if c.putErr != nil {
		return c.putErr
	}
	c.puts++
	k := c.key(contentID, version)
	if c.entries[k] == nil {
		c.entries[k] = map[string]cache.Entry{}
	}
	for f, e := range entries {
		c.entries[k][f] = e
	}
	return nil
}

type recordingIndexer struct {
	mu      sync.Mutex
	indexed []search.CommentRecord
	deleted []string
}

func (r *recordingIndexer) IndexComment(c search.CommentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, c)
}

func (r *recordingIndexer) DeleteComment(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
}

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}
