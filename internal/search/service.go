package search

import (
	"context"
	"sync"

	"lessonmark/api/internal/logger"
)

// Index is a searchable backend that also accepts writes.
type Index interface {
	Searcher
	IndexComment(c CommentRecord) error
	DeleteComment(id string) error
	IndexComments(comments []CommentRecord) error
}

// RecordLoader loads every indexable comment from the system of record.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]CommentRecord, error)
}

// Service tries the index first and falls back to the database searcher.
type Service struct {
	index    Index
	fallback Searcher
	log      *logger.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. index may be nil if Meilisearch is not configured.
func NewService(index Index, fallback Searcher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{index: index, fallback: fallback, log: log.With("component", "search")}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// Search tries the index if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("index search failed, falling back to pgfts", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.log.Error("pgfts search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexComment indexes a comment (fire-and-forget).
func (s *Service) IndexComment(c CommentRecord) {
	if !s.indexReady() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.index.IndexComment(c); err != nil {
			s.log.Warn("index comment", "comment_id", c.ID, "error", err)
		}
	}()
}

// DeleteComment removes a comment from the index (fire-and-forget).
func (s *Service) DeleteComment(id string) {
	if !s.indexReady() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.index.DeleteComment(id); err != nil {
			s.log.Warn("delete comment from index", "comment_id", id, "error", err)
		}
	}()
}

// Wait blocks until in-flight index writes finish.
func (s *Service) Wait() {
	s.pending.Wait()
}

// ReindexAll pushes every comment known to loader into the index.
func (s *Service) ReindexAll(ctx context.Context, loader RecordLoader) {
	if !s.indexReady() || loader == nil {
		return
	}
	records, err := loader.LoadAllRecords(ctx)
	if err != nil {
		s.log.Warn("reindex load failed", "error", err)
		return
	}
	if err := s.index.IndexComments(records); err != nil {
		s.log.Warn("reindex comments", "count", len(records), "error", err)
		return
	}
	s.log.Info("reindexed comments", "count", len(records))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
