package search

import (
	"errors"
	"log/slog"
)

// ErrUnavailable is returned by Reindex when Meilisearch is not configured or
// not healthy.
var ErrUnavailable = errors.New("search: meilisearch unavailable")

// Service is the facade that tries Meilisearch first and falls back to SQL.
type Service struct {
	meili    *Meili
	fallback Searcher
	log      *slog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Searcher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{meili: meili, fallback: fallback, log: log}
}

// Search tries Meilisearch if healthy, otherwise falls back to SQL.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("search: meilisearch error, falling back to sql", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.log.Error("search: sql fallback error", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTask indexes a task (fire-and-forget to Meilisearch).
func (s *Service) IndexTask(task TaskRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTasks([]TaskRecord{task}); err != nil {
			s.log.Warn("search: index task", "task", task.ID, "error", err)
		}
	}()
}

// DeleteTasks removes tasks from the search index (fire-and-forget).
func (s *Service) DeleteTasks(ids ...string) {
	if s.meili == nil || !s.meili.Healthy() || len(ids) == 0 {
		return
	}
	go func() {
		if err := s.meili.DeleteTasks(ids); err != nil {
			s.log.Warn("search: delete tasks", "count", len(ids), "error", err)
		}
	}()
}

// Reindex pushes the given tasks to Meilisearch synchronously.
func (s *Service) Reindex(tasks []TaskRecord) error {
	if s.meili == nil || !s.meili.Healthy() {
		return ErrUnavailable
	}
	return s.meili.IndexTasks(tasks)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
