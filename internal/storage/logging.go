package storage

import (
	"context"
	"log/slog"

	"github.com/webitel/automation-engine/internal/domain/model"
)

// Interface guard
var _ Store = (*loggingStore)(nil)

// loggingStore decorates a Store so that every storage failure is observed in
// one place before it surfaces to the direct caller. Errors pass through
// unchanged; success is not logged.
type loggingStore struct {
	next   Store
	logger *slog.Logger
}

// WithLogging wraps next with the shared failure-logging decorator.
func WithLogging(next Store, logger *slog.Logger) Store {
	return &loggingStore{next: next, logger: logger}
}

func (s *loggingStore) observe(op, collection string, err error) error {
	if err != nil {
		s.logger.Error("storage operation failed",
			slog.String("op", op),
			slog.String("collection", collection),
			slog.Any("err", err),
		)
	}
	return err
}

func (s *loggingStore) EnsureCollection(ctx context.Context, collection string) error {
	return s.observe("ensure_collection", collection, s.next.EnsureCollection(ctx, collection))
}

func (s *loggingStore) EnsureIndex(ctx context.Context, collection, field string, unique bool) error {
	return s.observe("ensure_index", collection, s.next.EnsureIndex(ctx, collection, field, unique))
}

func (s *loggingStore) GetAll(ctx context.Context, collection string) ([]model.Document, error) {
	docs, err := s.next.GetAll(ctx, collection)
	return docs, s.observe("get_all", collection, err)
}

func (s *loggingStore) Add(ctx context.Context, collection string, doc model.Document) (model.Document, error) {
	stored, err := s.next.Add(ctx, collection, doc)
	return stored, s.observe("add", collection, err)
}

func (s *loggingStore) UpdateByID(ctx context.Context, collection, id string, patch model.Document) (model.Document, error) {
	updated, err := s.next.UpdateByID(ctx, collection, id, patch)
	return updated, s.observe("update_by_id", collection, err)
}

func (s *loggingStore) RemoveByID(ctx context.Context, collection, id string) error {
	return s.observe("remove_by_id", collection, s.next.RemoveByID(ctx, collection, id))
}

func (s *loggingStore) Clear(ctx context.Context, collection string) error {
	return s.observe("clear", collection, s.next.Clear(ctx, collection))
}

func (s *loggingStore) Find(ctx context.Context, collection string, filter model.Document) ([]model.Document, error) {
	docs, err := s.next.Find(ctx, collection, filter)
	return docs, s.observe("find", collection, err)
}

func (s *loggingStore) ChangeFeed(ctx context.Context, collection string, kind model.ChangeKind) (Feed, error) {
	feed, err := s.next.ChangeFeed(ctx, collection, kind)
	return feed, s.observe("change_feed", collection, err)
}
