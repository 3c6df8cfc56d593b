// Package memory provides the in-process Store adapter used by the demo
// server, the test suites and lite deployments. Change feeds are backed by a
// watermill GoChannel Pub/Sub, so every mutation is pushed to open feeds the
// same way a database change stream would.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/webitel/automation-engine/internal/domain/model"
	"github.com/webitel/automation-engine/internal/storage"
)

// Interface guard
var _ storage.Store = (*Store)(nil)

type index struct {
	field  string
	unique bool
}

type collection struct {
	docs    map[string]model.Document
	order   []string
	indexes []index
}

// Store keeps every collection in process memory.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection

	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

func NewStore(logger *slog.Logger) *Store {
	return &Store{
		collections: make(map[string]*collection),
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NewSlogLogger(logger),
		),
		logger: logger,
	}
}

// Shutdown closes the underlying pub/sub, terminating every open feed.
func (s *Store) Shutdown() error {
	return s.pubsub.Close()
}

func feedTopic(col string, kind model.ChangeKind) string {
	return col + ":" + kind.String()
}

func (s *Store) EnsureCollection(_ context.Context, col string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[col]; !ok {
		s.collections[col] = &collection{docs: make(map[string]model.Document)}
	}
	return nil
}

func (s *Store) EnsureIndex(_ context.Context, col, field string, unique bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[col]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrUnknownCollection, col)
	}
	for _, idx := range c.indexes {
		if idx.field == field {
			return nil
		}
	}
	c.indexes = append(c.indexes, index{field: field, unique: unique})
	return nil
}

func (s *Store) GetAll(_ context.Context, col string) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[col]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUnknownCollection, col)
	}
	out := make([]model.Document, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, cloneDoc(c.docs[id]))
	}
	return out, nil
}

func (s *Store) Add(ctx context.Context, col string, doc model.Document) (model.Document, error) {
	s.mu.Lock()
	c, ok := s.collections[col]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", storage.ErrUnknownCollection, col)
	}

	stored := cloneDoc(doc)
	if stored.ID() == "" {
		stored["id"] = uuid.NewString()
	}

	for _, idx := range c.indexes {
		if !idx.unique {
			continue
		}
		val, present := stored[idx.field]
		if !present {
			continue
		}
		for _, existing := range c.docs {
			if existing[idx.field] == val {
				s.mu.Unlock()
				return nil, fmt.Errorf("%w: %s=%v", storage.ErrDuplicateKey, idx.field, val)
			}
		}
	}

	id := stored.ID()
	c.docs[id] = stored
	c.order = append(c.order, id)
	s.mu.Unlock()

	s.emit(ctx, model.Change{Kind: model.Inserted, Collection: col, ID: id, Document: cloneDoc(stored)})
	return cloneDoc(stored), nil
}

func (s *Store) UpdateByID(ctx context.Context, col, id string, patch model.Document) (model.Document, error) {
	s.mu.Lock()
	c, ok := s.collections[col]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", storage.ErrUnknownCollection, col)
	}
	doc, ok := c.docs[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s/%s", storage.ErrNotFound, col, id)
	}

	for _, idx := range c.indexes {
		if !idx.unique {
			continue
		}
		val, present := patch[idx.field]
		if !present {
			continue
		}
		for oid, existing := range c.docs {
			if oid != id && existing[idx.field] == val {
				s.mu.Unlock()
				return nil, fmt.Errorf("%w: %s=%v", storage.ErrDuplicateKey, idx.field, val)
			}
		}
	}

	for k, v := range patch {
		if k == "id" {
			continue
		}
		doc[k] = v
	}
	updated := cloneDoc(doc)
	s.mu.Unlock()

	s.emit(ctx, model.Change{Kind: model.Updated, Collection: col, ID: id, Document: updated})
	return cloneDoc(updated), nil
}

func (s *Store) RemoveByID(ctx context.Context, col, id string) error {
	s.mu.Lock()
	c, ok := s.collections[col]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", storage.ErrUnknownCollection, col)
	}
	if _, ok := c.docs[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", storage.ErrNotFound, col, id)
	}
	delete(c.docs, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.emit(ctx, model.Change{Kind: model.Deleted, Collection: col, ID: id})
	return nil
}

func (s *Store) Clear(ctx context.Context, col string) error {
	s.mu.Lock()
	c, ok := s.collections[col]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", storage.ErrUnknownCollection, col)
	}
	removed := c.order
	c.docs = make(map[string]model.Document)
	c.order = nil
	s.mu.Unlock()

	for _, id := range removed {
		s.emit(ctx, model.Change{Kind: model.Deleted, Collection: col, ID: id})
	}
	return nil
}

func (s *Store) Find(_ context.Context, col string, filter model.Document) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[col]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUnknownCollection, col)
	}
	var out []model.Document
	for _, id := range c.order {
		doc := c.docs[id]
		if matches(doc, filter) {
			out = append(out, cloneDoc(doc))
		}
	}
	return out, nil
}

func (s *Store) ChangeFeed(ctx context.Context, col string, kind model.ChangeKind) (storage.Feed, error) {
	feedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	msgs, err := s.pubsub.Subscribe(feedCtx, feedTopic(col, kind))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open change feed %s: %w", feedTopic(col, kind), err)
	}

	f := &feed{changes: make(chan model.Change, 16), cancel: cancel}
	go f.pump(msgs, s.logger)
	return f, nil
}

// emit pushes one change notification to every open feed of that kind.
func (s *Store) emit(ctx context.Context, ch model.Change) {
	payload, err := json.Marshal(ch)
	if err != nil {
		s.logger.Error("change notification marshal failed", slog.Any("err", err))
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := s.pubsub.Publish(feedTopic(ch.Collection, ch.Kind), msg); err != nil {
		s.logger.Error("change notification publish failed",
			slog.String("collection", ch.Collection),
			slog.String("kind", ch.Kind.String()),
			slog.Any("err", err),
		)
	}
}

// Interface guard
var _ storage.Feed = (*feed)(nil)

type feed struct {
	changes   chan model.Change
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (f *feed) Changes() <-chan model.Change { return f.changes }

func (f *feed) Close() error {
	f.closeOnce.Do(f.cancel)
	return nil
}

func (f *feed) pump(msgs <-chan *message.Message, logger *slog.Logger) {
	defer close(f.changes)
	for msg := range msgs {
		var ch model.Change
		if err := json.Unmarshal(msg.Payload, &ch); err != nil {
			logger.Error("change notification decode failed",
				slog.String("msg_id", msg.UUID),
				slog.Any("err", err),
			)
			msg.Ack()
			continue
		}
		f.changes <- ch
		msg.Ack()
	}
}

func cloneDoc(doc model.Document) model.Document {
	out := make(model.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func matches(doc, filter model.Document) bool {
	for k, want := range filter {
		if doc[k] != want {
			return false
		}
	}
	return true
}
