// Package queue persists published events and drains them against the
// current user population. A single-flight flag guarantees one active drain;
// the change feed bridge wakes the drain on every queue insert, so the queue
// never polls. Successfully executed events are archived; an archive failure
// retains the event for the next drain, which makes delivery at-least-once
// and requires idempotent handlers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/webitel/automation-engine/internal/bridge"
	"github.com/webitel/automation-engine/internal/domain/model"
	"github.com/webitel/automation-engine/internal/storage"
)

var ErrEventWithoutID = errors.New("queue: event has no id")

// Bindings answers whether any handler is bound to an event type.
type Bindings interface {
	HasHandlersForEventType(eventType string) bool
}

// UserSource supplies the population every queued event is evaluated against.
type UserSource interface {
	GetAllUsers() ([]model.User, error)
}

// EventExecutor runs one event through the bound handlers.
type EventExecutor interface {
	ExecuteEventForUsers(ctx context.Context, ev model.Event, users []model.User)
}

type Queue struct {
	store    storage.Store
	bridge   *bridge.Bridge
	bindings Bindings
	users    UserSource
	executor EventExecutor
	logger   *slog.Logger

	enabled    atomic.Bool
	processing atomic.Bool
}

func New(store storage.Store, b *bridge.Bridge, bindings Bindings, users UserSource, executor EventExecutor, logger *slog.Logger) *Queue {
	return &Queue{
		store:    store,
		bridge:   b,
		bindings: bindings,
		users:    users,
		executor: executor,
		logger:   logger,
	}
}

// Init idempotently creates the backlog and archive collections.
func (q *Queue) Init(ctx context.Context) error {
	for _, col := range []string{storage.CollectionEventQueue, storage.CollectionEventArchive} {
		if err := q.store.EnsureCollection(ctx, col); err != nil {
			return fmt.Errorf("ensure %s: %w", col, err)
		}
	}
	return nil
}

// PublishEvent persists a new queue record. When no handlers are bound to
// the event type, nothing is written: the warning is the only effect.
func (q *Queue) PublishEvent(ctx context.Context, eventType string, generatedAt time.Time, details map[string]any) (*model.Event, error) {
	if !q.bindings.HasHandlersForEventType(eventType) {
		q.logger.Warn("event dropped: no handlers bound to event type",
			slog.String("event_type", eventType),
		)
		return nil, nil
	}

	if details == nil {
		details = map[string]any{}
	}
	ev := model.Event{
		EventType:   eventType,
		GeneratedAt: generatedAt,
		PublishedAt: time.Now(),
		Details:     details,
	}

	stored, err := q.store.Add(ctx, storage.CollectionEventQueue, eventDocument(ev))
	if err != nil {
		return nil, fmt.Errorf("publish event %s: %w", eventType, err)
	}
	ev.ID = stored.ID()

	q.logger.Info("event queued",
		slog.String("event_id", ev.ID),
		slog.String("event_type", eventType),
	)
	return &ev, nil
}

// Process drains the backlog. A call arriving while a drain is running logs
// and returns immediately; it is not queued for later. The drain re-reads
// the backlog until it holds nothing new, so notifications arriving mid-drain
// are coalesced. Events whose archive failed are not retried within the same
// drain; they stay in the backlog for the next one.
func (q *Queue) Process(ctx context.Context) {
	if !q.processing.CompareAndSwap(false, true) {
		q.logger.Info("event queue drain already in progress")
		return
	}
	defer q.processing.Store(false)

	attempted := make(map[string]bool)
	for q.enabled.Load() {
		users, err := q.users.GetAllUsers()
		if err != nil {
			q.logger.Error("event queue drain aborted: user read failed", slog.Any("err", err))
			return
		}

		backlog, err := q.store.GetAll(ctx, storage.CollectionEventQueue)
		if err != nil {
			q.logger.Error("event queue drain aborted: backlog read failed", slog.Any("err", err))
			return
		}
		if len(backlog) == 0 {
			q.logger.Debug("event queue empty")
			return
		}

		progressed := false
		for _, doc := range backlog {
			ev := eventFromDocument(doc)
			if attempted[ev.ID] {
				continue
			}
			attempted[ev.ID] = true
			progressed = true

			q.executor.ExecuteEventForUsers(ctx, ev, users)

			if err := q.ArchiveEvent(ctx, ev); err != nil {
				q.logger.Error("event archive failed, retained for next drain",
					slog.String("event_id", ev.ID),
					slog.String("event_type", ev.EventType),
					slog.Any("err", err),
				)
			}
		}
		if !progressed {
			// Everything left already ran this drain; the next drain
			// retries their archival.
			return
		}
	}
}

// ArchiveEvent copies the event to the archive collection, then removes the
// original from the backlog by id. An event without an id cannot be removed;
// it stays in the backlog and will be reprocessed.
func (q *Queue) ArchiveEvent(ctx context.Context, ev model.Event) error {
	if _, err := q.store.Add(ctx, storage.CollectionEventArchive, eventDocument(ev)); err != nil {
		return fmt.Errorf("archive event %s: %w", ev.ID, err)
	}

	if ev.ID == "" {
		q.logger.Error("archived event has no id, backlog removal skipped",
			slog.String("event_type", ev.EventType),
		)
		return ErrEventWithoutID
	}

	if err := q.store.RemoveByID(ctx, storage.CollectionEventQueue, ev.ID); err != nil {
		return fmt.Errorf("remove archived event %s from backlog: %w", ev.ID, err)
	}
	return nil
}

// SetupListener subscribes the drain to backlog inserts and performs one
// initial drain. Idempotent: an existing listener only logs.
func (q *Queue) SetupListener(ctx context.Context) error {
	if err := q.Init(ctx); err != nil {
		return err
	}

	if q.bridge.Has(storage.CollectionEventQueue, model.Inserted) {
		q.logger.Info("event queue listener already registered")
	} else {
		err := q.bridge.Subscribe(ctx, storage.CollectionEventQueue, model.Inserted, func(ctx context.Context, _ model.Change) {
			if q.enabled.Load() {
				q.Process(ctx)
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe event queue feed: %w", err)
		}
	}

	q.Process(ctx)
	return nil
}

// Start enables processing and installs the insert listener.
func (q *Queue) Start(ctx context.Context) error {
	q.enabled.Store(true)
	return q.SetupListener(ctx)
}

// Stop disables processing and removes the insert listener. A drain already
// in flight finishes its current event and exits on the next pass.
func (q *Queue) Stop(ctx context.Context) {
	q.enabled.Store(false)
	q.bridge.Unsubscribe(ctx, storage.CollectionEventQueue, model.Inserted)
}

func (q *Queue) QueueIsEmpty(ctx context.Context) (bool, error) {
	backlog, err := q.store.GetAll(ctx, storage.CollectionEventQueue)
	if err != nil {
		return false, fmt.Errorf("read backlog: %w", err)
	}
	return len(backlog) == 0, nil
}

// IsRunning reports whether a drain is in flight.
func (q *Queue) IsRunning() bool { return q.processing.Load() }

// IsEnabled reports whether the queue reacts to insert notifications.
func (q *Queue) IsEnabled() bool { return q.enabled.Load() }

func eventDocument(ev model.Event) model.Document {
	doc := model.Document{
		"event_type":   ev.EventType,
		"generated_at": ev.GeneratedAt,
		"published_at": ev.PublishedAt,
		"details":      ev.Details,
	}
	if ev.ID != "" {
		doc["id"] = ev.ID
	}
	return doc
}

func eventFromDocument(doc model.Document) model.Event {
	ev := model.Event{ID: doc.ID()}
	ev.EventType, _ = doc["event_type"].(string)
	if t, ok := doc["generated_at"].(time.Time); ok {
		ev.GeneratedAt = t
	}
	if t, ok := doc["published_at"].(time.Time); ok {
		ev.PublishedAt = t
	}
	if d, ok := doc["details"].(map[string]any); ok {
		ev.Details = d
	}
	return ev
}
