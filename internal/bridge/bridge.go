// Package bridge turns the storage collaborator's per-(collection, change
// kind) feeds into in-process callback dispatch. It is the reactive backbone
// of the engine: the user cache and the event queue both subscribe here
// instead of polling storage.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/webitel/automation-engine/internal/domain/model"
	"github.com/webitel/automation-engine/internal/storage"
)

// Callback receives one normalized change payload per storage mutation.
type Callback func(ctx context.Context, ch model.Change)

// Topic is the internal bus topic a change is republished under, so
// additional in-process consumers can subscribe without opening a second
// storage feed.
func Topic(collection string, kind model.ChangeKind) string {
	return collection + ":" + kind.String()
}

type entryKey struct {
	collection string
	kind       model.ChangeKind
}

type entry struct {
	feed storage.Feed
	done chan struct{}
}

// Bridge owns at most one change-feed subscription per (collection, kind)
// key and fans every payload out to the registered callback plus the
// internal bus.
type Bridge struct {
	mu      sync.Mutex
	entries map[entryKey]*entry

	store  storage.Store
	bus    *gochannel.GoChannel
	logger *slog.Logger
}

func New(store storage.Store, logger *slog.Logger) *Bridge {
	return &Bridge{
		entries: make(map[entryKey]*entry),
		store:   store,
		bus: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NewSlogLogger(logger),
		),
		logger: logger,
	}
}

// Subscribe opens the collaborator's feed for the key and starts dispatching
// its payloads. A second subscription to the same key warns and does nothing:
// the operation is idempotent, not additive.
func (b *Bridge) Subscribe(ctx context.Context, collection string, kind model.ChangeKind, cb Callback) error {
	key := entryKey{collection: collection, kind: kind}

	b.mu.Lock()
	if _, ok := b.entries[key]; ok {
		b.mu.Unlock()
		b.logger.Warn("change listener already registered",
			slog.String("collection", collection),
			slog.String("kind", kind.String()),
		)
		return nil
	}
	b.mu.Unlock()

	feed, err := b.store.ChangeFeed(ctx, collection, kind)
	if err != nil {
		return err
	}

	e := &entry{feed: feed, done: make(chan struct{})}

	b.mu.Lock()
	if _, ok := b.entries[key]; ok {
		// Lost the race to a concurrent Subscribe for the same key.
		b.mu.Unlock()
		_ = feed.Close()
		b.logger.Warn("change listener already registered",
			slog.String("collection", collection),
			slog.String("kind", kind.String()),
		)
		return nil
	}
	b.entries[key] = e
	b.mu.Unlock()

	go b.consume(ctx, key, e, cb)

	b.logger.Info("change listener registered",
		slog.String("collection", collection),
		slog.String("kind", kind.String()),
	)
	return nil
}

// consume drains the feed until it closes, invoking the callback and
// republishing on the internal bus. Feed-transport problems and callback
// panics are observability-only; they never reach the subscriber.
func (b *Bridge) consume(ctx context.Context, key entryKey, e *entry, cb Callback) {
	defer close(e.done)
	for ch := range e.feed.Changes() {
		b.dispatch(ctx, key, ch, cb)
	}
}

func (b *Bridge) dispatch(ctx context.Context, key entryKey, ch model.Change, cb Callback) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("change callback panic recovered",
				slog.String("collection", key.collection),
				slog.String("kind", key.kind.String()),
				slog.Any("err", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	cb(ctx, ch)
	b.republish(ctx, ch)
}

func (b *Bridge) republish(ctx context.Context, ch model.Change) {
	payload, err := json.Marshal(ch)
	if err != nil {
		b.logger.Error("change republish marshal failed", slog.Any("err", err))
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := b.bus.Publish(Topic(ch.Collection, ch.Kind), msg); err != nil {
		b.logger.Error("change republish failed",
			slog.String("topic", Topic(ch.Collection, ch.Kind)),
			slog.Any("err", err),
		)
	}
}

// Unsubscribe tears the key's feed down. The optional Cleanup capability is
// attempted first; whether or not it succeeds, the feed handle is always
// closed and the entry removed. Teardown waits for the consumer goroutine to
// stop so callers observe full resource release.
func (b *Bridge) Unsubscribe(ctx context.Context, collection string, kind model.ChangeKind) {
	key := entryKey{collection: collection, kind: kind}

	b.mu.Lock()
	e, ok := b.entries[key]
	if !ok {
		b.mu.Unlock()
		b.logger.Warn("no change listener to remove",
			slog.String("collection", collection),
			slog.String("kind", kind.String()),
		)
		return
	}
	delete(b.entries, key)
	b.mu.Unlock()

	b.teardown(ctx, key, e)
}

func (b *Bridge) teardown(ctx context.Context, key entryKey, e *entry) {
	if cleaner, ok := e.feed.(storage.Cleaner); ok {
		if err := cleaner.Cleanup(ctx); err != nil {
			b.logger.Warn("change feed cleanup failed",
				slog.String("collection", key.collection),
				slog.String("kind", key.kind.String()),
				slog.Any("err", err),
			)
		}
	}
	if err := e.feed.Close(); err != nil {
		b.logger.Warn("change feed close failed",
			slog.String("collection", key.collection),
			slog.String("kind", key.kind.String()),
			slog.Any("err", err),
		)
	}
	<-e.done

	b.logger.Info("change listener removed",
		slog.String("collection", key.collection),
		slog.String("kind", key.kind.String()),
	)
}

// UnsubscribeAll tears down every registered listener and clears the table.
func (b *Bridge) UnsubscribeAll(ctx context.Context) {
	b.mu.Lock()
	entries := b.entries
	b.entries = make(map[entryKey]*entry)
	b.mu.Unlock()

	for key, e := range entries {
		b.teardown(ctx, key, e)
	}
}

// Has reports whether a listener is registered for the key.
func (b *Bridge) Has(collection string, kind model.ChangeKind) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[entryKey{collection: collection, kind: kind}]
	return ok
}

// Bus exposes the internal republish bus for additional in-process
// subscribers.
func (b *Bridge) Bus() message.Subscriber { return b.bus }

// Close releases the internal bus. Listeners should be unsubscribed first.
func (b *Bridge) Close() error { return b.bus.Close() }
