// Package storage defines the contract consumed from the storage
// collaborator: collection CRUD, index bootstrap and push-style change
// feeds. The engine never talks to a concrete database driver directly;
// everything above this package is written against Store and Feed.
package storage

import (
	"context"
	"errors"

	"github.com/webitel/automation-engine/internal/domain/model"
)

// Collection names owned by the engine.
const (
	CollectionUsers          = "users"
	CollectionEventQueue     = "event_queue"
	CollectionEventArchive   = "event_archive"
	CollectionTaskResults    = "task_results"
	CollectionRuleResults    = "decision_rule_results"
	CollectionProtectedAttrs = "protected_attributes"
)

var (
	ErrNotFound          = errors.New("storage: item not found")
	ErrDuplicateKey      = errors.New("storage: unique index violation")
	ErrUnknownCollection = errors.New("storage: unknown collection")
)

// Store is the storage collaborator surface.
type Store interface {
	// EnsureCollection idempotently creates the named collection.
	EnsureCollection(ctx context.Context, collection string) error
	// EnsureIndex idempotently creates an index on field; unique indexes
	// make Add fail with ErrDuplicateKey on collision.
	EnsureIndex(ctx context.Context, collection, field string, unique bool) error

	GetAll(ctx context.Context, collection string) ([]model.Document, error)
	// Add stores doc and returns the stored copy carrying its assigned id.
	Add(ctx context.Context, collection string, doc model.Document) (model.Document, error)
	// UpdateByID merges patch over the stored document and returns the
	// updated copy. ErrNotFound if no document has that id.
	UpdateByID(ctx context.Context, collection, id string, patch model.Document) (model.Document, error)
	RemoveByID(ctx context.Context, collection, id string) error
	Clear(ctx context.Context, collection string) error
	// Find returns every document whose fields match filter exactly.
	Find(ctx context.Context, collection string, filter model.Document) ([]model.Document, error)

	// ChangeFeed opens a push feed reporting mutations of the given kind.
	// The feed stays open until Close is called on it.
	ChangeFeed(ctx context.Context, collection string, kind model.ChangeKind) (Feed, error)
}

// Feed is a cancellable change subscription. Closing it is one atomic call;
// the Changes channel is closed once the feed is fully torn down.
type Feed interface {
	Changes() <-chan model.Change
	Close() error
}

// Cleaner is an optional capability a Feed may carry. When present it is
// invoked best-effort before Close; its failure must never prevent Close.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}
