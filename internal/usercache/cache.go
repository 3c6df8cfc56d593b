// Package usercache mirrors the persisted user collection in memory. The
// cache is bootstrapped with a full collection read and then kept current by
// three change-feed subscriptions, so reads never touch storage after Init.
// Entries are keyed by the storage-assigned id, never the caller-chosen
// unique identifier, so a rename does not churn the cache.
package usercache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/webitel/automation-engine/internal/bridge"
	"github.com/webitel/automation-engine/internal/domain/model"
	"github.com/webitel/automation-engine/internal/storage"
)

var (
	ErrNotInitialized = errors.New("usercache: not initialized")
	ErrNotFound       = errors.New("usercache: user not found")
	ErrInvalidInput   = errors.New("usercache: invalid input")
)

type Cache struct {
	mu          sync.RWMutex
	users       map[string]model.User
	initialized bool

	store  storage.Store
	bridge *bridge.Bridge
	logger *slog.Logger
}

func New(store storage.Store, b *bridge.Bridge, logger *slog.Logger) *Cache {
	return &Cache{
		users:  make(map[string]model.User),
		store:  store,
		bridge: b,
		logger: logger,
	}
}

// Init ensures the backing collections and the unique identifier index
// exist, performs a full reload, and registers the three change-feed
// subscriptions that keep the cache current. Safe to call again: the reload
// repeats and duplicate subscriptions only warn.
func (c *Cache) Init(ctx context.Context) error {
	if err := c.store.EnsureCollection(ctx, storage.CollectionUsers); err != nil {
		return fmt.Errorf("ensure user collection: %w", err)
	}
	if err := c.store.EnsureIndex(ctx, storage.CollectionUsers, "unique_identifier", true); err != nil {
		return fmt.Errorf("ensure unique identifier index: %w", err)
	}
	if err := c.store.EnsureCollection(ctx, storage.CollectionProtectedAttrs); err != nil {
		return fmt.Errorf("ensure protected attributes collection: %w", err)
	}

	if err := c.reload(ctx); err != nil {
		return err
	}

	subscriptions := []struct {
		kind model.ChangeKind
		cb   bridge.Callback
	}{
		{model.Inserted, c.onUpsert},
		{model.Updated, c.onUpsert},
		{model.Deleted, c.onDelete},
	}
	for _, s := range subscriptions {
		if err := c.bridge.Subscribe(ctx, storage.CollectionUsers, s.kind, s.cb); err != nil {
			return fmt.Errorf("subscribe user %s feed: %w", s.kind, err)
		}
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	c.logger.Info("user cache initialized", slog.Int("users", c.Size()))
	return nil
}

// Shutdown removes the three change-feed subscriptions.
func (c *Cache) Shutdown(ctx context.Context) {
	for _, kind := range []model.ChangeKind{model.Inserted, model.Updated, model.Deleted} {
		c.bridge.Unsubscribe(ctx, storage.CollectionUsers, kind)
	}
	c.mu.Lock()
	c.initialized = false
	c.mu.Unlock()
}

// reload clears the cache and repopulates it from a full collection read.
func (c *Cache) reload(ctx context.Context) error {
	docs, err := c.store.GetAll(ctx, storage.CollectionUsers)
	if err != nil {
		return fmt.Errorf("reload users: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = make(map[string]model.User, len(docs))
	for _, doc := range docs {
		u := userFromDocument(doc)
		c.users[u.ID] = u
	}
	return nil
}

func (c *Cache) onUpsert(_ context.Context, ch model.Change) {
	u := userFromDocument(ch.Document)
	if u.ID == "" {
		c.logger.Warn("user change without id ignored", slog.String("kind", ch.Kind.String()))
		return
	}
	c.mu.Lock()
	c.users[u.ID] = u
	c.mu.Unlock()
}

func (c *Cache) onDelete(_ context.Context, ch model.Change) {
	c.mu.Lock()
	delete(c.users, ch.ID)
	c.mu.Unlock()
}

// AddUser stores a new user and caches it under its assigned id. Invalid
// input and identifier collisions are skipped with a warning, returning
// (nil, nil); a storage failure is the one path that returns an error.
func (c *Cache) AddUser(ctx context.Context, u model.User) (*model.User, error) {
	if err := c.requireInit(); err != nil {
		return nil, err
	}
	if u.UniqueIdentifier == "" {
		c.logger.Warn("add user skipped: missing unique identifier")
		return nil, nil
	}
	if c.exists(u.UniqueIdentifier) {
		c.logger.Warn("add user skipped: identifier already taken",
			slog.String("unique_identifier", u.UniqueIdentifier),
		)
		return nil, nil
	}

	stored, err := c.store.Add(ctx, storage.CollectionUsers, model.Document{
		"unique_identifier": u.UniqueIdentifier,
		"attributes":        initialAttributes(u.Attributes),
	})
	if err != nil {
		return nil, fmt.Errorf("add user %s: %w", u.UniqueIdentifier, err)
	}

	added := userFromDocument(stored)
	c.mu.Lock()
	c.users[added.ID] = added
	c.mu.Unlock()

	c.logger.Info("user added",
		slog.String("id", added.ID),
		slog.String("unique_identifier", added.UniqueIdentifier),
	)
	return &added, nil
}

// AddUsers adds each entry sequentially, skipping duplicates and invalid
// entries, and logs a summary count.
func (c *Cache) AddUsers(ctx context.Context, list []model.User) ([]model.User, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: empty user list", ErrInvalidInput)
	}

	var added []model.User
	for _, u := range list {
		res, err := c.AddUser(ctx, u)
		if err != nil {
			return added, err
		}
		if res != nil {
			added = append(added, *res)
		}
	}

	if len(added) == 0 {
		c.logger.Info("no new users added")
	} else {
		c.logger.Info("users added", slog.Int("count", len(added)))
	}
	return added, nil
}

// GetAllUsers returns a snapshot of the cached population.
func (c *Cache) GetAllUsers() ([]model.User, error) {
	if err := c.requireInit(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.User, 0, len(c.users))
	for _, u := range c.users {
		out = append(out, u.Clone())
	}
	return out, nil
}

func (c *Cache) GetUserByUniqueIdentifier(identifier string) (*model.User, error) {
	if err := c.requireInit(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, u := range c.users {
		if u.UniqueIdentifier == identifier {
			clone := u.Clone()
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, identifier)
}

// UpdateUserByID shallow-merges partial over the user's attributes, persists
// the merged attribute object, and refreshes the cache from the storage
// response.
func (c *Cache) UpdateUserByID(ctx context.Context, id string, partial map[string]any) (*model.User, error) {
	if err := c.requireInit(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	current, ok := c.users[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
	}

	merged := current.MergeAttributes(partial)
	doc, err := c.store.UpdateByID(ctx, storage.CollectionUsers, id, model.Document{
		"attributes": merged,
	})
	if err != nil {
		return nil, fmt.Errorf("update user %s: %w", id, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("update user %s: storage returned no result", id)
	}

	updated := userFromDocument(doc)
	c.mu.Lock()
	c.users[id] = updated
	c.mu.Unlock()
	return &updated, nil
}

// UpdateUserByUniqueIdentifier resolves the user by identifier and delegates
// to UpdateUserByID. Renames are rejected here; they go through
// ModifyUserUniqueIdentifier.
func (c *Cache) UpdateUserByUniqueIdentifier(ctx context.Context, identifier string, partial map[string]any) (*model.User, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: empty unique identifier", ErrInvalidInput)
	}
	if _, ok := partial["unique_identifier"]; ok {
		return nil, fmt.Errorf("%w: unique identifier cannot be changed here, use ModifyUserUniqueIdentifier", ErrInvalidInput)
	}
	if len(partial) == 0 {
		return nil, fmt.Errorf("%w: empty update", ErrInvalidInput)
	}

	u, err := c.GetUserByUniqueIdentifier(identifier)
	if err != nil {
		return nil, err
	}
	return c.UpdateUserByID(ctx, u.ID, partial)
}

// ModifyUserUniqueIdentifier renames a user's business key. Renaming to the
// current value is a no-op that performs no write; a key another user
// already holds is rejected.
func (c *Cache) ModifyUserUniqueIdentifier(ctx context.Context, current, next string) (*model.User, error) {
	if next == "" {
		return nil, fmt.Errorf("%w: empty new unique identifier", ErrInvalidInput)
	}

	u, err := c.GetUserByUniqueIdentifier(current)
	if err != nil {
		return nil, err
	}
	if next == current {
		return u, nil
	}
	if c.exists(next) {
		return nil, fmt.Errorf("%w: unique identifier %s already taken", ErrInvalidInput, next)
	}

	doc, err := c.store.UpdateByID(ctx, storage.CollectionUsers, u.ID, model.Document{
		"unique_identifier": next,
	})
	if err != nil {
		return nil, fmt.Errorf("rename user %s: %w", current, err)
	}

	renamed := userFromDocument(doc)
	c.mu.Lock()
	c.users[renamed.ID] = renamed
	c.mu.Unlock()

	c.logger.Info("user renamed",
		slog.String("id", renamed.ID),
		slog.String("from", current),
		slog.String("to", next),
	)
	return &renamed, nil
}

// DeleteUserByID removes the user from storage and, only once storage
// confirms, from the cache. The protected-attributes side record is cleaned
// up best-effort; its failure is logged, never propagated.
func (c *Cache) DeleteUserByID(ctx context.Context, id string) error {
	if err := c.requireInit(); err != nil {
		return err
	}

	if err := c.store.RemoveByID(ctx, storage.CollectionUsers, id); err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}

	c.mu.Lock()
	delete(c.users, id)
	c.mu.Unlock()

	c.cleanupProtectedAttributes(ctx, id)
	c.logger.Info("user deleted", slog.String("id", id))
	return nil
}

func (c *Cache) DeleteUserByUniqueIdentifier(ctx context.Context, identifier string) error {
	u, err := c.GetUserByUniqueIdentifier(identifier)
	if err != nil {
		return err
	}
	return c.DeleteUserByID(ctx, u.ID)
}

// DeleteAllUsers clears the backing collection and the cache together.
func (c *Cache) DeleteAllUsers(ctx context.Context) error {
	if err := c.requireInit(); err != nil {
		return err
	}
	if err := c.store.Clear(ctx, storage.CollectionUsers); err != nil {
		return fmt.Errorf("clear users: %w", err)
	}

	c.mu.Lock()
	c.users = make(map[string]model.User)
	c.mu.Unlock()

	if err := c.store.Clear(ctx, storage.CollectionProtectedAttrs); err != nil {
		c.logger.Warn("protected attributes cleanup failed", slog.Any("err", err))
	}
	return nil
}

// IsIdentifierUnique reports whether no cached user holds the identifier.
func (c *Cache) IsIdentifierUnique(identifier string) (bool, error) {
	if identifier == "" {
		return false, fmt.Errorf("%w: empty unique identifier", ErrInvalidInput)
	}
	if err := c.requireInit(); err != nil {
		return false, err
	}
	return !c.exists(identifier), nil
}

// Size returns the number of cached users.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.users)
}

func (c *Cache) requireInit() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (c *Cache) exists(identifier string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, u := range c.users {
		if u.UniqueIdentifier == identifier {
			return true
		}
	}
	return false
}

func (c *Cache) cleanupProtectedAttributes(ctx context.Context, userID string) {
	docs, err := c.store.Find(ctx, storage.CollectionProtectedAttrs, model.Document{"user_id": userID})
	if err != nil {
		c.logger.Warn("protected attributes lookup failed",
			slog.String("user_id", userID),
			slog.Any("err", err),
		)
		return
	}
	for _, doc := range docs {
		if err := c.store.RemoveByID(ctx, storage.CollectionProtectedAttrs, doc.ID()); err != nil {
			c.logger.Warn("protected attributes cleanup failed",
				slog.String("user_id", userID),
				slog.Any("err", err),
			)
		}
	}
}

func userFromDocument(doc model.Document) model.User {
	u := model.User{ID: doc.ID()}
	u.UniqueIdentifier, _ = doc["unique_identifier"].(string)
	if attrs, ok := doc["attributes"].(map[string]any); ok {
		u.Attributes = attrs
	}
	return u
}

func initialAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return map[string]any{}
	}
	return attrs
}
