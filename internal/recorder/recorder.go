// Package recorder persists handler execution outcomes through a layered,
// failure-proof strategy: per-kind overrides first, then the default storage
// tier behind a circuit breaker, then a structured debug log. Recording never
// fails the caller, and with persistence disabled the storage tier is never
// touched at all.
package recorder

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sony/gobreaker"

	"github.com/webitel/automation-engine/internal/domain/model"
	"github.com/webitel/automation-engine/internal/storage"
)

// RecordFunc is a host-installed override for one handler kind. A non-nil
// error (or a panic) makes resolution fall through to the next tier.
type RecordFunc func(ctx context.Context, rec model.ResultRecord) error

// StoreProvider lazily hands out the storage handle for the default tier.
// It is only ever invoked while persistence is enabled.
type StoreProvider func() (storage.Store, error)

type Options struct {
	// RecentResults bounds the in-memory buffer behind Recent.
	RecentResults int
	// RecentTTL expires buffered results; zero keeps them until evicted.
	RecentTTL time.Duration
}

const defaultRecentResults = 64

// Recorder is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	taskFn   RecordFunc
	ruleFn   RecordFunc
	enabled  bool
	provider StoreProvider
	store    storage.Store

	breaker *gobreaker.CircuitBreaker
	recent  *lru.LRU[string, model.ResultRecord]
	logger  *slog.Logger
}

func New(provider StoreProvider, logger *slog.Logger, opts Options) *Recorder {
	size := opts.RecentResults
	if size <= 0 {
		size = defaultRecentResults
	}
	return &Recorder{
		enabled:  true,
		provider: provider,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "result-recorder-storage",
			Timeout: 30 * time.Second,
		}),
		recent: lru.NewLRU[string, model.ResultRecord](size, nil, opts.RecentTTL),
		logger: logger,
	}
}

// SetTaskResultRecorder installs the task-kind override; nil clears it.
func (r *Recorder) SetTaskResultRecorder(fn RecordFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taskFn = fn
}

// SetDecisionRuleResultRecorder installs the rule-kind override; nil clears it.
func (r *Recorder) SetDecisionRuleResultRecorder(fn RecordFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ruleFn = fn
}

// SetPersistenceEnabled toggles the default storage tier. Disabling also
// drops the cached storage handle so no transitive storage contact can
// happen afterwards.
func (r *Recorder) SetPersistenceEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
	if !enabled {
		r.store = nil
	}
}

// HandleTaskResult records a task execution outcome. Tier order: task
// override, then the decision-rule override, then the default storage tier.
func (r *Recorder) HandleTaskResult(ctx context.Context, rec model.ResultRecord) {
	if rec.Empty() {
		return
	}

	r.mu.Lock()
	overrides := []RecordFunc{r.taskFn, r.ruleFn}
	r.mu.Unlock()

	for _, fn := range overrides {
		if fn == nil {
			continue
		}
		if r.invokeOverride(ctx, fn, rec, model.KindTask) {
			return
		}
	}
	r.persist(ctx, rec, model.KindTask, storage.CollectionTaskResults)
}

// HandleDecisionRuleResult records a decision rule outcome. Tier order: the
// rule override, then the default storage tier. There is intentionally no
// fallback onto the task override.
func (r *Recorder) HandleDecisionRuleResult(ctx context.Context, rec model.ResultRecord) {
	if rec.Empty() {
		return
	}

	r.mu.Lock()
	fn := r.ruleFn
	r.mu.Unlock()

	if fn != nil && r.invokeOverride(ctx, fn, rec, model.KindDecisionRule) {
		return
	}
	r.persist(ctx, rec, model.KindDecisionRule, storage.CollectionRuleResults)
}

// invokeOverride runs one override tier, reporting whether it handled the
// record. Errors and panics are warned and treated as "fall through".
func (r *Recorder) invokeOverride(ctx context.Context, fn RecordFunc, rec model.ResultRecord, kind model.HandlerKind) (handled bool) {
	defer func() {
		if p := recover(); p != nil {
			handled = false
			r.logger.Warn("result recorder override panicked",
				slog.String("kind", kind.String()),
				slog.String("name", rec.Name),
				slog.Any("err", p),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if err := fn(ctx, rec); err != nil {
		r.logger.Warn("result recorder override failed",
			slog.String("kind", kind.String()),
			slog.String("name", rec.Name),
			slog.Any("err", err),
		)
		return false
	}
	return true
}

func (r *Recorder) persist(ctx context.Context, rec model.ResultRecord, kind model.HandlerKind, collection string) {
	r.mu.Lock()
	enabled := r.enabled
	r.mu.Unlock()

	if !enabled {
		// Lite mode: straight to the log tier, never touch storage.
		r.logRecord(rec, kind)
		return
	}

	store, err := r.storeHandle()
	if err != nil {
		r.logger.Warn("result store unavailable",
			slog.String("kind", kind.String()),
			slog.Any("err", err),
		)
		r.logRecord(rec, kind)
		return
	}

	_, err = r.breaker.Execute(func() (any, error) {
		return store.Add(ctx, collection, recordDocument(rec))
	})
	if err != nil {
		r.logger.Warn("result write failed",
			slog.String("kind", kind.String()),
			slog.String("collection", collection),
			slog.Any("err", err),
		)
		r.logRecord(rec, kind)
	}
}

func (r *Recorder) storeHandle() (storage.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil {
		return r.store, nil
	}
	store, err := r.provider()
	if err != nil {
		return nil, err
	}
	r.store = store
	return store, nil
}

// logRecord is the last tier: a structured debug log of the complete record,
// plus the bounded in-memory buffer behind Recent.
func (r *Recorder) logRecord(rec model.ResultRecord, kind model.HandlerKind) {
	r.logger.Debug("handler result recorded to log",
		slog.String("kind", kind.String()),
		slog.String("name", rec.Name),
		slog.String("event_type", rec.Event.EventType),
		slog.String("user", rec.User.UniqueIdentifier),
		slog.Int("steps", len(rec.Steps)),
		slog.Any("record", rec),
	)
	r.recent.Add(uuid.NewString(), rec)
}

// Recent returns the buffered records, oldest first.
func (r *Recorder) Recent() []model.ResultRecord {
	return r.recent.Values()
}

func recordDocument(rec model.ResultRecord) model.Document {
	steps := make([]any, 0, len(rec.Steps))
	for _, s := range rec.Steps {
		steps = append(steps, map[string]any{
			"step":      s.Step,
			"result":    s.Result,
			"timestamp": s.Timestamp,
		})
	}
	return model.Document{
		"steps": steps,
		"event": map[string]any{
			"id":           rec.Event.ID,
			"event_type":   rec.Event.EventType,
			"generated_at": rec.Event.GeneratedAt,
			"published_at": rec.Event.PublishedAt,
			"details":      rec.Event.Details,
		},
		"name": rec.Name,
		"user": map[string]any{
			"id":                rec.User.ID,
			"unique_identifier": rec.User.UniqueIdentifier,
			"attributes":        rec.User.Attributes,
		},
	}
}
