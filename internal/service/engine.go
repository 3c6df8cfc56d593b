// Package service composes the engine's parts behind one facade for host
// applications: handler registration, event publication, the user surface
// and lifecycle bracketing.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/automation-engine/internal/bridge"
	"github.com/webitel/automation-engine/internal/domain/model"
	"github.com/webitel/automation-engine/internal/domain/registry"
	"github.com/webitel/automation-engine/internal/queue"
	"github.com/webitel/automation-engine/internal/recorder"
	"github.com/webitel/automation-engine/internal/usercache"
)

// QueueStatus is the queue's observable state for the ops surface.
type QueueStatus struct {
	Enabled bool `json:"enabled"`
	Running bool `json:"running"`
	Empty   bool `json:"empty"`
}

type Engine struct {
	registry *registry.Registry
	cache    *usercache.Cache
	queue    *queue.Queue
	recorder *recorder.Recorder
	bridge   *bridge.Bridge
	logger   *slog.Logger
}

func NewEngine(
	reg *registry.Registry,
	cache *usercache.Cache,
	q *queue.Queue,
	rec *recorder.Recorder,
	b *bridge.Bridge,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		registry: reg,
		cache:    cache,
		queue:    q,
		recorder: rec,
		bridge:   b,
		logger:   logger,
	}
}

// Start initializes the user cache and starts queue processing. It must run
// before any use of the read/write surface.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.cache.Init(ctx); err != nil {
		return err
	}
	if err := e.queue.Start(ctx); err != nil {
		return err
	}
	e.logger.Info("automation engine started")
	return nil
}

// Stop disables queue processing and tears every change listener down.
func (e *Engine) Stop(ctx context.Context) error {
	e.queue.Stop(ctx)
	e.cache.Shutdown(ctx)
	e.bridge.UnsubscribeAll(ctx)
	if err := e.bridge.Close(); err != nil {
		return err
	}
	e.logger.Info("automation engine stopped")
	return nil
}

// RegisterTask adds a host-supplied task to the registry.
func (e *Engine) RegisterTask(t *model.Task) error { return e.registry.Register(t) }

// RegisterDecisionRule adds a host-supplied decision rule to the registry.
func (e *Engine) RegisterDecisionRule(r *model.DecisionRule) error { return e.registry.Register(r) }

// BindHandlers appends handler names, in order, to the event type's binding.
func (e *Engine) BindHandlers(eventType string, names ...string) {
	e.registry.Bind(eventType, names...)
}

// PublishEvent queues an event for autonomous processing.
func (e *Engine) PublishEvent(ctx context.Context, eventType string, generatedAt time.Time, details map[string]any) (*model.Event, error) {
	return e.queue.PublishEvent(ctx, eventType, generatedAt, details)
}

// Users exposes the user cache surface.
func (e *Engine) Users() *usercache.Cache { return e.cache }

// Results exposes the result recorder surface.
func (e *Engine) Results() *recorder.Recorder { return e.recorder }

func (e *Engine) QueueStatus(ctx context.Context) QueueStatus {
	empty, err := e.queue.QueueIsEmpty(ctx)
	if err != nil {
		e.logger.Warn("queue status read failed", slog.Any("err", err))
	}
	return QueueStatus{
		Enabled: e.queue.IsEnabled(),
		Running: e.queue.IsRunning(),
		Empty:   empty,
	}
}
