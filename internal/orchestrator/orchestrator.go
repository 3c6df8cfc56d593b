// Package orchestrator runs the handlers bound to an event over a user
// population: before hook once, every user in order, after hook once, per
// handler in binding order. Every failure is isolated to the smallest unit
// (one hook, one user) so the rest of the run always proceeds.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/webitel/automation-engine/internal/domain/model"
	"github.com/webitel/automation-engine/internal/domain/registry"
)

type Orchestrator struct {
	resolver registry.Resolver
	executor registry.Executor
	logger   *slog.Logger
}

func New(resolver registry.Resolver, executor registry.Executor, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		resolver: resolver,
		executor: executor,
		logger:   logger,
	}
}

// ExecuteEventForUsers runs every handler bound to the event's type against
// the given users, strictly sequentially. It never returns an error: all
// effects are side effects of the handler bodies, and failures are logged at
// their isolation boundary.
func (o *Orchestrator) ExecuteEventForUsers(ctx context.Context, ev model.Event, users []model.User) {
	names := o.resolver.HandlersForEventType(ev.EventType)
	if len(names) == 0 {
		o.logger.Warn("no handlers bound to event type",
			slog.String("event_type", ev.EventType),
			slog.String("event_id", ev.ID),
		)
		return
	}

	for _, name := range names {
		o.runHandler(ctx, name, ev, users)
	}
}

func (o *Orchestrator) runHandler(ctx context.Context, name string, ev model.Event, users []model.User) {
	h, ok := o.resolver.Resolve(name)
	if !ok {
		for _, u := range users {
			o.logger.Warn("bound handler not registered, skipping user",
				slog.String("name", name),
				slog.String("event_type", ev.EventType),
				slog.String("user", u.UniqueIdentifier),
			)
		}
		return
	}

	before, after := hooks(h)

	// The before hook fires exactly once per orchestration call, ahead of
	// any user. Its failure does not cancel the per-user sweep.
	o.runHook(ctx, "before", name, before, ev)

	for _, u := range users {
		if err := o.executeForUser(ctx, h, ev, u); err != nil {
			o.logger.Error("handler execution failed",
				slog.String("name", name),
				slog.String("event_type", ev.EventType),
				slog.String("user", u.UniqueIdentifier),
				slog.Any("err", err),
			)
		}
	}

	o.runHook(ctx, "after", name, after, ev)
}

func (o *Orchestrator) executeForUser(ctx context.Context, h model.Handler, ev model.Event, u model.User) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()

	switch v := h.(type) {
	case *model.Task:
		return o.executor.ExecuteTask(ctx, v, ev, u)
	case *model.DecisionRule:
		return o.executor.ExecuteDecisionRule(ctx, v, ev, u)
	default:
		// Unreachable while the registry validates registrations.
		return fmt.Errorf("unknown handler kind %d", h.Kind())
	}
}

func (o *Orchestrator) runHook(ctx context.Context, stage, name string, hook model.HookFunc, ev model.Event) {
	if hook == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("handler hook panicked",
				slog.String("stage", stage),
				slog.String("name", name),
				slog.String("event_type", ev.EventType),
				slog.Any("err", p),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if err := hook(ctx, ev); err != nil {
		o.logger.Error("handler hook failed",
			slog.String("stage", stage),
			slog.String("name", name),
			slog.String("event_type", ev.EventType),
			slog.Any("err", err),
		)
	}
}

func hooks(h model.Handler) (before, after model.HookFunc) {
	switch v := h.(type) {
	case *model.Task:
		return v.BeforeExecution, v.AfterExecution
	case *model.DecisionRule:
		return v.BeforeExecution, v.AfterExecution
	default:
		return nil, nil
	}
}
