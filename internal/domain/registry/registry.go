// Package registry holds the host-supplied handlers (tasks and decision
// rules) in a single tagged namespace, the ordered event-type bindings, and
// the per-kind execution entry points the orchestrator drives.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/webitel/automation-engine/internal/domain/model"
)

var (
	ErrDuplicateName  = errors.New("registry: handler name already registered")
	ErrInvalidHandler = errors.New("registry: invalid handler")
)

// Resolver is the read surface consumed by the orchestrator and the queue.
type Resolver interface {
	Resolve(name string) (model.Handler, bool)
	HandlersForEventType(eventType string) []string
	HasHandlersForEventType(eventType string) bool
}

// Interface guard
var _ Resolver = (*Registry)(nil)

// Registry maps handler names to their tagged variant and event types to
// ordered handler-name bindings. Tasks and decision rules share one
// namespace; a duplicate registration is rejected rather than shadowed.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]model.Handler
	bindings map[string][]string

	logger *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]model.Handler),
		bindings: make(map[string][]string),
		logger:   logger,
	}
}

// Register adds a task or decision rule under its name.
func (r *Registry) Register(h model.Handler) error {
	if err := validate(h); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	name := h.HandlerName()
	if _, ok := r.handlers[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	r.handlers[name] = h

	r.logger.Info("handler registered",
		slog.String("name", name),
		slog.String("kind", h.Kind().String()),
	)
	return nil
}

func validate(h model.Handler) error {
	if h == nil || h.HandlerName() == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidHandler)
	}
	switch v := h.(type) {
	case *model.Task:
		if v.ShouldActivate == nil || v.DoAction == nil {
			return fmt.Errorf("%w: task %q needs ShouldActivate and DoAction", ErrInvalidHandler, v.Name)
		}
	case *model.DecisionRule:
		if v.ShouldActivate == nil || v.SelectAction == nil || v.DoAction == nil {
			return fmt.Errorf("%w: decision rule %q needs ShouldActivate, SelectAction and DoAction", ErrInvalidHandler, v.Name)
		}
	default:
		return fmt.Errorf("%w: unknown kind", ErrInvalidHandler)
	}
	return nil
}

// Bind appends handler names, in order, to the event type's binding list.
// Names that are not registered yet are allowed (late registration) but
// logged, since an unresolvable name is skipped at execution time.
func (r *Registry) Bind(eventType string, names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if _, ok := r.handlers[name]; !ok {
			r.logger.Warn("binding references unregistered handler",
				slog.String("event_type", eventType),
				slog.String("name", name),
			)
		}
		r.bindings[eventType] = append(r.bindings[eventType], name)
	}
}

func (r *Registry) Resolve(name string) (model.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// HandlersForEventType returns the ordered handler names bound to the event
// type. The returned slice is a copy.
func (r *Registry) HandlersForEventType(eventType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bound := r.bindings[eventType]
	out := make([]string, len(bound))
	copy(out, bound)
	return out
}

func (r *Registry) HasHandlersForEventType(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings[eventType]) > 0
}
