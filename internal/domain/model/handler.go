package model

import "context"

type HandlerKind int16

const (
	KindTask HandlerKind = iota + 1
	KindDecisionRule
)

func (k HandlerKind) String() string {
	switch k {
	case KindTask:
		return "task"
	case KindDecisionRule:
		return "decision_rule"
	default:
		return "unknown"
	}
}

// HookFunc runs once per orchestration call, before or after the per-user
// sweep for a handler. Nil means the hook is absent.
type HookFunc func(ctx context.Context, ev Event) error

// ActivationFunc gates per-user execution for a handler.
type ActivationFunc func(ctx context.Context, ev Event, u User) (bool, error)

// Handler is the tagged union over the two host-supplied handler kinds.
// Exactly *Task and *DecisionRule implement it.
type Handler interface {
	HandlerName() string
	Kind() HandlerKind
}

// Interface guards
var (
	_ Handler = (*Task)(nil)
	_ Handler = (*DecisionRule)(nil)
)

// Task runs a single action for every user it activates for.
type Task struct {
	Name            string
	ShouldActivate  ActivationFunc
	DoAction        func(ctx context.Context, ev Event, u User) ([]ResultStep, error)
	BeforeExecution HookFunc
	AfterExecution  HookFunc
}

func (t *Task) HandlerName() string { return t.Name }
func (t *Task) Kind() HandlerKind   { return KindTask }

// DecisionRule selects one of several actions per user before acting.
type DecisionRule struct {
	Name            string
	ShouldActivate  ActivationFunc
	SelectAction    func(ctx context.Context, ev Event, u User) (string, error)
	DoAction        func(ctx context.Context, action string, ev Event, u User) ([]ResultStep, error)
	BeforeExecution HookFunc
	AfterExecution  HookFunc
}

func (r *DecisionRule) HandlerName() string { return r.Name }
func (r *DecisionRule) Kind() HandlerKind   { return KindDecisionRule }
