package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/webitel/automation-engine/internal/domain/model"
)

// ResultSink receives the outcome of a handler execution. Implementations
// must never fail the caller; the production sink is the result recorder.
type ResultSink interface {
	HandleTaskResult(ctx context.Context, rec model.ResultRecord)
	HandleDecisionRuleResult(ctx context.Context, rec model.ResultRecord)
}

// Executor is the per-kind execution entry point: it runs one handler's
// activation/action pipeline against one (event, user) pair and hands the
// accumulated steps to the result sink.
type Executor interface {
	ExecuteTask(ctx context.Context, t *model.Task, ev model.Event, u model.User) error
	ExecuteDecisionRule(ctx context.Context, r *model.DecisionRule, ev model.Event, u model.User) error
}

// Interface guard
var _ Executor = (*executor)(nil)

type executor struct {
	sink ResultSink
}

func NewExecutor(sink ResultSink) Executor {
	return &executor{sink: sink}
}

func (e *executor) ExecuteTask(ctx context.Context, t *model.Task, ev model.Event, u model.User) error {
	active, err := t.ShouldActivate(ctx, ev, u)
	if err != nil {
		return fmt.Errorf("task %s activation check: %w", t.Name, err)
	}
	if !active {
		return nil
	}

	steps, err := t.DoAction(ctx, ev, u)
	if err != nil {
		return fmt.Errorf("task %s action: %w", t.Name, err)
	}

	e.sink.HandleTaskResult(ctx, model.ResultRecord{
		Steps: steps,
		Event: ev,
		Name:  t.Name,
		User:  u,
	})
	return nil
}

func (e *executor) ExecuteDecisionRule(ctx context.Context, r *model.DecisionRule, ev model.Event, u model.User) error {
	active, err := r.ShouldActivate(ctx, ev, u)
	if err != nil {
		return fmt.Errorf("decision rule %s activation check: %w", r.Name, err)
	}
	if !active {
		return nil
	}

	action, err := r.SelectAction(ctx, ev, u)
	if err != nil {
		return fmt.Errorf("decision rule %s action selection: %w", r.Name, err)
	}

	steps, err := r.DoAction(ctx, action, ev, u)
	if err != nil {
		return fmt.Errorf("decision rule %s action %s: %w", r.Name, action, err)
	}

	if len(steps) > 0 {
		steps = append([]model.ResultStep{{
			Step:      "select_action",
			Result:    action,
			Timestamp: time.Now(),
		}}, steps...)
	}

	e.sink.HandleDecisionRuleResult(ctx, model.ResultRecord{
		Steps: steps,
		Event: ev,
		Name:  r.Name,
		User:  u,
	})
	return nil
}
