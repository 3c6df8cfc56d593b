package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/automation-engine/internal/domain/model"
	"github.com/webitel/automation-engine/internal/domain/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopSink struct{}

func (nopSink) HandleTaskResult(context.Context, model.ResultRecord)         {}
func (nopSink) HandleDecisionRuleResult(context.Context, model.ResultRecord) {}

func newOrchestrator(t *testing.T, handlers []model.Handler, bindings map[string][]string) *Orchestrator {
	t.Helper()
	reg := registry.New(testLogger())
	for _, h := range handlers {
		require.NoError(t, reg.Register(h))
	}
	for eventType, names := range bindings {
		reg.Bind(eventType, names...)
	}
	return New(reg, registry.NewExecutor(nopSink{}), testLogger())
}

type hookCounts struct {
	before  atomic.Int64
	after   atomic.Int64
	perUser atomic.Int64
}

func countingTask(name string, counts *hookCounts, failFor map[string]bool) *model.Task {
	return &model.Task{
		Name:           name,
		ShouldActivate: func(context.Context, model.Event, model.User) (bool, error) { return true, nil },
		DoAction: func(_ context.Context, _ model.Event, u model.User) ([]model.ResultStep, error) {
			counts.perUser.Add(1)
			if failFor[u.UniqueIdentifier] {
				return nil, errors.New("boom")
			}
			return nil, nil
		},
		BeforeExecution: func(context.Context, model.Event) error {
			counts.before.Add(1)
			return nil
		},
		AfterExecution: func(context.Context, model.Event) error {
			counts.after.Add(1)
			return nil
		},
	}
}

func users(ids ...string) []model.User {
	out := make([]model.User, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.User{ID: id, UniqueIdentifier: id})
	}
	return out
}

func TestHookCardinality(t *testing.T) {
	tests := []struct {
		name      string
		userCount int
	}{
		{"no users", 0},
		{"one user", 1},
		{"many users", 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			counts := &hookCounts{}
			task := countingTask("t", counts, nil)
			o := newOrchestrator(t, []model.Handler{task}, map[string][]string{"E": {"t"}})

			population := users()
			for i := 0; i < tc.userCount; i++ {
				population = append(population, model.User{UniqueIdentifier: string(rune('a' + i))})
			}

			o.ExecuteEventForUsers(context.Background(), model.Event{EventType: "E"}, population)

			assert.Equal(t, int64(1), counts.before.Load())
			assert.Equal(t, int64(1), counts.after.Load())
			assert.Equal(t, int64(tc.userCount), counts.perUser.Load())
		})
	}
}

func TestFailingUserDoesNotStopTheRun(t *testing.T) {
	counts := &hookCounts{}
	task := countingTask("taskA", counts, map[string]bool{"u1": true})
	o := newOrchestrator(t, []model.Handler{task}, map[string][]string{"E": {"taskA"}})

	o.ExecuteEventForUsers(context.Background(), model.Event{EventType: "E"}, users("u1", "u2"))

	// u1 failed; u2 still executed and the after hook still ran once.
	assert.Equal(t, int64(2), counts.perUser.Load())
	assert.Equal(t, int64(1), counts.after.Load())
}

func TestFailingHandlerDoesNotStopLaterHandlers(t *testing.T) {
	countsA := &hookCounts{}
	countsB := &hookCounts{}
	taskA := countingTask("a", countsA, map[string]bool{"u1": true, "u2": true})
	taskB := countingTask("b", countsB, nil)
	o := newOrchestrator(t, []model.Handler{taskA, taskB}, map[string][]string{"E": {"a", "b"}})

	o.ExecuteEventForUsers(context.Background(), model.Event{EventType: "E"}, users("u1", "u2"))

	assert.Equal(t, int64(2), countsB.perUser.Load())
	assert.Equal(t, int64(1), countsB.before.Load())
	assert.Equal(t, int64(1), countsB.after.Load())
}

func TestPanickingHookIsIsolated(t *testing.T) {
	counts := &hookCounts{}
	task := countingTask("p", counts, nil)
	task.BeforeExecution = func(context.Context, model.Event) error { panic("hook down") }

	o := newOrchestrator(t, []model.Handler{task}, map[string][]string{"E": {"p"}})

	require.NotPanics(t, func() {
		o.ExecuteEventForUsers(context.Background(), model.Event{EventType: "E"}, users("u1"))
	})
	assert.Equal(t, int64(1), counts.perUser.Load())
	assert.Equal(t, int64(1), counts.after.Load())
}

func TestUnknownHandlerNameIsSkipped(t *testing.T) {
	counts := &hookCounts{}
	task := countingTask("known", counts, nil)

	reg := registry.New(testLogger())
	require.NoError(t, reg.Register(task))
	reg.Bind("E", "ghost", "known")
	o := New(reg, registry.NewExecutor(nopSink{}), testLogger())

	o.ExecuteEventForUsers(context.Background(), model.Event{EventType: "E"}, users("u1"))

	assert.Equal(t, int64(1), counts.perUser.Load())
}

func TestNoBoundHandlersIsANoOp(t *testing.T) {
	counts := &hookCounts{}
	task := countingTask("t", counts, nil)
	o := newOrchestrator(t, []model.Handler{task}, nil)

	o.ExecuteEventForUsers(context.Background(), model.Event{EventType: "UNBOUND"}, users("u1"))

	assert.Zero(t, counts.before.Load())
	assert.Zero(t, counts.perUser.Load())
}
