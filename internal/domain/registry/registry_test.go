package registry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/automation-engine/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noopTask(name string) *model.Task {
	return &model.Task{
		Name:           name,
		ShouldActivate: func(context.Context, model.Event, model.User) (bool, error) { return true, nil },
		DoAction: func(context.Context, model.Event, model.User) ([]model.ResultStep, error) {
			return nil, nil
		},
	}
}

func TestRegisterRejectsDuplicateNamesAcrossKinds(t *testing.T) {
	r := New(testLogger())
	require.NoError(t, r.Register(noopTask("notify")))

	rule := &model.DecisionRule{
		Name:           "notify",
		ShouldActivate: func(context.Context, model.Event, model.User) (bool, error) { return true, nil },
		SelectAction:   func(context.Context, model.Event, model.User) (string, error) { return "a", nil },
		DoAction: func(context.Context, string, model.Event, model.User) ([]model.ResultStep, error) {
			return nil, nil
		},
	}
	err := r.Register(rule)
	require.ErrorIs(t, err, ErrDuplicateName)

	h, ok := r.Resolve("notify")
	require.True(t, ok)
	assert.Equal(t, model.KindTask, h.Kind())
}

func TestRegisterValidatesHandlers(t *testing.T) {
	r := New(testLogger())

	tests := []struct {
		name    string
		handler model.Handler
	}{
		{"missing name", &model.Task{}},
		{"task without action", &model.Task{
			Name:           "t",
			ShouldActivate: func(context.Context, model.Event, model.User) (bool, error) { return true, nil },
		}},
		{"rule without selector", &model.DecisionRule{
			Name:           "r",
			ShouldActivate: func(context.Context, model.Event, model.User) (bool, error) { return true, nil },
			DoAction: func(context.Context, string, model.Event, model.User) ([]model.ResultStep, error) {
				return nil, nil
			},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, r.Register(tc.handler), ErrInvalidHandler)
		})
	}
}

func TestBindKeepsOrderAndReturnsCopies(t *testing.T) {
	r := New(testLogger())
	require.NoError(t, r.Register(noopTask("first")))
	require.NoError(t, r.Register(noopTask("second")))

	r.Bind("ORDER_PLACED", "first", "second")
	r.Bind("ORDER_PLACED", "first")

	bound := r.HandlersForEventType("ORDER_PLACED")
	assert.Equal(t, []string{"first", "second", "first"}, bound)

	bound[0] = "mutated"
	assert.Equal(t, []string{"first", "second", "first"}, r.HandlersForEventType("ORDER_PLACED"))

	assert.True(t, r.HasHandlersForEventType("ORDER_PLACED"))
	assert.False(t, r.HasHandlersForEventType("ORDER_CANCELLED"))
}

type capturingSink struct {
	mu    sync.Mutex
	tasks []model.ResultRecord
	rules []model.ResultRecord
}

func (s *capturingSink) HandleTaskResult(_ context.Context, rec model.ResultRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, rec)
}

func (s *capturingSink) HandleDecisionRuleResult(_ context.Context, rec model.ResultRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rec)
}

func TestExecutorRunsTaskPipeline(t *testing.T) {
	sink := &capturingSink{}
	ex := NewExecutor(sink)

	task := &model.Task{
		Name: "greet",
		ShouldActivate: func(_ context.Context, _ model.Event, u model.User) (bool, error) {
			return u.UniqueIdentifier == "active", nil
		},
		DoAction: func(context.Context, model.Event, model.User) ([]model.ResultStep, error) {
			return []model.ResultStep{{Step: "greeted", Result: "ok"}}, nil
		},
	}
	ev := model.Event{EventType: "USER_SIGNED_UP"}

	require.NoError(t, ex.ExecuteTask(context.Background(), task, ev, model.User{UniqueIdentifier: "active"}))
	require.NoError(t, ex.ExecuteTask(context.Background(), task, ev, model.User{UniqueIdentifier: "inactive"}))

	// The inactive user produced no record at all.
	require.Len(t, sink.tasks, 1)
	assert.Equal(t, "greet", sink.tasks[0].Name)
	assert.Equal(t, "active", sink.tasks[0].User.UniqueIdentifier)
}

func TestExecutorRecordsSelectedAction(t *testing.T) {
	sink := &capturingSink{}
	ex := NewExecutor(sink)

	rule := &model.DecisionRule{
		Name:           "route",
		ShouldActivate: func(context.Context, model.Event, model.User) (bool, error) { return true, nil },
		SelectAction:   func(context.Context, model.Event, model.User) (string, error) { return "email", nil },
		DoAction: func(_ context.Context, action string, _ model.Event, _ model.User) ([]model.ResultStep, error) {
			return []model.ResultStep{{Step: "sent", Result: action}}, nil
		},
	}

	require.NoError(t, ex.ExecuteDecisionRule(context.Background(), rule, model.Event{EventType: "E"}, model.User{}))

	require.Len(t, sink.rules, 1)
	steps := sink.rules[0].Steps
	require.Len(t, steps, 2)
	assert.Equal(t, "select_action", steps[0].Step)
	assert.Equal(t, "email", steps[0].Result)
	assert.Equal(t, "sent", steps[1].Step)
}

func TestExecutorSurfacesActivationErrors(t *testing.T) {
	sink := &capturingSink{}
	ex := NewExecutor(sink)

	task := &model.Task{
		Name: "broken",
		ShouldActivate: func(context.Context, model.Event, model.User) (bool, error) {
			return false, assert.AnError
		},
		DoAction: func(context.Context, model.Event, model.User) ([]model.ResultStep, error) {
			return nil, nil
		},
	}

	err := ex.ExecuteTask(context.Background(), task, model.Event{}, model.User{})
	require.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, sink.tasks)
}
