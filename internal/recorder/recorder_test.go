package recorder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/automation-engine/internal/domain/model"
	"github.com/webitel/automation-engine/internal/storage"
	"github.com/webitel/automation-engine/internal/storage/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(name string) model.ResultRecord {
	return model.ResultRecord{
		Steps: []model.ResultStep{{Step: "done", Result: "ok"}},
		Event: model.Event{EventType: "E"},
		Name:  name,
		User:  model.User{UniqueIdentifier: "u1"},
	}
}

func newMemoryBacked(t *testing.T) (*Recorder, *memory.Store) {
	t.Helper()
	store := memory.NewStore(testLogger())
	for _, col := range []string{storage.CollectionTaskResults, storage.CollectionRuleResults} {
		require.NoError(t, store.EnsureCollection(context.Background(), col))
	}
	rec := New(func() (storage.Store, error) { return store, nil }, testLogger(), Options{})
	return rec, store
}

func TestEmptyStepsAreDropped(t *testing.T) {
	rec, store := newMemoryBacked(t)

	rec.HandleTaskResult(context.Background(), model.ResultRecord{Name: "t"})

	docs, err := store.GetAll(context.Background(), storage.CollectionTaskResults)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Empty(t, rec.Recent())
}

func TestDefaultTierWritesKindSpecificCollections(t *testing.T) {
	rec, store := newMemoryBacked(t)

	rec.HandleTaskResult(context.Background(), record("task1"))
	rec.HandleDecisionRuleResult(context.Background(), record("rule1"))

	tasks, err := store.GetAll(context.Background(), storage.CollectionTaskResults)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "task1", tasks[0]["name"])

	rules, err := store.GetAll(context.Background(), storage.CollectionRuleResults)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "rule1", rules[0]["name"])
}

func TestTaskOverrideWinsOverDefaultTier(t *testing.T) {
	rec, store := newMemoryBacked(t)

	var handled []string
	rec.SetTaskResultRecorder(func(_ context.Context, r model.ResultRecord) error {
		handled = append(handled, r.Name)
		return nil
	})

	rec.HandleTaskResult(context.Background(), record("task1"))

	assert.Equal(t, []string{"task1"}, handled)
	docs, err := store.GetAll(context.Background(), storage.CollectionTaskResults)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestTaskResultFallsBackToRuleOverride(t *testing.T) {
	rec, _ := newMemoryBacked(t)

	var viaRule []string
	rec.SetDecisionRuleResultRecorder(func(_ context.Context, r model.ResultRecord) error {
		viaRule = append(viaRule, r.Name)
		return nil
	})

	rec.HandleTaskResult(context.Background(), record("task1"))
	assert.Equal(t, []string{"task1"}, viaRule)
}

func TestRuleResultDoesNotFallBackToTaskOverride(t *testing.T) {
	rec, store := newMemoryBacked(t)

	called := false
	rec.SetTaskResultRecorder(func(context.Context, model.ResultRecord) error {
		called = true
		return nil
	})

	rec.HandleDecisionRuleResult(context.Background(), record("rule1"))

	assert.False(t, called)
	docs, err := store.GetAll(context.Background(), storage.CollectionRuleResults)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestFailingOverrideFallsThrough(t *testing.T) {
	rec, store := newMemoryBacked(t)

	rec.SetTaskResultRecorder(func(context.Context, model.ResultRecord) error {
		return errors.New("override down")
	})
	rec.SetDecisionRuleResultRecorder(func(context.Context, model.ResultRecord) error {
		panic("also down")
	})

	require.NotPanics(t, func() {
		rec.HandleTaskResult(context.Background(), record("task1"))
	})

	docs, err := store.GetAll(context.Background(), storage.CollectionTaskResults)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestClearedOverrideRestoresDefaultTier(t *testing.T) {
	rec, store := newMemoryBacked(t)

	rec.SetTaskResultRecorder(func(context.Context, model.ResultRecord) error { return nil })
	rec.SetTaskResultRecorder(nil)

	rec.HandleTaskResult(context.Background(), record("task1"))

	docs, err := store.GetAll(context.Background(), storage.CollectionTaskResults)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestLiteModeNeverContactsStorage(t *testing.T) {
	provider := func() (storage.Store, error) {
		t.Fatal("store provider must not be invoked with persistence disabled")
		return nil, nil
	}
	rec := New(provider, testLogger(), Options{})
	rec.SetPersistenceEnabled(false)

	rec.HandleTaskResult(context.Background(), record("task1"))
	rec.HandleDecisionRuleResult(context.Background(), record("rule1"))

	// Both records landed on the log tier.
	assert.Len(t, rec.Recent(), 2)
}

func TestStorageFailureFallsBackToLogTier(t *testing.T) {
	rec := New(func() (storage.Store, error) {
		return nil, errors.New("no connection")
	}, testLogger(), Options{})

	require.NotPanics(t, func() {
		rec.HandleTaskResult(context.Background(), record("task1"))
	})
	require.Len(t, rec.Recent(), 1)
	assert.Equal(t, "task1", rec.Recent()[0].Name)
}

func TestRecentBufferIsBounded(t *testing.T) {
	rec := New(nil, testLogger(), Options{RecentResults: 2})
	rec.SetPersistenceEnabled(false)

	rec.HandleTaskResult(context.Background(), record("one"))
	rec.HandleTaskResult(context.Background(), record("two"))
	rec.HandleTaskResult(context.Background(), record("three"))

	recent := rec.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Name)
	assert.Equal(t, "three", recent[1].Name)
}
