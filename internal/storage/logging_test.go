package storage

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/automation-engine/internal/domain/model"
)

type erroringStore struct {
	err error
}

func (s *erroringStore) EnsureCollection(context.Context, string) error           { return s.err }
func (s *erroringStore) EnsureIndex(context.Context, string, string, bool) error  { return s.err }
func (s *erroringStore) GetAll(context.Context, string) ([]model.Document, error) { return nil, s.err }
func (s *erroringStore) Add(context.Context, string, model.Document) (model.Document, error) {
	return nil, s.err
}
func (s *erroringStore) UpdateByID(context.Context, string, string, model.Document) (model.Document, error) {
	return nil, s.err
}
func (s *erroringStore) RemoveByID(context.Context, string, string) error { return s.err }
func (s *erroringStore) Clear(context.Context, string) error              { return s.err }
func (s *erroringStore) Find(context.Context, string, model.Document) ([]model.Document, error) {
	return nil, s.err
}
func (s *erroringStore) ChangeFeed(context.Context, string, model.ChangeKind) (Feed, error) {
	return nil, s.err
}

func TestLoggingStorePassesErrorsThroughAfterLogging(t *testing.T) {
	storeErr := errors.New("connection refused")
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	s := WithLogging(&erroringStore{err: storeErr}, logger)

	_, err := s.GetAll(context.Background(), CollectionUsers)
	require.ErrorIs(t, err, storeErr)

	assert.Contains(t, buf.String(), "storage operation failed")
	assert.Contains(t, buf.String(), "get_all")
	assert.Contains(t, buf.String(), CollectionUsers)
}

func TestLoggingStoreIsSilentOnSuccess(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	s := WithLogging(&erroringStore{}, logger)

	require.NoError(t, s.Clear(context.Background(), CollectionUsers))
	assert.Empty(t, buf.String())
}
