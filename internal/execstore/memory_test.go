package execstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	t.Cleanup(s.Close)
	return s
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(t)

	require.NoError(t, s.Init(ctx, "exec-1", "operator-1"))
	assert.ErrorIs(t, s.Init(ctx, "exec-1", "operator-1"), ErrAlreadyExists)

	rec, err := s.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, "operator-1", rec.UserID)
	assert.NotZero(t, rec.StartTime)
	assert.Zero(t, rec.EndTime)

	require.NoError(t, s.UpdateProgress(ctx, "exec-1", 2, 5, "UPDATE t SET x=1"))
	rec, err = s.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Progress.CurrentStatement)
	assert.Equal(t, 5, rec.Progress.TotalStatements)

	result := json.RawMessage(`{"success":true}`)
	require.NoError(t, s.SavePartial(ctx, "exec-1", result))
	rec, err = s.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.Status, "SavePartial must not change status")
	assert.JSONEq(t, `{"success":true}`, string(rec.Result))

	require.NoError(t, s.Complete(ctx, "exec-1", result, true))
	rec, err = s.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.NotZero(t, rec.EndTime)

	_, err = s.Get(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTerminalIsSticky(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(t)

	require.NoError(t, s.Init(ctx, "exec-1", ""))
	require.NoError(t, s.MarkCancelled(ctx, "exec-1"))

	// A late complete or fail must not overwrite cancelled.
	require.NoError(t, s.Complete(ctx, "exec-1", json.RawMessage(`{"late":true}`), true))
	require.NoError(t, s.Fail(ctx, "exec-1", "boom"))

	rec, err := s.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, rec.Status)
	assert.JSONEq(t, `{"late":true}`, string(rec.Result), "partial result still recorded")
	assert.Empty(t, rec.Error)

	// Progress updates after a terminal state are no-ops.
	require.NoError(t, s.UpdateProgress(ctx, "exec-1", 9, 9, ""))
	rec, err = s.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Zero(t, rec.Progress.CurrentStatement)
}

func TestMemoryStoreCompleteIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(t)

	require.NoError(t, s.Init(ctx, "exec-1", ""))
	require.NoError(t, s.Complete(ctx, "exec-1", json.RawMessage(`{"n":1}`), false))

	rec, err := s.Get(ctx, "exec-1")
	require.NoError(t, err)
	firstEnd := rec.EndTime

	require.NoError(t, s.Complete(ctx, "exec-1", json.RawMessage(`{"n":2}`), true))
	rec, err = s.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, firstEnd, rec.EndTime)
	assert.JSONEq(t, `{"n":1}`, string(rec.Result))
}

func TestMemoryStoreIsCancelled(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(t)

	require.NoError(t, s.Init(ctx, "exec-1", ""))
	assert.False(t, s.IsCancelled(ctx, "exec-1"))

	require.NoError(t, s.MarkCancelled(ctx, "exec-1"))
	assert.True(t, s.IsCancelled(ctx, "exec-1"))

	// Idempotent.
	require.NoError(t, s.MarkCancelled(ctx, "exec-1"))
	assert.True(t, s.IsCancelled(ctx, "exec-1"))
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(t)

	require.NoError(t, s.Init(ctx, "old", ""))
	require.NoError(t, s.Complete(ctx, "old", nil, true))
	require.NoError(t, s.Init(ctx, "fresh", ""))

	// A record whose EndTime is past the retention window is evicted;
	// running records are kept.
	s.sweep(time.Now().Add(memoryRetention + time.Minute))

	_, err := s.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "fresh")
	assert.NoError(t, err)
}
