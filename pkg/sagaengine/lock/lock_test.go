package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sagaengine/pkg/sagaengine/store"
)

func TestAcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	svc := New(store.NewMemoryStore())

	l, err := svc.Acquire(ctx, "exec:1:lock", "execute-step")
	require.NoError(t, err)
	require.NotNil(t, l)

	locked, err := svc.IsLocked(ctx, "exec:1:lock")
	require.NoError(t, err)
	require.True(t, locked)

	require.NoError(t, svc.Release(ctx, l))

	locked, err = svc.IsLocked(ctx, "exec:1:lock")
	require.NoError(t, err)
	require.False(t, locked)
}

func TestAcquireFailsWhileHeld(t *testing.T) {
	ctx := context.Background()
	svc := New(store.NewMemoryStore())

	first, err := svc.Acquire(ctx, "exec:1:lock", "execute-step")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := svc.Acquire(ctx, "exec:1:lock", "execute-step")
	require.NoError(t, err)
	require.Nil(t, second)
}

func TestReleaseIgnoresOwnerMismatch(t *testing.T) {
	ctx := context.Background()
	svc := New(store.NewMemoryStore())

	first, err := svc.Acquire(ctx, "exec:1:lock", "execute-step")
	require.NoError(t, err)

	impostor := *first
	impostor.Owner = "not-the-owner"
	require.NoError(t, svc.Release(ctx, &impostor))

	locked, err := svc.IsLocked(ctx, "exec:1:lock")
	require.NoError(t, err)
	require.True(t, locked, "lock must still be held after mismatched release")
}

func TestStaleLockRecovery(t *testing.T) {
	ctx := context.Background()
	svc := New(store.NewMemoryStore(), WithTTL(10*time.Millisecond), WithGrace(5*time.Millisecond))

	first, err := svc.Acquire(ctx, "exec:1:lock", "execute-step")
	require.NoError(t, err)
	require.NotNil(t, first)

	time.Sleep(30 * time.Millisecond)

	second, err := svc.Acquire(ctx, "exec:1:lock", "execute-step")
	require.NoError(t, err)
	require.NotNil(t, second, "expected stale recovery to grant the lock")
	require.NotEqual(t, first.Owner, second.Owner)
}

func TestMarkStepAttemptedOnce(t *testing.T) {
	ctx := context.Background()
	svc := New(store.NewMemoryStore())

	require.NoError(t, svc.MarkStepAttempted(ctx, "exec-1", 0))

	err := svc.MarkStepAttempted(ctx, "exec-1", 0)
	require.ErrorIs(t, err, ErrAlreadyAttempted)

	attempted, err := svc.StepAttempted(ctx, "exec-1", 0)
	require.NoError(t, err)
	require.True(t, attempted)

	attempted, err = svc.StepAttempted(ctx, "exec-1", 1)
	require.NoError(t, err)
	require.False(t, attempted)
}
