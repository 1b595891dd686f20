package srlock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLockContention(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileLockSet(dir)
	require.NoError(t, err)
	b, err := NewFileLockSet(dir)
	require.NoError(t, err)

	ok, err := a.TryLock(GlobalLockName)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(GlobalLockName)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire a held lock")

	require.NoError(t, a.Unlock(GlobalLockName))

	ok, err = b.TryLock(GlobalLockName)
	require.NoError(t, err)
	assert.True(t, ok, "lock must be acquirable after release")
}

func TestLockBlocksUntilReleased(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileLockSet(dir)
	require.NoError(t, err)
	b, err := NewFileLockSet(dir)
	require.NoError(t, err)

	require.NoError(t, a.Lock(context.Background(), VhdLockName(1)))

	done := make(chan struct{})
	go func() {
		_ = b.Lock(context.Background(), VhdLockName(1))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Lock returned before the first Unlock")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, a.Unlock(VhdLockName(1)))
	<-done
}

func TestOperationGuard(t *testing.T) {
	g := NewOperationGuard()
	assert.True(t, g.TryAcquire("vdi-1"))
	assert.False(t, g.TryAcquire("vdi-1"), "second acquire of the same id must fail")
	g.Release("vdi-1")
	assert.True(t, g.TryAcquire("vdi-1"), "id must be acquirable after release")
}
