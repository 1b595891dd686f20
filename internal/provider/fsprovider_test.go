package provider_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swathicitrix/vhdsr/internal/provider/localfs"
)

func TestLocalFSVolumeLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := localfs.New()

	h, err := p.StartOperations(ctx, dir, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.StopOperations(ctx, h) })

	path, err := p.VolumeCreate(ctx, h, "1", 64*1024*1024)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "1"), path)

	size, err := p.VolumePhysSize(ctx, h, "1")
	require.NoError(t, err)
	assert.EqualValues(t, 64*1024*1024, size)

	ok, err := p.TryLock(h, "gl")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, p.Unlock(h, "gl"))

	require.NoError(t, p.VolumeDestroy(ctx, h, "1"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
