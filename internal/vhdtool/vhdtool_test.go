package vhdtool

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeToolParentEmptyOptimization(t *testing.T) {
	ctx := context.Background()
	f := NewFakeTool()
	require.NoError(t, f.Create(ctx, "/sr/1", 64))

	resolved, err := f.Snapshot(ctx, "/sr/2", "/sr/1", false)
	require.NoError(t, err)
	assert.Equal(t, "", resolved, "empty parent should optimize to grandparent (root, so empty string)")

	f.MarkWritten("/sr/1", 4096)
	resolved, err = f.Snapshot(ctx, "/sr/3", "/sr/1", false)
	require.NoError(t, err)
	assert.Equal(t, "/sr/1", resolved, "non-empty parent should not optimize")
}

func TestExecToolMapsNonZeroExit(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("requires a POSIX shell")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-vhd-util")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho boom on stderr >&2\nexit 3\n"), 0o755))

	tool := New(script)
	err := tool.Create(context.Background(), "/sr/1", 64)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom on stderr")
}
