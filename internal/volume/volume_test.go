package volume

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swathicitrix/vhdsr/internal/datapath"
	"github.com/swathicitrix/vhdsr/internal/metabase"
	"github.com/swathicitrix/vhdsr/internal/provider"
	"github.com/swathicitrix/vhdsr/internal/provider/localfs"
	"github.com/swathicitrix/vhdsr/internal/srlock"
	"github.com/swathicitrix/vhdsr/internal/vhderr"
	"github.com/swathicitrix/vhdsr/internal/vhdtool"
)

type testEnv struct {
	engine   *Engine
	mb       *metabase.Metabase
	tool     *vhdtool.FakeTool
	refresh  *datapath.NoopRefresher
	sp       provider.StorageProvider
	h        provider.Handle
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	dir := t.TempDir()
	mb, err := metabase.Open(dir + "/meta.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = mb.Close() })
	require.NoError(t, mb.Create(ctx))

	sp := localfs.New()
	h, err := sp.StartOperations(ctx, dir, provider.ModeWrite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sp.StopOperations(ctx, h) })

	tool := vhdtool.NewFakeTool()
	refresh := &datapath.NoopRefresher{}

	e := &Engine{
		MB:        mb,
		Tool:      tool,
		Provider:  sp,
		Handle:    h,
		Refresher: refresh,
		Taps:      datapath.NewFakeTap(),
		Meta:      &datapath.MetaStore{RunDir: dir + "/run"},
		Guard:     srlock.NewOperationGuard(),
		HostID:    "host1",
	}

	return &testEnv{engine: e, mb: mb, tool: tool, refresh: refresh, sp: sp, h: h}
}

// Scenario 1 (spec.md §8): simple clone of an empty leaf.
func TestScenarioSimpleCloneOfEmptyLeaf(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	u1, err := env.engine.Create(ctx, "disk1", "", 64*1024*1024)
	require.NoError(t, err)

	vdi1, err := env.mb.GetVdiByUUID(ctx, u1.UUID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, vdi1.VhdID)

	u2, err := env.engine.Clone(ctx, u1.UUID)
	require.NoError(t, err)

	vdi2, err := env.mb.GetVdiByUUID(ctx, u2.UUID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, vdi2.VhdID)

	vhd2, err := env.mb.GetVhdByID(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, vhd2.ParentID)

	vdi1Again, err := env.mb.GetVdiByUUID(ctx, u1.UUID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, vdi1Again.VhdID, "U1 unchanged by an empty-leaf clone")

	all, err := env.engine.Ls(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Empty(t, env.refresh.Calls, "no refresh issued for the empty-leaf path")
}

// Scenario 2 (spec.md §8): clone of a written leaf.
func TestScenarioCloneOfWrittenLeaf(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	u1, err := env.engine.Create(ctx, "disk1", "", 100*1024*1024)
	require.NoError(t, err)

	path1 := env.sp.VolumePath(env.h, "1")
	env.tool.MarkWritten(path1, 12*1024*1024)

	require.NoError(t, env.engine.Activate(ctx, u1.UUID, "0"))

	u2, err := env.engine.Clone(ctx, u1.UUID)
	require.NoError(t, err)

	vhd2, err := env.mb.GetVhdByID(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, vhd2.ParentID)
	assert.EqualValues(t, 1, *vhd2.ParentID)

	vhd3, err := env.mb.GetVhdByID(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, vhd3.ParentID)
	assert.EqualValues(t, 1, *vhd3.ParentID)

	vdi1, err := env.mb.GetVdiByUUID(ctx, u1.UUID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, vdi1.VhdID)

	vdi2, err := env.mb.GetVdiByUUID(ctx, u2.UUID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, vdi2.VhdID)

	require.Len(t, env.refresh.Calls, 1)
	assert.Equal(t, "host1", env.refresh.Calls[0].Host)
	assert.Equal(t, env.sp.VolumePath(env.h, "1"), env.refresh.Calls[0].OldPath)
	assert.Equal(t, env.sp.VolumePath(env.h, "3"), env.refresh.Calls[0].NewPath)
}

// Scenario 6 (spec.md §8): non-persistent epoch.
func TestScenarioNonPersistentEpoch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	u1, err := env.engine.Create(ctx, "disk1", "", 32*1024*1024)
	require.NoError(t, err)

	require.NoError(t, env.engine.Set(ctx, u1.UUID))

	uri := datapath.URI(env.sp.URIPrefix(env.h), u1.UUID)
	require.NoError(t, env.engine.EpochOpen(ctx, uri, false))

	path1 := env.sp.VolumePath(env.h, "1")
	env.tool.MarkWritten(path1, 8*1024*1024)

	require.NoError(t, env.engine.EpochClose(ctx, uri))

	empty, err := env.tool.IsEmpty(ctx, path1)
	require.NoError(t, err)
	assert.True(t, empty, "tool.reset zeroes the leaf on epoch_close")

	vdi, err := env.mb.GetVdiByUUID(ctx, u1.UUID)
	require.NoError(t, err)
	assert.False(t, vdi.NonPersistent)

	st, err := env.engine.Stat(ctx, u1.UUID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, st.PSizeBytes, "psize decreased after reset")
}

func TestCreateStatRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	d, err := env.engine.Create(ctx, "disk1", "a test disk", 10*1024*1024)
	require.NoError(t, err)

	st, err := env.engine.Stat(ctx, d.UUID)
	require.NoError(t, err)
	assert.Equal(t, d.UUID, st.UUID)
	assert.Equal(t, d.Name, st.Name)
	assert.Equal(t, d.Description, st.Description)
	assert.EqualValues(t, 10*1024*1024, st.VSizeBytes)
}

func TestResizeRoundsUpToMiB(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	d, err := env.engine.Create(ctx, "disk1", "", 1024*1024)
	require.NoError(t, err)

	require.NoError(t, env.engine.Resize(ctx, d.UUID, 5*1024*1024+1))

	st, err := env.engine.Stat(ctx, d.UUID)
	require.NoError(t, err)
	assert.EqualValues(t, 6*1024*1024, st.VSizeBytes)
}

func TestDestroyTwiceIsNotFound(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	d, err := env.engine.Create(ctx, "disk1", "", 1024*1024)
	require.NoError(t, err)

	require.NoError(t, env.engine.Destroy(ctx, d.UUID))
	err = env.engine.Destroy(ctx, d.UUID)
	require.Error(t, err)
	var nf *vhderr.NotFoundError
	assert.ErrorAs(t, err, &nf)

	garbage, err := env.mb.GetGarbageVhds(ctx)
	require.NoError(t, err)
	assert.Empty(t, garbage, "a clean destroy leaves no garbage for GC to find")
}

func TestAttachActivateDeactivateDetach(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	d, err := env.engine.Create(ctx, "disk1", "", 1024*1024)
	require.NoError(t, err)

	tapID, err := env.engine.Attach(ctx, d.UUID, "0")
	require.NoError(t, err)
	assert.NotEmpty(t, tapID)

	require.NoError(t, env.engine.Activate(ctx, d.UUID, "0"))
	vdi, err := env.mb.GetVdiByUUID(ctx, d.UUID)
	require.NoError(t, err)
	require.NotNil(t, vdi.ActiveOn)
	assert.Equal(t, "host1", *vdi.ActiveOn)

	require.NoError(t, env.engine.Deactivate(ctx, d.UUID))
	vdi, err = env.mb.GetVdiByUUID(ctx, d.UUID)
	require.NoError(t, err)
	assert.Nil(t, vdi.ActiveOn)

	require.NoError(t, env.engine.Detach(ctx, d.UUID))
}
