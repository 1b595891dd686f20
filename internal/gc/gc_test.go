package gc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swathicitrix/vhdsr/internal/datapath"
	"github.com/swathicitrix/vhdsr/internal/metabase"
	"github.com/swathicitrix/vhdsr/internal/metrics"
	"github.com/swathicitrix/vhdsr/internal/provider"
	"github.com/swathicitrix/vhdsr/internal/provider/localfs"
	"github.com/swathicitrix/vhdsr/internal/srlock"
	"github.com/swathicitrix/vhdsr/internal/vhdtool"
)

type testEnv struct {
	d       *Daemon
	mb      *metabase.Metabase
	tool    *vhdtool.FakeTool
	sp      provider.StorageProvider
	h       provider.Handle
	lockDir string
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

	d := &Daemon{
		MB:        mb,
		Tool:      tool,
		Provider:  sp,
		Handle:    h,
		Refresher: &datapath.NoopRefresher{},
		Metrics:   metrics.NewCollector(),
	}

	return &testEnv{d: d, mb: mb, tool: tool, sp: sp, h: h, lockDir: filepath.Join(dir, ".lock")}
}

// insertVhd inserts a VHD row directly (bypassing the volume engine) so GC
// tests can set up exact topologies the spec's literal scenarios describe.
func insertVhd(t *testing.T, mb *metabase.Metabase, parentID *int64) *metabase.Vhd {
	t.Helper()
	ctx := context.Background()
	vsize := int64(16 * 1024 * 1024)

	var v *metabase.Vhd
	require.NoError(t, mb.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		var err error
		if parentID == nil {
			v, err = wc.InsertNewVhd(ctx, vsize)
		} else {
			v, err = wc.InsertChildVhd(ctx, *parentID, vsize)
		}

		return err
	}))

	return v
}

func insertVdi(t *testing.T, mb *metabase.Metabase, uuid string, vhdID int64) *metabase.Vdi {
	t.Helper()
	ctx := context.Background()

	var vdi *metabase.Vdi
	require.NoError(t, mb.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		var err error
		vdi, err = wc.InsertVdi(ctx, uuid, "", "", vhdID)

		return err
	}))

	return vdi
}

// Scenario 3 (spec.md §8): non-leaf coalesce collapses a linear chain.
//
// Topology: 1(root) <- 2 <- 4; 1 also has child 3 (a held snapshot);
// U1.vhd_id = 4. Deleting the snapshot that held 3 leaves vhd 3 garbage.
// One GC iteration must coalesce vhd 2 into vhd 1, reparent vhd 4 onto
// vhd 1, and destroy vhd 2, yielding final topology 1 <- 4.
func TestScenarioNonLeafCoalesce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	root := insertVhd(t, env.mb, nil)
	v2 := insertVhd(t, env.mb, &root.ID)
	v3 := insertVhd(t, env.mb, &root.ID)
	v4 := insertVhd(t, env.mb, &v2.ID)

	insertVdi(t, env.mb, "u1", v4.ID)
	insertVdi(t, env.mb, "u2", v3.ID)

	for _, id := range []int64{root.ID, v2.ID, v3.ID, v4.ID} {
		require.NoError(t, env.tool.Create(ctx, env.d.vhdPath(id), 16))
	}
	require.NoError(t, env.tool.SetParent(ctx, env.d.vhdPath(v2.ID), env.d.vhdPath(root.ID)))
	require.NoError(t, env.tool.SetParent(ctx, env.d.vhdPath(v3.ID), env.d.vhdPath(root.ID)))
	require.NoError(t, env.tool.SetParent(ctx, env.d.vhdPath(v4.ID), env.d.vhdPath(v2.ID)))

	require.NoError(t, env.mb.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.DeleteVdi(ctx, "u2")
	}))

	// Before the iteration vhd 1 has two children (2 and 3), so vhd 2 is not
	// yet coalesceable. The iteration's garbage sweep runs first and reclaims
	// vhd 3 (no VDI, no children), so the candidate selection that follows
	// in the same iteration finds vhd 2.
	found, err := env.d.iterate(ctx)
	require.NoError(t, err)
	assert.True(t, found, "vhd 2 is coalesceable once the sweep clears vhd 3 in the same pass")

	_, err = env.mb.GetVhdByID(ctx, v3.ID)
	require.Error(t, err, "vhd 3 was reclaimed as garbage")

	_, err = env.mb.GetVhdByID(ctx, v2.ID)
	require.Error(t, err, "vhd 2 was coalesced away")

	v4After, err := env.mb.GetVhdByID(ctx, v4.ID)
	require.NoError(t, err)
	require.NotNil(t, v4After.ParentID)
	assert.Equal(t, root.ID, *v4After.ParentID)

	onDiskParent, err := env.tool.GetParent(ctx, env.d.vhdPath(v4.ID))
	require.NoError(t, err)
	assert.Equal(t, env.d.vhdPath(root.ID), onDiskParent)

	journal, err := env.mb.GetJournalEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, journal)
}

// Scenario 4 (spec.md §8): GC on an already-clean SR sleeps, and gc-exited
// appears shortly after gc-running is removed.
func TestScenarioCleanSRExitsPromptly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.d.StartGC(ctx))
	time.Sleep(50 * time.Millisecond) // let the daemon reach its sleep phase

	start := time.Now()
	require.NoError(t, env.d.StopGC(ctx))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*time.Second, "gc-exited should appear promptly, not after the full sleep window")

	_, err := os.Stat(env.d.exitedPath())
	assert.NoError(t, err)
}

// Scenario 5 (spec.md §8): recovery after a crash mid-reparent.
//
// Pre-state: topology 1 <- 2 <- 4, journal row (4, 2, 1) exists, on-disk
// parent of 4 is still 2, no refresh row. Recovery must re-invoke
// set_parent(4, 1), clear the journal, and leave the refresh table empty.
// A subsequent garbage sweep then reclaims the now-childless, unreferenced
// vhd 2, converging to scenario 3's final topology 1 <- 4.
func TestScenarioRecoveryAfterCrashMidReparent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	root := insertVhd(t, env.mb, nil)
	v2 := insertVhd(t, env.mb, &root.ID)
	v4 := insertVhd(t, env.mb, &v2.ID)
	insertVdi(t, env.mb, "u1", v4.ID)

	for _, id := range []int64{root.ID, v2.ID, v4.ID} {
		require.NoError(t, env.tool.Create(ctx, env.d.vhdPath(id), 16))
	}
	require.NoError(t, env.tool.SetParent(ctx, env.d.vhdPath(v2.ID), env.d.vhdPath(root.ID)))
	require.NoError(t, env.tool.SetParent(ctx, env.d.vhdPath(v4.ID), env.d.vhdPath(v2.ID)))

	require.NoError(t, env.mb.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		_, err := wc.AddJournalEntries(ctx, v2.ID, root.ID, []*metabase.Vhd{v4})

		return err
	}))

	require.NoError(t, env.d.Recover(ctx))

	journal, err := env.mb.GetJournalEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, journal)

	refresh, err := env.mb.GetRefreshEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, refresh)

	onDiskParent, err := env.tool.GetParent(ctx, env.d.vhdPath(v4.ID))
	require.NoError(t, err)
	assert.Equal(t, env.d.vhdPath(root.ID), onDiskParent)

	v4After, err := env.mb.GetVhdByID(ctx, v4.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, *v4After.ParentID)

	require.NoError(t, env.d.sweepGarbage(ctx))
	_, err = env.mb.GetVhdByID(ctx, v2.ID)
	require.Error(t, err, "vhd 2 converges to garbage once recovery completes the reparent")
}

// Two coalesce candidates with disjoint lock sets (different parent/node
// pairs) proceed in parallel: a second handle onto the same SR must still
// be able to take the locks this daemon's selectCandidate did not take.
// a and b sit under separate roots so each is the unique child of its
// parent, giving candidates (root, a) and (rootB, b).
func TestConcurrentDisjointCandidatesProceedInParallel(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	root := insertVhd(t, env.mb, nil)
	a := insertVhd(t, env.mb, &root.ID)
	aChild := insertVhd(t, env.mb, &a.ID)
	rootB := insertVhd(t, env.mb, nil)
	b := insertVhd(t, env.mb, &rootB.ID)
	bChild := insertVhd(t, env.mb, &b.ID)

	for _, id := range []int64{root.ID, a.ID, aChild.ID, rootB.ID, b.ID, bChild.ID} {
		require.NoError(t, env.tool.Create(ctx, env.d.vhdPath(id), 16))
	}

	cand, ok, err := env.d.selectCandidate(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	defer cand.unlockParent()
	defer cand.unlockNode()

	// A second FileLockSet over the same lock directory simulates a
	// concurrent daemon instance (as srlock_test.go's contention tests do).
	otherLocks, err := srlock.NewFileLockSet(env.lockDir)
	require.NoError(t, err)

	var otherParentID, otherNodeID int64
	if cand.node.ID == a.ID {
		otherParentID, otherNodeID = rootB.ID, b.ID
	} else {
		otherParentID, otherNodeID = root.ID, a.ID
	}

	okParent, err := otherLocks.TryLock(srlock.VhdLockName(otherParentID))
	require.NoError(t, err)
	assert.True(t, okParent, "disjoint parent lock must still be acquirable")

	okNode, err := otherLocks.TryLock(srlock.VhdLockName(otherNodeID))
	require.NoError(t, err)
	assert.True(t, okNode, "disjoint node lock must still be acquirable")

	// But the lock selectCandidate is already holding must not be acquirable.
	okContended, err := otherLocks.TryLock(srlock.VhdLockName(cand.node.ID))
	require.NoError(t, err)
	assert.False(t, okContended, "the already-held node lock must not be acquirable by another holder")
}

// Two coalesces that share a parent contend on the parent lock: the holder
// that took it first wins, and the other is skipped on try_lock (not
// blocked). Topology 1 <- a <- child makes a the only candidate, with
// parent lock vhd-1.
func TestConcurrentSharedParentContendsOnTryLock(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	root := insertVhd(t, env.mb, nil)
	a := insertVhd(t, env.mb, &root.ID)
	insertVhd(t, env.mb, &a.ID)

	for _, id := range []int64{root.ID, a.ID} {
		require.NoError(t, env.tool.Create(ctx, env.d.vhdPath(id), 16))
	}

	nodes, err := env.mb.FindNonLeafCoalesceable(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1, "a is a coalesce candidate, so selectCandidate must try its parent lock")

	// A concurrent holder takes root's lock first, simulating another
	// daemon instance already reparenting children of root.
	otherLocks, err := srlock.NewFileLockSet(env.lockDir)
	require.NoError(t, err)
	okRoot, err := otherLocks.TryLock(srlock.VhdLockName(root.ID))
	require.NoError(t, err)
	require.True(t, okRoot)

	cand, ok, err := env.d.selectCandidate(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "the candidate's parent lock is already held elsewhere; selectCandidate must skip, not block")
	assert.Nil(t, cand)
}
