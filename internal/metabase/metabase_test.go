package metabase

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swathicitrix/vhdsr/internal/vhderr"
)

func newTestMetabase(t *testing.T) *Metabase {
	t.Helper()
	dir := t.TempDir()
	mb, err := Open(filepath.Join(dir, "sqlite3-metadata.db"))
	require.NoError(t, err)
	require.NoError(t, mb.Create(context.Background()))
	t.Cleanup(func() { _ = mb.Close() })

	return mb
}

func TestInsertNewVhdIsRoot(t *testing.T) {
	mb := newTestMetabase(t)
	ctx := context.Background()

	var root *Vhd
	err := mb.WithWriteContext(ctx, func(wc *WriteContext) error {
		v, err := wc.InsertNewVhd(ctx, 64*1024*1024)
		root = v

		return err
	})
	require.NoError(t, err)
	assert.True(t, root.IsRoot())
	assert.EqualValues(t, 64*1024*1024, *root.VSize)

	got, err := mb.GetVhdByID(ctx, root.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ParentID)
}

func TestInsertChildVhdRequiresParent(t *testing.T) {
	mb := newTestMetabase(t)
	ctx := context.Background()

	err := mb.WithWriteContext(ctx, func(wc *WriteContext) error {
		_, err := wc.InsertChildVhd(ctx, 999, 1024)
		return err
	})
	assert.Error(t, err)
}

func TestVdiUniqueUUIDConflict(t *testing.T) {
	mb := newTestMetabase(t)
	ctx := context.Background()

	var vhdID int64
	err := mb.WithWriteContext(ctx, func(wc *WriteContext) error {
		v, err := wc.InsertNewVhd(ctx, 1024)
		if err != nil {
			return err
		}
		vhdID = v.ID
		_, err = wc.InsertVdi(ctx, "u1", "a", "", vhdID)

		return err
	})
	require.NoError(t, err)

	err = mb.WithWriteContext(ctx, func(wc *WriteContext) error {
		v2, err := wc.InsertNewVhd(ctx, 1024)
		if err != nil {
			return err
		}
		_, err = wc.InsertVdi(ctx, "u1", "b", "", v2.ID)

		return err
	})
	require.Error(t, err)
	var conflict *vhderr.ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestDeleteVdiNotFound(t *testing.T) {
	mb := newTestMetabase(t)
	ctx := context.Background()

	err := mb.WithWriteContext(ctx, func(wc *WriteContext) error {
		return wc.DeleteVdi(ctx, "nope")
	})
	var nf *vhderr.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestFindNonLeafCoalesceable(t *testing.T) {
	mb := newTestMetabase(t)
	ctx := context.Background()

	// topology: 1(root) <- 2 <- 4 ; also 1 <- 3 (sibling of 2)
	var n1, n2, n3, n4 int64
	err := mb.WithWriteContext(ctx, func(wc *WriteContext) error {
		v1, err := wc.InsertNewVhd(ctx, 1024)
		if err != nil {
			return err
		}
		n1 = v1.ID
		v2, err := wc.InsertChildVhd(ctx, n1, 1024)
		if err != nil {
			return err
		}
		n2 = v2.ID
		v4, err := wc.InsertChildVhd(ctx, n2, 1024)
		if err != nil {
			return err
		}
		n4 = v4.ID
		v3, err := wc.InsertChildVhd(ctx, n1, 1024) // sibling "3"
		if err != nil {
			return err
		}
		n3 = v3.ID

		return nil
	})
	require.NoError(t, err)
	_ = n4

	// While sibling 3 exists, 2 is not the unique child of 1.
	candidates, err := mb.FindNonLeafCoalesceable(ctx)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	// With 3 gone, 2 is the unique child of 1 and has child 4.
	err = mb.WithWriteContext(ctx, func(wc *WriteContext) error {
		return wc.DeleteVhd(ctx, n3)
	})
	require.NoError(t, err)

	candidates, err = mb.FindNonLeafCoalesceable(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, n2, candidates[0].ID)
}

func TestGetGarbageVhds(t *testing.T) {
	mb := newTestMetabase(t)
	ctx := context.Background()

	var orphanID int64
	err := mb.WithWriteContext(ctx, func(wc *WriteContext) error {
		v, err := wc.InsertNewVhd(ctx, 1024)
		orphanID = v.ID

		return err
	})
	require.NoError(t, err)

	garbage, err := mb.GetGarbageVhds(ctx)
	require.NoError(t, err)
	require.Len(t, garbage, 1)
	assert.Equal(t, orphanID, garbage[0].ID)
}

func TestJournalRoundTrip(t *testing.T) {
	mb := newTestMetabase(t)
	ctx := context.Background()

	var n1, n2, n4 int64
	err := mb.WithWriteContext(ctx, func(wc *WriteContext) error {
		v1, err := wc.InsertNewVhd(ctx, 1024)
		if err != nil {
			return err
		}
		n1 = v1.ID
		v2, err := wc.InsertChildVhd(ctx, n1, 1024)
		if err != nil {
			return err
		}
		n2 = v2.ID
		v4, err := wc.InsertChildVhd(ctx, n2, 1024)
		n4 = v4.ID

		return err
	})
	require.NoError(t, err)

	children, err := mb.GetChildren(ctx, n2)
	require.NoError(t, err)
	require.Len(t, children, 1)

	err = mb.WithWriteContext(ctx, func(wc *WriteContext) error {
		_, err := wc.AddJournalEntries(ctx, n2, n1, children)
		return err
	})
	require.NoError(t, err)

	entries, err := mb.GetJournalEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, n4, entries[0].ID)
	assert.Equal(t, n1, entries[0].NewParentID)

	err = mb.WithWriteContext(ctx, func(wc *WriteContext) error {
		return wc.RemoveJournalEntry(ctx, n4)
	})
	require.NoError(t, err)

	entries, err = mb.GetJournalEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGetLeavesUnder(t *testing.T) {
	mb := newTestMetabase(t)
	ctx := context.Background()

	var n1, n2 int64
	err := mb.WithWriteContext(ctx, func(wc *WriteContext) error {
		v1, err := wc.InsertNewVhd(ctx, 1024)
		if err != nil {
			return err
		}
		n1 = v1.ID
		v2, err := wc.InsertChildVhd(ctx, n1, 1024)
		n2 = v2.ID

		return err
	})
	require.NoError(t, err)

	leaves, err := mb.GetLeavesUnder(ctx, n1)
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.Equal(t, n2, leaves[0].ID)
}
