package gc

import (
	"context"

	"github.com/swathicitrix/vhdsr/internal/metabase"
	"github.com/swathicitrix/vhdsr/internal/srlock"
	"github.com/swathicitrix/vhdsr/internal/vhdlog"
)

// reparentAndDelete implements spec.md §4.F steps 4 and 5: re-acquire the
// global lock, reparent every grandchild of cand.node through the
// journal/refresh tables, then delete cand.node itself.
func (d *Daemon) reparentAndDelete(ctx context.Context, cand *candidate) error {
	if err := d.Provider.Lock(ctx, d.Handle, srlock.GlobalLockName); err != nil {
		return err
	}
	defer func() { _ = d.Provider.Unlock(d.Handle, srlock.GlobalLockName) }()

	children, err := d.MB.GetChildren(ctx, cand.node.ID)
	if err != nil {
		return err
	}

	var journal []*metabase.JournalEntry
	if err := d.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		var ierr error
		journal, ierr = wc.AddJournalEntries(ctx, cand.node.ID, cand.parent.ID, children)

		return ierr
	}); err != nil {
		return err
	}

	for _, j := range journal {
		if err := d.reparentChild(ctx, j); err != nil {
			return err
		}
	}

	if err := d.Provider.VolumeDestroy(ctx, d.Handle, vhdName(cand.node.ID)); err != nil {
		return err
	}
	if err := d.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.DeleteVhd(ctx, cand.node.ID)
	}); err != nil {
		return err
	}

	vhdlog.Infof(ctx, "gc: coalesced vhd %d into parent %d", cand.node.ID, cand.parent.ID)

	return nil
}

// reparentChild implements spec.md §4.F step 4a-c for one journaled child.
func (d *Daemon) reparentChild(ctx context.Context, j *metabase.JournalEntry) error {
	leaves, err := d.MB.GetLeavesUnder(ctx, j.ID)
	if err != nil {
		return err
	}
	var refresh []*metabase.RefreshEntry
	if err := d.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		var ierr error
		refresh, ierr = wc.AddRefreshEntries(ctx, j.ID, leaves)

		return ierr
	}); err != nil {
		return err
	}

	if err := d.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.UpdateVhdParentID(ctx, j.ID, j.NewParentID)
	}); err != nil {
		return err
	}
	if err := d.Tool.SetParent(ctx, d.vhdPath(j.ID), d.vhdPath(j.NewParentID)); err != nil {
		return err
	}
	if err := d.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.RemoveJournalEntry(ctx, j.ID)
	}); err != nil {
		return err
	}

	for _, r := range refresh {
		if err := d.refreshLeaf(ctx, r.LeafID); err != nil {
			return err
		}
		if err := d.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
			return wc.RemoveRefreshEntry(ctx, r.LeafID)
		}); err != nil {
			return err
		}
	}

	return nil
}

// refreshLeaf issues the datapath refresh for a leaf whose ancestor chain
// changed identity, if that leaf is currently presented to a guest.
func (d *Daemon) refreshLeaf(ctx context.Context, leafID int64) error {
	vdi, err := d.MB.GetVdiForVhd(ctx, leafID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}

		return err
	}
	if vdi.ActiveOn == nil {
		return nil
	}
	path := d.vhdPath(leafID)

	return d.Refresher.Refresh(ctx, *vdi.ActiveOn, path, path)
}
