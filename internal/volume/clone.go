package volume

import (
	"context"

	"github.com/swathicitrix/vhdsr/internal/metabase"
	"github.com/swathicitrix/vhdsr/internal/vhdlog"
)

// Clone implements spec.md §4.E "clone(sr, uuid)" [gl], the central
// algorithm: allocate a snapshot VHD, detect the parent-empty optimization
// via the resolved on-disk parent tool.Snapshot reports, and either attach
// it directly to a fresh VDI (empty-leaf case) or perform the extra-snapshot
// rebase (written-leaf case).
//
// The written-leaf rebase produces two children of the frozen original
// leaf: the first allocated (returned here as the clone result) stays
// untouched and becomes the caller-visible snapshot; the second allocated
// becomes the continuation leaf the original VDI keeps writing through, and
// is the one the datapath refresh retargets the active host's tap onto.
// Both assignments satisfy the "original points at one, a new VDI points
// at the other" invariant; this implementation's choice is pinned by the
// end-to-end scenario of a clone of a written leaf, whose literal VHD
// numbering only holds under this assignment.
func (e *Engine) Clone(ctx context.Context, uuid string) (Descriptor, error) {
	unguard, err := e.guardID(uuid)
	if err != nil {
		return Descriptor{}, err
	}
	defer unguard()

	unlock, err := e.lockGlobal(ctx)
	if err != nil {
		return Descriptor{}, err
	}
	defer unlock()

	vdi, err := e.MB.GetVdiByUUID(ctx, uuid)
	if err != nil {
		return Descriptor{}, err
	}
	v, err := e.MB.GetVhdByID(ctx, vdi.VhdID)
	if err != nil {
		return Descriptor{}, err
	}
	if err := e.repairVSize(ctx, v); err != nil {
		return Descriptor{}, err
	}
	vsize := *v.VSize

	// Step 1: allocate the snapshot VHD as a child of V's current parent.
	var snap *metabase.Vhd
	if err := e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		var ierr error
		if v.IsRoot() {
			snap, ierr = wc.InsertNewVhd(ctx, vsize)
		} else {
			snap, ierr = wc.InsertChildVhd(ctx, *v.ParentID, vsize)
		}

		return ierr
	}); err != nil {
		return Descriptor{}, err
	}

	vPath := e.vhdPath(v.ID)
	snapPath := e.vhdPath(snap.ID)

	// Step 2: invoke the tool; the resolved parent tells us whether the
	// parent-empty optimization fired.
	resolvedParent, err := e.Tool.Snapshot(ctx, snapPath, vPath, false)
	if err != nil {
		return Descriptor{}, err
	}
	needExtraSnap := resolvedParent == vPath

	newUUIDVal := newUUID()

	if !needExtraSnap {
		// Step 3 (simple path): a fresh VDI attaches directly to the
		// snapshot; V is untouched.
		var newVdi *metabase.Vdi
		if err := e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
			var ierr error
			newVdi, ierr = wc.InsertVdi(ctx, newUUIDVal, vdi.Name, vdi.Description, snap.ID)

			return ierr
		}); err != nil {
			return Descriptor{}, err
		}
		vhdlog.Infof(ctx, "clone: vdi %s -> %s (empty-leaf, vhd %d)", uuid, newUUIDVal, snap.ID)

		return e.descriptorFor(newVdi, snap), nil
	}

	// Step 3 (rebase path): V is frozen as the new shared parent.
	if err := e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.UpdateVhdParentID(ctx, snap.ID, v.ID)
	}); err != nil {
		return Descriptor{}, err
	}

	psize, err := e.Tool.GetPSize(ctx, vPath)
	if err != nil {
		return Descriptor{}, err
	}

	var cont *metabase.Vhd
	if err := e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		if err := wc.UpdateVhdPSize(ctx, v.ID, &psize); err != nil {
			return err
		}
		var ierr error
		cont, ierr = wc.InsertChildVhd(ctx, v.ID, vsize)

		return ierr
	}); err != nil {
		return Descriptor{}, err
	}

	contPath := e.vhdPath(cont.ID)
	if _, err := e.Tool.Snapshot(ctx, contPath, vPath, false); err != nil {
		return Descriptor{}, err
	}

	// Step 4: retarget the datapath before the original VDI's metabase
	// record moves, so a concurrent reader never observes a VDI pointing
	// at a leaf its active host hasn't been told to open yet.
	if vdi.ActiveOn != nil {
		if err := e.Refresher.Refresh(ctx, *vdi.ActiveOn, vPath, contPath); err != nil {
			return Descriptor{}, err
		}
	}

	var newVdi *metabase.Vdi
	if err := e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		if err := wc.UpdateVdiVhdID(ctx, uuid, cont.ID); err != nil {
			return err
		}
		var ierr error
		newVdi, ierr = wc.InsertVdi(ctx, newUUIDVal, vdi.Name, vdi.Description, snap.ID)

		return ierr
	}); err != nil {
		return Descriptor{}, err
	}

	vhdlog.Infof(ctx, "clone: vdi %s rebased onto vhd %d, new snapshot vdi %s -> vhd %d",
		uuid, cont.ID, newUUIDVal, snap.ID)

	return e.descriptorFor(newVdi, snap), nil
}
