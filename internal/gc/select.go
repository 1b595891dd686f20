package gc

import (
	"context"

	"github.com/swathicitrix/vhdsr/internal/metabase"
	"github.com/swathicitrix/vhdsr/internal/srlock"
	"github.com/swathicitrix/vhdsr/internal/vhdlog"
)

// candidate is a selected non-leaf coalesce target together with the two
// locks held for it, per spec.md §4.F step 2.
type candidate struct {
	node   *metabase.Vhd
	parent *metabase.Vhd

	unlockParent func()
	unlockNode   func()
}

// selectCandidate implements spec.md §4.F step 2: under the global lock,
// call find_non_leaf_coalesceable and try-lock the parent then the node for
// the first candidate both locks are available for, releasing the parent
// lock and skipping ahead on contention.
func (d *Daemon) selectCandidate(ctx context.Context) (*candidate, bool, error) {
	if err := d.Provider.Lock(ctx, d.Handle, srlock.GlobalLockName); err != nil {
		return nil, false, err
	}
	defer func() { _ = d.Provider.Unlock(d.Handle, srlock.GlobalLockName) }()

	nodes, err := d.MB.FindNonLeafCoalesceable(ctx)
	if err != nil {
		return nil, false, err
	}

	for _, n := range nodes {
		parentLock := srlock.VhdLockName(*n.ParentID)
		nodeLock := srlock.VhdLockName(n.ID)

		okParent, err := d.Provider.TryLock(d.Handle, parentLock)
		if err != nil {
			return nil, false, err
		}
		if !okParent {
			d.Metrics.IncLockContentionSkip()
			vhdlog.Usefulf(ctx, "gc: skip vhd %d, parent lock held", n.ID)

			continue
		}

		okNode, err := d.Provider.TryLock(d.Handle, nodeLock)
		if err != nil {
			_ = d.Provider.Unlock(d.Handle, parentLock)

			return nil, false, err
		}
		if !okNode {
			_ = d.Provider.Unlock(d.Handle, parentLock)
			d.Metrics.IncLockContentionSkip()
			vhdlog.Usefulf(ctx, "gc: skip vhd %d, node lock held", n.ID)

			continue
		}

		parent, err := d.MB.GetVhdByID(ctx, *n.ParentID)
		if err != nil {
			_ = d.Provider.Unlock(d.Handle, nodeLock)
			_ = d.Provider.Unlock(d.Handle, parentLock)

			return nil, false, err
		}

		return &candidate{
			node:         n,
			parent:       parent,
			unlockParent: func() { _ = d.Provider.Unlock(d.Handle, parentLock) },
			unlockNode:   func() { _ = d.Provider.Unlock(d.Handle, nodeLock) },
		}, true, nil
	}

	return nil, false, nil
}
