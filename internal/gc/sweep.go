package gc

import (
	"context"

	"github.com/swathicitrix/vhdsr/internal/metabase"
	"github.com/swathicitrix/vhdsr/internal/srlock"
	"github.com/swathicitrix/vhdsr/internal/vhdlog"
)

// sweepGarbage implements spec.md §4.F step 1: under the global lock, call
// get_garbage_vhds and destroy each on-disk file and row in write_context.
func (d *Daemon) sweepGarbage(ctx context.Context) error {
	if err := d.Provider.Lock(ctx, d.Handle, srlock.GlobalLockName); err != nil {
		return err
	}
	defer func() { _ = d.Provider.Unlock(d.Handle, srlock.GlobalLockName) }()

	garbage, err := d.MB.GetGarbageVhds(ctx)
	if err != nil {
		return err
	}

	for _, g := range garbage {
		if err := d.Provider.VolumeDestroy(ctx, d.Handle, vhdName(g.ID)); err != nil {
			return err
		}
		if err := d.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
			return wc.DeleteVhd(ctx, g.ID)
		}); err != nil {
			return err
		}
		d.Metrics.IncGarbageReclaimed()
		vhdlog.Usefulf(ctx, "gc: reclaimed garbage vhd %d", g.ID)
	}

	return nil
}
