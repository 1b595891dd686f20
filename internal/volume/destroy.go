package volume

import (
	"context"

	"github.com/swathicitrix/vhdsr/internal/metabase"
	"github.com/swathicitrix/vhdsr/internal/vhdlog"
)

// Destroy implements spec.md §4.E "destroy" [gl]: delete the VDI row, then
// destroy the VHD file and delete its row, in two transactions so the
// on-disk removal stays outside the metadata transaction — a crash between
// them leaves the VHD as garbage for the next GC sweep to reclaim.
func (e *Engine) Destroy(ctx context.Context, uuid string) error {
	unguard, err := e.guardID(uuid)
	if err != nil {
		return err
	}
	defer unguard()

	unlock, err := e.lockGlobal(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	vdi, err := e.MB.GetVdiByUUID(ctx, uuid)
	if err != nil {
		return err
	}
	vhdID := vdi.VhdID

	if err := e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.DeleteVdi(ctx, uuid)
	}); err != nil {
		return err
	}

	path := e.vhdPath(vhdID)
	if err := e.Provider.VolumeDestroy(ctx, e.Handle, vhdName(vhdID)); err != nil {
		return err
	}
	if err := e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.DeleteVhd(ctx, vhdID)
	}); err != nil {
		return err
	}

	vhdlog.Infof(ctx, "destroy: vdi %s vhd %d path %s", uuid, vhdID, path)

	return nil
}
