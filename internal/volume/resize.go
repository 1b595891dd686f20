package volume

import (
	"context"

	"github.com/swathicitrix/vhdsr/internal/metabase"
	"github.com/swathicitrix/vhdsr/internal/vhdlog"
)

// Resize implements spec.md §4.E "resize" [no gl]: round to MiB, two write
// transactions — (1) clear vhd.vsize (makes a crash detectable), (2)
// volume_resize, then tool.resize, then write the new vsize.
func (e *Engine) Resize(ctx context.Context, uuid string, newSizeBytes int64) error {
	sizeMiB, vsizeBytes := RoundUpMiB(newSizeBytes)

	vdi, err := e.MB.GetVdiByUUID(ctx, uuid)
	if err != nil {
		return err
	}
	vhdID := vdi.VhdID

	if err := e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.UpdateVhdVSize(ctx, vhdID, nil)
	}); err != nil {
		return err
	}

	path := e.vhdPath(vhdID)
	if err := e.Provider.VolumeResize(ctx, e.Handle, vhdName(vhdID), vsizeBytes); err != nil {
		return err
	}
	if err := e.Tool.Resize(ctx, path, sizeMiB); err != nil {
		return err
	}

	if err := e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.UpdateVhdVSize(ctx, vhdID, &vsizeBytes)
	}); err != nil {
		return err
	}

	vhdlog.Infof(ctx, "resize: vdi %s vhd %d new size %d bytes", uuid, vhdID, vsizeBytes)

	return nil
}

// repairVSize re-queries vsize from the tool when a reader observes a NULL
// value (spec.md §4.B "A NULL vsize observed on read indicates a crash
// between 'clear vsize' and 'write new vsize'; the reader MUST recover by
// querying get_vsize(path) and writing back").
func (e *Engine) repairVSize(ctx context.Context, vhd *metabase.Vhd) error {
	if vhd.VSize != nil {
		return nil
	}
	path := e.vhdPath(vhd.ID)
	size, err := e.Tool.GetVSize(ctx, path)
	if err != nil {
		return err
	}
	if err := e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.UpdateVhdVSize(ctx, vhd.ID, &size)
	}); err != nil {
		return err
	}
	vhd.VSize = &size
	vhdlog.Warningf(ctx, "repaired NULL vsize on vhd %d: %d bytes", vhd.ID, size)

	return nil
}

// syncPSize re-queries physical utilization from the tool and writes it
// back, so stat reflects the guest's current on-disk footprint rather than
// whatever was last recorded at create or clone time.
func (e *Engine) syncPSize(ctx context.Context, vhd *metabase.Vhd) error {
	path := e.vhdPath(vhd.ID)
	psize, err := e.Tool.GetPSize(ctx, path)
	if err != nil {
		return err
	}
	if vhd.PSize != nil && *vhd.PSize == psize {
		return nil
	}
	if err := e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.UpdateVhdPSize(ctx, vhd.ID, &psize)
	}); err != nil {
		return err
	}
	vhd.PSize = &psize

	return nil
}
