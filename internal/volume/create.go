package volume

import (
	"context"

	"github.com/swathicitrix/vhdsr/internal/metabase"
	"github.com/swathicitrix/vhdsr/internal/vhdlog"
)

// Create implements spec.md §4.E "create": round size to MiB, insert a new
// root VHD, insert a VDI pointing at it, create the VHD file, invoke
// tool.create. Returns the VDI descriptor including virtual size,
// physical utilization (queried after create), and the datapath URI.
func (e *Engine) Create(ctx context.Context, name, description string, sizeBytes int64) (Descriptor, error) {
	sizeMiB, vsizeBytes := RoundUpMiB(sizeBytes)

	var vhd *metabase.Vhd
	var vdi *metabase.Vdi
	uuid := newUUID()

	err := e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		v, err := wc.InsertNewVhd(ctx, vsizeBytes)
		if err != nil {
			return err
		}
		vhd = v

		d, err := wc.InsertVdi(ctx, uuid, name, description, vhd.ID)
		if err != nil {
			return err
		}
		vdi = d

		return nil
	})
	if err != nil {
		return Descriptor{}, err
	}

	path, err := e.Provider.VolumeCreate(ctx, e.Handle, vhdName(vhd.ID), vsizeBytes)
	if err != nil {
		return Descriptor{}, err
	}
	if err := e.Tool.Create(ctx, path, sizeMiB); err != nil {
		return Descriptor{}, err
	}

	psize, err := e.Tool.GetPSize(ctx, path)
	if err != nil {
		return Descriptor{}, err
	}
	if err := e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.UpdateVhdPSize(ctx, vhd.ID, &psize)
	}); err != nil {
		return Descriptor{}, err
	}
	vhd.PSize = &psize

	vhdlog.Infof(ctx, "create: vdi %s vhd %d size %d bytes", uuid, vhd.ID, vsizeBytes)

	return e.descriptorFor(vdi, vhd), nil
}
