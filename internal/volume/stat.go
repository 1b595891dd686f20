package volume

import "context"

// Stat implements spec.md §4.E "stat": read the VDI and VHD, repairing a
// NULL vsize if found, and refreshes the physical-utilization figure from
// the tool so a caller sees live usage rather than the value cached at
// create/clone time.
func (e *Engine) Stat(ctx context.Context, uuid string) (Descriptor, error) {
	vdi, err := e.MB.GetVdiByUUID(ctx, uuid)
	if err != nil {
		return Descriptor{}, err
	}
	vhd, err := e.MB.GetVhdByID(ctx, vdi.VhdID)
	if err != nil {
		return Descriptor{}, err
	}
	if err := e.repairVSize(ctx, vhd); err != nil {
		return Descriptor{}, err
	}
	if err := e.syncPSize(ctx, vhd); err != nil {
		return Descriptor{}, err
	}

	return e.descriptorFor(vdi, vhd), nil
}

// Ls implements spec.md §4.E "ls": enumerate all VDIs, repairing NULL
// vsizes along the way.
func (e *Engine) Ls(ctx context.Context) ([]Descriptor, error) {
	vdis, err := e.MB.GetAllVdis(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Descriptor, 0, len(vdis))
	for _, vdi := range vdis {
		vhd, err := e.MB.GetVhdByID(ctx, vdi.VhdID)
		if err != nil {
			return nil, err
		}
		if err := e.repairVSize(ctx, vhd); err != nil {
			return nil, err
		}
		out = append(out, e.descriptorFor(vdi, vhd))
	}

	return out, nil
}
