package volume

import (
	"context"

	"github.com/swathicitrix/vhdsr/internal/metabase"
	"github.com/swathicitrix/vhdsr/internal/vhdlog"
)

// Attach implements spec.md §4.E "attach(sr_uri, uuid, domain)": look up the
// VDI, read its VHD's path from the provider, create a tap, persist tap
// metadata keyed by VHD path. Returns a block-device identifier to the
// caller (here, the tap id itself).
func (e *Engine) Attach(ctx context.Context, uuid, domain string) (string, error) {
	vdi, err := e.MB.GetVdiByUUID(ctx, uuid)
	if err != nil {
		return "", err
	}
	path := e.vhdPath(vdi.VhdID)

	tapID, err := e.Taps.Create(ctx)
	if err != nil {
		return "", err
	}
	if err := e.Meta.Save(path, tapID); err != nil {
		return "", err
	}

	vhdlog.Infof(ctx, "attach: vdi %s domain %s tap %s path %s", uuid, domain, tapID, path)

	return tapID, nil
}

// Activate implements spec.md §4.E "activate(sr_uri, uuid, domain)" [gl]:
// set vdi.active_on to this host and open the tap on the VHD path.
func (e *Engine) Activate(ctx context.Context, uuid, domain string) error {
	unlock, err := e.lockGlobal(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	vdi, err := e.MB.GetVdiByUUID(ctx, uuid)
	if err != nil {
		return err
	}
	path := e.vhdPath(vdi.VhdID)

	tapID, ok, err := e.Meta.Load(path)
	if err != nil {
		return err
	}
	if !ok {
		tapID, err = e.Taps.Create(ctx)
		if err != nil {
			return err
		}
		if err := e.Meta.Save(path, tapID); err != nil {
			return err
		}
	}
	if err := e.Taps.Open(ctx, tapID, path); err != nil {
		return err
	}

	host := e.HostID
	if err := e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.UpdateVdiActiveOn(ctx, uuid, &host)
	}); err != nil {
		return err
	}

	vhdlog.Infof(ctx, "activate: vdi %s domain %s on %s", uuid, domain, host)

	return nil
}

// Deactivate implements spec.md §4.E "deactivate" [gl]: clear
// vdi.active_on, close the tap.
func (e *Engine) Deactivate(ctx context.Context, uuid string) error {
	unlock, err := e.lockGlobal(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	vdi, err := e.MB.GetVdiByUUID(ctx, uuid)
	if err != nil {
		return err
	}
	path := e.vhdPath(vdi.VhdID)

	tapID, ok, err := e.Meta.Load(path)
	if err != nil {
		return err
	}
	if ok {
		if err := e.Taps.Close(ctx, tapID); err != nil {
			return err
		}
	}

	if err := e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.UpdateVdiActiveOn(ctx, uuid, nil)
	}); err != nil {
		return err
	}

	vhdlog.Infof(ctx, "deactivate: vdi %s", uuid)

	return nil
}

// Detach implements spec.md §4.E "detach": destroy the tap, forget its
// persisted metadata.
func (e *Engine) Detach(ctx context.Context, uuid string) error {
	vdi, err := e.MB.GetVdiByUUID(ctx, uuid)
	if err != nil {
		return err
	}
	path := e.vhdPath(vdi.VhdID)

	tapID, ok, err := e.Meta.Load(path)
	if err != nil {
		return err
	}
	if ok {
		if err := e.Taps.Destroy(ctx, tapID); err != nil {
			return err
		}
	}
	if err := e.Meta.Forget(path); err != nil {
		return err
	}

	vhdlog.Infof(ctx, "detach: vdi %s", uuid)

	return nil
}
