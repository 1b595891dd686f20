package volume

import (
	"context"

	"github.com/swathicitrix/vhdsr/internal/datapath"
	"github.com/swathicitrix/vhdsr/internal/metabase"
	"github.com/swathicitrix/vhdsr/internal/vhdlog"
)

// EpochOpen implements spec.md §4.E "epoch_open(uri, persistent)" [gl].
//
// If the VDI is being opened persistently but was previously non-persistent,
// tool.reset the leaf and clear the nonpersistent flag. If opened
// non-persistent and already marked non-persistent, tool.reset only. If
// opened non-persistent and not marked, mark it and, if the leaf is
// non-empty, the source names a "single-clone operation" to kick off here
// but leaves its semantics an unresolved placeholder (spec.md §9 Open
// Questions). This implementation does not invent that behavior: it marks
// the VDI non-persistent and logs that the placeholder path was reached,
// matching only what the contract actually specifies.
func (e *Engine) EpochOpen(ctx context.Context, uri string, persistent bool) error {
	unlock, err := e.lockGlobal(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	uuid, err := datapath.ParseURI(uri)
	if err != nil {
		return err
	}
	vdi, err := e.MB.GetVdiByUUID(ctx, uuid)
	if err != nil {
		return err
	}
	path := e.vhdPath(vdi.VhdID)

	switch {
	case persistent && vdi.NonPersistent:
		if err := e.Tool.Reset(ctx, path); err != nil {
			return err
		}

		return e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
			return wc.UpdateVdiNonPersistent(ctx, uuid, false)
		})

	case !persistent && vdi.NonPersistent:
		return e.Tool.Reset(ctx, path)

	case !persistent && !vdi.NonPersistent:
		if err := e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
			return wc.UpdateVdiNonPersistent(ctx, uuid, true)
		}); err != nil {
			return err
		}

		empty, err := e.Tool.IsEmpty(ctx, path)
		if err != nil {
			return err
		}
		if !empty {
			vhdlog.Warningf(ctx, "epoch_open: vdi %s leaf non-empty, single-clone placeholder not implemented", uuid)
		}

		return nil
	}

	return nil
}

// EpochClose implements spec.md §4.E "epoch_close(uri)" [gl]: if the VDI is
// marked non-persistent, tool.reset the leaf and clear the flag.
func (e *Engine) EpochClose(ctx context.Context, uri string) error {
	unlock, err := e.lockGlobal(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	uuid, err := datapath.ParseURI(uri)
	if err != nil {
		return err
	}
	vdi, err := e.MB.GetVdiByUUID(ctx, uuid)
	if err != nil {
		return err
	}
	if !vdi.NonPersistent {
		return nil
	}

	path := e.vhdPath(vdi.VhdID)
	if err := e.Tool.Reset(ctx, path); err != nil {
		return err
	}

	return e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.UpdateVdiNonPersistent(ctx, uuid, false)
	})
}
