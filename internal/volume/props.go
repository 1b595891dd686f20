package volume

import (
	"context"

	"github.com/swathicitrix/vhdsr/internal/metabase"
)

// SetName implements spec.md §4.E "set_name": a single-field update under
// write_context.
func (e *Engine) SetName(ctx context.Context, uuid, name string) error {
	return e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.UpdateVdiName(ctx, uuid, name)
	})
}

// SetDescription implements spec.md §4.E "set_description".
func (e *Engine) SetDescription(ctx context.Context, uuid, description string) error {
	return e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.UpdateVdiDescription(ctx, uuid, description)
	})
}

// Set implements spec.md §4.E "set": marks the VDI non-persistent.
func (e *Engine) Set(ctx context.Context, uuid string) error {
	return e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.UpdateVdiNonPersistent(ctx, uuid, true)
	})
}

// Unset implements spec.md §4.E "unset": clears the non-persistent flag.
func (e *Engine) Unset(ctx context.Context, uuid string) error {
	return e.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.UpdateVdiNonPersistent(ctx, uuid, false)
	})
}
