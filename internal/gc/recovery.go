package gc

import (
	"context"

	"github.com/swathicitrix/vhdsr/internal/metabase"
	"github.com/swathicitrix/vhdsr/internal/vhdlog"
)

// Recover implements spec.md §4.F's crash-recovery pass, run once before
// the daemon enters its main loop: every outstanding journal row is
// re-applied (set_parent on disk if the on-disk parent hasn't moved yet,
// then the metabase is idempotently updated, then the row is removed), and
// every outstanding refresh row is re-issued.
func (d *Daemon) Recover(ctx context.Context) error {
	journal, err := d.MB.GetJournalEntries(ctx)
	if err != nil {
		return err
	}
	refresh, err := d.MB.GetRefreshEntries(ctx)
	if err != nil {
		return err
	}
	d.Metrics.SetJournalBacklog(len(journal))
	d.Metrics.SetRefreshBacklog(len(refresh))

	for _, j := range journal {
		if err := d.recoverJournalEntry(ctx, j); err != nil {
			return err
		}
	}
	for _, r := range refresh {
		if err := d.refreshLeaf(ctx, r.LeafID); err != nil {
			return err
		}
		if err := d.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
			return wc.RemoveRefreshEntry(ctx, r.LeafID)
		}); err != nil {
			return err
		}
	}

	if len(journal) > 0 || len(refresh) > 0 {
		vhdlog.Usefulf(ctx, "gc: recovery replayed %d journal rows, %d refresh rows", len(journal), len(refresh))
	}

	return nil
}

func (d *Daemon) recoverJournalEntry(ctx context.Context, j *metabase.JournalEntry) error {
	newParentPath := d.vhdPath(j.NewParentID)

	onDisk, err := d.Tool.GetParent(ctx, d.vhdPath(j.ID))
	if err != nil {
		return err
	}
	if onDisk != newParentPath {
		if err := d.Tool.SetParent(ctx, d.vhdPath(j.ID), newParentPath); err != nil {
			return err
		}
	}

	if err := d.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.UpdateVhdParentID(ctx, j.ID, j.NewParentID)
	}); err != nil {
		return err
	}

	return d.MB.WithWriteContext(ctx, func(wc *metabase.WriteContext) error {
		return wc.RemoveJournalEntry(ctx, j.ID)
	})
}
