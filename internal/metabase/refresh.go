package metabase

import (
	"context"

	"github.com/swathicitrix/vhdsr/internal/vhderr"
)

// AddRefreshEntries writes one refresh row per leaf, recording that each
// leaf's datapath must be refreshed because vhdID (a reparented child) now
// sits under a different chain (spec.md §3, §4.F step 4a).
func (wc *WriteContext) AddRefreshEntries(ctx context.Context, vhdID int64, leaves []*Vhd) ([]*RefreshEntry, error) {
	entries := make([]*RefreshEntry, 0, len(leaves))
	for _, leaf := range leaves {
		_, err := wc.tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO refresh (vhd_id, leaf_id) VALUES (?, ?)`, vhdID, leaf.ID)
		if err != nil {
			return nil, vhderr.ProviderFailure("add_refresh_entries", err)
		}
		entries = append(entries, &RefreshEntry{VhdID: vhdID, LeafID: leaf.ID})
	}

	return entries, nil
}

// GetRefreshEntries enumerates every outstanding refresh row; used by the
// GC's crash-recovery pass (the per-child refresh loop works from the
// entries AddRefreshEntries returns).
func (m *Metabase) GetRefreshEntries(ctx context.Context) ([]*RefreshEntry, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT vhd_id, leaf_id FROM refresh ORDER BY leaf_id`)
	if err != nil {
		return nil, vhderr.ProviderFailure("get_refresh_entries", err)
	}
	defer rows.Close()

	var out []*RefreshEntry
	for rows.Next() {
		var e RefreshEntry
		if err := rows.Scan(&e.VhdID, &e.LeafID); err != nil {
			return nil, vhderr.ProviderFailure("get_refresh_entries", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, vhderr.ProviderFailure("get_refresh_entries", err)
	}

	return out, nil
}

// RemoveRefreshEntry deletes the refresh row for the given leaf id, after
// the refresh has completed.
func (wc *WriteContext) RemoveRefreshEntry(ctx context.Context, leafID int64) error {
	if _, err := wc.tx.ExecContext(ctx, `DELETE FROM refresh WHERE leaf_id = ?`, leafID); err != nil {
		return vhderr.ProviderFailure("remove_refresh_entry", err)
	}

	return nil
}
