package metabase

import (
	"context"

	"github.com/swathicitrix/vhdsr/internal/vhderr"
)

// AddJournalEntries writes one journal row per child, recording that each
// is mid-reparent from parentID to newParentID (spec.md §3, §4.F step 4).
func (wc *WriteContext) AddJournalEntries(ctx context.Context, parentID, newParentID int64, children []*Vhd) ([]*JournalEntry, error) {
	entries := make([]*JournalEntry, 0, len(children))
	for _, c := range children {
		_, err := wc.tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO journal (id, parent_id, new_parent_id) VALUES (?, ?, ?)`,
			c.ID, parentID, newParentID)
		if err != nil {
			return nil, vhderr.ProviderFailure("add_journal_entries", err)
		}
		entries = append(entries, &JournalEntry{ID: c.ID, ParentID: parentID, NewParentID: newParentID})
	}

	return entries, nil
}

// GetJournalEntries enumerates every outstanding journal row; used by the
// GC's crash-recovery pass (the per-coalesce reparent loop works from the
// entries AddJournalEntries returns).
func (m *Metabase) GetJournalEntries(ctx context.Context) ([]*JournalEntry, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id, parent_id, new_parent_id FROM journal ORDER BY id`)
	if err != nil {
		return nil, vhderr.ProviderFailure("get_journal_entries", err)
	}
	defer rows.Close()

	var out []*JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.ParentID, &e.NewParentID); err != nil {
			return nil, vhderr.ProviderFailure("get_journal_entries", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, vhderr.ProviderFailure("get_journal_entries", err)
	}

	return out, nil
}

// RemoveJournalEntry deletes the journal row for the given (grandchild) id,
// after both the on-disk parent and the metabase parent have been updated.
func (wc *WriteContext) RemoveJournalEntry(ctx context.Context, id int64) error {
	if _, err := wc.tx.ExecContext(ctx, `DELETE FROM journal WHERE id = ?`, id); err != nil {
		return vhderr.ProviderFailure("remove_journal_entry", err)
	}

	return nil
}
