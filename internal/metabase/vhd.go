package metabase

import (
	"context"
	"database/sql"
	"errors"

	"github.com/swathicitrix/vhdsr/internal/vhderr"
)

// InsertNewVhd inserts a new root VHD (parent_id NULL) with the given
// virtual size in bytes and returns the created row.
func (wc *WriteContext) InsertNewVhd(ctx context.Context, vsizeBytes int64) (*Vhd, error) {
	res, err := wc.tx.ExecContext(ctx,
		`INSERT INTO vhd (parent_id, snap, vsize, psize) VALUES (NULL, 0, ?, NULL)`, vsizeBytes)
	if err != nil {
		return nil, vhderr.ProviderFailure("insert_new_vhd", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, vhderr.ProviderFailure("insert_new_vhd", err)
	}

	return &Vhd{ID: id, ParentID: nil, VSize: &vsizeBytes}, nil
}

// InsertChildVhd inserts a new VHD as a child of parentID with the given
// virtual size in bytes.
func (wc *WriteContext) InsertChildVhd(ctx context.Context, parentID, vsizeBytes int64) (*Vhd, error) {
	if _, err := wc.GetVhdByID(ctx, parentID); err != nil {
		return nil, err
	}
	res, err := wc.tx.ExecContext(ctx,
		`INSERT INTO vhd (parent_id, snap, vsize, psize) VALUES (?, 0, ?, NULL)`, parentID, vsizeBytes)
	if err != nil {
		return nil, vhderr.ProviderFailure("insert_child_vhd", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, vhderr.ProviderFailure("insert_child_vhd", err)
	}
	pid := parentID

	return &Vhd{ID: id, ParentID: &pid, VSize: &vsizeBytes}, nil
}

// UpdateVhdParentID rewrites a VHD's parent pointer.
func (wc *WriteContext) UpdateVhdParentID(ctx context.Context, id, newParentID int64) error {
	_, err := wc.tx.ExecContext(ctx, `UPDATE vhd SET parent_id = ? WHERE id = ?`, newParentID, id)
	if err != nil {
		return vhderr.ProviderFailure("update_vhd_parent_id", err)
	}

	return nil
}

// UpdateVhdVSize writes a new virtual size, or clears it when vsizeBytes is
// nil (spec.md §4.E resize's crash-detectable clear-then-write protocol).
func (wc *WriteContext) UpdateVhdVSize(ctx context.Context, id int64, vsizeBytes *int64) error {
	_, err := wc.tx.ExecContext(ctx, `UPDATE vhd SET vsize = ? WHERE id = ?`, vsizeBytes, id)
	if err != nil {
		return vhderr.ProviderFailure("update_vhd_vsize", err)
	}

	return nil
}

// UpdateVhdPSize writes the physical utilization in bytes.
func (wc *WriteContext) UpdateVhdPSize(ctx context.Context, id int64, psizeBytes *int64) error {
	_, err := wc.tx.ExecContext(ctx, `UPDATE vhd SET psize = ? WHERE id = ?`, psizeBytes, id)
	if err != nil {
		return vhderr.ProviderFailure("update_vhd_psize", err)
	}

	return nil
}

// DeleteVhd deletes a VHD row. The caller must already have verified the
// deletability invariant (no children, no referencing VDI); this method
// does not re-check it, mirroring that the metabase trusts its own callers
// inside a single write_context (spec.md §3 invariant is the engine's to
// enforce before calling).
func (wc *WriteContext) DeleteVhd(ctx context.Context, id int64) error {
	res, err := wc.tx.ExecContext(ctx, `DELETE FROM vhd WHERE id = ?`, id)
	if err != nil {
		return vhderr.ProviderFailure("delete_vhd", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return vhderr.ProviderFailure("delete_vhd", err)
	}
	if n == 0 {
		return vhderr.NotFound("vhd", itoa(id))
	}

	return nil
}

// GetVhdByID reads a single VHD row inside a write context.
func (wc *WriteContext) GetVhdByID(ctx context.Context, id int64) (*Vhd, error) {
	return scanVhdRow(wc.tx.QueryRowContext(ctx, vhdSelect+` WHERE id = ?`, id), id)
}

// GetVhdByID reads a single VHD row outside of a write transaction
// (read-only operations per spec.md §5 do not acquire "gl" or a write
// transaction).
func (m *Metabase) GetVhdByID(ctx context.Context, id int64) (*Vhd, error) {
	return scanVhdRow(m.db.QueryRowContext(ctx, vhdSelect+` WHERE id = ?`, id), id)
}

// GetChildren returns every VHD whose parent_id equals id.
func (m *Metabase) GetChildren(ctx context.Context, id int64) ([]*Vhd, error) {
	rows, err := m.db.QueryContext(ctx, vhdSelect+` WHERE parent_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, vhderr.ProviderFailure("get_children", err)
	}
	defer rows.Close()

	return scanVhdRows(rows)
}

// FindNonLeafCoalesceable returns VHDs that (a) have a non-null parent and
// (b) are the unique child of their parent and (c) themselves have at
// least one child (spec.md §4.B).
func (m *Metabase) FindNonLeafCoalesceable(ctx context.Context) ([]*Vhd, error) {
	const q = vhdSelect + `
		WHERE v.parent_id IS NOT NULL
		AND (SELECT COUNT(*) FROM vhd s WHERE s.parent_id = v.parent_id) = 1
		AND (SELECT COUNT(*) FROM vhd c WHERE c.parent_id = v.id) >= 1
		ORDER BY v.id`
	rows, err := m.db.QueryContext(ctx, q)
	if err != nil {
		return nil, vhderr.ProviderFailure("find_non_leaf_coalesceable", err)
	}
	defer rows.Close()

	return scanVhdRows(rows)
}

// FindLeafCoalesceable is the mirror of FindNonLeafCoalesceable with
// condition (c) negated. Retained as a metabase query for future use; per
// spec.md §9 Open Questions, no operation in this system invokes it.
func (m *Metabase) FindLeafCoalesceable(ctx context.Context) ([]*Vhd, error) {
	const q = vhdSelect + `
		WHERE v.parent_id IS NOT NULL
		AND (SELECT COUNT(*) FROM vhd s WHERE s.parent_id = v.parent_id) = 1
		AND (SELECT COUNT(*) FROM vhd c WHERE c.parent_id = v.id) = 0
		ORDER BY v.id`
	rows, err := m.db.QueryContext(ctx, q)
	if err != nil {
		return nil, vhderr.ProviderFailure("find_leaf_coalesceable", err)
	}
	defer rows.Close()

	return scanVhdRows(rows)
}

// GetGarbageVhds returns VHDs with no child and no referencing VDI.
func (m *Metabase) GetGarbageVhds(ctx context.Context) ([]*Vhd, error) {
	const q = vhdSelect + `
		WHERE NOT EXISTS (SELECT 1 FROM vhd c WHERE c.parent_id = v.id)
		AND NOT EXISTS (SELECT 1 FROM vdi d WHERE d.vhd_id = v.id)
		ORDER BY v.id`
	rows, err := m.db.QueryContext(ctx, q)
	if err != nil {
		return nil, vhderr.ProviderFailure("get_garbage_vhds", err)
	}
	defer rows.Close()

	return scanVhdRows(rows)
}

// GetLeavesUnder returns every leaf VHD (no children) whose ancestor chain
// passes through rootID, inclusive of rootID itself if it is already a
// leaf. Used by the GC to find which leaves need a datapath refresh after
// a grandchild is reparented (spec.md §4.F step 4a).
func (m *Metabase) GetLeavesUnder(ctx context.Context, rootID int64) ([]*Vhd, error) {
	var leaves []*Vhd
	frontier := []int64{rootID}
	for len(frontier) > 0 {
		var next []int64
		for _, id := range frontier {
			children, err := m.GetChildren(ctx, id)
			if err != nil {
				return nil, err
			}
			if len(children) == 0 {
				v, err := m.GetVhdByID(ctx, id)
				if err != nil {
					return nil, err
				}
				leaves = append(leaves, v)

				continue
			}
			for _, c := range children {
				next = append(next, c.ID)
			}
		}
		frontier = next
	}

	return leaves, nil
}

const vhdSelect = `SELECT v.id, v.parent_id, v.snap, v.vsize, v.psize FROM vhd v`

func scanVhdRow(row *sql.Row, id int64) (*Vhd, error) {
	var v Vhd
	if err := row.Scan(&v.ID, &v.ParentID, &v.Snap, &v.VSize, &v.PSize); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, vhderr.NotFound("vhd", itoa(id))
		}

		return nil, vhderr.ProviderFailure("get_vhd", err)
	}

	return &v, nil
}

func scanVhdRows(rows *sql.Rows) ([]*Vhd, error) {
	var out []*Vhd
	for rows.Next() {
		var v Vhd
		if err := rows.Scan(&v.ID, &v.ParentID, &v.Snap, &v.VSize, &v.PSize); err != nil {
			return nil, vhderr.ProviderFailure("scan_vhd", err)
		}
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, vhderr.ProviderFailure("scan_vhd", err)
	}

	return out, nil
}
