package metabase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/swathicitrix/vhdsr/internal/vhderr"
)

const vdiSelect = `SELECT uuid, name, description, active_on, nonpersistent, vhd_id FROM vdi`

// InsertVdi inserts a new VDI row pointing at vhdID. uuid must be unique;
// a duplicate is reported as a Conflict (spec.md §7 "create with the same
// uuid is rejected as Conflict").
func (wc *WriteContext) InsertVdi(ctx context.Context, uuid, name, description string, vhdID int64) (*Vdi, error) {
	_, err := wc.tx.ExecContext(ctx,
		`INSERT INTO vdi (uuid, name, description, active_on, nonpersistent, vhd_id)
		 VALUES (?, ?, ?, NULL, 0, ?)`, uuid, name, description, vhdID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, vhderr.Conflict(fmt.Sprintf("vdi %q already exists", uuid))
		}

		return nil, vhderr.ProviderFailure("insert_vdi", err)
	}

	return &Vdi{UUID: uuid, Name: name, Description: description, VhdID: vhdID}, nil
}

// DeleteVdi deletes a VDI row by uuid.
func (wc *WriteContext) DeleteVdi(ctx context.Context, uuid string) error {
	res, err := wc.tx.ExecContext(ctx, `DELETE FROM vdi WHERE uuid = ?`, uuid)
	if err != nil {
		return vhderr.ProviderFailure("delete_vdi", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return vhderr.ProviderFailure("delete_vdi", err)
	}
	if n == 0 {
		return vhderr.NotFound("vdi", uuid)
	}

	return nil
}

// UpdateVdiVhdID re-points a VDI at a new leaf VHD (used by clone/snapshot).
func (wc *WriteContext) UpdateVdiVhdID(ctx context.Context, uuid string, vhdID int64) error {
	return wc.updateVdiField(ctx, uuid, "vhd_id", vhdID)
}

// UpdateVdiName updates the human-readable name.
func (wc *WriteContext) UpdateVdiName(ctx context.Context, uuid, name string) error {
	return wc.updateVdiField(ctx, uuid, "name", name)
}

// UpdateVdiDescription updates the human-readable description.
func (wc *WriteContext) UpdateVdiDescription(ctx context.Context, uuid, description string) error {
	return wc.updateVdiField(ctx, uuid, "description", description)
}

// UpdateVdiActiveOn sets or clears (nil) the host this VDI is presented on.
func (wc *WriteContext) UpdateVdiActiveOn(ctx context.Context, uuid string, host *string) error {
	return wc.updateVdiField(ctx, uuid, "active_on", host)
}

// UpdateVdiNonPersistent sets or clears the non-persistent flag.
func (wc *WriteContext) UpdateVdiNonPersistent(ctx context.Context, uuid string, nonPersistent bool) error {
	return wc.updateVdiField(ctx, uuid, "nonpersistent", nonPersistent)
}

func (wc *WriteContext) updateVdiField(ctx context.Context, uuid, field string, value interface{}) error {
	q := fmt.Sprintf(`UPDATE vdi SET %s = ? WHERE uuid = ?`, field) //nolint:gosec // field is an internal constant, never user input
	res, err := wc.tx.ExecContext(ctx, q, value, uuid)
	if err != nil {
		return vhderr.ProviderFailure("update_vdi_"+field, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return vhderr.ProviderFailure("update_vdi_"+field, err)
	}
	if n == 0 {
		return vhderr.NotFound("vdi", uuid)
	}

	return nil
}

// GetVdiByUUID reads a single VDI row.
func (m *Metabase) GetVdiByUUID(ctx context.Context, uuid string) (*Vdi, error) {
	return scanVdiRow(m.db.QueryRowContext(ctx, vdiSelect+` WHERE uuid = ?`, uuid), uuid)
}

// GetVdiByUUID reads a single VDI row inside a write context.
func (wc *WriteContext) GetVdiByUUID(ctx context.Context, uuid string) (*Vdi, error) {
	return scanVdiRow(wc.tx.QueryRowContext(ctx, vdiSelect+` WHERE uuid = ?`, uuid), uuid)
}

// GetVdiForVhd returns the VDI whose current leaf is vhdID, if any.
func (m *Metabase) GetVdiForVhd(ctx context.Context, vhdID int64) (*Vdi, error) {
	return scanVdiRow(m.db.QueryRowContext(ctx, vdiSelect+` WHERE vhd_id = ?`, vhdID), fmt.Sprintf("vhd_id=%d", vhdID))
}

// GetAllVdis enumerates every VDI.
func (m *Metabase) GetAllVdis(ctx context.Context) ([]*Vdi, error) {
	rows, err := m.db.QueryContext(ctx, vdiSelect+` ORDER BY uuid`)
	if err != nil {
		return nil, vhderr.ProviderFailure("get_all_vdis", err)
	}
	defer rows.Close()

	var out []*Vdi
	for rows.Next() {
		v, err := scanVdi(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, vhderr.ProviderFailure("get_all_vdis", err)
	}

	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVdi(row rowScanner) (*Vdi, error) {
	var v Vdi
	if err := row.Scan(&v.UUID, &v.Name, &v.Description, &v.ActiveOn, &v.NonPersistent, &v.VhdID); err != nil {
		return nil, vhderr.ProviderFailure("scan_vdi", err)
	}

	return &v, nil
}

func scanVdiRow(row *sql.Row, id string) (*Vdi, error) {
	v, err := scanVdi(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, vhderr.NotFound("vdi", id)
		}

		return nil, err
	}

	return v, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
