package metabase

// schema is the metabase DDL: the VHD, VDI, JOURNAL and REFRESH tables plus
// the two indexes spec.md §4.B requires (vhd.parent_id, vdi.vhd_id). The
// string-constant-plus-"IF NOT EXISTS" style is grounded on
// untoldecay-BeadsLog/internal/storage/sqlite/schema.go.
const schema = `
CREATE TABLE IF NOT EXISTS vhd (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_id INTEGER,
	snap      INTEGER NOT NULL DEFAULT 0,
	vsize     INTEGER,
	psize     INTEGER,
	FOREIGN KEY (parent_id) REFERENCES vhd(id)
);

CREATE INDEX IF NOT EXISTS idx_vhd_parent_id ON vhd(parent_id);

CREATE TABLE IF NOT EXISTS vdi (
	uuid          TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	active_on     TEXT,
	nonpersistent INTEGER NOT NULL DEFAULT 0,
	vhd_id        INTEGER NOT NULL UNIQUE,
	FOREIGN KEY (vhd_id) REFERENCES vhd(id)
);

CREATE INDEX IF NOT EXISTS idx_vdi_vhd_id ON vdi(vhd_id);

-- id is the grandchild VHD's own id: a reparenting is in flight for VHD
-- "id" from "parent_id" (old) to "new_parent_id".
CREATE TABLE IF NOT EXISTS journal (
	id            INTEGER PRIMARY KEY,
	parent_id     INTEGER NOT NULL,
	new_parent_id INTEGER NOT NULL
);

-- leaf_id is the leaf VHD whose datapath needs a refresh because some
-- ancestor "vhd_id" (the reparented child) changed identity beneath it.
CREATE TABLE IF NOT EXISTS refresh (
	vhd_id  INTEGER NOT NULL,
	leaf_id INTEGER PRIMARY KEY
);
`
