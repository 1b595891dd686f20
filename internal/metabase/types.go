package metabase

// Vhd is one physical chain node on disk (spec.md §3 "VHD").
type Vhd struct {
	ID       int64
	ParentID *int64 // nil iff this node is a root
	Snap     int64
	VSize    *int64 // nil transiently during resize
	PSize    *int64 // nil when not yet queried
}

// IsRoot reports whether the node has no parent.
func (v Vhd) IsRoot() bool {
	return v.ParentID == nil
}

// Vdi is one logical disk exposed to the storage manager (spec.md §3 "VDI").
type Vdi struct {
	UUID          string
	Name          string
	Description   string
	ActiveOn      *string // nil unless presented to a guest on some host
	NonPersistent bool
	VhdID         int64
}

// JournalEntry is one row tracking a grandchild mid-reparent (spec.md §3).
type JournalEntry struct {
	ID          int64 // the grandchild VHD's own id
	ParentID    int64 // old parent (the node being coalesced away)
	NewParentID int64 // new parent (parent of the coalesced node)
}

// RefreshEntry is one row tracking a leaf pending a datapath refresh
// (spec.md §3).
type RefreshEntry struct {
	VhdID  int64 // the reparented child whose subtree this leaf is under
	LeafID int64
}
