// Package provider implements spec.md §4.D: the storage-provider capability
// set the volume engine and GC consume from whatever SR backend is
// mounted, modeled on ceph-ceph-csi's capability-set-over-an-interface
// pattern (the core in this system is agnostic to the backend exactly as
// ceph-csi's rbd/cephfs drivers are agnostic to which cluster backs a
// pool) and on DESIGN NOTES §9 ("replace callbacks object by an explicit
// capability trait/interface").
package provider

import "context"

// Mode is the open mode passed to StartOperations.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

// Handle is the opaque handle StartOperations returns; concrete providers
// type-assert it back to their own handle type.
type Handle interface {
	// Close releases any resources the handle holds; called by
	// StopOperations.
	Close() error
}

// StorageProvider is the capability set spec.md §4.D requires from
// whichever SR backend is in use (clustered filesystem, local filesystem,
// or LV-on-shared-block).
type StorageProvider interface {
	// StartOperations opens the SR for the given mode and returns an
	// opaque handle threaded through every other call.
	StartOperations(ctx context.Context, srURI string, mode Mode) (Handle, error)
	// StopOperations releases a handle obtained from StartOperations.
	StopOperations(ctx context.Context, h Handle) error

	// MetadataPath returns the filesystem path to the metabase file.
	MetadataPath(h Handle) string

	// VolumeCreate creates a new VHD file of size sizeBytes and returns
	// its path.
	VolumeCreate(ctx context.Context, h Handle, name string, sizeBytes int64) (string, error)
	// VolumeDestroy removes the VHD file backing name.
	VolumeDestroy(ctx context.Context, h Handle, name string) error
	// VolumeRename renames a VHD file and returns its new path.
	VolumeRename(ctx context.Context, h Handle, oldName, newName string) (string, error)
	// VolumeResize grows the on-disk allocation backing name to newSize
	// bytes (distinct from the VHD tool's logical resize: this is the
	// storage-provider-level allocation, e.g. extending an LV).
	VolumeResize(ctx context.Context, h Handle, name string, newSize int64) error

	// VolumePath returns the filesystem path for an existing volume name.
	VolumePath(h Handle, name string) string
	// VolumePhysSize returns the physical size in bytes the provider has
	// allocated for name.
	VolumePhysSize(ctx context.Context, h Handle, name string) (int64, error)

	// URIPrefix returns the provider-specific prefix used to build
	// datapath URIs of the form vhd+tapdisk://<prefix><vdi_uuid>.
	URIPrefix(h Handle) string
	// UniqueID returns a per-SR identifier; the coalesce daemon uses it as
	// the subdirectory of RunDir holding its signal files. Lock files live
	// under the SR's own "<root>/.lock" directory, not under UniqueID.
	UniqueID(h Handle) string

	// Lock, TryLock and Unlock implement spec.md §4.C's advisory locks.
	Lock(ctx context.Context, h Handle, name string) error
	TryLock(h Handle, name string) (bool, error)
	Unlock(h Handle, name string) error

	// RunDir returns the per-SR run directory used for gc-running /
	// gc-exited signal files (spec.md §6.5).
	RunDir(h Handle) string
}
