package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/swathicitrix/vhdsr/internal/srlock"
	"github.com/swathicitrix/vhdsr/internal/vhderr"
)

// FSHandle is the Handle type both fsprovider-backed implementations use.
type FSHandle struct {
	Root  string // SR mount root
	Mode  Mode
	locks *srlock.FileLockSet
}

func (h *FSHandle) Close() error { return nil }

// FSProvider is a POSIX-filesystem-backed StorageProvider shared by the
// clusterfs and localfs concrete backends (spec.md §4.D: "Implementations
// exist for a clustered filesystem and for block-device-backed variants;
// the core is agnostic"). requireMountMarker, when set, makes
// StartOperations fail unless a marker file is present at the SR root,
// standing in for the cluster filesystem's own mount/fencing check (spec.md
// §1 lists the cluster filesystem and its fencing watchdog as an external
// collaborator out of this system's scope; FSProvider only checks the
// marker's presence, it does not implement fencing).
type FSProvider struct {
	requireMountMarker string // "" disables the check (localfs)
}

// NewFSProvider returns an FSProvider. When mountMarker is non-empty,
// StartOperations requires that file to exist under the SR root before
// proceeding (see clusterfs.New).
func NewFSProvider(mountMarker string) *FSProvider {
	return &FSProvider{requireMountMarker: mountMarker}
}

func (p *FSProvider) StartOperations(_ context.Context, srURI string, mode Mode) (Handle, error) {
	root := srURI
	if p.requireMountMarker != "" {
		if _, err := os.Stat(filepath.Join(root, p.requireMountMarker)); err != nil {
			return nil, vhderr.ProviderFailure("start_operations", fmt.Errorf("SR %s is not mounted: %w", root, err))
		}
	}
	if err := os.MkdirAll(filepath.Join(root, ".lock"), 0o755); err != nil {
		return nil, vhderr.ProviderFailure("start_operations", err)
	}
	locks, err := srlock.NewFileLockSet(filepath.Join(root, ".lock"))
	if err != nil {
		return nil, err
	}

	return &FSHandle{Root: root, Mode: mode, locks: locks}, nil
}

func (p *FSProvider) StopOperations(_ context.Context, h Handle) error {
	return h.Close()
}

func (p *FSProvider) MetadataPath(h Handle) string {
	return filepath.Join(h.(*FSHandle).Root, "sqlite3-metadata.db")
}

func (p *FSProvider) VolumeCreate(_ context.Context, h Handle, name string, sizeBytes int64) (string, error) {
	path := p.VolumePath(h, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", vhderr.ProviderFailure("volume_create", err)
	}
	defer f.Close()
	if err := f.Truncate(sizeBytes); err != nil {
		return "", vhderr.ProviderFailure("volume_create", err)
	}

	return path, nil
}

func (p *FSProvider) VolumeDestroy(_ context.Context, h Handle, name string) error {
	path := p.VolumePath(h, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return vhderr.ProviderFailure("volume_destroy", err)
	}

	return nil
}

func (p *FSProvider) VolumeRename(_ context.Context, h Handle, oldName, newName string) (string, error) {
	oldPath := p.VolumePath(h, oldName)
	newPath := p.VolumePath(h, newName)
	if err := os.Rename(oldPath, newPath); err != nil {
		return "", vhderr.ProviderFailure("volume_rename", err)
	}

	return newPath, nil
}

func (p *FSProvider) VolumeResize(_ context.Context, h Handle, name string, newSize int64) error {
	path := p.VolumePath(h, name)
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return vhderr.ProviderFailure("volume_resize", err)
	}
	defer f.Close()
	if err := f.Truncate(newSize); err != nil {
		return vhderr.ProviderFailure("volume_resize", err)
	}

	return nil
}

func (p *FSProvider) VolumePath(h Handle, name string) string {
	return filepath.Join(h.(*FSHandle).Root, name)
}

func (p *FSProvider) VolumePhysSize(_ context.Context, h Handle, name string) (int64, error) {
	fi, err := os.Stat(p.VolumePath(h, name))
	if err != nil {
		return 0, vhderr.ProviderFailure("volume_phys_size", err)
	}

	return fi.Size(), nil
}

func (p *FSProvider) URIPrefix(h Handle) string {
	return h.(*FSHandle).Root + "|"
}

func (p *FSProvider) UniqueID(h Handle) string {
	return filepath.Base(h.(*FSHandle).Root)
}

func (p *FSProvider) Lock(ctx context.Context, h Handle, name string) error {
	return h.(*FSHandle).locks.Lock(ctx, name)
}

func (p *FSProvider) TryLock(h Handle, name string) (bool, error) {
	return h.(*FSHandle).locks.TryLock(name)
}

func (p *FSProvider) Unlock(h Handle, name string) error {
	return h.(*FSHandle).locks.Unlock(name)
}

func (p *FSProvider) RunDir(h Handle) string {
	return filepath.Join(h.(*FSHandle).Root, ".run")
}
