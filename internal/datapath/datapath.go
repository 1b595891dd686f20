// Package datapath implements spec.md §6.3/§6.4: the tap abstraction a
// per-host agent exposes, and the cross-host refresh RPC used to move a
// tap from one on-disk VHD path to another when the chain beneath it
// changes identity. Grounded on the interface-over-RPC separation in
// ceph-ceph-csi/internal/csi-addons, which likewise keeps the caller
// ignorant of the wire mechanism underneath a narrow Go interface.
package datapath

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/swathicitrix/vhdsr/internal/vhderr"
)

// Tap is the per-host datapath agent invoked via the functions spec.md §6.3
// names: create, open(img), close, destroy.
type Tap interface {
	Create(ctx context.Context) (id string, err error)
	Open(ctx context.Context, id, imgPath string) error
	Close(ctx context.Context, id string) error
	Destroy(ctx context.Context, id string) error
}

// Refresher is the unspecified host-to-host RPC used to pause/resume/
// refresh a remote tap (spec.md §6.3's "refresh(old_path, new_path)",
// spec.md §9 Open Questions: "exact format ... is provider-specific and
// not part of the core"). Implementations may be a no-op (single host,
// used by tests), a local in-process call, or an actual RPC client.
type Refresher interface {
	Refresh(ctx context.Context, host, oldPath, newPath string) error
}

// NoopRefresher is a Refresher for single-host configurations and tests: it
// records every call it receives instead of contacting a remote host.
type NoopRefresher struct {
	Calls []RefreshCall
}

// RefreshCall records one invocation of Refresh, for test assertions.
type RefreshCall struct {
	Host, OldPath, NewPath string
}

func (r *NoopRefresher) Refresh(_ context.Context, host, oldPath, newPath string) error {
	r.Calls = append(r.Calls, RefreshCall{Host: host, OldPath: oldPath, NewPath: newPath})

	return nil
}

// metaState is the on-disk tap metadata persisted under
// <run_dir>/dp-tapdisk/<absolute-path-of-VHD>/meta. The VHD path is made
// absolute with filepath.Abs; symlinks in it are not resolved.
type metaState struct {
	TapID   string `json:"tap_id"`
	ImgPath string `json:"img_path"`
}

// MetaStore persists and recalls tap metadata keyed by VHD path, per
// spec.md §6.3 ("persist tap metadata keyed by VHD path").
type MetaStore struct {
	RunDir string
}

func (m *MetaStore) metaPath(vhdPath string) (string, error) {
	real, err := filepath.Abs(vhdPath)
	if err != nil {
		return "", vhderr.ProviderFailure("datapath meta path", err)
	}

	return filepath.Join(m.RunDir, "dp-tapdisk", real, "meta"), nil
}

// Save persists tap metadata for vhdPath.
func (m *MetaStore) Save(vhdPath, tapID string) error {
	path, err := m.metaPath(vhdPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return vhderr.ProviderFailure("datapath meta save", err)
	}
	b, err := json.Marshal(metaState{TapID: tapID, ImgPath: vhdPath})
	if err != nil {
		return vhderr.ProviderFailure("datapath meta save", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return vhderr.ProviderFailure("datapath meta save", err)
	}

	return nil
}

// Load reads back tap metadata for vhdPath, if any was persisted.
func (m *MetaStore) Load(vhdPath string) (tapID string, ok bool, err error) {
	path, perr := m.metaPath(vhdPath)
	if perr != nil {
		return "", false, perr
	}
	b, rerr := os.ReadFile(path)
	if rerr != nil {
		if os.IsNotExist(rerr) {
			return "", false, nil
		}

		return "", false, vhderr.ProviderFailure("datapath meta load", rerr)
	}
	var st metaState
	if err := json.Unmarshal(b, &st); err != nil {
		return "", false, vhderr.ProviderFailure("datapath meta load", err)
	}

	return st.TapID, true, nil
}

// Forget removes persisted tap metadata for vhdPath.
func (m *MetaStore) Forget(vhdPath string) error {
	path, err := m.metaPath(vhdPath)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Dir(path)); err != nil {
		return vhderr.ProviderFailure("datapath meta forget", err)
	}

	return nil
}

// URI builds the datapath URI of the form vhd+tapdisk://<prefix><uuid>,
// per spec.md §6.4.
func URI(prefix, vdiUUID string) string {
	return fmt.Sprintf("vhd+tapdisk://%s%s", prefix, vdiUUID)
}

const uriScheme = "vhd+tapdisk://"

// ParseURI splits a datapath URI back into its VDI uuid, per spec.md §6.4
// ("parsing splits on the terminal '|' or equivalent separator provided by
// the backend"). The prefix itself is provider-specific and is returned
// unparsed; callers that need to address a specific SR use the provider's
// own URIPrefix, not this split.
func ParseURI(uri string) (vdiUUID string, err error) {
	rest := uri
	if len(uri) >= len(uriScheme) && uri[:len(uriScheme)] == uriScheme {
		rest = uri[len(uriScheme):]
	}
	idx := -1
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == '|' {
			idx = i

			break
		}
	}
	if idx < 0 {
		return "", vhderr.Consistency("datapath URI missing prefix separator: " + uri)
	}

	return rest[idx+1:], nil
}
