// Package vhdtool implements spec.md §4.A: a typed interface over the
// external VHD utility binary. Grounded on the subprocess-wrapper shape of
// ceph-ceph-csi/internal/util/cephcmds.go (structured flag building,
// captured stdout/stderr, non-zero exit mapped to a typed error).
package vhdtool

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/swathicitrix/vhdsr/internal/vhderr"
	"github.com/swathicitrix/vhdsr/internal/vhdlog"
)

// Tool is the operations the volume engine and GC consume from the
// external VHD utility. An explicit interface lets both depend on an
// abstraction rather than a concrete subprocess type, so this package and
// its callers can be unit tested against a fake (see FakeTool).
type Tool interface {
	// Create creates a file at path of logical size sizeMiB MiB.
	Create(ctx context.Context, path string, sizeMiB int64) error
	// Snapshot produces a new child VHD at newPath differencing against
	// parentPath. If the parent is empty and forceLink is false, the tool
	// applies the parent-empty optimization: the returned parent path is
	// the parent's parent, not parentPath itself. Callers detect this by
	// comparing the returned resolved parent path to parentPath.
	Snapshot(ctx context.Context, newPath, parentPath string, forceLink bool) (resolvedParentPath string, err error)
	// Coalesce merges path's allocated blocks into its parent. path is not
	// deleted by this call.
	Coalesce(ctx context.Context, path string) error
	// GetParent reads the parent pointer (an on-disk path) from a VHD, or
	// "" if the VHD is a root.
	GetParent(ctx context.Context, path string) (string, error)
	// SetParent rewrites the parent pointer, atomic at the granularity of
	// the VHD header write.
	SetParent(ctx context.Context, path, parentPath string) error
	// Resize grows the logical size to sizeMiB MiB.
	Resize(ctx context.Context, path string, sizeMiB int64) error
	// Reset zeroes the VHD's data region (leaf reset for non-persistent
	// disks).
	Reset(ctx context.Context, path string) error
	// IsEmpty reports whether no block is allocated.
	IsEmpty(ctx context.Context, path string) (bool, error)
	// GetVSize returns the logical size in bytes.
	GetVSize(ctx context.Context, path string) (int64, error)
	// GetPSize returns the physical on-disk utilization in bytes.
	GetPSize(ctx context.Context, path string) (int64, error)
}

// ExecTool invokes an external VHD-manipulation binary as a subprocess.
type ExecTool struct {
	// BinPath is the path to the vhd-util binary, configurable via
	// internal/vhdconfig.
	BinPath string
}

// New returns an ExecTool invoking binPath.
func New(binPath string) *ExecTool {
	return &ExecTool{BinPath: binPath}
}

func (t *ExecTool) run(ctx context.Context, op string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, t.BinPath, args...) // #nosec:G204, args are internally constructed
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			exitCode = exitErr.ExitCode()
		}
		vhdlog.Errorf(ctx, "vhd-util %s failed: %v, stderr=%s", op, err, stderr.String())

		return "", vhderr.ToolFailure(op, exitCode, strings.TrimSpace(stderr.String()), err)
	}

	return stdout.String(), nil
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}

	return ok
}

func (t *ExecTool) Create(ctx context.Context, path string, sizeMiB int64) error {
	_, err := t.run(ctx, "create", "create", "-n", path, "-s", strconv.FormatInt(sizeMiB, 10))

	return err
}

func (t *ExecTool) Snapshot(ctx context.Context, newPath, parentPath string, forceLink bool) (string, error) {
	args := []string{"snapshot", "-n", newPath, "-p", parentPath}
	if forceLink {
		args = append(args, "-l")
	}
	if _, err := t.run(ctx, "snapshot", args...); err != nil {
		return "", err
	}

	return t.GetParent(ctx, newPath)
}

func (t *ExecTool) Coalesce(ctx context.Context, path string) error {
	_, err := t.run(ctx, "coalesce", "coalesce", "-n", path)

	return err
}

func (t *ExecTool) GetParent(ctx context.Context, path string) (string, error) {
	out, err := t.run(ctx, "query", "query", "-n", path, "-p")
	if err != nil {
		return "", err
	}
	parent := strings.TrimSpace(out)
	if parent == "none" || parent == "" {
		return "", nil
	}

	return parent, nil
}

func (t *ExecTool) SetParent(ctx context.Context, path, parentPath string) error {
	_, err := t.run(ctx, "modify-parent", "modify", "-n", path, "-p", parentPath)

	return err
}

func (t *ExecTool) Resize(ctx context.Context, path string, sizeMiB int64) error {
	_, err := t.run(ctx, "resize", "resize", "-n", path, "-s", strconv.FormatInt(sizeMiB, 10))

	return err
}

func (t *ExecTool) Reset(ctx context.Context, path string) error {
	_, err := t.run(ctx, "reset", "reset", "-n", path)

	return err
}

func (t *ExecTool) IsEmpty(ctx context.Context, path string) (bool, error) {
	out, err := t.run(ctx, "query", "query", "-n", path, "-a")
	if err != nil {
		return false, err
	}

	return strings.TrimSpace(out) == "empty", nil
}

func (t *ExecTool) GetVSize(ctx context.Context, path string) (int64, error) {
	out, err := t.run(ctx, "get_vsize", "query", "-n", path, "-v")
	if err != nil {
		return 0, err
	}

	return parseSize("get_vsize", path, out)
}

func (t *ExecTool) GetPSize(ctx context.Context, path string) (int64, error) {
	out, err := t.run(ctx, "get_psize", "query", "-n", path, "-u")
	if err != nil {
		return 0, err
	}

	return parseSize("get_psize", path, out)
}

func parseSize(op, path, out string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, vhderr.ToolFailure(op, 0, "unparseable size output for "+path+": "+out, err)
	}

	return n, nil
}
