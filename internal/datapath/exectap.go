package datapath

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/swathicitrix/vhdsr/internal/vhderr"
	"github.com/swathicitrix/vhdsr/internal/vhdlog"
)

// ExecTap invokes an external per-host tap-control binary as a subprocess,
// implementing Tap for cmd/vhdsr-op against a real host agent. Grounded on
// vhdtool.ExecTool's subprocess-wrapper shape (structured args, captured
// stderr, non-zero exit mapped to a typed error) applied to the tap-control
// side of spec.md §6.3 instead of the VHD-util side.
type ExecTap struct {
	// BinPath is the path to the tap-control binary, configurable via
	// internal/vhdconfig.
	BinPath string
}

// NewExecTap returns an ExecTap invoking binPath.
func NewExecTap(binPath string) *ExecTap {
	return &ExecTap{BinPath: binPath}
}

func (t *ExecTap) run(ctx context.Context, op string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, t.BinPath, args...) // #nosec:G204, args are internally constructed
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		vhdlog.Errorf(ctx, "tap-control %s failed: %v, stderr=%s", op, err, stderr.String())

		return "", vhderr.ToolFailure(op, exitCode, strings.TrimSpace(stderr.String()), err)
	}

	return strings.TrimSpace(stdout.String()), nil
}

func (t *ExecTap) Create(ctx context.Context) (string, error) {
	return t.run(ctx, "create", "create")
}

func (t *ExecTap) Open(ctx context.Context, id, imgPath string) error {
	_, err := t.run(ctx, "open", "open", "-i", id, "-f", imgPath)

	return err
}

func (t *ExecTap) Close(ctx context.Context, id string) error {
	_, err := t.run(ctx, "close", "close", "-i", id)

	return err
}

func (t *ExecTap) Destroy(ctx context.Context, id string) error {
	_, err := t.run(ctx, "destroy", "destroy", "-i", id)

	return err
}

var _ Tap = (*ExecTap)(nil)
