// Command vhdsr-op is the operator-facing CLI over the volume engine
// (spec.md §4.E): one subcommand per create/destroy/resize/clone/stat/ls/
// set-props/attach-activate-deactivate-detach/epoch-open-close operation.
// Grounded on cuemby-warren/cmd/warren's cobra root-command-plus-persistent-
// flags shape, adapted from its daemon-process layout to a one-shot,
// one-operation-per-invocation CLI matching this system's synchronous
// volume-engine API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/swathicitrix/vhdsr/internal/datapath"
	"github.com/swathicitrix/vhdsr/internal/metabase"
	"github.com/swathicitrix/vhdsr/internal/provider"
	"github.com/swathicitrix/vhdsr/internal/srlock"
	"github.com/swathicitrix/vhdsr/internal/vhdconfig"
	"github.com/swathicitrix/vhdsr/internal/vhdtool"
	"github.com/swathicitrix/vhdsr/internal/volume"
)

var loadConfig func() (*vhdconfig.Config, error)

var rootCmd = &cobra.Command{
	Use:   "vhdsr-op",
	Short: "Operate on VDIs in a VHD-chain storage repository",
}

func main() {
	loadConfig = vhdconfig.BindFlags(rootCmd.PersistentFlags())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newEngine opens the SR named by the resolved configuration and
// constructs a volume.Engine over it. The caller is responsible for
// releasing the returned provider handle and metabase connection.
func newEngine() (*volume.Engine, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	sp, err := cfg.NewProvider()
	if err != nil {
		return nil, nil, err
	}
	ctx := rootCmd.Context()
	h, err := sp.StartOperations(ctx, cfg.SRRoot, provider.ModeWrite)
	if err != nil {
		return nil, nil, err
	}

	mb, err := metabase.OpenWithBusyTimeout(sp.MetadataPath(h), cfg.MetabaseBusyTimeout)
	if err != nil {
		_ = sp.StopOperations(ctx, h)

		return nil, nil, err
	}

	closeAll := func() {
		_ = mb.Close()
		_ = sp.StopOperations(ctx, h)
	}

	eng := &volume.Engine{
		MB:        mb,
		Tool:      vhdtool.New(cfg.VHDToolPath),
		Provider:  sp,
		Handle:    h,
		Refresher: &datapath.NoopRefresher{},
		Taps:      datapath.NewExecTap(cfg.TapControlPath),
		Meta:      &datapath.MetaStore{RunDir: sp.RunDir(h)},
		Guard:     srlock.NewOperationGuard(),
		HostID:    cfg.HostID,
	}

	return eng, closeAll, nil
}
