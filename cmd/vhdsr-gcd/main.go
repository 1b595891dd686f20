// Command vhdsr-gcd runs the coalesce daemon (spec.md §4.F) for one
// storage repository until interrupted, exposing its metrics over HTTP.
// Grounded on cuemby-warren/cmd/warren's cobra root-command-plus-signal-
// handling main loop, adapted from its multi-subsystem orchestration to a
// single long-running daemon over one SR.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/swathicitrix/vhdsr/internal/datapath"
	"github.com/swathicitrix/vhdsr/internal/gc"
	"github.com/swathicitrix/vhdsr/internal/metabase"
	"github.com/swathicitrix/vhdsr/internal/metrics"
	"github.com/swathicitrix/vhdsr/internal/provider"
	"github.com/swathicitrix/vhdsr/internal/vhdconfig"
	"github.com/swathicitrix/vhdsr/internal/vhdlog"
	"github.com/swathicitrix/vhdsr/internal/vhdtool"
)

var metricsAddr string

var rootCmd = &cobra.Command{
	Use:   "vhdsr-gcd",
	Short: "Run the coalesce daemon for a storage repository",
}

func main() {
	loadConfig := vhdconfig.BindFlags(rootCmd.PersistentFlags())
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9092", "address to expose Prometheus metrics on")

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return run(cmd, args, loadConfig)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string, loadConfig func() (*vhdconfig.Config, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sp, err := cfg.NewProvider()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := sp.StartOperations(ctx, cfg.SRRoot, provider.ModeWrite)
	if err != nil {
		return err
	}
	defer func() { _ = sp.StopOperations(ctx, h) }()

	mb, err := metabase.OpenWithBusyTimeout(sp.MetadataPath(h), cfg.MetabaseBusyTimeout)
	if err != nil {
		return err
	}
	defer func() { _ = mb.Close() }()

	collector := metrics.NewCollector()
	srv := &http.Server{Addr: metricsAddr, Handler: collector.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			vhdlog.Errorf(ctx, "gcd: metrics server error: %v", err)
		}
	}()
	defer func() { _ = srv.Close() }()

	d := &gc.Daemon{
		MB:        mb,
		Tool:      vhdtool.New(cfg.VHDToolPath),
		Provider:  sp,
		Handle:    h,
		Refresher: &datapath.NoopRefresher{},
		Metrics:   collector,
	}

	if err := d.StartGC(ctx); err != nil {
		return err
	}
	vhdlog.Infof(ctx, "gcd: started for SR %s", cfg.SRRoot)

	<-ctx.Done()
	vhdlog.Infof(ctx, "gcd: stopping")

	return d.StopGC(context.Background())
}
