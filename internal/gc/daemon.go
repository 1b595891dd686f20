// Package gc implements spec.md §4.F: the coalesce daemon, one per SR. It
// sweeps garbage VHDs, selects non-leaf coalesce candidates under a
// try-lock ordering that never blocks the daemon indefinitely, invokes the
// VHD tool's coalesce outside any lock, and reparents grandchildren through
// the journal/refresh tables that make the whole pass crash-recoverable.
// Grounded on the start/stop/signal-file lifecycle of
// untoldecay-BeadsLog's background sync loop and on
// ceph-ceph-csi/internal/controller's reconcile-loop shape (select a
// candidate, act outside the lock, requeue on contention).
package gc

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/swathicitrix/vhdsr/internal/datapath"
	"github.com/swathicitrix/vhdsr/internal/metabase"
	"github.com/swathicitrix/vhdsr/internal/metrics"
	"github.com/swathicitrix/vhdsr/internal/provider"
	"github.com/swathicitrix/vhdsr/internal/vhdlog"
	"github.com/swathicitrix/vhdsr/internal/vhdtool"
)

const (
	runningFile = "gc-running"
	exitedFile  = "gc-exited"

	// MaxSleep and SleepSlice implement spec.md §4.F's "sleep up to ~30
	// seconds in 3-second slices (checking gc-running)".
	MaxSleep   = 30 * time.Second
	SleepSlice = 3 * time.Second
)

// Daemon is the coalesce daemon for one SR.
type Daemon struct {
	MB        *metabase.Metabase
	Tool      vhdtool.Tool
	Provider  provider.StorageProvider
	Handle    provider.Handle
	Refresher datapath.Refresher
	Metrics   *metrics.Collector

	wg sync.WaitGroup
}

func (d *Daemon) signalDir() string {
	return filepath.Join(d.Provider.RunDir(d.Handle), d.Provider.UniqueID(d.Handle))
}

func (d *Daemon) runningPath() string {
	return filepath.Join(d.signalDir(), runningFile)
}

func (d *Daemon) exitedPath() string {
	return filepath.Join(d.signalDir(), exitedFile)
}

func (d *Daemon) running() bool {
	_, err := os.Stat(d.runningPath())

	return err == nil
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	return f.Close()
}

// StartGC implements spec.md §4.F "start_gc(sr)": spawns the daemon and
// touches <run_dir>/<sr_unique_id>/gc-running. Recovery runs synchronously
// before this returns so a caller never observes the daemon as started
// while outstanding journal/refresh rows are unaddressed; the main loop
// itself runs in a background goroutine.
func (d *Daemon) StartGC(ctx context.Context) error {
	_ = os.Remove(d.exitedPath())
	if err := touch(d.runningPath()); err != nil {
		return err
	}

	if err := d.Recover(ctx); err != nil {
		return err
	}

	d.wg.Add(1)
	go d.loop(ctx)

	return nil
}

// StopGC implements spec.md §4.F "stop_gc(sr)": unlinks gc-running and
// waits for the daemon to touch gc-exited.
func (d *Daemon) StopGC(ctx context.Context) error {
	if err := os.Remove(d.runningPath()); err != nil && !os.IsNotExist(err) {
		return err
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Daemon) loop(ctx context.Context) {
	defer d.wg.Done()
	defer func() {
		if err := touch(d.exitedPath()); err != nil {
			vhdlog.Errorf(ctx, "gc: failed to touch gc-exited: %v", err)
		}
	}()

	for d.running() {
		found, err := d.iterate(ctx)
		if err != nil {
			vhdlog.Errorf(ctx, "gc: iteration error: %v", err)

			continue
		}
		if !found {
			d.sleepSlices(ctx)
		}
	}
}

// iterate runs one pass of the main loop: garbage sweep, candidate
// selection, coalesce, reparent, delete. It reports whether a coalesce
// candidate was found and processed.
func (d *Daemon) iterate(ctx context.Context) (bool, error) {
	if err := d.sweepGarbage(ctx); err != nil {
		return false, err
	}

	cand, ok, err := d.selectCandidate(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	// Unlock N then parent (spec.md §4.F step 5); defer runs LIFO so
	// unlockParent is deferred first.
	defer cand.unlockParent()
	defer cand.unlockNode()

	d.Metrics.IncCoalesceAttempt()
	if err := d.Tool.Coalesce(ctx, d.vhdPath(cand.node.ID)); err != nil {
		d.Metrics.IncCoalesceFailure()

		return true, err
	}

	if err := d.reparentAndDelete(ctx, cand); err != nil {
		d.Metrics.IncCoalesceFailure()

		return true, err
	}
	d.Metrics.IncCoalesceSuccess()

	return true, nil
}

// sleepSlices sleeps up to MaxSleep in SleepSlice increments, checking
// gc-running between each and waking early if fsnotify observes the signal
// directory change (e.g. stop_gc removing gc-running).
func (d *Daemon) sleepSlices(ctx context.Context) {
	wake := make(chan struct{}, 1)
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if werr := watcher.Add(d.signalDir()); werr == nil {
			go func() {
				select {
				case <-watcher.Events:
					select {
					case wake <- struct{}{}:
					default:
					}
				case <-watcher.Errors:
				}
			}()
		}
	}

	deadline := time.Now().Add(MaxSleep)
	for time.Now().Before(deadline) {
		if !d.running() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-wake:
			return
		case <-time.After(SleepSlice):
		}
	}
}

func (d *Daemon) vhdPath(id int64) string {
	return d.Provider.VolumePath(d.Handle, vhdName(id))
}

func vhdName(id int64) string {
	return strconv.FormatInt(id, 10)
}
