// Package metrics exposes the coalesce daemon's and volume engine's
// operational counters as Prometheus metrics, grounded on
// ceph-ceph-csi/internal/util/metrics.go and cuemby-warren's
// prometheus/client_golang registration pattern.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric this system exports. A nil *Collector is
// valid and every method on it becomes a no-op, so callers that don't wire
// metrics (e.g. unit tests) don't need a stub implementation.
type Collector struct {
	registry *prometheus.Registry

	garbageReclaimed   prometheus.Counter
	coalesceAttempts   prometheus.Counter
	coalesceSuccesses  prometheus.Counter
	coalesceFailures   prometheus.Counter
	lockContentionSkip prometheus.Counter
	journalBacklog     prometheus.Gauge
	refreshBacklog     prometheus.Gauge
}

// NewCollector builds and registers every metric on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		garbageReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vhdsr",
			Subsystem: "gc",
			Name:      "garbage_vhds_reclaimed_total",
			Help:      "Total VHDs destroyed by the garbage sweep step.",
		}),
		coalesceAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vhdsr",
			Subsystem: "gc",
			Name:      "coalesce_attempts_total",
			Help:      "Total non-leaf coalesce candidates selected.",
		}),
		coalesceSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vhdsr",
			Subsystem: "gc",
			Name:      "coalesce_successes_total",
			Help:      "Total coalesce passes that completed through node deletion.",
		}),
		coalesceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vhdsr",
			Subsystem: "gc",
			Name:      "coalesce_failures_total",
			Help:      "Total coalesce passes aborted by a tool or metabase error.",
		}),
		lockContentionSkip: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vhdsr",
			Subsystem: "gc",
			Name:      "lock_contention_skips_total",
			Help:      "Total candidates skipped because a parent or node lock was held.",
		}),
		journalBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vhdsr",
			Subsystem: "gc",
			Name:      "journal_backlog",
			Help:      "Outstanding journal rows observed at daemon startup.",
		}),
		refreshBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vhdsr",
			Subsystem: "gc",
			Name:      "refresh_backlog",
			Help:      "Outstanding refresh rows observed at daemon startup.",
		}),
	}
	reg.MustRegister(
		c.garbageReclaimed, c.coalesceAttempts, c.coalesceSuccesses,
		c.coalesceFailures, c.lockContentionSkip, c.journalBacklog, c.refreshBacklog,
	)

	return c
}

// Handler returns an http.Handler exposing the registry in the Prometheus
// exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) IncGarbageReclaimed() {
	if c == nil {
		return
	}
	c.garbageReclaimed.Inc()
}

func (c *Collector) IncCoalesceAttempt() {
	if c == nil {
		return
	}
	c.coalesceAttempts.Inc()
}

func (c *Collector) IncCoalesceSuccess() {
	if c == nil {
		return
	}
	c.coalesceSuccesses.Inc()
}

func (c *Collector) IncCoalesceFailure() {
	if c == nil {
		return
	}
	c.coalesceFailures.Inc()
}

func (c *Collector) IncLockContentionSkip() {
	if c == nil {
		return
	}
	c.lockContentionSkip.Inc()
}

func (c *Collector) SetJournalBacklog(n int) {
	if c == nil {
		return
	}
	c.journalBacklog.Set(float64(n))
}

func (c *Collector) SetRefreshBacklog(n int) {
	if c == nil {
		return
	}
	c.refreshBacklog.Set(float64(n))
}
