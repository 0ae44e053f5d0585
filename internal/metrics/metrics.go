// Package metrics exposes relay and storage telemetry as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records interceptor, replay and storage metrics.
type Collector struct {
	registry *prometheus.Registry

	intercepted   *prometheus.CounterVec
	replayed      *prometheus.CounterVec
	replayPasses  *prometheus.CounterVec
	replayLatency prometheus.Histogram
	pending       *prometheus.GaugeVec
	pruned        prometheus.Counter

	storageWrite  prometheus.Histogram
	storageRead   prometheus.Histogram
	storageCommit prometheus.Histogram
	storageBytes  *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "tether"
	}
	c := &Collector{registry: prometheus.NewRegistry()}

	c.intercepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Requests handled by the interceptor by method and outcome.",
		},
		[]string{"method", "outcome"},
	)
	c.replayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "records_total",
			Help:      "Queued records successfully replayed.",
		},
		[]string{"tenant"},
	)
	c.replayPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "passes_total",
			Help:      "Replay passes by result (drained, stopped, error).",
		},
		[]string{"result"},
	)
	c.replayLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "pass_duration_seconds",
			Help:      "Duration of replay passes.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)
	c.pending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "pending_records",
			Help:      "Pending records per tenant as of the last enqueue or replay.",
		},
		[]string{"tenant"},
	)
	c.pruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "pruned_records_total",
			Help:      "Records dropped by the expiry sweeper.",
		},
	)

	c.storageWrite = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "write_duration_seconds",
			Help:      "Latency of single-key writes.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)
	c.storageRead = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "read_duration_seconds",
			Help:      "Latency of point reads.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)
	c.storageCommit = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "batch_commit_duration_seconds",
			Help:      "Latency of batch commits.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)
	c.storageBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "bytes_total",
			Help:      "Bytes moved through the storage layer by operation.",
		},
		[]string{"op"},
	)

	c.registry.MustRegister(
		c.intercepted,
		c.replayed,
		c.replayPasses,
		c.replayLatency,
		c.pending,
		c.pruned,
		c.storageWrite,
		c.storageRead,
		c.storageCommit,
		c.storageBytes,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordIntercept counts one intercepted request.
func (c *Collector) RecordIntercept(method, outcome string) {
	c.intercepted.WithLabelValues(method, outcome).Inc()
}

// RecordReplay records a finished replay pass.
func (c *Collector) RecordReplay(tenant string, replayed int, result string, d time.Duration) {
	if replayed > 0 {
		c.replayed.WithLabelValues(tenant).Add(float64(replayed))
	}
	c.replayPasses.WithLabelValues(result).Inc()
	c.replayLatency.Observe(d.Seconds())
}

// RecordPending sets the pending gauge for a tenant.
func (c *Collector) RecordPending(tenant string, n int) {
	if n == 0 {
		c.pending.DeleteLabelValues(tenant)
		return
	}
	c.pending.WithLabelValues(tenant).Set(float64(n))
}

// RecordPruned counts records dropped by expiry.
func (c *Collector) RecordPruned(n int) {
	c.pruned.Add(float64(n))
}

// ObserveWrite implements the storage metrics hook.
func (c *Collector) ObserveWrite(d time.Duration, bytes int) {
	c.storageWrite.Observe(d.Seconds())
	c.storageBytes.WithLabelValues("write").Add(float64(bytes))
}

// ObserveRead implements the storage metrics hook.
func (c *Collector) ObserveRead(d time.Duration, bytes int) {
	c.storageRead.Observe(d.Seconds())
	c.storageBytes.WithLabelValues("read").Add(float64(bytes))
}

// ObserveBatchCommit implements the storage metrics hook.
func (c *Collector) ObserveBatchCommit(d time.Duration, numOps int, bytes int) {
	c.storageCommit.Observe(d.Seconds())
	c.storageBytes.WithLabelValues("batch").Add(float64(bytes))
}
