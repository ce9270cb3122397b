// Package metrics exposes queue activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/handoff/internal/types"
)

// Collector records queue metrics on its own registry. All methods are safe
// to call on a nil Collector.
type Collector struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	persistErrors prometheus.Counter
	transfers     *prometheus.GaugeVec

	sweepsTotal   prometheus.Counter
	sweptTotal    prometheus.Counter
	sweepDuration prometheus.Histogram
}

// NewCollector creates a Collector whose metric names are prefixed with
// namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Applied transfer state transitions by target state",
			},
			[]string{"state"},
		),
		rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejections_total",
				Help:      "Transitions refused by a guard",
			},
			[]string{"operation", "reason"},
		),
		persistErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Snapshot writes that failed after an applied mutation",
		}),
		transfers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "transfers",
				Help:      "Current transfers by queue bucket",
			},
			[]string{"bucket"},
		),
		sweepsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Expiration sweeps run",
		}),
		sweptTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_total",
			Help:      "Transfers expired by the sweeper",
		}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Expiration sweep duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
}

func (c *Collector) RecordTransition(to types.State) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(string(to)).Inc()
}

func (c *Collector) RecordRejection(operation, reason string) {
	if c == nil {
		return
	}
	c.rejections.WithLabelValues(operation, reason).Inc()
}

func (c *Collector) RecordPersistError() {
	if c == nil {
		return
	}
	c.persistErrors.Inc()
}

// SetQueueStatus publishes the current queue buckets.
func (c *Collector) SetQueueStatus(qs types.QueueStatus) {
	if c == nil {
		return
	}
	c.transfers.WithLabelValues("pending").Set(float64(qs.PendingTransfers))
	c.transfers.WithLabelValues("active").Set(float64(qs.ActiveTransfers))
	c.transfers.WithLabelValues("completed").Set(float64(qs.CompletedTransfers))
	c.transfers.WithLabelValues("failed").Set(float64(qs.FailedTransfers))
	c.transfers.WithLabelValues("expired").Set(float64(qs.ExpiredTransfers))
}

func (c *Collector) RecordSweep(expired int, d time.Duration) {
	if c == nil {
		return
	}
	c.sweepsTotal.Inc()
	c.sweptTotal.Add(float64(expired))
	c.sweepDuration.Observe(d.Seconds())
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
