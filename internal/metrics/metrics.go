package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "device_updater"

// Outcome labels.
const (
	OutcomeAvailable = "available"
	OutcomeCurrent   = "current"
	OutcomeUpdated   = "updated"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeError     = "error"
)

// Collector holds the metric vectors and the registry they are served from.
type Collector struct {
	registry *prometheus.Registry

	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Downloads         *prometheus.CounterVec
	DownloadedBytes   prometheus.Counter
	Applies           *prometheus.CounterVec
}

// New creates a collector with its own registry.
func New() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of engine operations by outcome",
		}, []string{"operation", "outcome"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8), //nolint:mnd // 50ms to ~14min.
		}, []string{"operation"}),
		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Total number of artifact downloads by outcome",
		}, []string{"outcome"}),
		DownloadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Total number of artifact bytes written",
		}),
		Applies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "applies_total",
			Help:      "Total number of initramfs applies and image stagings by outcome",
		}, []string{"component", "outcome"}),
	}

	registry.MustRegister(c.Operations, c.OperationDuration, c.Downloads, c.DownloadedBytes, c.Applies)

	return c
}

// Registry returns the registry the collector registers into.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordOperation counts a finished engine operation.
func (c *Collector) RecordOperation(operation, outcome string, duration time.Duration) {
	if c == nil {
		return
	}

	c.Operations.WithLabelValues(operation, outcome).Inc()
	c.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDownload counts a download and the bytes it wrote.
func (c *Collector) RecordDownload(outcome string, bytes int64) {
	if c == nil {
		return
	}

	c.Downloads.WithLabelValues(outcome).Inc()

	if bytes > 0 {
		c.DownloadedBytes.Add(float64(bytes))
	}
}

// RecordApply counts an initramfs apply or an image staging.
func (c *Collector) RecordApply(component, outcome string) {
	if c == nil {
		return
	}

	c.Applies.WithLabelValues(component, outcome).Inc()
}
