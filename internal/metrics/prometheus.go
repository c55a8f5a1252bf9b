// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements the gomiramon MetricsCollector port using Prometheus.
type Collector struct {
	registry     *prometheus.Registry
	rowsDecoded  *prometheus.CounterVec
	rowCache     *prometheus.CounterVec
	bytesRead    *prometheus.CounterVec
	copyDuration *prometheus.HistogramVec
	warpDuration *prometheus.HistogramVec
	warpPixels   *prometheus.CounterVec
}

// NewCollector creates a new Prometheus metrics collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "gomiramon"
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		rowsDecoded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_decoded_total",
				Help:      "Total number of band rows decoded from storage",
			},
			[]string{"compression"},
		),

		rowCache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "row_cache_lookups_total",
				Help:      "Total number of decoded row cache lookups",
			},
			[]string{"result"},
		),

		bytesRead: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_read_total",
				Help:      "Total number of band bytes read",
			},
			[]string{"source"},
		),

		copyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "create_copy_duration_seconds",
				Help:      "Create-copy duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),

		warpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "warp_duration_seconds",
				Help:      "Reprojection duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kernel", "status"},
		),

		warpPixels: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "warp_pixels_total",
				Help:      "Total number of destination pixels processed",
			},
			[]string{"result"},
		),
	}
}

// Registry returns the registry the collector registers into.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// IncRowsDecoded counts a decoded row.
func (c *Collector) IncRowsDecoded(compression string) {
	c.rowsDecoded.WithLabelValues(compression).Inc()
}

// IncRowCache counts a row cache lookup.
func (c *Collector) IncRowCache(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	c.rowCache.WithLabelValues(result).Inc()
}

// AddBytesRead counts bytes read from a band source.
func (c *Collector) AddBytesRead(source string, n int) {
	c.bytesRead.WithLabelValues(source).Add(float64(n))
}

// ObserveCopyDuration records create-copy duration.
func (c *Collector) ObserveCopyDuration(duration time.Duration, success bool) {
	c.copyDuration.WithLabelValues(statusLabel(success)).Observe(duration.Seconds())
}

// ObserveWarpDuration records reprojection duration.
func (c *Collector) ObserveWarpDuration(kernel string, duration time.Duration, success bool) {
	c.warpDuration.WithLabelValues(kernel, statusLabel(success)).Observe(duration.Seconds())
}

// AddWarpPixels counts written and skipped destination pixels.
func (c *Collector) AddWarpPixels(written, skipped int64) {
	c.warpPixels.WithLabelValues("written").Add(float64(written))
	c.warpPixels.WithLabelValues("skipped").Add(float64(skipped))
}

// WriteTextfile writes the registry in the node-exporter textfile format.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
