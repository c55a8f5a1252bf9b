package gomiramon

import "time"

// MetricsCollector receives driver and warp observations.
type MetricsCollector interface {
	// IncRowsDecoded counts band rows decoded from storage.
	IncRowsDecoded(compression string)

	// IncRowCache counts row cache lookups.
	IncRowCache(hit bool)

	// AddBytesRead counts bytes read from a band source kind (mmap, file, http).
	AddBytesRead(source string, n int)

	// ObserveCopyDuration records a create-copy call.
	ObserveCopyDuration(duration time.Duration, success bool)

	// ObserveWarpDuration records a reprojection call.
	ObserveWarpDuration(kernel string, duration time.Duration, success bool)

	// AddWarpPixels counts destination pixels written or skipped.
	AddWarpPixels(written, skipped int64)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncRowsDecoded implements MetricsCollector.
func (n *NoOpMetrics) IncRowsDecoded(_ string) {}

// IncRowCache implements MetricsCollector.
func (n *NoOpMetrics) IncRowCache(_ bool) {}

// AddBytesRead implements MetricsCollector.
func (n *NoOpMetrics) AddBytesRead(_ string, _ int) {}

// ObserveCopyDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveCopyDuration(_ time.Duration, _ bool) {}

// ObserveWarpDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveWarpDuration(_ string, _ time.Duration, _ bool) {}

// AddWarpPixels implements MetricsCollector.
func (n *NoOpMetrics) AddWarpPixels(_, _ int64) {}
