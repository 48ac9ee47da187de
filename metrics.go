package raikkonen

import "github.com/ehrlich-b/raikkonen/internal/rkmetrics"

// Metrics tracks schedule-execution statistics for one controller session.
// It is a thin re-export of internal/rkmetrics, the same way Callback
// re-exports rkconfig.Callback: the scheduler records into it directly
// (including negotiation failures), so the type itself has to live
// somewhere both they and this package can reach without a cycle.
type Metrics = rkmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of Metrics, safe to read without races.
type MetricsSnapshot = rkmetrics.MetricsSnapshot

// Observer allows pluggable collection of scheduler runtime events.
type Observer = rkmetrics.Observer

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver = rkmetrics.NoOpObserver

// MetricsObserver implements Observer using a Metrics instance.
type MetricsObserver = rkmetrics.MetricsObserver

// LatencyBuckets defines the waitstate-barrier latency histogram buckets in nanoseconds.
var LatencyBuckets = rkmetrics.LatencyBuckets

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics { return rkmetrics.NewMetrics() }

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver { return rkmetrics.NewMetricsObserver(m) }
