// Package rkmetrics tracks schedule-execution statistics for one
// controller session: command counts, per-action dispatch counts, and
// a latency histogram over WAITSTATE barrier clears. It lives as an
// internal package, rather than directly on the scheduler or the
// public raikkonen package, so both internal/scheduler and the
// top-level package can depend on it without an import cycle.
package rkmetrics

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the waitstate-barrier latency histogram buckets
// in nanoseconds. Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks schedule-execution statistics for one controller session.
type Metrics struct {
	// Scheduler command counters
	EpochsExecuted    atomic.Uint64
	HandlersInstalled atomic.Uint64
	ResumesIssued     atomic.Uint64
	TimeoutsExecuted  atomic.Uint64
	WaitstatesEntered atomic.Uint64

	// EnterState dispatch counters, by handler action
	CallbackDispatches atomic.Uint64
	ContinueDispatches atomic.Uint64
	SleepDispatches    atomic.Uint64
	WaitDispatches     atomic.Uint64
	PanicDispatches    atomic.Uint64

	// Error counters
	NoHandlerErrors atomic.Uint64
	ProtocolErrors  atomic.Uint64

	// Waitstate barrier latency
	TotalBarrierLatencyNs atomic.Uint64
	BarrierCount          atomic.Uint64

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of barriers with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Session lifecycle
	StartTime atomic.Int64 // set by NewMetrics (UnixNano)
	StopTime  atomic.Int64 // set by Stop (UnixNano); 0 until Stop is called
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordEpoch records one executed epoch.
func (m *Metrics) RecordEpoch() { m.EpochsExecuted.Add(1) }

// RecordHandlerInstalled records one INSTALL_HANDLER command.
func (m *Metrics) RecordHandlerInstalled() { m.HandlersInstalled.Add(1) }

// RecordResume records one RESUME command.
func (m *Metrics) RecordResume() { m.ResumesIssued.Add(1) }

// RecordTimeout records one TIMEOUT command.
func (m *Metrics) RecordTimeout() { m.TimeoutsExecuted.Add(1) }

// RecordNoHandlerError records an EnterState call that found no handler
// matching the claimed ordinal.
func (m *Metrics) RecordNoHandlerError() { m.NoHandlerErrors.Add(1) }

// RecordProtocolError records a failed handshake or schedule negotiation.
func (m *Metrics) RecordProtocolError() { m.ProtocolErrors.Add(1) }

// RecordDispatch records an EnterState dispatch to the named action.
func (m *Metrics) RecordDispatch(action string) {
	switch action {
	case "CALLBACK":
		m.CallbackDispatches.Add(1)
	case "CONTINUE":
		m.ContinueDispatches.Add(1)
	case "SLEEP":
		m.SleepDispatches.Add(1)
	case "WAIT":
		m.WaitDispatches.Add(1)
	case "PANIC":
		m.PanicDispatches.Add(1)
	}
}

// RecordWaitstate records a WAITSTATE barrier clearing after latencyNs,
// updating the average accumulator and the bucketed histogram.
func (m *Metrics) RecordWaitstate(latencyNs uint64) {
	m.WaitstatesEntered.Add(1)
	m.BarrierCount.Add(1)
	m.TotalBarrierLatencyNs.Add(latencyNs)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the session as finished.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics, safe to read without races.
type MetricsSnapshot struct {
	EpochsExecuted    uint64
	HandlersInstalled uint64
	ResumesIssued     uint64
	TimeoutsExecuted  uint64
	WaitstatesEntered uint64

	CallbackDispatches uint64
	ContinueDispatches uint64
	SleepDispatches    uint64
	WaitDispatches     uint64
	PanicDispatches    uint64
	TotalDispatches    uint64

	NoHandlerErrors uint64
	ProtocolErrors  uint64

	AvgBarrierLatencyNs uint64
	BarrierCount        uint64

	// Latency percentiles across recorded waitstate barriers (nanoseconds)
	LatencyP50Ns uint64
	LatencyP99Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	UptimeNs uint64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		EpochsExecuted:    m.EpochsExecuted.Load(),
		HandlersInstalled: m.HandlersInstalled.Load(),
		ResumesIssued:     m.ResumesIssued.Load(),
		TimeoutsExecuted:  m.TimeoutsExecuted.Load(),
		WaitstatesEntered: m.WaitstatesEntered.Load(),

		CallbackDispatches: m.CallbackDispatches.Load(),
		ContinueDispatches: m.ContinueDispatches.Load(),
		SleepDispatches:    m.SleepDispatches.Load(),
		WaitDispatches:     m.WaitDispatches.Load(),
		PanicDispatches:    m.PanicDispatches.Load(),

		NoHandlerErrors: m.NoHandlerErrors.Load(),
		ProtocolErrors:  m.ProtocolErrors.Load(),

		BarrierCount: m.BarrierCount.Load(),
	}

	snap.TotalDispatches = snap.CallbackDispatches + snap.ContinueDispatches +
		snap.SleepDispatches + snap.WaitDispatches + snap.PanicDispatches

	if snap.BarrierCount > 0 {
		snap.AvgBarrierLatencyNs = m.TotalBarrierLatencyNs.Load() / snap.BarrierCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if snap.BarrierCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	total := m.BarrierCount.Load()
	if total == 0 {
		return 0
	}

	targetCount := uint64(float64(total) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Observer allows pluggable collection of scheduler runtime events. The
// scheduler's execution loop and its negotiation-failure path call it
// directly; EnterState's dispatch path in the top-level package records
// into its own Metrics instance instead.
type Observer interface {
	ObserveEpoch()
	ObserveHandlerInstalled()
	ObserveResume()
	ObserveTimeout()
	ObserveWaitstate(latencyNs uint64)
	ObserveDispatch(action string)
	ObserveProtocolError()
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveEpoch()            {}
func (NoOpObserver) ObserveHandlerInstalled() {}
func (NoOpObserver) ObserveResume()           {}
func (NoOpObserver) ObserveTimeout()          {}
func (NoOpObserver) ObserveWaitstate(uint64)  {}
func (NoOpObserver) ObserveDispatch(string)   {}
func (NoOpObserver) ObserveProtocolError()    {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveEpoch()            { o.metrics.RecordEpoch() }
func (o *MetricsObserver) ObserveHandlerInstalled() { o.metrics.RecordHandlerInstalled() }
func (o *MetricsObserver) ObserveResume()           { o.metrics.RecordResume() }
func (o *MetricsObserver) ObserveTimeout()          { o.metrics.RecordTimeout() }
func (o *MetricsObserver) ObserveProtocolError()    { o.metrics.RecordProtocolError() }

func (o *MetricsObserver) ObserveDispatch(action string) { o.metrics.RecordDispatch(action) }

func (o *MetricsObserver) ObserveWaitstate(latencyNs uint64) { o.metrics.RecordWaitstate(latencyNs) }

// Compile-time interface checks.
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
