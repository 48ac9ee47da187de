package raikkonen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	assert.Equal(t, uint64(0), snap.EpochsExecuted)

	m.RecordEpoch()
	m.RecordEpoch()
	m.RecordHandlerInstalled()
	m.RecordResume()
	m.RecordTimeout()

	snap = m.Snapshot()
	assert.Equal(t, uint64(2), snap.EpochsExecuted)
	assert.Equal(t, uint64(1), snap.HandlersInstalled)
	assert.Equal(t, uint64(1), snap.ResumesIssued)
	assert.Equal(t, uint64(1), snap.TimeoutsExecuted)
}

func TestMetricsDispatchBreakdown(t *testing.T) {
	m := NewMetrics()

	m.RecordDispatch("CALLBACK")
	m.RecordDispatch("CALLBACK")
	m.RecordDispatch("WAIT")
	m.RecordDispatch("CONTINUE")
	m.RecordDispatch("unknown-action")

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.CallbackDispatches)
	assert.Equal(t, uint64(1), snap.WaitDispatches)
	assert.Equal(t, uint64(1), snap.ContinueDispatches)
	assert.Equal(t, uint64(4), snap.TotalDispatches)
}

func TestMetricsWaitstateLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordWaitstate(1_000_000)  // 1ms
	m.RecordWaitstate(2_000_000)  // 2ms

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.WaitstatesEntered)
	assert.Equal(t, uint64(2), snap.BarrierCount)
	assert.Equal(t, uint64(1_500_000), snap.AvgBarrierLatencyNs)
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)
	snap := m.Snapshot()
	assert.GreaterOrEqual(t, snap.UptimeNs, uint64(10*time.Millisecond))

	m.Stop()
	time.Sleep(5 * time.Millisecond)
	snap2 := m.Snapshot()
	assert.LessOrEqual(t, snap2.UptimeNs, snap.UptimeNs+uint64(2*time.Millisecond))
}

func TestObserverForwardsToMetrics(t *testing.T) {
	noop := &NoOpObserver{}
	noop.ObserveEpoch()
	noop.ObserveDispatch("CALLBACK")
	noop.ObserveWaitstate(1000)

	m := NewMetrics()
	observer := NewMetricsObserver(m)

	observer.ObserveEpoch()
	observer.ObserveDispatch("WAIT")
	observer.ObserveWaitstate(500_000)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.EpochsExecuted)
	assert.Equal(t, uint64(1), snap.WaitDispatches)
	assert.Equal(t, uint64(1), snap.WaitstatesEntered)
}

func TestMetricsHistogramPercentiles(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordWaitstate(500_000) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordWaitstate(5_000_000) // 5ms
	}
	m.RecordWaitstate(50_000_000) // 50ms

	snap := m.Snapshot()
	assert.Equal(t, uint64(100), snap.BarrierCount)
	assert.InDelta(t, float64(500_000), float64(snap.LatencyP50Ns), float64(500_000))
	assert.GreaterOrEqual(t, snap.LatencyP99Ns, uint64(5_000_000))

	var total uint64
	for _, c := range snap.LatencyHistogram {
		total += c
	}
	assert.Greater(t, total, uint64(0))
}
