package abr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsSmoother_Defaults(t *testing.T) {
	s := NewMetricsSmoother()
	m := s.Metrics()

	assert.Equal(t, float64(defaultRTTMin), m.RTTMin, "RTT floor default")
	assert.Equal(t, float64(defaultPrevRTT), m.PrevRTT, "previous RTT default")
	assert.Zero(t, m.RTTAvg)
	assert.Zero(t, m.RTTAvgDelta)
	assert.Zero(t, m.RTTJitter)
	assert.Zero(t, m.BufferAvg)
	assert.Zero(t, m.BufferJitter)
	assert.Zero(t, m.ThroughputAvg)
}

func TestMetricsSmoother_SeedsAverageFromFirstRTT(t *testing.T) {
	// The RTT average starts at the first observed RTT instead of crawling
	// up from zero at alpha=0.01.
	s := NewMetricsSmoother()
	s.Update(TransportSample{RTTMs: 100})

	assert.Equal(t, 100.0, s.Metrics().RTTAvg)
}

func TestMetricsSmoother_EWMAUpdate(t *testing.T) {
	s := NewMetricsSmoother()
	s.Update(TransportSample{RTTMs: 100})
	s.Update(TransportSample{RTTMs: 200})

	m := s.Metrics()
	// 200*0.01 + 100*0.99
	assert.InDelta(t, 101.0, m.RTTAvg, 1e-9)
	// First tick: (100-300)*0.2 = -40. Second: 100*0.2 + (-40)*0.8 = -12.
	assert.InDelta(t, -12.0, m.RTTAvgDelta, 1e-9)
	assert.Equal(t, 200.0, m.PrevRTT)
}

func TestMetricsSmoother_RTTFloorDriftsUpward(t *testing.T) {
	s := NewMetricsSmoother()
	s.Update(TransportSample{RTTMs: 100}) // snaps floor to 100

	for i := 0; i < 10; i++ {
		s.Update(TransportSample{RTTMs: 150})
	}
	m := s.Metrics()
	assert.Greater(t, m.RTTMin, 100.0, "floor must drift upward while RTT stays above it")
	assert.Less(t, m.RTTMin, 102.0, "drift is x1.001 per tick, nothing more")
}

func TestMetricsSmoother_RTTFloorSnapsDownWhenCalm(t *testing.T) {
	s := NewMetricsSmoother()
	// prevRtt default is 300, so the first delta is strongly negative: the
	// trend is calm and the snap-down is accepted.
	s.Update(TransportSample{RTTMs: 50})

	assert.Equal(t, 50.0, s.Metrics().RTTMin)
}

func TestMetricsSmoother_RTTFloorHoldsWhileRising(t *testing.T) {
	// A small dip below the floor during a sustained rise must not be
	// accepted as a new floor. The trend folds in before the floor check,
	// so the state is constructed directly.
	s := &MetricsSmoother{
		seeded: true,
		m: SmoothedMetrics{
			RTTAvg:      110,
			RTTAvgDelta: 50, // strongly rising
			RTTMin:      100,
			PrevRTT:     104,
		},
	}
	s.Update(TransportSample{RTTMs: 99})

	m := s.Metrics()
	// delta = -5, trend = 0.8*50 - 1 = 39: still rising, snap rejected.
	assert.InDelta(t, 39.0, m.RTTAvgDelta, 1e-9)
	assert.InDelta(t, 100*rttMinDrift, m.RTTMin, 1e-9, "floor only drifts, never snaps while rising")
}

func TestMetricsSmoother_JitterIsUpwardOnly(t *testing.T) {
	s := NewMetricsSmoother()
	s.Update(TransportSample{RTTMs: 100})
	s.Update(TransportSample{RTTMs: 180}) // +80 spike

	assert.Equal(t, 80.0, s.Metrics().RTTJitter)

	// An improvement spike is ignored; the estimate only decays.
	s.Update(TransportSample{RTTMs: 60}) // -120
	assert.InDelta(t, 80.0*jitterDecay, s.Metrics().RTTJitter, 1e-9)
}

func TestMetricsSmoother_BufferEstimates(t *testing.T) {
	s := NewMetricsSmoother()
	s.Update(TransportSample{RTTMs: 100, SendBufferSize: 100})

	m := s.Metrics()
	assert.InDelta(t, 1.0, m.BufferAvg, 1e-9)
	assert.Equal(t, 100.0, m.BufferJitter, "positive delta replaces the jitter estimate")
	assert.Equal(t, 100.0, m.PrevBuffer)

	s.Update(TransportSample{RTTMs: 100, SendBufferSize: 50})
	m = s.Metrics()
	assert.InDelta(t, 50*bufferAvgAlpha+1.0*(1-bufferAvgAlpha), m.BufferAvg, 1e-9)
	assert.InDelta(t, 99.0, m.BufferJitter, 1e-9, "negative delta only decays the estimate")
}

func TestMetricsSmoother_ThroughputAverage(t *testing.T) {
	s := NewMetricsSmoother()
	s.Update(TransportSample{ThroughputMbps: 10})
	assert.InDelta(t, 0.3, s.Metrics().ThroughputAvg, 1e-9)

	s.Update(TransportSample{ThroughputMbps: 10})
	assert.InDelta(t, 10*throughputGain+0.3*throughputDecay, s.Metrics().ThroughputAvg, 1e-9)
}

func TestMetricsSmoother_ResetRestoresDefaults(t *testing.T) {
	s := NewMetricsSmoother()
	for i := 0; i < 50; i++ {
		s.Update(TransportSample{RTTMs: 80, SendBufferSize: 20, ThroughputMbps: 3})
	}
	s.Reset()

	m := s.Metrics()
	assert.Equal(t, float64(defaultRTTMin), m.RTTMin)
	assert.Equal(t, float64(defaultPrevRTT), m.PrevRTT)
	assert.Zero(t, m.RTTAvg)

	// The next update re-seeds the average as if freshly started.
	s.Update(TransportSample{RTTMs: 42})
	assert.Equal(t, 42.0, s.Metrics().RTTAvg)
}
