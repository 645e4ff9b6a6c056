// Package abr implements closed-loop adaptive bitrate control for live,
// low-latency video transport sessions.
package abr

// Smoothing coefficients. None are configurable and none depend on wall-clock
// tick spacing: they assume the roughly constant decision-loop period.
const (
	rttAvgAlpha      = 0.01  // EWMA weight for the RTT average
	rttDeltaAlpha    = 0.2   // EWMA weight for the RTT trend
	rttMinDrift      = 1.001 // upward drift of the RTT floor per tick
	jitterDecay      = 0.99  // per-tick decay of the spike estimators
	bufferAvgAlpha   = 0.01  // EWMA weight for the buffer average
	throughputDecay  = 0.97  // retained fraction of the throughput average
	throughputGain   = 0.03  // sample weight of the throughput average
	trendSnapCeiling = 1.0   // max RTT trend under which the floor may snap down
)

// Defaults the smoothed state is reset to on start.
const (
	defaultRTTMin  = 200
	defaultPrevRTT = 300
)

// SmoothedMetrics holds the exponentially smoothed estimates derived from
// the raw telemetry stream. It is exclusively owned by the decision loop:
// mutated once per tick by a single writer and only ever exposed by value.
type SmoothedMetrics struct {
	// RTTAvg is the long-horizon EWMA of the round-trip time, seeded from
	// the first observed RTT to avoid a cold-start spike.
	RTTAvg float64

	// RTTAvgDelta is the EWMA of rtt - prevRtt, the controller's trend
	// signal. Positive values mean RTT is rising.
	RTTAvgDelta float64

	// RTTMin estimates the uncongested RTT floor. It drifts upward slowly
	// so a stale floor cannot pin the recovery threshold forever.
	RTTMin float64

	// RTTJitter is a decaying, upward-only spike estimate: the largest
	// recent positive RTT change. Improvement spikes are ignored.
	RTTJitter float64

	// PrevRTT is the previous tick's raw RTT.
	PrevRTT float64

	// BufferAvg is the EWMA of the send-buffer occupancy.
	BufferAvg float64

	// BufferJitter is the upward-only spike estimate of the buffer
	// occupancy, symmetric in construction to RTTJitter.
	BufferJitter float64

	// PrevBuffer is the previous tick's raw buffer occupancy.
	PrevBuffer float64

	// ThroughputAvg is the EWMA of the measured throughput in Mbps.
	ThroughputAvg float64
}

// MetricsSmoother updates a SmoothedMetrics record once per decision tick.
// It has no error conditions: given a well-formed sample it always succeeds.
type MetricsSmoother struct {
	m      SmoothedMetrics
	seeded bool
}

// NewMetricsSmoother creates a smoother with all estimates at their start
// defaults.
func NewMetricsSmoother() *MetricsSmoother {
	s := &MetricsSmoother{}
	s.Reset()
	return s
}

// Reset restores the start defaults. A restarted controller begins from
// these values; nothing carries over.
func (s *MetricsSmoother) Reset() {
	s.m = SmoothedMetrics{
		RTTMin:  defaultRTTMin,
		PrevRTT: defaultPrevRTT,
	}
	s.seeded = false
}

// Update folds one sample into the smoothed estimates. Update order is
// fixed: RTT average, trend, floor, jitter, then buffer average, buffer
// jitter, throughput average.
func (s *MetricsSmoother) Update(sample TransportSample) {
	rtt := float64(sample.RTTMs)
	buffer := float64(sample.SendBufferSize)

	if !s.seeded {
		s.m.RTTAvg = rtt
		s.seeded = true
	} else {
		s.m.RTTAvg = rtt*rttAvgAlpha + s.m.RTTAvg*(1-rttAvgAlpha)
	}

	delta := rtt - s.m.PrevRTT
	s.m.RTTAvgDelta = delta*rttDeltaAlpha + s.m.RTTAvgDelta*(1-rttDeltaAlpha)

	// The floor drifts upward every tick and snaps down to the current RTT
	// only while RTT is not actively rising. A new floor observed during a
	// rise is a transient, not a floor.
	s.m.RTTMin *= rttMinDrift
	if rtt < s.m.RTTMin && s.m.RTTAvgDelta < trendSnapCeiling {
		s.m.RTTMin = rtt
	}

	s.m.RTTJitter *= jitterDecay
	if delta > s.m.RTTJitter {
		s.m.RTTJitter = delta
	}
	s.m.PrevRTT = rtt

	s.m.BufferAvg = buffer*bufferAvgAlpha + s.m.BufferAvg*(1-bufferAvgAlpha)

	bufferDelta := buffer - s.m.PrevBuffer
	s.m.BufferJitter *= jitterDecay
	if bufferDelta > s.m.BufferJitter {
		s.m.BufferJitter = bufferDelta
	}
	s.m.PrevBuffer = buffer

	s.m.ThroughputAvg = s.m.ThroughputAvg*throughputDecay + sample.ThroughputMbps*throughputGain
}

// Metrics returns a copy of the current smoothed estimates.
func (s *MetricsSmoother) Metrics() SmoothedMetrics {
	return s.m
}
