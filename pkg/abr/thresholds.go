// Package abr implements closed-loop adaptive bitrate control for live,
// low-latency video transport sessions.
package abr

// Thresholds are the congestion boundaries derived from the smoothed
// estimates and the current configuration. They are recomputed every tick
// before the decision step, never persisted: they depend on metrics that
// changed this tick.
type Thresholds struct {
	// BufferTh1 is the light congestion boundary for send-buffer occupancy.
	BufferTh1 float64

	// BufferTh2 is the heavy congestion boundary, capped at the occupancy
	// equivalent of half the latency budget.
	BufferTh2 float64

	// BufferTh3 is the saturation boundary: occupancy beyond it snaps the
	// bitrate to the floor.
	BufferTh3 float64

	// RTTMax is the adaptive upper RTT boundary; RTT above it is light
	// congestion.
	RTTMax float64

	// RTTMin is the recovery boundary; RTT must stay below it before the
	// bitrate may increase.
	RTTMin float64
}

// ComputeThresholds derives the congestion thresholds from the smoothed
// metrics and the latency budget. Pure function: no side effects, no state.
func ComputeThresholds(m SmoothedMetrics, latencyMs int) Thresholds {
	th2 := max(50, m.BufferAvg+max(m.BufferJitter*3, m.BufferAvg))
	if budget := bufferEquivalentOf(m.ThroughputAvg, float64(latencyMs)/2); th2 > budget {
		th2 = budget
	}

	return Thresholds{
		BufferTh1: max(50, m.BufferAvg+m.BufferJitter*2.5),
		BufferTh2: th2,
		BufferTh3: (m.BufferAvg + m.BufferJitter) * 4,
		RTTMax:    m.RTTAvg + max(m.RTTJitter*4, m.RTTAvg*0.15),
		RTTMin:    m.RTTMin + max(1, m.RTTJitter*2),
	}
}

// bufferEquivalentOf converts a time budget in milliseconds into the number
// of transport packets the link delivers in that time at the given average
// throughput. Mbps to bytes per millisecond is a factor of 125.
func bufferEquivalentOf(throughputMbps, ms float64) float64 {
	return throughputMbps * 125 * ms / PacketSizeBytes
}
