package abr

import (
	"math"
	"math/rand"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamware/abr/pkg/abr/internal"
)

// TestSoak24Hour_Accelerated runs 24 simulated hours of decision ticks against
// a random-walk link. Uses MockClock to simulate time progression without
// waiting.
//
// Verifies:
//   - The target never leaves the configured bitrate window
//   - Smoothed metrics stay finite (no NaN/Inf drift in the EWMAs)
//   - No memory leaks (bounded heap growth)
func TestSoak24Hour_Accelerated(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping 24-hour soak test in short mode")
	}

	const (
		simulatedHours = 24
		tickIntervalMs = 20
		ticksPerHour   = 60 * 60 * 1000 / tickIntervalMs // 180,000
		totalTicks     = simulatedHours * ticksPerHour
		memoryLimitMB  = 100
	)

	clock := internal.NewMockClock(time.Now())
	cfg := DefaultControllerConfig()

	smoother := NewMetricsSmoother()
	engine := NewDecisionEngine(cfg.MinBitrateBps, clock.Now())

	var startMemStats, currentMemStats runtime.MemStats
	runtime.ReadMemStats(&startMemStats)

	rng := rand.New(rand.NewSource(42))
	link := soakLink{rtt: 50, ack: 0}
	ticksProcessed := 0

	t.Logf("Starting 24-hour soak test: %d ticks across %d simulated hours",
		totalTicks, simulatedHours)

	for hour := 0; hour < simulatedHours; hour++ {
		for i := 0; i < ticksPerHour; i++ {
			sample := link.step(rng, clock.Now())

			smoother.Update(sample)
			m := smoother.Metrics()
			th := ComputeThresholds(m, cfg.LatencyMs)
			target, _ := engine.Decide(sample, m, th, cfg, clock.Now())

			if target < cfg.MinBitrateBps || target > cfg.MaxBitrateBps {
				t.Fatalf("Hour %d: target %d outside [%d, %d] at tick %d",
					hour, target, cfg.MinBitrateBps, cfg.MaxBitrateBps, ticksProcessed)
			}
			if math.IsNaN(m.RTTAvg) || math.IsInf(m.RTTAvg, 0) ||
				math.IsNaN(m.BufferAvg) || math.IsInf(m.BufferAvg, 0) {
				t.Fatalf("Hour %d: non-finite smoothed metric at tick %d: %+v",
					hour, ticksProcessed, m)
			}

			clock.Advance(tickIntervalMs * time.Millisecond)
			ticksProcessed++
		}

		// Hourly health check
		runtime.ReadMemStats(&currentMemStats)
		heapMB := float64(currentMemStats.HeapAlloc) / (1024 * 1024)
		t.Logf("Hour %2d: HeapAlloc=%.2f MB, NumGC=%d, Target=%d bps, RTTAvg=%.1f ms",
			hour+1, heapMB, currentMemStats.NumGC, engine.Target(), smoother.Metrics().RTTAvg)

		if heapMB > memoryLimitMB {
			t.Fatalf("Memory limit exceeded: %.2f MB > %d MB limit", heapMB, memoryLimitMB)
		}
	}

	runtime.ReadMemStats(&currentMemStats)
	t.Logf("\n=== Soak Test Complete ===")
	t.Logf("Total ticks processed: %d", ticksProcessed)
	t.Logf("Final target: %d bps", engine.Target())
	t.Logf("Start HeapAlloc: %.2f MB", float64(startMemStats.HeapAlloc)/(1024*1024))
	t.Logf("Final HeapAlloc: %.2f MB", float64(currentMemStats.HeapAlloc)/(1024*1024))

	assert.Equal(t, totalTicks, ticksProcessed)
	assert.GreaterOrEqual(t, engine.Target(), cfg.MinBitrateBps)
	assert.LessOrEqual(t, engine.Target(), cfg.MaxBitrateBps)
}

// TestSoak1Hour_Accelerated is a shorter soak test for regular CI runs.
func TestSoak1Hour_Accelerated(t *testing.T) {
	const (
		tickIntervalMs = 20
		totalTicks     = 60 * 60 * 1000 / tickIntervalMs
	)

	clock := internal.NewMockClock(time.Now())
	cfg := DefaultControllerConfig()

	smoother := NewMetricsSmoother()
	engine := NewDecisionEngine(cfg.MinBitrateBps, clock.Now())

	rng := rand.New(rand.NewSource(7))
	link := soakLink{rtt: 50, ack: 0}

	for i := 0; i < totalTicks; i++ {
		sample := link.step(rng, clock.Now())
		smoother.Update(sample)
		m := smoother.Metrics()
		target, _ := engine.Decide(sample, m, ComputeThresholds(m, cfg.LatencyMs), cfg, clock.Now())

		require.GreaterOrEqual(t, target, cfg.MinBitrateBps)
		require.LessOrEqual(t, target, cfg.MaxBitrateBps)
		require.False(t, math.IsNaN(m.RTTAvg), "RTT average should stay finite")

		clock.Advance(tickIntervalMs * time.Millisecond)
	}

	t.Logf("1-hour test: %d ticks, final target=%d bps, RTTAvg=%.1f ms",
		totalTicks, engine.Target(), smoother.Metrics().RTTAvg)
}

// soakLink is a random-walk link model: RTT wanders between a floor and a
// congested ceiling, with the send buffer surging whenever the RTT runs high.
type soakLink struct {
	rtt int
	ack uint64
}

func (l *soakLink) step(rng *rand.Rand, now time.Time) TransportSample {
	l.rtt += rng.Intn(11) - 5
	if l.rtt < 20 {
		l.rtt = 20
	}
	if l.rtt > 800 {
		l.rtt = 800
	}

	buffer := 0
	if l.rtt > 300 {
		buffer = (l.rtt - 300) * 10
	}

	l.ack++
	return TransportSample{
		RTTMs:          l.rtt,
		SendBufferSize: buffer,
		ThroughputMbps: 2 + rng.Float64(),
		AckCount:       l.ack,
		Timestamp:      now,
	}
}
