// Package testutil provides synthetic telemetry traces and a scripted stats
// source for testing the adaptive bitrate controller under controlled
// network conditions.
package testutil

import (
	"sync"
	"time"

	"github.com/streamware/abr/pkg/abr"
	"github.com/streamware/abr/pkg/abr/internal"
)

// StableTrace generates samples for a healthy link: constant RTT, empty
// send buffer, steady throughput and advancing acknowledgments.
func StableTrace(clock *internal.MockClock, count, intervalMs, rttMs int, throughputMbps float64) []abr.TransportSample {
	samples := make([]abr.TransportSample, count)
	for i := 0; i < count; i++ {
		samples[i] = abr.TransportSample{
			RTTMs:          rttMs,
			SendBufferSize: 0,
			ThroughputMbps: throughputMbps,
			AckCount:       uint64(i + 1),
			Timestamp:      clock.Now(),
		}
		clock.Advance(time.Duration(intervalMs) * time.Millisecond)
	}
	return samples
}

// RTTRampTrace generates samples whose RTT grows linearly from startMs by
// stepMs per sample, simulating a queue building along the path.
func RTTRampTrace(clock *internal.MockClock, count, intervalMs, startMs, stepMs int) []abr.TransportSample {
	samples := make([]abr.TransportSample, count)
	for i := 0; i < count; i++ {
		samples[i] = abr.TransportSample{
			RTTMs:          startMs + i*stepMs,
			SendBufferSize: 0,
			ThroughputMbps: 2,
			AckCount:       uint64(i + 1),
			Timestamp:      clock.Now(),
		}
		clock.Advance(time.Duration(intervalMs) * time.Millisecond)
	}
	return samples
}

// BufferSurgeTrace generates samples with a low RTT but a send buffer that
// grows by growth packets per sample, simulating a choked uplink whose
// latency has not yet reacted.
func BufferSurgeTrace(clock *internal.MockClock, count, intervalMs, growth int) []abr.TransportSample {
	samples := make([]abr.TransportSample, count)
	for i := 0; i < count; i++ {
		samples[i] = abr.TransportSample{
			RTTMs:          40,
			SendBufferSize: (i + 1) * growth,
			ThroughputMbps: 2,
			AckCount:       uint64(i + 1),
			Timestamp:      clock.Now(),
		}
		clock.Advance(time.Duration(intervalMs) * time.Millisecond)
	}
	return samples
}

// Step is one scripted sampler response: a sample or an error.
type Step struct {
	Sample abr.TransportSample
	Err    error
}

// ScriptedSource replays a fixed sequence of sampler responses. After the
// script is exhausted it keeps returning the final step. Safe for
// concurrent use; the controller's sampler is the expected caller.
type ScriptedSource struct {
	mu    sync.Mutex
	steps []Step
	idx   int
}

// NewScriptedSource creates a source that replays steps in order.
func NewScriptedSource(steps ...Step) *ScriptedSource {
	return &ScriptedSource{steps: steps}
}

// Sample implements abr.StatsSource.
func (s *ScriptedSource) Sample() (abr.TransportSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return abr.TransportSample{}, abr.ErrNoSample
	}
	step := s.steps[s.idx]
	if s.idx < len(s.steps)-1 {
		s.idx++
	}
	return step.Sample, step.Err
}

// Append adds further steps to the script while it is running.
func (s *ScriptedSource) Append(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}
