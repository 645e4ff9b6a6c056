// Package abr implements closed-loop adaptive bitrate control for live,
// low-latency video transport sessions.
package abr

import "fmt"

// ControllerConfig bounds the controller's output and carries the transport
// session's latency budget. The invariant after normalization is
// MinBitrateFloor <= MinBitrateBps <= MaxBitrateBps <= MaxBitrateCeiling,
// with LatencyMs clamped to [MinLatencyMs, MaxLatencyMs].
type ControllerConfig struct {
	// MinBitrateBps is the lowest bitrate the controller will emit; also
	// the starting rate and the severe-congestion snap target.
	MinBitrateBps int64

	// MaxBitrateBps is the highest bitrate the controller will emit.
	MaxBitrateBps int64

	// LatencyMs is the configured end-to-end latency budget of the
	// transport session, used to derive RTT severity fractions.
	LatencyMs int
}

// DefaultControllerConfig returns the default configuration.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MinBitrateBps: 300_000,   // 300 kbps
		MaxBitrateBps: 6_000_000, // 6 Mbps
		LatencyMs:     2000,
	}
}

// normalize clamps the configuration into its valid range and rejects an
// inverted bitrate window.
func (c ControllerConfig) normalize() (ControllerConfig, error) {
	if c.MinBitrateBps < MinBitrateFloor {
		c.MinBitrateBps = MinBitrateFloor
	}
	if c.MaxBitrateBps > MaxBitrateCeiling {
		c.MaxBitrateBps = MaxBitrateCeiling
	}
	if c.MinBitrateBps > c.MaxBitrateBps {
		return c, fmt.Errorf("abr: min bitrate %d above max bitrate %d", c.MinBitrateBps, c.MaxBitrateBps)
	}
	if c.LatencyMs < MinLatencyMs {
		c.LatencyMs = MinLatencyMs
	}
	if c.LatencyMs > MaxLatencyMs {
		c.LatencyMs = MaxLatencyMs
	}
	return c, nil
}
