// Package abr implements closed-loop adaptive bitrate control for live,
// low-latency video transport sessions.
package abr

import (
	"errors"
	"time"
)

// Transport constants shared across the controller.
const (
	// PacketSizeBytes is the fixed transport payload size used to convert a
	// time budget into an equivalent number of buffered packets.
	PacketSizeBytes = 1316

	// MinBitrateFloor is the absolute lower bound for any configured bitrate,
	// one rounding quantum of the actuator.
	MinBitrateFloor = 100_000

	// MaxBitrateCeiling is the absolute upper bound for any configured bitrate.
	MaxBitrateCeiling = 100_000_000

	// MinLatencyMs and MaxLatencyMs bound the configurable latency budget.
	MinLatencyMs = 100
	MaxLatencyMs = 10_000
)

// Errors returned by the controller and its collaborators.
var (
	// ErrNoSample indicates a stats source has no telemetry to report yet.
	ErrNoSample = errors.New("abr: no transport sample available")

	// ErrMalformedSample indicates a telemetry reading with negative fields.
	ErrMalformedSample = errors.New("abr: malformed transport sample")
)

// TransportSample is one raw telemetry reading for the active session.
// Produced externally by a StatsSource; immutable once created.
type TransportSample struct {
	// RTTMs is the measured round-trip time in milliseconds.
	RTTMs int

	// SendBufferSize is the send-buffer occupancy: the amount of
	// unacknowledged or queued outbound data held by the transport,
	// in packets.
	SendBufferSize int

	// ThroughputMbps is the measured outbound throughput in megabits
	// per second.
	ThroughputMbps float64

	// PacketLossPct is the measured packet loss in percent [0, 100].
	PacketLossPct float64

	// AckCount is the cumulative number of acknowledged packets since the
	// session started. Consumed only by the liveness watchdog.
	AckCount uint64

	// Timestamp is when the sample was taken.
	Timestamp time.Time
}

// valid reports whether the sample is well formed. Zero values are accepted:
// a zero-magnitude signal is indistinguishable from an idle, excellent link
// and is deliberately treated as such.
func (s TransportSample) valid() bool {
	return s.RTTMs >= 0 && s.SendBufferSize >= 0 && s.ThroughputMbps >= 0 && s.PacketLossPct >= 0
}

// StatsSource produces telemetry for the active transport session.
// Implementations must not block indefinitely; a slow or failed read should
// return an error and let the controller skip the tick.
type StatsSource interface {
	// Sample returns the most recent telemetry reading, or an error when
	// none is available. Called once per sampler period.
	Sample() (TransportSample, error)
}

// Encoder is the actuation surface: the live encoder (or encoder-owning
// session) whose output bitrate the controller drives. Implementations may
// pause and resume the media pipeline around the reconfiguration; the
// actuator guarantees calls are serialized and never overlap.
type Encoder interface {
	// SetBitrate reconfigures the encoder's target bitrate in bits per
	// second. An error is logged by the actuator but never rolled back.
	SetBitrate(bps int64) error
}

// AdjustmentReason explains the most recent bitrate decision. It is derived
// by re-checking the decision conditions in priority order, independent of
// whether the acting branch actually changed the rate, so a reason is still
// reported when a decrease ties at the configured floor.
type AdjustmentReason int

const (
	// ReasonStable indicates no adjustment condition held.
	ReasonStable AdjustmentReason = iota
	// ReasonSevereRTTCongestion indicates RTT reached a third of the
	// latency budget and the rate was snapped to the floor.
	ReasonSevereRTTCongestion
	// ReasonSevereBufferCongestion indicates the send buffer passed the
	// saturation threshold and the rate was snapped to the floor.
	ReasonSevereBufferCongestion
	// ReasonHeavyRTTCongestion indicates RTT passed a fifth of the latency
	// budget, triggering a proportional decrease.
	ReasonHeavyRTTCongestion
	// ReasonHeavyBufferCongestion indicates the send buffer passed the
	// heavy threshold, triggering a proportional decrease.
	ReasonHeavyBufferCongestion
	// ReasonLightRTTCongestion indicates RTT drifted above its adaptive
	// threshold, triggering a fixed-step decrease.
	ReasonLightRTTCongestion
	// ReasonLightBufferCongestion indicates the send buffer drifted above
	// its light threshold, triggering a fixed-step decrease.
	ReasonLightBufferCongestion
	// ReasonGoodConditionsIncreasing indicates a low, non-rising RTT opened
	// the recovery path and the rate was increased.
	ReasonGoodConditionsIncreasing
)

// String returns a string representation of the AdjustmentReason.
func (r AdjustmentReason) String() string {
	switch r {
	case ReasonStable:
		return "Stable"
	case ReasonSevereRTTCongestion:
		return "SevereRttCongestion"
	case ReasonSevereBufferCongestion:
		return "SevereBufferCongestion"
	case ReasonHeavyRTTCongestion:
		return "HeavyRttCongestion"
	case ReasonHeavyBufferCongestion:
		return "HeavyBufferCongestion"
	case ReasonLightRTTCongestion:
		return "LightRttCongestion"
	case ReasonLightBufferCongestion:
		return "LightBufferCongestion"
	case ReasonGoodConditionsIncreasing:
		return "GoodConditionsIncreasing"
	default:
		return "Unknown"
	}
}

// ControllerState is the immutable snapshot published to observers after
// every processed tick.
type ControllerState struct {
	// CurrentBitrateBps is the last bitrate actually applied to the encoder
	// (post-rounding, post-throttle).
	CurrentBitrateBps int64

	// TargetBitrateBps is the decision engine's value, which tracks every
	// tick regardless of actuation throttling.
	TargetBitrateBps int64

	// LastSample is the raw telemetry reading behind this decision.
	LastSample TransportSample

	// Reason explains the decision.
	Reason AdjustmentReason

	// Time is when the decision tick ran.
	Time time.Time
}
