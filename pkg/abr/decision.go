// Package abr implements closed-loop adaptive bitrate control for live,
// low-latency video transport sessions.
package abr

import "time"

// Decision timing and step constants.
const (
	severeDecreaseCooldown = 200 * time.Millisecond
	heavyDecreaseCooldown  = 250 * time.Millisecond
	lightDecreaseCooldown  = 200 * time.Millisecond
	increaseCooldown       = 500 * time.Millisecond

	decreaseStep = 100_000 // fixed component of every decrease
	increaseStep = 30_000  // fixed component of every increase

	heavyDecreaseDivisor = 10 // proportional component: cur/10 extra shed
	increaseDivisor      = 30 // proportional component: cur/30 extra gain

	// trendIncreaseCeiling is the max RTT trend under which recovery is
	// allowed. Recovery must never race ahead of actual headroom.
	trendIncreaseCeiling = 0.01
)

// DecisionEngine is the control state machine over one discrete variable,
// the current target bitrate. Every tick it evaluates an ordered, mutually
// exclusive rule set; the first matching rule wins:
//
//	Priority | Condition                                   | Action
//	---------+---------------------------------------------+----------------------
//	severe   | rtt >= latency/3 OR buffer > bufferTh3      | snap to min bitrate
//	heavy    | rtt > latency/5  OR buffer > bufferTh2      | -(100k + cur/10)
//	light    | rtt > rttMax     OR buffer > bufferTh1      | -100k
//	recovery | rtt < rttMin AND trend < 0.01               | +(30k + cur/30)
//	stable   | none of the above                           | no change
//
// The severe rule is a circuit breaker for imminent stall and bypasses the
// decrease cooldown entirely. Heavy and light decreases are gated by short
// cooldowns so one congestion event cannot trigger several decrements before
// its effect is observed. Recovery is the slowest, most cautiously gated
// transition and the only exit back toward a higher bitrate.
//
// The engine is owned by the decision loop: single writer, no locking.
type DecisionEngine struct {
	current int64

	// Timing gates, mutated only when an increase or decrease fires.
	nextIncreaseAt time.Time
	nextDecreaseAt time.Time
}

// NewDecisionEngine creates an engine positioned at startBitrate, with
// decreases allowed immediately and the first increase gated one full
// increase cooldown away from now.
func NewDecisionEngine(startBitrate int64, now time.Time) *DecisionEngine {
	return &DecisionEngine{
		current:        startBitrate,
		nextIncreaseAt: now.Add(increaseCooldown),
		nextDecreaseAt: now,
	}
}

// Decide runs one tick of the rule set and returns the (possibly unchanged)
// target bitrate together with the adjustment reason. The result is always
// clamped to [cfg.MinBitrateBps, cfg.MaxBitrateBps].
func (e *DecisionEngine) Decide(sample TransportSample, m SmoothedMetrics, th Thresholds, cfg ControllerConfig, now time.Time) (int64, AdjustmentReason) {
	rtt := float64(sample.RTTMs)
	buffer := float64(sample.SendBufferSize)
	latency := float64(cfg.LatencyMs)

	// Derive the reason from the pre-tick gates: the acting rule moves its
	// gate into the future, which would otherwise mask its own reason.
	reason := e.reason(rtt, buffer, latency, m, th, now)

	switch {
	case e.current > cfg.MinBitrateBps && (rtt >= latency/3 || buffer > th.BufferTh3):
		e.current = cfg.MinBitrateBps
		e.nextDecreaseAt = now.Add(severeDecreaseCooldown)

	case now.After(e.nextDecreaseAt) && (rtt > latency/5 || buffer > th.BufferTh2):
		e.current -= decreaseStep + e.current/heavyDecreaseDivisor
		e.nextDecreaseAt = now.Add(heavyDecreaseCooldown)

	case now.After(e.nextDecreaseAt) && (rtt > th.RTTMax || buffer > th.BufferTh1):
		e.current -= decreaseStep
		e.nextDecreaseAt = now.Add(lightDecreaseCooldown)

	case now.After(e.nextIncreaseAt) && rtt < th.RTTMin && m.RTTAvgDelta < trendIncreaseCeiling:
		e.current += increaseStep + e.current/increaseDivisor
		e.nextIncreaseAt = now.Add(increaseCooldown)
	}

	if e.current < cfg.MinBitrateBps {
		e.current = cfg.MinBitrateBps
	}
	if e.current > cfg.MaxBitrateBps {
		e.current = cfg.MaxBitrateBps
	}

	return e.current, reason
}

// reason re-checks the rule conditions in priority order, independent of
// which branch acted. The severe re-check drops the bitrate-position
// precondition so a rate already pinned at the floor still reports severe
// congestion; the gated rules keep their gates.
func (e *DecisionEngine) reason(rtt, buffer, latency float64, m SmoothedMetrics, th Thresholds, now time.Time) AdjustmentReason {
	switch {
	case rtt >= latency/3:
		return ReasonSevereRTTCongestion
	case buffer > th.BufferTh3:
		return ReasonSevereBufferCongestion
	case now.After(e.nextDecreaseAt) && rtt > latency/5:
		return ReasonHeavyRTTCongestion
	case now.After(e.nextDecreaseAt) && buffer > th.BufferTh2:
		return ReasonHeavyBufferCongestion
	case now.After(e.nextDecreaseAt) && rtt > th.RTTMax:
		return ReasonLightRTTCongestion
	case now.After(e.nextDecreaseAt) && buffer > th.BufferTh1:
		return ReasonLightBufferCongestion
	case now.After(e.nextIncreaseAt) && rtt < th.RTTMin && m.RTTAvgDelta < trendIncreaseCeiling:
		return ReasonGoodConditionsIncreasing
	default:
		return ReasonStable
	}
}

// Target returns the current target bitrate without running a tick.
func (e *DecisionEngine) Target() int64 {
	return e.current
}
