// Package abr implements closed-loop adaptive bitrate control for live,
// low-latency video transport sessions.
package abr

import "time"

// DefaultStallTimeout is how long the cumulative acknowledgment count may
// sit still, after having advanced at least once, before the session is
// considered stalled.
const DefaultStallTimeout = 6 * time.Second

// livenessWatchdog raises a stalled signal when acknowledgment traffic stops
// flowing. It reports, it does not remediate: reconnection belongs to the
// transport-owning collaborator. The signal fires once per stall episode and
// re-arms as soon as the count advances again.
//
// Owned by the decision loop: single writer, no locking.
type livenessWatchdog struct {
	timeout time.Duration
	onStall func()

	lastCount   uint64
	lastAdvance time.Time
	advanced    bool
	stalled     bool
}

func newLivenessWatchdog(timeout time.Duration, onStall func()) *livenessWatchdog {
	if timeout <= 0 {
		timeout = DefaultStallTimeout
	}
	return &livenessWatchdog{timeout: timeout, onStall: onStall}
}

// observe records the cumulative acknowledgment count from a fresh sample.
func (w *livenessWatchdog) observe(count uint64, now time.Time) {
	if count > w.lastCount {
		w.lastCount = count
		w.lastAdvance = now
		w.advanced = true
		w.stalled = false
	}
}

// check runs every decision tick, with or without a fresh sample, and fires
// the stall callback when the count has been still for the timeout.
func (w *livenessWatchdog) check(now time.Time) {
	if !w.advanced || w.stalled {
		return
	}
	if now.Sub(w.lastAdvance) > w.timeout {
		w.stalled = true
		if w.onStall != nil {
			w.onStall()
		}
	}
}
