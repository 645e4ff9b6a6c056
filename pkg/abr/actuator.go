// Package abr implements closed-loop adaptive bitrate control for live,
// low-latency video transport sessions.
package abr

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	"github.com/streamware/abr/pkg/abr/internal"
)

// Actuation constants.
const (
	// bitrateQuantum is the rounding granularity applied before a bitrate
	// reaches the encoder. Displayed and reported values stay on 100 kbps
	// boundaries.
	bitrateQuantum = 100_000

	// DefaultApplyInterval is the minimum spacing between two live encoder
	// reconfigurations. Reconfiguring a running encoder is disruptive (it
	// may briefly stop and restart the encode pipeline), so the fast
	// decision cadence is decoupled from a much slower actuation cadence.
	DefaultApplyInterval = 5 * time.Second
)

// BitrateActuator applies decided bitrates to the live encoder surface.
// It consumes only changes (not every tick), rounds down to the nearest
// 100 kbps, and enforces the apply interval independently of the decision
// gates. Applications are serialized on a single goroutine: the decision
// loop never waits for an apply, and an apply never overlaps another.
type BitrateActuator struct {
	encoder  Encoder
	clock    internal.Clock
	log      logging.LeveledLogger
	interval time.Duration
	onChange func(bps int64)

	// pending is a one-slot latest-value-wins mailbox from the decision
	// loop to the apply goroutine.
	pending chan int64

	lastApplied atomic.Int64
	wg          sync.WaitGroup
}

// NewBitrateActuator creates an actuator for the given encoder. onChange may
// be nil; when set it fires after every post-throttle, post-rounding change,
// on the apply goroutine.
func NewBitrateActuator(encoder Encoder, clk internal.Clock, interval time.Duration, log logging.LeveledLogger, onChange func(bps int64)) *BitrateActuator {
	if clk == nil {
		clk = internal.MonotonicClock{}
	}
	if interval <= 0 {
		interval = DefaultApplyInterval
	}
	return &BitrateActuator{
		encoder:  encoder,
		clock:    clk,
		log:      log,
		interval: interval,
		onChange: onChange,
		pending:  make(chan int64, 1),
	}
}

// Start launches the apply goroutine.
func (a *BitrateActuator) Start() {
	a.wg.Add(1)
	go a.run()
}

// Stop drains the mailbox and waits for the apply goroutine to exit. After
// Stop returns, no further onChange callback fires.
func (a *BitrateActuator) Stop() {
	close(a.pending)
	a.wg.Wait()
}

// Offer hands a new target bitrate to the apply goroutine without blocking.
// A value still waiting in the mailbox is replaced: only the latest target
// matters once the encoder becomes available.
func (a *BitrateActuator) Offer(bps int64) {
	for {
		select {
		case a.pending <- bps:
			return
		default:
		}
		select {
		case <-a.pending:
		default:
		}
	}
}

// LastApplied returns the bitrate most recently pushed to the encoder, or 0
// when nothing has been applied yet. Safe to call from any goroutine.
func (a *BitrateActuator) LastApplied() int64 {
	return a.lastApplied.Load()
}

func (a *BitrateActuator) run() {
	defer a.wg.Done()
	var lastApplyAt time.Time
	for bps := range a.pending {
		lastApplyAt = a.apply(bps, lastApplyAt)
	}
}

// apply pushes one rounded bitrate to the encoder, honoring the apply
// interval. Targets arriving inside the interval are skipped, not queued;
// the next change after the window applies.
func (a *BitrateActuator) apply(bps int64, lastApplyAt time.Time) time.Time {
	rounded := bps / bitrateQuantum * bitrateQuantum
	if rounded == a.lastApplied.Load() {
		return lastApplyAt
	}

	now := a.clock.Now()
	if !lastApplyAt.IsZero() && now.Sub(lastApplyAt) < a.interval {
		a.log.Tracef("apply throttled: %d bps within %v of previous apply", rounded, a.interval)
		return lastApplyAt
	}

	if err := a.encoder.SetBitrate(rounded); err != nil {
		// Not rolled back: the decision state keeps evolving regardless of
		// whether the encoder accepted the reconfiguration.
		a.log.Warnf("encoder rejected bitrate %d: %v", rounded, err)
	}
	a.lastApplied.Store(rounded)
	if a.onChange != nil {
		a.onChange(rounded)
	}
	return now
}
