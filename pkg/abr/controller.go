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

// Default loop periods. The sampler pulls telemetry, the decision loop
// consumes the most recent sample; the smoothing coefficients assume these
// cadences stay roughly constant.
const (
	DefaultSampleInterval   = 50 * time.Millisecond
	DefaultDecisionInterval = 20 * time.Millisecond
)

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the monotonic clock, enabling deterministic tests.
func WithClock(clk internal.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithLoggerFactory sets the logger factory. Default is the pion default
// factory with scope "abr".
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(c *Controller) { c.loggerFactory = f }
}

// WithConfig sets the initial configuration. It is normalized like a
// Configure call.
func WithConfig(cfg ControllerConfig) Option {
	return func(c *Controller) { c.initialConfig = cfg }
}

// WithSampleInterval sets the telemetry sampler period.
func WithSampleInterval(d time.Duration) Option {
	return func(c *Controller) { c.sampleInterval = d }
}

// WithDecisionInterval sets the decision loop period.
func WithDecisionInterval(d time.Duration) Option {
	return func(c *Controller) { c.decisionInterval = d }
}

// WithApplyInterval sets the minimum spacing between live encoder
// reconfigurations.
func WithApplyInterval(d time.Duration) Option {
	return func(c *Controller) { c.applyInterval = d }
}

// WithStallTimeout sets how long acknowledgment traffic may sit still
// before the liveness watchdog fires.
func WithStallTimeout(d time.Duration) Option {
	return func(c *Controller) { c.stallTimeout = d }
}

// WithOnBitrateChanged registers the callback fired when a change actually
// reaches the actuation stage (post-throttle, post-rounding). It runs on
// the actuator goroutine and must not block.
func WithOnBitrateChanged(fn func(bps int64)) Option {
	return func(c *Controller) { c.onBitrateChanged = fn }
}

// WithOnLivenessStalled registers the callback fired once per stall episode
// when acknowledgment traffic stops advancing. Remediation (reconnect) is
// the transport collaborator's responsibility.
func WithOnLivenessStalled(fn func()) Option {
	return func(c *Controller) { c.onLivenessStalled = fn }
}

// Controller is the adaptive bitrate control loop. It runs two independent
// periodic tasks: a telemetry sampler that pulls TransportSamples from the
// stats source, and a decision loop that smooths the most recent sample,
// derives thresholds, runs the decision engine, and publishes an immutable
// state snapshot. Bitrate changes are handed to the actuator, which applies
// them to the encoder on its own slower cadence.
//
// The two tasks share a single most-recent-value slot, not a queue: a slow
// decision tick never backs up the sampler, and the sampler never feeds the
// decision loop stale history.
type Controller struct {
	source  StatsSource
	encoder Encoder

	clock             internal.Clock
	loggerFactory     logging.LoggerFactory
	log               logging.LeveledLogger
	initialConfig     ControllerConfig
	sampleInterval    time.Duration
	decisionInterval  time.Duration
	applyInterval     time.Duration
	stallTimeout      time.Duration
	onBitrateChanged  func(bps int64)
	onLivenessStalled func()

	cfg atomic.Pointer[ControllerConfig]

	// latest is the most-recent-value slot between the sampler and the
	// decision loop. nil means "no usable sample": either nothing arrived
	// yet or the last fetch failed.
	latest atomic.Pointer[TransportSample]

	state atomic.Pointer[ControllerState]

	subMu sync.Mutex
	subs  []chan ControllerState

	// Decision-loop-owned state, reset on every Start.
	smoother   *MetricsSmoother
	engine     *DecisionEngine
	watchdog   *livenessWatchdog
	actuator   *BitrateActuator
	lastTarget int64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	loopWG  sync.WaitGroup
}

// noopEncoder stands in when no encoder surface is supplied, keeping the
// actuation path exercised.
type noopEncoder struct{}

func (noopEncoder) SetBitrate(int64) error { return nil }

// New creates a Controller for the given stats source and encoder surface.
// A nil encoder is replaced with a no-op. The returned controller is
// stopped; call Start to begin ticking.
func New(source StatsSource, encoder Encoder, opts ...Option) (*Controller, error) {
	c := &Controller{
		source:           source,
		encoder:          encoder,
		clock:            internal.MonotonicClock{},
		initialConfig:    DefaultControllerConfig(),
		sampleInterval:   DefaultSampleInterval,
		decisionInterval: DefaultDecisionInterval,
		applyInterval:    DefaultApplyInterval,
		stallTimeout:     DefaultStallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.encoder == nil {
		c.encoder = noopEncoder{}
	}
	if c.loggerFactory == nil {
		c.loggerFactory = logging.NewDefaultLoggerFactory()
	}
	c.log = c.loggerFactory.NewLogger("abr")

	cfg, err := c.initialConfig.normalize()
	if err != nil {
		return nil, err
	}
	c.cfg.Store(&cfg)
	c.resetLoopState()
	return c, nil
}

// resetLoopState reinitializes everything the decision loop owns. Called on
// construction and on every Start so nothing leaks across a stop/start
// cycle.
func (c *Controller) resetLoopState() {
	now := c.clock.Now()
	cfg := c.cfg.Load()
	c.smoother = NewMetricsSmoother()
	c.engine = NewDecisionEngine(cfg.MinBitrateBps, now)
	c.watchdog = newLivenessWatchdog(c.stallTimeout, c.onLivenessStalled)
	c.actuator = NewBitrateActuator(c.encoder, c.clock, c.applyInterval, c.log, c.onBitrateChanged)
	c.lastTarget = cfg.MinBitrateBps
	c.latest.Store(nil)
	c.state.Store(nil)
}

// Configure validates and clamps the bitrate window and latency budget. It
// may be called before or while running; the new configuration takes effect
// on the next decision tick.
func (c *Controller) Configure(minBitrateBps, maxBitrateBps int64, latencyMs int) error {
	cfg, err := ControllerConfig{
		MinBitrateBps: minBitrateBps,
		MaxBitrateBps: maxBitrateBps,
		LatencyMs:     latencyMs,
	}.normalize()
	if err != nil {
		return err
	}
	c.cfg.Store(&cfg)
	return nil
}

// Config returns the active (normalized) configuration.
func (c *Controller) Config() ControllerConfig {
	return *c.cfg.Load()
}

// Start resets all smoothed state and timing gates to defaults, sets the
// target bitrate to the configured minimum, and launches the sampler and
// decision loops. Starting a running controller is a no-op with a warning.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.log.Warn("start called while already running")
		return
	}

	c.resetLoopState()
	c.stopCh = make(chan struct{})
	c.actuator.Start()

	c.loopWG.Add(2)
	go c.sampleLoop(c.stopCh)
	go c.decisionLoop(c.stopCh)
	c.running = true
}

// Stop halts both loops, lets an in-flight tick finish, and tears down the
// actuator. When Stop returns, no further tick runs and no callback fires.
// Stopping a stopped controller is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	close(c.stopCh)
	c.loopWG.Wait()
	c.actuator.Stop()
	c.running = false
}

// State returns the latest published snapshot, or nil before the first
// processed tick.
func (c *Controller) State() *ControllerState {
	return c.state.Load()
}

// Subscribe returns a channel receiving state snapshots and a cancel
// function. Delivery is latest-value-wins: a slow reader sees the newest
// snapshot, never a backlog, and never blocks the decision loop.
func (c *Controller) Subscribe() (<-chan ControllerState, func()) {
	ch := make(chan ControllerState, 1)
	c.subMu.Lock()
	c.subs = append(c.subs, ch)
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		for i, s := range c.subs {
			if s == ch {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// sampleLoop pulls telemetry on the sampler period. A fetch failure or a
// malformed sample clears the slot: the decision loop treats it as "no new
// information", not as a good or bad network.
func (c *Controller) sampleLoop(stop <-chan struct{}) {
	defer c.loopWG.Done()
	ticker := time.NewTicker(c.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sample, err := c.source.Sample()
			if err != nil {
				c.log.Debugf("sample fetch failed: %v", err)
				c.latest.Store(nil)
				continue
			}
			if !sample.valid() {
				c.log.Warnf("malformed sample dropped: %+v", sample)
				c.latest.Store(nil)
				continue
			}
			c.latest.Store(&sample)
		}
	}
}

// decisionLoop runs the control tick on the decision period. Ticks are
// strictly sequential; all smoothed state and gates have this goroutine as
// their only writer.
func (c *Controller) decisionLoop(stop <-chan struct{}) {
	defer c.loopWG.Done()
	ticker := time.NewTicker(c.decisionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.tick(c.clock.Now())
		}
	}
}

// tick runs one pass of smoother, threshold calculator, decision engine and
// state publication against the most recent sample. Without a usable sample
// the tick is skipped and prior state is retained unchanged.
func (c *Controller) tick(now time.Time) {
	defer c.watchdog.check(now)

	sp := c.latest.Load()
	if sp == nil {
		return
	}
	sample := *sp
	cfg := *c.cfg.Load()

	c.smoother.Update(sample)
	metrics := c.smoother.Metrics()
	thresholds := ComputeThresholds(metrics, cfg.LatencyMs)
	target, reason := c.engine.Decide(sample, metrics, thresholds, cfg, now)

	if target != c.lastTarget {
		c.log.Debugf("target %d -> %d (%s)", c.lastTarget, target, reason)
		c.lastTarget = target
		c.actuator.Offer(target)
	}
	c.watchdog.observe(sample.AckCount, now)

	c.publish(ControllerState{
		CurrentBitrateBps: c.actuator.LastApplied(),
		TargetBitrateBps:  target,
		LastSample:        sample,
		Reason:            reason,
		Time:              now,
	})
}

// publish replaces the snapshot and fans it out to subscribers without
// blocking: a full subscriber mailbox is drained and refilled with the
// newest snapshot.
func (c *Controller) publish(st ControllerState) {
	c.state.Store(&st)

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
