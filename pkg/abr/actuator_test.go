package abr

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"

	"github.com/streamware/abr/pkg/abr/internal"
)

// fakeEncoder records applied bitrates and optionally rejects them.
type fakeEncoder struct {
	mu      sync.Mutex
	applied []int64
	err     error
}

func (f *fakeEncoder) SetBitrate(bps int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, bps)
	return f.err
}

func (f *fakeEncoder) calls() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.applied))
	copy(out, f.applied)
	return out
}

func testLogger() logging.LeveledLogger {
	return logging.NewDefaultLoggerFactory().NewLogger("abr_test")
}

func TestActuator_RoundsDownToQuantum(t *testing.T) {
	clock := internal.NewMockClock(time.Time{})
	enc := &fakeEncoder{}
	a := NewBitrateActuator(enc, clock, DefaultApplyInterval, testLogger(), nil)

	a.apply(523_456, time.Time{})

	assert.Equal(t, []int64{500_000}, enc.calls())
	assert.Equal(t, int64(500_000), a.LastApplied())
}

func TestActuator_SkipsUnchangedRoundedValue(t *testing.T) {
	clock := internal.NewMockClock(time.Time{})
	enc := &fakeEncoder{}
	a := NewBitrateActuator(enc, clock, DefaultApplyInterval, testLogger(), nil)

	last := a.apply(500_000, time.Time{})
	// 560k rounds to 500k: same post-rounding value, no encoder call.
	a.apply(560_000, last)

	assert.Equal(t, []int64{500_000}, enc.calls())
}

func TestActuator_ThrottlesWithinApplyInterval(t *testing.T) {
	clock := internal.NewMockClock(time.Time{})
	enc := &fakeEncoder{}
	a := NewBitrateActuator(enc, clock, DefaultApplyInterval, testLogger(), nil)

	last := a.apply(500_000, time.Time{})
	clock.Advance(2 * time.Second)
	last = a.apply(800_000, last)
	assert.Equal(t, []int64{500_000}, enc.calls(), "inside the 5s window the change is skipped, not queued")

	clock.Advance(4 * time.Second)
	a.apply(800_000, last)
	assert.Equal(t, []int64{500_000, 800_000}, enc.calls())
}

func TestActuator_EncoderErrorIsNotRolledBack(t *testing.T) {
	clock := internal.NewMockClock(time.Time{})
	enc := &fakeEncoder{err: errors.New("pipeline busy")}
	var changed []int64
	a := NewBitrateActuator(enc, clock, DefaultApplyInterval, testLogger(), func(bps int64) {
		changed = append(changed, bps)
	})

	a.apply(700_000, time.Time{})

	// The rejection is logged; the applied value and the change event both
	// stand, so reported and effective bitrate may diverge.
	assert.Equal(t, int64(700_000), a.LastApplied())
	assert.Equal(t, []int64{700_000}, changed)
}

func TestActuator_OfferKeepsLatestValue(t *testing.T) {
	clock := internal.NewMockClock(time.Time{})
	enc := &fakeEncoder{}
	a := NewBitrateActuator(enc, clock, DefaultApplyInterval, testLogger(), nil)

	// Two offers before the apply goroutine runs: only the newest survives.
	a.Offer(1_000_000)
	a.Offer(2_000_000)
	a.Start()
	a.Stop()

	assert.Equal(t, []int64{2_000_000}, enc.calls())
}

func TestActuator_OnChangeFiresPerActualChange(t *testing.T) {
	clock := internal.NewMockClock(time.Time{})
	enc := &fakeEncoder{}
	var changed []int64
	a := NewBitrateActuator(enc, clock, DefaultApplyInterval, testLogger(), func(bps int64) {
		changed = append(changed, bps)
	})

	last := a.apply(500_000, time.Time{})
	clock.Advance(6 * time.Second)
	last = a.apply(540_000, last) // rounds back to 500k: no change
	clock.Advance(6 * time.Second)
	a.apply(900_000, last)

	assert.Equal(t, []int64{500_000, 900_000}, changed)
}
