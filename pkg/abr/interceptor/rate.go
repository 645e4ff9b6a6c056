package interceptor

import "time"

// defaultRateWindow is the sliding-window span for outbound throughput
// measurement.
const defaultRateWindow = time.Second

type rateSample struct {
	timestamp time.Time
	bytes     int64
}

// rateWindow measures outbound bitrate over a sliding time window. Byte
// counts older than the window are discarded; the rate is total bits over
// the span between the oldest and newest retained sample.
//
// Callers must serialize access; the interceptor guards it with its mutex.
type rateWindow struct {
	window     time.Duration
	samples    []rateSample
	totalBytes int64
}

func newRateWindow(window time.Duration) *rateWindow {
	if window <= 0 {
		window = defaultRateWindow
	}
	return &rateWindow{
		window:  window,
		samples: make([]rateSample, 0, 64),
	}
}

// add records bytes sent at now, evicting expired samples first.
func (r *rateWindow) add(bytes int64, now time.Time) {
	r.evict(now)
	r.samples = append(r.samples, rateSample{timestamp: now, bytes: bytes})
	r.totalBytes += bytes
}

// rate returns the current outbound bitrate in bits per second. It needs at
// least two samples spanning at least a millisecond; otherwise ok is false.
func (r *rateWindow) rate(now time.Time) (bitsPerSec int64, ok bool) {
	r.evict(now)
	if len(r.samples) < 2 {
		return 0, false
	}
	elapsed := r.samples[len(r.samples)-1].timestamp.Sub(r.samples[0].timestamp)
	if elapsed < time.Millisecond {
		return 0, false
	}
	return int64(float64(r.totalBytes*8) / elapsed.Seconds()), true
}

func (r *rateWindow) evict(now time.Time) {
	cutoff := now.Add(-r.window)
	expired := 0
	for _, s := range r.samples {
		if !s.timestamp.Before(cutoff) {
			break
		}
		r.totalBytes -= s.bytes
		expired++
	}
	if expired > 0 {
		r.samples = r.samples[expired:]
	}
}
