package interceptor

import "time"

// ntpEpochOffset is the difference between the NTP epoch (1900) and the
// Unix epoch (1970) in seconds.
const ntpEpochOffset = 2208988800

// ntpTime32 returns the middle 32 bits of the 64-bit NTP timestamp for t,
// the representation used by RTCP sender-report timestamps and the
// LSR/DLSR round-trip calculation.
func ntpTime32(t time.Time) uint32 {
	seconds := uint64(t.Unix()) + ntpEpochOffset
	fraction := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return uint32(((seconds << 32) | fraction) >> 16)
}
