package avpipe

import (
	"fmt"
	"math"
	"time"
)

// ClockTime is a timestamp or duration in nanoseconds. The zero value is a
// valid time of zero; ClockTimeNone marks an unknown/invalid time.
type ClockTime uint64

// ClockTimeNone is the invalid ClockTime value.
const ClockTimeNone ClockTime = math.MaxUint64

const (
	// Millisecond is one millisecond in ClockTime units.
	Millisecond ClockTime = 1000 * 1000
	// Second is one second in ClockTime units.
	Second ClockTime = 1000 * Millisecond
)

// Valid returns true unless t is ClockTimeNone.
func (t ClockTime) Valid() bool { return t != ClockTimeNone }

// Duration converts t to a time.Duration. Invalid times convert to zero.
func (t ClockTime) Duration() time.Duration {
	if !t.Valid() {
		return 0
	}
	return time.Duration(t)
}

// ClockTimeFromDuration converts a time.Duration to ClockTime.
// Negative durations convert to ClockTimeNone.
func ClockTimeFromDuration(d time.Duration) ClockTime {
	if d < 0 {
		return ClockTimeNone
	}
	return ClockTime(d)
}

// MPEGTS converts t to MPEG-TS time (90 kHz clock base).
func (t ClockTime) MPEGTS() uint64 {
	return uint64(t) * 90000 / uint64(Second)
}

func (t ClockTime) String() string {
	if !t.Valid() {
		return "none"
	}
	h := uint64(t) / uint64(3600*Second)
	rem := uint64(t) % uint64(3600*Second)
	m := rem / uint64(60*Second)
	rem %= uint64(60 * Second)
	s := rem / uint64(Second)
	ns := rem % uint64(Second)
	return fmt.Sprintf("%d:%02d:%02d.%09d", h, m, s, ns)
}
