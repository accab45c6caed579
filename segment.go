package avpipe

import "errors"

// ErrNonTimeSegment is returned when an element receives a segment whose
// format is not time-based. Running-time arithmetic assumes a linear time
// base, so anything else is rejected outright.
var ErrNonTimeSegment = errors.New("non-time format segment is not supported")

// Format identifies the unit of a segment's positions.
type Format int

const (
	FormatUndefined Format = iota
	FormatTime             // Positions are ClockTime nanoseconds
	FormatBytes            // Positions are byte offsets
)

func (f Format) String() string {
	switch f {
	case FormatTime:
		return "time"
	case FormatBytes:
		return "bytes"
	default:
		return "undefined"
	}
}

// Segment describes the timeline of a stream: the playable range
// [Start, Stop), the accumulated running time before this segment (Base) and
// the current position within it.
type Segment struct {
	Format   Format
	Start    ClockTime
	Stop     ClockTime
	Base     ClockTime
	Position ClockTime
}

// NewTimeSegment returns a time-format segment covering [0, none).
func NewTimeSegment() Segment {
	return Segment{
		Format:   FormatTime,
		Start:    0,
		Stop:     ClockTimeNone,
		Base:     0,
		Position: 0,
	}
}

// ToRunningTime converts a stream timestamp to running time. It returns
// ClockTimeNone when the timestamp is invalid or lies before the segment
// start or after its stop.
func (s *Segment) ToRunningTime(ts ClockTime) ClockTime {
	if s.Format != FormatTime || !ts.Valid() || !s.Start.Valid() {
		return ClockTimeNone
	}
	if ts < s.Start {
		return ClockTimeNone
	}
	if s.Stop.Valid() && ts > s.Stop {
		return ClockTimeNone
	}
	base := s.Base
	if !base.Valid() {
		base = 0
	}
	return base + (ts - s.Start)
}

// PositionFromRunningTime converts a running time back to a stream position.
// It returns ClockTimeNone when the running time is invalid or precedes this
// segment's base.
func (s *Segment) PositionFromRunningTime(rt ClockTime) ClockTime {
	if s.Format != FormatTime || !rt.Valid() {
		return ClockTimeNone
	}
	base := s.Base
	if !base.Valid() {
		base = 0
	}
	if rt < base {
		return ClockTimeNone
	}
	pos := s.Start + (rt - base)
	if s.Stop.Valid() && pos > s.Stop {
		return ClockTimeNone
	}
	return pos
}
