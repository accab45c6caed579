package avpipe

// Event is a non-data item travelling alongside buffers. The set of events
// is closed; elements type-switch on the concrete variants.
type Event interface {
	isEvent()
}

// StreamStartEvent announces a new logical stream on an input. It resets the
// input's caps and any pending tag event.
type StreamStartEvent struct {
	StreamID string
}

// CapsEvent carries a format change.
type CapsEvent struct {
	Caps *Caps
}

// SegmentEvent carries a new timeline segment. Only time-format segments are
// accepted by the elements in this package.
type SegmentEvent struct {
	Segment Segment
}

// TagEvent carries stream metadata (title, language, ...). Elements hold the
// most recent tag event per input and forward it downstream at the next
// opportunity.
type TagEvent struct {
	Tags map[string]string
}

// GapEvent signals an interval without data, produced for instance when an
// empty gap buffer is converted instead of being forwarded as data.
type GapEvent struct {
	Timestamp ClockTime
	Duration  ClockTime
}

// EOSEvent marks end-of-stream on an input.
type EOSEvent struct{}

func (StreamStartEvent) isEvent() {}
func (CapsEvent) isEvent()        {}
func (SegmentEvent) isEvent()     {}
func (TagEvent) isEvent()         {}
func (GapEvent) isEvent()         {}
func (EOSEvent) isEvent()         {}
