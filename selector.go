package avpipe

import (
	"fmt"
	"sync"
)

// SelectorInput is one input stream of a Selector. Exactly one input is
// active at a time; the others are drained in step with it.
type SelectorInput struct {
	queue   *InputQueue
	name    string
	active  bool
	discont bool
}

// Name returns the input's identifier.
func (in *SelectorInput) Name() string { return in.name }

// Queue returns the input's buffer queue. Producers push buffers and events
// through it.
func (in *SelectorInput) Queue() *InputQueue { return in.queue }

// SelectorStats counts selector activity.
type SelectorStats struct {
	BuffersForwarded uint64
	BuffersDropped   uint64
	GapsConverted    uint64
	Switches         uint64
}

// TickOutput is one unit of selector output: zero or more events followed by
// at most one buffer.
type TickOutput struct {
	Events []Event
	Buffer *Buffer
}

// Selector forwards buffers from a single active input while consuming the
// inactive inputs at the same pace, so that switching to any of them resumes
// from the present rather than from stale queued data.
//
// An inactive input's head buffer is dropped once the active stream has
// advanced past the inactive buffer's end running time. Buffers whose running
// time cannot be determined are dropped as well, since they can never be
// compared against the active position. A buffer ending exactly at the active
// position is kept.
type Selector struct {
	mu      sync.Mutex
	inputs  []*SelectorInput
	current *SelectorInput

	outSegment Segment
	haveOutSeg bool
	outCaps    *Caps
	lastActive *SelectorInput
	queueDepth int

	statsMu sync.Mutex
	stats   SelectorStats
}

// NewSelector creates a selector with no inputs. queueDepth bounds each
// input's queue; 0 uses DefaultQueueDepth.
func NewSelector(queueDepth int) *Selector {
	return &Selector{queueDepth: queueDepth}
}

// AddInput registers a new input. The first input added becomes active.
func (s *Selector) AddInput(name string) *SelectorInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := &SelectorInput{
		queue: NewInputQueue(s.queueDepth),
		name:  name,
	}
	s.inputs = append(s.inputs, in)
	if s.current == nil {
		s.current = in
		in.active = true
	}
	return in
}

// ReleaseInput removes an input. If it was active, the first remaining input
// becomes active.
func (s *Selector) ReleaseInput(in *SelectorInput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, candidate := range s.inputs {
		if candidate == in {
			s.inputs = append(s.inputs[:i], s.inputs[i+1:]...)
			break
		}
	}
	if s.current == in {
		s.current = nil
		if len(s.inputs) > 0 {
			s.current = s.inputs[0]
			s.current.active = true
		}
	}
	in.queue.Flush()
}

// FlushInput discards an input's queued buffers and clears its drop history,
// then makes the queue accept data again. A flushed input's next forwarded
// buffer carries no discontinuity from drops before the flush.
func (s *Selector) FlushInput(in *SelectorInput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in.queue.Flush()
	in.queue.Resume()
	in.discont = false
}

// SetActive switches the active input. Activating an input deactivates the
// previous one; deactivating the current input falls back to the first
// registered input.
func (s *Selector) SetActive(in *SelectorInput, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active {
		if s.current == in {
			return
		}
		if s.current != nil {
			s.current.active = false
		}
		s.current = in
		in.active = true
		s.bumpSwitches()
		return
	}
	in.active = false
	if s.current != in {
		return
	}
	s.current = nil
	for _, candidate := range s.inputs {
		if candidate != in {
			s.current = candidate
			candidate.active = true
			s.bumpSwitches()
			break
		}
	}
}

// ActiveInput returns the currently active input, or nil.
func (s *Selector) ActiveInput() *SelectorInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Stats returns a snapshot of selector counters.
func (s *Selector) Stats() SelectorStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Selector) bumpSwitches() {
	s.statsMu.Lock()
	s.stats.Switches++
	s.statsMu.Unlock()
}

// bufferEndRunningTime computes the running time at which the buffer ends in
// the given segment. An unknown timestamp yields ClockTimeNone; an unknown
// duration counts as zero.
func bufferEndRunningTime(seg Segment, buf *Buffer) ClockTime {
	ts := buf.Timestamp()
	rt := seg.ToRunningTime(ts)
	if !rt.Valid() {
		return ClockTimeNone
	}
	if buf.Duration.Valid() {
		rt += buf.Duration
	}
	return rt
}

// Tick produces the next unit of output. It returns:
//
//   - FlowOK with events and/or a buffer when the active input had data,
//   - FlowNeedData when no input exists yet, the active input is empty, or
//     the active input finished while others still have data pending,
//   - FlowEOS once every input reached end-of-stream,
//   - FlowError when the active input has no time segment for its data.
func (s *Selector) Tick() (*TickOutput, Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.inputs) == 0 || s.current == nil {
		return nil, FlowNeedData, nil
	}

	active := s.current

	if active.queue.EOS() {
		// The active stream is over: whatever is queued on the other
		// inputs is behind a stream that will never advance. One head
		// per input is dropped each tick, same pace as the data path.
		out := &TickOutput{}
		s.appendStickyLocked(active, out)
		for _, in := range s.inputs {
			if in == active {
				continue
			}
			if in.queue.Drop() {
				in.discont = true
				s.countDrop()
			}
		}
		for _, in := range s.inputs {
			if !in.queue.EOS() {
				if len(out.Events) == 0 {
					return nil, FlowNeedData, nil
				}
				return out, FlowNeedData, nil
			}
		}
		out.Events = append(out.Events, EOSEvent{})
		return out, FlowEOS, nil
	}

	buf := active.queue.Pop()
	if buf == nil {
		return nil, FlowNeedData, nil
	}

	seg, ok := active.queue.Segment()
	if !ok {
		return nil, FlowError, fmt.Errorf("input %q: buffer before segment", active.name)
	}

	activeEnd := bufferEndRunningTime(seg, buf)

	// Keep the inactive inputs caught up with the active position, at most
	// one head per input per tick. Heads whose end running time is unknown
	// can never be ordered against the active stream and are dropped
	// outright.
	for _, in := range s.inputs {
		if in == active {
			continue
		}
		head := in.queue.Peek()
		if head == nil {
			continue
		}
		inSeg, hasSeg := in.queue.Segment()
		drop := false
		switch {
		case !hasSeg:
			drop = true
		case !activeEnd.Valid():
			drop = true
		default:
			headEnd := bufferEndRunningTime(inSeg, head)
			drop = !headEnd.Valid() || activeEnd > headEnd
		}
		if drop {
			in.queue.Drop()
			in.discont = true
			s.countDrop()
		}
	}

	out := &TickOutput{}
	s.appendStickyLocked(active, out)
	if activeEnd.Valid() {
		if pos := s.outSegment.PositionFromRunningTime(activeEnd); pos.Valid() {
			s.outSegment.Position = pos
		}
	}

	// An empty gap buffer becomes a gap event rather than a data buffer.
	if buf.Flags.Has(BufferFlagGap) && buf.Empty() {
		out.Events = append(out.Events, GapEvent{
			Timestamp: buf.Timestamp(),
			Duration:  buf.Duration,
		})
		s.statsMu.Lock()
		s.stats.GapsConverted++
		s.statsMu.Unlock()
		return out, FlowOK, nil
	}

	if active.discont {
		buf = buf.Clone()
		buf.Flags |= BufferFlagDiscont
		active.discont = false
	}
	out.Buffer = buf
	s.statsMu.Lock()
	s.stats.BuffersForwarded++
	s.statsMu.Unlock()
	return out, FlowOK, nil
}

// appendStickyLocked flushes the active input's pending sticky state to out,
// in caps/segment/tag order. Each piece is emitted only when it changed since
// the last emission; the tag is flushed once per tick regardless of whether a
// data buffer follows.
func (s *Selector) appendStickyLocked(active *SelectorInput, out *TickOutput) {
	if caps := active.queue.Caps(); caps != nil && !caps.Equal(s.outCaps) {
		s.outCaps = caps
		out.Events = append(out.Events, CapsEvent{Caps: caps})
	}
	if seg, ok := active.queue.Segment(); ok {
		segChanged := !s.haveOutSeg || s.lastActive != active ||
			s.outSegment.Start != seg.Start || s.outSegment.Stop != seg.Stop ||
			s.outSegment.Base != seg.Base
		if segChanged {
			s.outSegment = seg
			s.haveOutSeg = true
			s.lastActive = active
			out.Events = append(out.Events, SegmentEvent{Segment: s.outSegment})
		}
	}
	if tag := active.queue.TakeTag(); tag != nil {
		out.Events = append(out.Events, *tag)
	}
}

// OutputSegment returns the selector's current output segment, with its
// position tracking the running time of the last forwarded buffer.
func (s *Selector) OutputSegment() (Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outSegment, s.haveOutSeg
}

func (s *Selector) countDrop() {
	s.statsMu.Lock()
	s.stats.BuffersDropped++
	s.statsMu.Unlock()
}
