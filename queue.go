package avpipe

import (
	"context"
	"fmt"
	"sync"
)

// DefaultQueueDepth is the per-input buffer capacity used when none is given.
const DefaultQueueDepth = 8

// InputQueue is a bounded FIFO of buffers feeding an element input, together
// with the sticky stream state (caps, segment, pending tag, EOS) delivered by
// events. Producers push from their own goroutines; the owning element peeks,
// pops and drops under its own tick.
type InputQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	bufs    []*Buffer
	depth   int
	flushed bool

	caps        *Caps
	capsCheck   func(*Caps) error
	segment     Segment
	hasSegment  bool
	pendingTag  *TagEvent
	eosReceived bool
	streamID    string
}

// NewInputQueue creates a queue holding at most depth buffers. A depth of 0
// uses DefaultQueueDepth.
func NewInputQueue(depth int) *InputQueue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	q := &InputQueue{depth: depth}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// SetCapsValidator installs a hook invoked when a caps event arrives, before
// the caps are stored. Returning an error rejects the event.
func (q *InputQueue) SetCapsValidator(fn func(*Caps) error) {
	q.mu.Lock()
	q.capsCheck = fn
	q.mu.Unlock()
}

// Push appends a buffer, blocking while the queue is full. It returns
// FlowFlushing when the context is cancelled or the queue is flushed, and
// FlowEOS when pushed after end-of-stream.
func (q *InputQueue) Push(ctx context.Context, buf *Buffer) Flow {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.bufs) >= q.depth && !q.flushed {
		// Wake on pops, flushes and context cancellation.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.cond.Broadcast()
			case <-done:
			}
		}()
		q.cond.Wait()
		close(done)
		if ctx.Err() != nil {
			return FlowFlushing
		}
	}
	if q.flushed {
		return FlowFlushing
	}
	if q.eosReceived {
		return FlowEOS
	}
	q.bufs = append(q.bufs, buf)
	q.cond.Broadcast()
	return FlowOK
}

// TryPush appends a buffer without blocking. It reports false when the queue
// is full, flushed or past end-of-stream. Driver callback threads use this so
// a stalled consumer never wedges the vendor thread.
func (q *InputQueue) TryPush(buf *Buffer) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.flushed || q.eosReceived || len(q.bufs) >= q.depth {
		return false
	}
	q.bufs = append(q.bufs, buf)
	q.cond.Broadcast()
	return true
}

// SendEvent delivers a serialized event to the queue.
func (q *InputQueue) SendEvent(ev Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch e := ev.(type) {
	case StreamStartEvent:
		q.streamID = e.StreamID
		q.caps = nil
		q.pendingTag = nil
		q.eosReceived = false
	case CapsEvent:
		if q.capsCheck != nil {
			if err := q.capsCheck(e.Caps); err != nil {
				return err
			}
		}
		q.caps = e.Caps
	case SegmentEvent:
		if e.Segment.Format != FormatTime {
			return fmt.Errorf("input segment: %w", ErrNonTimeSegment)
		}
		q.segment = e.Segment
		q.hasSegment = true
	case TagEvent:
		q.pendingTag = &e
	case EOSEvent:
		q.eosReceived = true
		q.cond.Broadcast()
	case GapEvent:
		// Gaps on an input carry no sticky state.
	}
	return nil
}

// Peek returns the head buffer without removing it, or nil when empty.
func (q *InputQueue) Peek() *Buffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.bufs) == 0 {
		return nil
	}
	return q.bufs[0]
}

// Pop removes and returns the head buffer, or nil when empty.
func (q *InputQueue) Pop() *Buffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.bufs) == 0 {
		return nil
	}
	buf := q.bufs[0]
	q.bufs = q.bufs[1:]
	q.cond.Broadcast()
	return buf
}

// Drop discards the head buffer, reporting whether one was present.
func (q *InputQueue) Drop() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.bufs) == 0 {
		return false
	}
	q.bufs = q.bufs[1:]
	q.cond.Broadcast()
	return true
}

// Len returns the number of queued buffers.
func (q *InputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bufs)
}

// EOS reports whether the input is exhausted: end-of-stream was received and
// no buffers remain queued.
func (q *InputQueue) EOS() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.eosReceived && len(q.bufs) == 0
}

// EOSReceived reports whether the end-of-stream event has arrived, regardless
// of queued buffers.
func (q *InputQueue) EOSReceived() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.eosReceived
}

// Flush discards all queued buffers and unblocks pending pushes. The queue
// stays unusable until Resume.
func (q *InputQueue) Flush() {
	q.mu.Lock()
	q.bufs = nil
	q.flushed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Resume makes the queue accept buffers again after a flush.
func (q *InputQueue) Resume() {
	q.mu.Lock()
	q.flushed = false
	q.eosReceived = false
	q.mu.Unlock()
}

// Caps returns the most recent caps delivered to this input, or nil.
func (q *InputQueue) Caps() *Caps {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.caps
}

// Segment returns the current segment and whether one was delivered.
func (q *InputQueue) Segment() (Segment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.segment, q.hasSegment
}

// StreamID returns the identifier from the last stream-start event.
func (q *InputQueue) StreamID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.streamID
}

// TakeTag removes and returns the pending tag event, or nil when none is
// waiting.
func (q *InputQueue) TakeTag() *TagEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	tag := q.pendingTag
	q.pendingTag = nil
	return tag
}
