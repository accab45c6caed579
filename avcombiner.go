package avpipe

import (
	"fmt"
	"sync"
)

// AVCombinerStats counts combiner activity.
type AVCombinerStats struct {
	FramesCombined uint64
	FramesBare     uint64 // Video forwarded without matching audio
	AudioDropped   uint64
}

// AVCombiner merges a video stream and an audio stream into a single output
// stream of video buffers carrying their co-timed audio as AudioMeta. The
// video stream drives the output: each video buffer takes the audio queued up
// to the end of its interval, and video with no matching audio goes out bare.
//
// Caps on either input must stay compatible with what was previously
// negotiated; an input caps change that cannot intersect the prior caps is a
// hard error.
type AVCombiner struct {
	video *InputQueue
	audio *InputQueue

	mu         sync.Mutex
	outSegment Segment
	haveOutSeg bool
	outCaps    *Caps

	statsMu sync.Mutex
	stats   AVCombinerStats
}

// NewAVCombiner creates a combiner with empty inputs. queueDepth bounds each
// input's queue; 0 uses DefaultQueueDepth.
func NewAVCombiner(queueDepth int) *AVCombiner {
	c := &AVCombiner{
		video: NewInputQueue(queueDepth),
		audio: NewInputQueue(queueDepth),
	}
	c.video.SetCapsValidator(c.checkCaps(c.video))
	c.audio.SetCapsValidator(c.checkCaps(c.audio))
	return c
}

// VideoInput returns the video input queue.
func (c *AVCombiner) VideoInput() *InputQueue { return c.video }

// AudioInput returns the audio input queue.
func (c *AVCombiner) AudioInput() *InputQueue { return c.audio }

// Stats returns a snapshot of combiner counters.
func (c *AVCombiner) Stats() AVCombinerStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *AVCombiner) checkCaps(q *InputQueue) func(*Caps) error {
	return func(next *Caps) error {
		prev := q.Caps()
		if prev != nil && !prev.CanIntersect(next) {
			return fmt.Errorf("caps %s are incompatible with negotiated caps %s", next, prev)
		}
		return nil
	}
}

// outputCaps derives the combined caps: the video caps annotated with the
// audio channel count, zero when no audio stream is present.
func (c *AVCombiner) outputCaps() *Caps {
	vcaps := c.video.Caps()
	if vcaps == nil {
		return nil
	}
	channels := 0
	if acaps := c.audio.Caps(); acaps != nil {
		channels = acaps.IntAttr("channels", 0)
	}
	return vcaps.Clone().WithAttr("audio-channels", channels)
}

// Tick produces the next combined buffer. It returns FlowNeedData until a
// video buffer and the audio covering its interval are available, and FlowEOS
// once both inputs reached end-of-stream.
func (c *AVCombiner) Tick() (*TickOutput, Flow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.video.EOS() {
		// Leftover audio past the last video frame has nowhere to go.
		for c.audio.Drop() {
			c.countAudioDrop()
		}
		if !c.audio.EOS() {
			return nil, FlowNeedData, nil
		}
		return &TickOutput{Events: []Event{EOSEvent{}}}, FlowEOS, nil
	}

	vbuf := c.video.Peek()
	if vbuf == nil {
		return nil, FlowNeedData, nil
	}
	vseg, ok := c.video.Segment()
	if !ok {
		return nil, FlowError, fmt.Errorf("video buffer before segment")
	}

	videoEnd := bufferEndRunningTime(vseg, vbuf)

	// Wait for audio to cover the video interval, unless the audio stream
	// is already over or was never connected.
	aseg, haveASeg := c.audio.Segment()
	var matched *Buffer
	if haveASeg {
		for {
			abuf := c.audio.Peek()
			if abuf == nil {
				if !c.audio.EOSReceived() && videoEnd.Valid() {
					return nil, FlowNeedData, nil
				}
				break
			}
			aEnd := bufferEndRunningTime(aseg, abuf)
			if !aEnd.Valid() {
				c.audio.Drop()
				c.countAudioDrop()
				continue
			}
			aStart := aseg.ToRunningTime(abuf.Timestamp())
			if videoEnd.Valid() && aStart.Valid() && aStart >= videoEnd {
				// Belongs to a later frame.
				break
			}
			c.audio.Drop()
			if matched != nil {
				// Only the most recent co-timed packet rides
				// along; earlier ones were superseded.
				c.countAudioDrop()
			}
			matched = abuf
			if videoEnd.Valid() && aEnd >= videoEnd {
				break
			}
		}
	}

	c.video.Drop()

	out := &TickOutput{}

	caps := c.outputCaps()
	if caps != nil && !caps.Equal(c.outCaps) {
		c.outCaps = caps
		out.Events = append(out.Events, CapsEvent{Caps: caps})
	}

	if !c.haveOutSeg || c.outSegment.Start != vseg.Start ||
		c.outSegment.Stop != vseg.Stop || c.outSegment.Base != vseg.Base {
		c.outSegment = vseg
		c.haveOutSeg = true
		out.Events = append(out.Events, SegmentEvent{Segment: c.outSegment})
	}
	if vbuf.PTS.Valid() {
		c.outSegment.Position = vbuf.PTS
	}

	vbuf = vbuf.Clone()
	if matched != nil {
		vbuf.AddMeta(AudioMeta{Samples: matched, Caps: c.audio.Caps()})
		c.statsMu.Lock()
		c.stats.FramesCombined++
		c.statsMu.Unlock()
	} else {
		c.statsMu.Lock()
		c.stats.FramesBare++
		c.statsMu.Unlock()
	}
	out.Buffer = vbuf
	return out, FlowOK, nil
}

func (c *AVCombiner) countAudioDrop() {
	c.statsMu.Lock()
	c.stats.AudioDropped++
	c.statsMu.Unlock()
}
