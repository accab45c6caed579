package avpipe

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// CaptureConfig configures a hardware capture source.
type CaptureConfig struct {
	Driver  Driver
	Profile DeviceProfile
	Mode    DisplayMode
	// MaxQueuedFrames bounds the internal frame queue. When the consumer
	// falls behind, the oldest frame is dropped and the next delivered
	// frame is flagged as a discontinuity.
	MaxQueuedFrames int
	// DesyncThreshold is the largest tolerated gap between a video frame
	// and its candidate audio before the pending audio is discarded.
	DesyncThreshold ClockTime
	// SkipFirstFrames discards this many frames after start, giving the
	// signal time to stabilize.
	SkipFirstFrames int
	Logger          zerolog.Logger
}

// DefaultCaptureConfig returns a capture config with sensible defaults
// (queue of 5 frames, 250ms desync threshold, audio disabled until the
// profile enables it).
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		MaxQueuedFrames: 5,
		DesyncThreshold: 250 * Millisecond,
		Mode:            Mode1080p30,
		Logger:          zerolog.Nop(),
	}
}

// CaptureStats counts capture activity.
type CaptureStats struct {
	FramesCaptured uint64
	FramesDropped  uint64 // Overflow drops, consumer too slow
	FramesSkipped  uint64 // Startup skips
	NoSignalFrames uint64
	AudioPackets   uint64
	AudioDiscarded uint64 // Desync or unmatched audio
}

// Capture reads frames from a hardware device. The driver delivers frames on
// its own thread; Capture moves them onto a bounded queue and pairs each
// frame with the audio captured over its interval, attached as AudioMeta.
//
// Frames arriving while the queue is full evict the oldest queued frame, so a
// stalled consumer sees the most recent picture after a discontinuity rather
// than an ever-growing backlog.
type Capture struct {
	cfg   CaptureConfig
	input DriverInput

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Buffer
	pending []AudioInputPacket
	skip    int
	discont bool
	running bool
	stopped bool

	statsMu sync.Mutex
	stats   CaptureStats
}

// NewCapture creates a capture source for the configured device.
func NewCapture(cfg CaptureConfig) (*Capture, error) {
	if cfg.Driver == nil {
		return nil, fmt.Errorf("capture: driver is required")
	}
	if cfg.MaxQueuedFrames <= 0 {
		cfg.MaxQueuedFrames = 5
	}
	if !cfg.DesyncThreshold.Valid() || cfg.DesyncThreshold == 0 {
		cfg.DesyncThreshold = 250 * Millisecond
	}
	c := &Capture{cfg: cfg, skip: cfg.SkipFirstFrames}
	c.cond = sync.NewCond(&c.mu)
	return c, nil
}

// Caps returns the caps of the produced video stream.
func (c *Capture) Caps() *Caps {
	caps := VideoCaps(c.cfg.Mode.Width, c.cfg.Mode.Height, c.cfg.Profile.PixelFormat)
	caps.WithAttr("framerate-num", c.cfg.Mode.FPSNum)
	caps.WithAttr("framerate-den", c.cfg.Mode.FPSDen)
	return caps
}

// Start opens the device and begins streaming.
func (c *Capture) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("capture: already started")
	}
	c.running = true
	c.stopped = false
	c.mu.Unlock()

	input, err := c.cfg.Driver.OpenInput(c.cfg.Profile)
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("capture: open input: %w", err)
	}
	c.input = input

	if err := input.StartStreams(c.cfg.Mode, c.onVideoFrame, c.onAudioPacket); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("capture: start streams: %w", err)
	}

	c.cfg.Logger.Info().
		Str("model", c.cfg.Driver.Info().Model).
		Int("width", c.cfg.Mode.Width).
		Int("height", c.cfg.Mode.Height).
		Msg("capture started")
	return nil
}

// Stop halts streaming and unblocks pending reads.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.stopped = true
	c.queue = nil
	c.pending = nil
	c.cond.Broadcast()
	c.mu.Unlock()

	if c.input != nil {
		if err := c.input.StopStreams(); err != nil {
			return fmt.Errorf("capture: stop streams: %w", err)
		}
	}
	c.cfg.Logger.Info().Msg("capture stopped")
	return nil
}

// onVideoFrame runs on the driver thread.
func (c *Capture) onVideoFrame(f VideoInputFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}

	if c.skip > 0 {
		c.skip--
		c.statsMu.Lock()
		c.stats.FramesSkipped++
		c.statsMu.Unlock()
		return
	}

	buf := &Buffer{
		PTS:      f.Timestamp,
		Duration: f.Duration,
	}
	if f.NoSignal || f.Frame == nil {
		buf.Flags |= BufferFlagGap
		c.statsMu.Lock()
		c.stats.NoSignalFrames++
		c.statsMu.Unlock()
	} else {
		buf.Video = f.Frame
	}

	c.attachPendingAudio(buf, f)

	if c.discont {
		buf.Flags |= BufferFlagDiscont
		c.discont = false
	}

	if len(c.queue) >= c.cfg.MaxQueuedFrames {
		c.queue = c.queue[1:]
		c.discont = true
		buf.Flags |= BufferFlagDiscont
		c.statsMu.Lock()
		c.stats.FramesDropped++
		c.statsMu.Unlock()
		c.cfg.Logger.Warn().
			Uint64("pts", uint64(buf.PTS)).
			Msg("capture queue overflow, dropped oldest frame")
	}
	c.queue = append(c.queue, buf)
	c.statsMu.Lock()
	c.stats.FramesCaptured++
	c.statsMu.Unlock()
	c.cond.Broadcast()
}

// attachPendingAudio pairs queued audio with the frame. Audio far outside the
// frame's interval indicates a capture desync and is discarded. Called with
// mu held.
func (c *Capture) attachPendingAudio(buf *Buffer, f VideoInputFrame) {
	if c.cfg.Profile.AudioChannels == 0 || len(c.pending) == 0 {
		return
	}

	frameEnd := f.Timestamp
	if frameEnd.Valid() && f.Duration.Valid() {
		frameEnd += f.Duration
	}

	var matched *AudioInputPacket
	var kept []AudioInputPacket
	for _, pkt := range c.pending {
		if pkt.Timestamp.Valid() && f.Timestamp.Valid() {
			delta := pkt.Timestamp - f.Timestamp
			if pkt.Timestamp < f.Timestamp {
				delta = f.Timestamp - pkt.Timestamp
			}
			if delta > c.cfg.DesyncThreshold {
				c.statsMu.Lock()
				c.stats.AudioDiscarded++
				c.statsMu.Unlock()
				c.cfg.Logger.Warn().
					Uint64("audio_ts", uint64(pkt.Timestamp)).
					Uint64("video_ts", uint64(f.Timestamp)).
					Msg("audio/video desync, discarding audio packet")
				continue
			}
		}
		if frameEnd.Valid() && pkt.Timestamp.Valid() && pkt.Timestamp >= frameEnd {
			kept = append(kept, pkt)
			continue
		}
		matched = &pkt
	}
	c.pending = kept

	if matched != nil {
		buf.AddMeta(AudioMeta{
			Samples: &Buffer{
				Data:    matched.Samples.Data,
				Samples: matched.Samples,
				PTS:     matched.Timestamp,
			},
			Caps: AudioCaps(matched.Samples.SampleRate, matched.Samples.Channels, matched.Samples.Format),
		})
	}
}

// onAudioPacket runs on the driver thread.
func (c *Capture) onAudioPacket(pkt AudioInputPacket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.cfg.Profile.AudioChannels == 0 {
		return
	}
	c.pending = append(c.pending, pkt)
	c.statsMu.Lock()
	c.stats.AudioPackets++
	c.statsMu.Unlock()
}

// ReadBuffer returns the next captured frame, blocking until one is
// available. It returns FlowFlushing when the context is cancelled or the
// capture is stopped.
func (c *Capture) ReadBuffer(ctx context.Context) (*Buffer, Flow) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	for len(c.queue) == 0 {
		if c.stopped || ctx.Err() != nil {
			return nil, FlowFlushing
		}
		c.cond.Wait()
	}
	buf := c.queue[0]
	c.queue = c.queue[1:]
	return buf, FlowOK
}

// QueuedFrames returns the current queue depth.
func (c *Capture) QueuedFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Stats returns a snapshot of capture counters.
func (c *Capture) Stats() CaptureStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}
