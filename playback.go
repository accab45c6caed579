package avpipe

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// PlaybackConfig configures a hardware playback sink.
type PlaybackConfig struct {
	Driver  Driver
	Profile DeviceProfile
	Mode    DisplayMode
	// PrerollFrames is the number of frames to schedule before starting
	// scheduled playback.
	PrerollFrames int
	// LateThreshold is how far behind the clock a frame may be before it
	// is dropped instead of scheduled. Defaults to one frame duration.
	LateThreshold ClockTime
	// Clock provides the playback time base. Defaults to a SystemClock.
	Clock  Clock
	Logger zerolog.Logger
}

// DefaultPlaybackConfig returns a playback config with a 3-frame preroll.
func DefaultPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{
		PrerollFrames: 3,
		Mode:          Mode1080p30,
		Logger:        zerolog.Nop(),
	}
}

// PlaybackStats counts playback activity.
type PlaybackStats struct {
	FramesScheduled uint64
	FramesScaled    uint64
	FramesLate      uint64
	AudioWritten    uint64
}

// Playback renders buffers to a hardware output. Frames are scheduled at
// their presentation time; scheduled playback starts once the preroll is
// filled. Frames arriving later than the configured threshold behind the
// clock are dropped, since the hardware would only glitch on them.
type Playback struct {
	cfg    PlaybackConfig
	output DriverOutput
	clock  Clock

	mu        sync.Mutex
	started   bool // Output enabled
	playing   bool // Scheduled playback running
	prerolled int
	scaler    *VideoScaler // Raster conversion for mismatched I420 frames
	scalerW   int
	scalerH   int

	statsMu sync.Mutex
	stats   PlaybackStats
}

// NewPlayback creates a playback sink for the configured device.
func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	if cfg.Driver == nil {
		return nil, fmt.Errorf("playback: driver is required")
	}
	if cfg.PrerollFrames <= 0 {
		cfg.PrerollFrames = 3
	}
	if !cfg.LateThreshold.Valid() || cfg.LateThreshold == 0 {
		cfg.LateThreshold = cfg.Mode.FrameDuration()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = NewSystemClock()
	}
	return &Playback{cfg: cfg, clock: clock}, nil
}

// Start enables the output.
func (p *Playback) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("playback: already started")
	}
	output, err := p.cfg.Driver.OpenOutput(p.cfg.Profile)
	if err != nil {
		return fmt.Errorf("playback: open output: %w", err)
	}
	if err := output.EnableOutput(p.cfg.Mode); err != nil {
		return fmt.Errorf("playback: enable output: %w", err)
	}
	p.output = output
	p.started = true
	p.prerolled = 0
	p.cfg.Logger.Info().
		Str("model", p.cfg.Driver.Info().Model).
		Msg("playback started")
	return nil
}

// Stop halts playback and disables the output.
func (p *Playback) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	if p.playing {
		if err := p.output.StopScheduledPlayback(); err != nil {
			return fmt.Errorf("playback: stop scheduled: %w", err)
		}
		p.playing = false
	}
	if err := p.output.DisableOutput(); err != nil {
		return fmt.Errorf("playback: disable output: %w", err)
	}
	p.started = false
	p.cfg.Logger.Info().Msg("playback stopped")
	return nil
}

// Render schedules one buffer for display. During preroll, frames are queued
// on the hardware without starting the clock; once PrerollFrames are queued,
// scheduled playback begins. Returns FlowOK also for dropped late frames,
// which only bump a counter.
func (p *Playback) Render(buf *Buffer) (Flow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return FlowError, fmt.Errorf("playback: not started")
	}

	if meta := buf.AudioMeta(); meta != nil && meta.Samples != nil && meta.Samples.Samples != nil {
		if err := p.output.WriteAudioSamples(meta.Samples.Samples); err != nil {
			return FlowError, fmt.Errorf("playback: write audio: %w", err)
		}
		p.statsMu.Lock()
		p.stats.AudioWritten++
		p.statsMu.Unlock()
	}

	if buf.Video == nil {
		return FlowOK, nil
	}

	// Once the clock runs, frames too far behind it are unplayable.
	if p.playing && buf.PTS.Valid() {
		now := p.clock.Now()
		if now.Valid() && now > buf.PTS && now-buf.PTS > p.cfg.LateThreshold {
			p.statsMu.Lock()
			p.stats.FramesLate++
			p.statsMu.Unlock()
			p.cfg.Logger.Warn().
				Uint64("pts", uint64(buf.PTS)).
				Uint64("now", uint64(now)).
				Msg("dropping late frame")
			return FlowOK, nil
		}
	}

	duration := buf.Duration
	if !duration.Valid() {
		duration = p.cfg.Mode.FrameDuration()
	}
	frame := p.scaleToModeLocked(buf.Video)
	if err := p.output.ScheduleFrame(frame, buf.PTS, duration); err != nil {
		return FlowError, fmt.Errorf("playback: schedule frame: %w", err)
	}
	p.statsMu.Lock()
	p.stats.FramesScheduled++
	p.statsMu.Unlock()

	if !p.playing {
		p.prerolled++
		if p.prerolled >= p.cfg.PrerollFrames {
			start := buf.PTS
			if !start.Valid() {
				start = 0
			}
			if err := p.output.StartScheduledPlayback(start); err != nil {
				return FlowError, fmt.Errorf("playback: start scheduled: %w", err)
			}
			p.playing = true
			p.cfg.Logger.Debug().
				Int("preroll", p.prerolled).
				Msg("preroll complete, scheduled playback running")
		}
	}
	return FlowOK, nil
}

// scaleToModeLocked brings an I420 frame to the display mode's raster. The
// hardware only accepts frames matching the enabled mode. Non-I420 frames
// pass through untouched.
func (p *Playback) scaleToModeLocked(frame *VideoFrame) *VideoFrame {
	if frame.Format != PixelFormatI420 ||
		p.cfg.Mode.Width <= 0 || p.cfg.Mode.Height <= 0 ||
		(frame.Width == p.cfg.Mode.Width && frame.Height == p.cfg.Mode.Height) {
		return frame
	}
	if p.scaler == nil || p.scalerW != frame.Width || p.scalerH != frame.Height {
		p.scaler = NewVideoScaler(frame.Width, frame.Height,
			p.cfg.Mode.Width, p.cfg.Mode.Height, ScaleModeStretch)
		p.scalerW = frame.Width
		p.scalerH = frame.Height
	}
	p.statsMu.Lock()
	p.stats.FramesScaled++
	p.statsMu.Unlock()
	return p.scaler.Scale(frame)
}

// Playing reports whether scheduled playback has started.
func (p *Playback) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Stats returns a snapshot of playback counters.
func (p *Playback) Stats() PlaybackStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}
