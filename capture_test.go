package avpipe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver is an in-process Driver for tests. The test drives the capture
// callbacks directly through emitVideo/emitAudio, standing in for the vendor
// thread.
type fakeDriver struct {
	mu      sync.Mutex
	onVideo func(VideoInputFrame)
	onAudio func(AudioInputPacket)
	output  *fakeOutput

	openInputErr  error
	openOutputErr error
}

func (d *fakeDriver) Info() DriverInfo {
	return DriverInfo{Model: "Fake Duo 2", DisplayName: "fake", PersistentID: 42, MaxChannels: 16}
}

func (d *fakeDriver) OpenInput(profile DeviceProfile) (DriverInput, error) {
	if d.openInputErr != nil {
		return nil, d.openInputErr
	}
	return &fakeInput{driver: d}, nil
}

func (d *fakeDriver) OpenOutput(profile DeviceProfile) (DriverOutput, error) {
	if d.openOutputErr != nil {
		return nil, d.openOutputErr
	}
	d.output = &fakeOutput{}
	return d.output, nil
}

func (d *fakeDriver) Close() error { return nil }

func (d *fakeDriver) emitVideo(f VideoInputFrame) {
	d.mu.Lock()
	cb := d.onVideo
	d.mu.Unlock()
	if cb != nil {
		cb(f)
	}
}

func (d *fakeDriver) emitAudio(p AudioInputPacket) {
	d.mu.Lock()
	cb := d.onAudio
	d.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

type fakeInput struct {
	driver *fakeDriver
}

func (in *fakeInput) StartStreams(mode DisplayMode, onVideo func(VideoInputFrame), onAudio func(AudioInputPacket)) error {
	in.driver.mu.Lock()
	in.driver.onVideo = onVideo
	in.driver.onAudio = onAudio
	in.driver.mu.Unlock()
	return nil
}

func (in *fakeInput) StopStreams() error {
	in.driver.mu.Lock()
	in.driver.onVideo = nil
	in.driver.onAudio = nil
	in.driver.mu.Unlock()
	return nil
}

type scheduled struct {
	displayTime ClockTime
	duration    ClockTime
	width       int
	height      int
}

type fakeOutput struct {
	mu        sync.Mutex
	enabled   bool
	playing   bool
	startTime ClockTime
	frames    []scheduled
	audio     []*AudioSamples
}

func (o *fakeOutput) EnableOutput(mode DisplayMode) error {
	o.mu.Lock()
	o.enabled = true
	o.mu.Unlock()
	return nil
}

func (o *fakeOutput) DisableOutput() error {
	o.mu.Lock()
	o.enabled = false
	o.mu.Unlock()
	return nil
}

func (o *fakeOutput) ScheduleFrame(frame *VideoFrame, displayTime, duration ClockTime) error {
	o.mu.Lock()
	o.frames = append(o.frames, scheduled{
		displayTime: displayTime,
		duration:    duration,
		width:       frame.Width,
		height:      frame.Height,
	})
	o.mu.Unlock()
	return nil
}

func (o *fakeOutput) WriteAudioSamples(samples *AudioSamples) error {
	o.mu.Lock()
	o.audio = append(o.audio, samples)
	o.mu.Unlock()
	return nil
}

func (o *fakeOutput) StartScheduledPlayback(startTime ClockTime) error {
	o.mu.Lock()
	o.playing = true
	o.startTime = startTime
	o.mu.Unlock()
	return nil
}

func (o *fakeOutput) StopScheduledPlayback() error {
	o.mu.Lock()
	o.playing = false
	o.mu.Unlock()
	return nil
}

func videoInput(pts ClockTime) VideoInputFrame {
	return VideoInputFrame{
		Frame:     NewI420Frame(16, 16),
		Timestamp: pts,
		Duration:  40 * Millisecond,
	}
}

func newTestCapture(t *testing.T, mutate func(*CaptureConfig)) (*Capture, *fakeDriver) {
	t.Helper()
	driver := &fakeDriver{}
	cfg := DefaultCaptureConfig()
	cfg.Driver = driver
	cfg.Profile = DeviceProfile{AudioChannels: 2}
	if mutate != nil {
		mutate(&cfg)
	}
	capt, err := NewCapture(cfg)
	require.NoError(t, err)
	require.NoError(t, capt.Start())
	t.Cleanup(func() { capt.Stop() })
	return capt, driver
}

func TestCaptureDeliversFrames(t *testing.T) {
	capt, driver := newTestCapture(t, nil)

	driver.emitVideo(videoInput(0))
	buf, flow := capt.ReadBuffer(context.Background())
	require.Equal(t, FlowOK, flow)
	require.NotNil(t, buf.Video)
	assert.Equal(t, ClockTime(0), buf.PTS)
	assert.Equal(t, 40*Millisecond, buf.Duration)
	assert.Equal(t, uint64(1), capt.Stats().FramesCaptured)
}

func TestCaptureRequiresDriver(t *testing.T) {
	cfg := DefaultCaptureConfig()
	_, err := NewCapture(cfg)
	assert.Error(t, err)
}

func TestCaptureOverflowDropsOldest(t *testing.T) {
	capt, driver := newTestCapture(t, func(cfg *CaptureConfig) {
		cfg.MaxQueuedFrames = 2
	})

	driver.emitVideo(videoInput(0))
	driver.emitVideo(videoInput(40 * Millisecond))
	driver.emitVideo(videoInput(80 * Millisecond)) // Evicts frame 0

	assert.Equal(t, 2, capt.QueuedFrames())
	assert.Equal(t, uint64(1), capt.Stats().FramesDropped)

	buf, _ := capt.ReadBuffer(context.Background())
	assert.Equal(t, 40*Millisecond, buf.PTS)
	buf, _ = capt.ReadBuffer(context.Background())
	assert.Equal(t, 80*Millisecond, buf.PTS)
	assert.True(t, buf.Flags.Has(BufferFlagDiscont), "frame after an eviction is a discontinuity")
}

func TestCaptureAttachesAudio(t *testing.T) {
	capt, driver := newTestCapture(t, nil)

	driver.emitAudio(AudioInputPacket{
		Samples:   &AudioSamples{SampleRate: 48000, Channels: 2, Format: AudioFormatS16, SampleCount: 1920},
		Timestamp: 0,
	})
	driver.emitVideo(videoInput(0))

	buf, _ := capt.ReadBuffer(context.Background())
	meta := buf.AudioMeta()
	require.NotNil(t, meta)
	assert.Equal(t, 2, meta.Caps.IntAttr("channels", 0))
	assert.Equal(t, 48000, meta.Samples.Samples.SampleRate)
}

func TestCaptureDiscardsDesyncedAudio(t *testing.T) {
	capt, driver := newTestCapture(t, nil)

	// Audio half a second away from the frame is beyond the 250ms default.
	driver.emitAudio(AudioInputPacket{
		Samples:   &AudioSamples{SampleRate: 48000, Channels: 2},
		Timestamp: 500 * Millisecond,
	})
	driver.emitVideo(videoInput(0))

	buf, _ := capt.ReadBuffer(context.Background())
	assert.Nil(t, buf.AudioMeta())
	assert.Equal(t, uint64(1), capt.Stats().AudioDiscarded)
}

func TestCaptureNoSignalBecomesGap(t *testing.T) {
	capt, driver := newTestCapture(t, nil)

	driver.emitVideo(VideoInputFrame{Timestamp: 0, Duration: 40 * Millisecond, NoSignal: true})
	buf, _ := capt.ReadBuffer(context.Background())
	assert.True(t, buf.Flags.Has(BufferFlagGap))
	assert.Nil(t, buf.Video)
	assert.Equal(t, uint64(1), capt.Stats().NoSignalFrames)
}

func TestCaptureSkipsStartupFrames(t *testing.T) {
	capt, driver := newTestCapture(t, func(cfg *CaptureConfig) {
		cfg.SkipFirstFrames = 2
	})

	driver.emitVideo(videoInput(0))
	driver.emitVideo(videoInput(40 * Millisecond))
	driver.emitVideo(videoInput(80 * Millisecond))

	assert.Equal(t, 1, capt.QueuedFrames())
	buf, _ := capt.ReadBuffer(context.Background())
	assert.Equal(t, 80*Millisecond, buf.PTS)
	assert.Equal(t, uint64(2), capt.Stats().FramesSkipped)
}

func TestCaptureReadCancellation(t *testing.T) {
	capt, _ := newTestCapture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Flow, 1)
	go func() {
		_, flow := capt.ReadBuffer(ctx)
		done <- flow
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case flow := <-done:
		assert.Equal(t, FlowFlushing, flow)
	case <-time.After(time.Second):
		t.Fatal("read did not observe cancellation")
	}
}

func TestCaptureStopUnblocksRead(t *testing.T) {
	capt, _ := newTestCapture(t, nil)

	done := make(chan Flow, 1)
	go func() {
		_, flow := capt.ReadBuffer(context.Background())
		done <- flow
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, capt.Stop())

	select {
	case flow := <-done:
		assert.Equal(t, FlowFlushing, flow)
	case <-time.After(time.Second):
		t.Fatal("read did not observe stop")
	}
}

func TestCaptureCaps(t *testing.T) {
	capt, _ := newTestCapture(t, func(cfg *CaptureConfig) {
		cfg.Mode = Mode720p50
	})
	caps := capt.Caps()
	assert.Equal(t, 1280, caps.IntAttr("width", 0))
	assert.Equal(t, 720, caps.IntAttr("height", 0))
	assert.Equal(t, 50, caps.IntAttr("framerate-num", 0))
}

func TestCaptureDemuxSplitsStreams(t *testing.T) {
	var videos, audios []*Buffer
	var audioCaps *Caps
	demux := NewCaptureDemux(
		func(b *Buffer) { videos = append(videos, b) },
		func(b *Buffer) { audios = append(audios, b) },
		func(c *Caps) { audioCaps = c },
	)

	buf := &Buffer{Video: NewI420Frame(16, 16), PTS: Second}
	buf.AddMeta(AudioMeta{
		Samples: &Buffer{Samples: &AudioSamples{SampleRate: 48000, Channels: 2}},
		Caps:    AudioCaps(48000, 2, AudioFormatS16),
	})
	demux.Process(buf)

	require.Len(t, videos, 1)
	assert.Nil(t, videos[0].AudioMeta(), "audio meta is stripped from the video path")
	require.Len(t, audios, 1)
	assert.Equal(t, Second, audios[0].PTS, "audio inherits the frame PTS when it has none")
	require.NotNil(t, audioCaps)
	assert.Equal(t, 2, audioCaps.IntAttr("channels", 0))

	// A second buffer with the same caps does not re-announce them.
	audioCaps = nil
	buf2 := &Buffer{Video: NewI420Frame(16, 16), PTS: 2 * Second}
	buf2.AddMeta(AudioMeta{
		Samples: &Buffer{Samples: &AudioSamples{SampleRate: 48000, Channels: 2}},
		Caps:    AudioCaps(48000, 2, AudioFormatS16),
	})
	demux.Process(buf2)
	assert.Nil(t, audioCaps)

	// Buffers without audio pass straight through.
	demux.Process(&Buffer{Video: NewI420Frame(16, 16)})
	assert.Len(t, videos, 3)
	assert.Len(t, audios, 2)
}
