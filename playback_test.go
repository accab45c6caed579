package avpipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlayback(t *testing.T, mutate func(*PlaybackConfig)) (*Playback, *fakeDriver) {
	t.Helper()
	driver := &fakeDriver{}
	cfg := DefaultPlaybackConfig()
	cfg.Driver = driver
	cfg.Clock = NewTestClock(0)
	if mutate != nil {
		mutate(&cfg)
	}
	pb, err := NewPlayback(cfg)
	require.NoError(t, err)
	require.NoError(t, pb.Start())
	t.Cleanup(func() { pb.Stop() })
	return pb, driver
}

func videoBuffer(pts ClockTime) *Buffer {
	return &Buffer{Video: NewI420Frame(16, 16), PTS: pts, Duration: 40 * Millisecond}
}

func TestPlaybackRequiresDriver(t *testing.T) {
	_, err := NewPlayback(DefaultPlaybackConfig())
	assert.Error(t, err)
}

func TestPlaybackPrerollBeforeStart(t *testing.T) {
	pb, driver := newTestPlayback(t, nil)

	for i := 0; i < 2; i++ {
		flow, err := pb.Render(videoBuffer(ClockTime(i) * 40 * Millisecond))
		require.NoError(t, err)
		require.Equal(t, FlowOK, flow)
		assert.False(t, pb.Playing(), "playback must not start before the preroll fills")
	}

	flow, err := pb.Render(videoBuffer(80 * Millisecond))
	require.NoError(t, err)
	require.Equal(t, FlowOK, flow)
	assert.True(t, pb.Playing())
	assert.True(t, driver.output.playing)
	assert.Len(t, driver.output.frames, 3)
	assert.Equal(t, uint64(3), pb.Stats().FramesScheduled)
}

func TestPlaybackDropsLateFrames(t *testing.T) {
	clock := NewTestClock(0)
	pb, driver := newTestPlayback(t, func(cfg *PlaybackConfig) {
		cfg.Clock = clock
		cfg.PrerollFrames = 1
		cfg.LateThreshold = 40 * Millisecond
	})

	flow, err := pb.Render(videoBuffer(0))
	require.NoError(t, err)
	require.Equal(t, FlowOK, flow)
	require.True(t, pb.Playing())

	// The clock has moved well past this frame's PTS.
	clock.Set(Second)
	flow, err = pb.Render(videoBuffer(100 * Millisecond))
	require.NoError(t, err)
	require.Equal(t, FlowOK, flow)
	assert.Len(t, driver.output.frames, 1, "late frame must not reach the hardware")
	assert.Equal(t, uint64(1), pb.Stats().FramesLate)

	// A frame at/ahead of the clock still goes out.
	flow, err = pb.Render(videoBuffer(Second + 40*Millisecond))
	require.NoError(t, err)
	require.Equal(t, FlowOK, flow)
	assert.Len(t, driver.output.frames, 2)
}

func TestPlaybackWritesAudioMeta(t *testing.T) {
	pb, driver := newTestPlayback(t, func(cfg *PlaybackConfig) {
		cfg.PrerollFrames = 1
	})

	buf := videoBuffer(0)
	buf.AddMeta(AudioMeta{
		Samples: &Buffer{Samples: &AudioSamples{SampleRate: 48000, Channels: 2}},
		Caps:    AudioCaps(48000, 2, AudioFormatS16),
	})
	flow, err := pb.Render(buf)
	require.NoError(t, err)
	require.Equal(t, FlowOK, flow)

	require.Len(t, driver.output.audio, 1)
	assert.Equal(t, 48000, driver.output.audio[0].SampleRate)
	assert.Equal(t, uint64(1), pb.Stats().AudioWritten)
}

func TestPlaybackAudioOnlyBufferSchedulesNothing(t *testing.T) {
	pb, driver := newTestPlayback(t, nil)

	flow, err := pb.Render(&Buffer{PTS: 0})
	require.NoError(t, err)
	require.Equal(t, FlowOK, flow)
	assert.Empty(t, driver.output.frames)
	assert.False(t, pb.Playing())
}

func TestPlaybackStopDisablesOutput(t *testing.T) {
	pb, driver := newTestPlayback(t, func(cfg *PlaybackConfig) {
		cfg.PrerollFrames = 1
	})
	_, err := pb.Render(videoBuffer(0))
	require.NoError(t, err)
	require.True(t, driver.output.playing)

	require.NoError(t, pb.Stop())
	assert.False(t, driver.output.playing)
	assert.False(t, driver.output.enabled)

	_, err = pb.Render(videoBuffer(Second))
	assert.Error(t, err, "render after stop must fail")
}

func TestPlaybackScalesToModeRaster(t *testing.T) {
	pb, driver := newTestPlayback(t, func(cfg *PlaybackConfig) {
		cfg.PrerollFrames = 1
		cfg.Mode = Mode720p50
	})

	_, err := pb.Render(videoBuffer(0))
	require.NoError(t, err)

	// The hardware only accepts frames matching the enabled mode.
	require.Len(t, driver.output.frames, 1)
	assert.Equal(t, 1280, driver.output.frames[0].width)
	assert.Equal(t, 720, driver.output.frames[0].height)
	assert.Equal(t, uint64(1), pb.Stats().FramesScaled)

	// A frame already at the raster is passed through unscaled.
	buf := &Buffer{Video: NewI420Frame(1280, 720), PTS: 40 * Millisecond, Duration: 20 * Millisecond}
	_, err = pb.Render(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pb.Stats().FramesScaled)
}

func TestPlaybackDefaultFrameDuration(t *testing.T) {
	pb, driver := newTestPlayback(t, func(cfg *PlaybackConfig) {
		cfg.PrerollFrames = 1
		cfg.Mode = Mode1080p25
	})

	buf := &Buffer{Video: NewI420Frame(16, 16), PTS: 0, Duration: ClockTimeNone}
	_, err := pb.Render(buf)
	require.NoError(t, err)

	require.Len(t, driver.output.frames, 1)
	assert.Equal(t, 40*Millisecond, driver.output.frames[0].duration)
}
