package avpipe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestPatternSourceTimeline(t *testing.T) {
	src := NewTestPatternSource(TestPatternConfig{Width: 64, Height: 64, FPS: 25})

	for i := 0; i < 3; i++ {
		buf := src.NextBuffer()
		require.NotNil(t, buf.Video)
		assert.Equal(t, ClockTime(i)*40*Millisecond, buf.PTS)
		assert.Equal(t, 40*Millisecond, buf.Duration)
		assert.Equal(t, 64, buf.Video.Width)
		assert.Equal(t, PixelFormatI420, buf.Video.Format)
	}
}

func TestTestPatternSourceCaps(t *testing.T) {
	src := NewTestPatternSource(DefaultTestPatternConfig())
	caps := src.Caps()
	assert.Equal(t, MediaTypeRawVideo, caps.MediaType)
	assert.Equal(t, 1280, caps.IntAttr("width", 0))
	assert.Equal(t, 30, caps.IntAttr("framerate-num", 0))
}

func TestTestPatternSourceSolidColor(t *testing.T) {
	src := NewTestPatternSource(TestPatternConfig{
		Width: 16, Height: 16, FPS: 30,
		Pattern: PatternSolidColor,
		SolidR:  255, SolidG: 255, SolidB: 255,
	})
	buf := src.NextBuffer()
	assert.InDelta(t, 235, int(buf.Video.Data[0][0]), 2)
}

func TestTestPatternSourceMovingBoxAnimates(t *testing.T) {
	src := NewTestPatternSource(TestPatternConfig{
		Width: 64, Height: 64, FPS: 30,
		Pattern: PatternMovingBox,
	})
	a := src.NextBuffer()
	var b *Buffer
	for i := 0; i < 30; i++ {
		b = src.NextBuffer()
	}

	same := true
	for i := range a.Video.Data[0] {
		if a.Video.Data[0][i] != b.Video.Data[0][i] {
			same = false
			break
		}
	}
	assert.False(t, same, "moving box must move between frames")
}

func TestTestPatternSourceStartStop(t *testing.T) {
	src := NewTestPatternSource(TestPatternConfig{Width: 32, Height: 32, FPS: 100})
	require.NoError(t, src.Start(context.Background()))
	assert.Error(t, src.Start(context.Background()), "double start must fail")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	buf, err := src.ReadBuffer(ctx)
	require.NoError(t, err)
	assert.NotNil(t, buf.Video)

	require.NoError(t, src.Stop())
	require.NoError(t, src.Stop(), "stop is idempotent")
}
