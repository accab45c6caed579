package avpipe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidRGBA(w, h int, r, g, b, a byte) *VideoFrame {
	data := make([]byte, w*h*4)
	for i := 0; i < w*h; i++ {
		data[i*4] = r
		data[i*4+1] = g
		data[i*4+2] = b
		data[i*4+3] = a
	}
	return &VideoFrame{
		Data:   [][]byte{data},
		Stride: []int{w * 4},
		Width:  w,
		Height: h,
		Format: PixelFormatRGBA32,
	}
}

func TestOverlayNegotiatesAddMeta(t *testing.T) {
	ov := NewOverlay(OverlayConfig{
		DownstreamCaps: VideoCaps(1280, 720, PixelFormatI420).WithFeature(FeatureOverlayComposition),
	})
	require.NoError(t, ov.SetCaps(VideoCaps(1280, 720, PixelFormatI420)))
	assert.Equal(t, OverlayModeAddMeta, ov.Mode())
}

func TestOverlayNegotiatesBlendForI420(t *testing.T) {
	ov := NewOverlay(OverlayConfig{DownstreamCaps: VideoCaps(1280, 720, PixelFormatI420)})
	require.NoError(t, ov.SetCaps(VideoCaps(1280, 720, PixelFormatI420)))
	assert.Equal(t, OverlayModeBlend, ov.Mode())
}

func TestOverlayNegotiationFails(t *testing.T) {
	ov := NewOverlay(OverlayConfig{DownstreamCaps: VideoCaps(1280, 720, PixelFormatRGB24)})
	err := ov.SetCaps(VideoCaps(1280, 720, PixelFormatRGB24))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOverlayNotSupported))
	assert.Equal(t, OverlayModeNotSupported, ov.Mode())

	_, err = ov.Transform(&Buffer{Video: NewI420Frame(16, 16)})
	assert.Error(t, err)
}

func TestOverlayAddMetaAttachesComposition(t *testing.T) {
	comp := &OverlayComposition{Rectangles: []OverlayRectangle{{
		Pixels:  solidRGBA(8, 8, 255, 0, 0, 255),
		RenderX: 0, RenderY: 0,
	}}}
	var gotInfo VideoInfo
	ov := NewOverlay(OverlayConfig{
		Draw: func(info VideoInfo, pts ClockTime) *OverlayComposition {
			gotInfo = info
			return comp
		},
		DownstreamCaps: NewCaps(MediaTypeRawVideo).WithFeature(FeatureOverlayComposition),
	})
	require.NoError(t, ov.SetCaps(VideoCaps(64, 64, PixelFormatI420)))

	in := &Buffer{Video: NewI420Frame(64, 64), PTS: Second}
	out, err := ov.Transform(in)
	require.NoError(t, err)

	assert.Equal(t, 64, gotInfo.Width)
	metas := out.OverlayMetas()
	require.Len(t, metas, 1)
	assert.Same(t, comp, metas[0].Composition)
	// The input buffer is untouched.
	assert.Empty(t, in.Metas)
}

func TestOverlayBlendWritesPixels(t *testing.T) {
	ov := NewOverlay(OverlayConfig{
		Draw: func(info VideoInfo, pts ClockTime) *OverlayComposition {
			return &OverlayComposition{Rectangles: []OverlayRectangle{{
				Pixels:  solidRGBA(8, 8, 255, 255, 255, 255),
				RenderX: 0, RenderY: 0,
			}}}
		},
		DownstreamCaps: VideoCaps(16, 16, PixelFormatI420),
	})
	require.NoError(t, ov.SetCaps(VideoCaps(16, 16, PixelFormatI420)))

	in := &Buffer{Video: NewI420Frame(16, 16)}
	out, err := ov.Transform(in)
	require.NoError(t, err)

	// Opaque white lands near Y=235 in limited range.
	assert.InDelta(t, 235, int(out.Video.Data[0][0]), 3)
	// Outside the rectangle the frame stays black.
	assert.Equal(t, byte(0), out.Video.Data[0][15*16+15])
	// The source frame must not be modified in place.
	assert.Equal(t, byte(0), in.Video.Data[0][0])
}

func TestOverlayBlendGlobalAlpha(t *testing.T) {
	ov := NewOverlay(OverlayConfig{
		Draw: func(info VideoInfo, pts ClockTime) *OverlayComposition {
			return &OverlayComposition{Rectangles: []OverlayRectangle{{
				Pixels:      solidRGBA(4, 4, 255, 255, 255, 255),
				GlobalAlpha: 0.5,
			}}}
		},
		DownstreamCaps: VideoCaps(8, 8, PixelFormatI420),
	})
	require.NoError(t, ov.SetCaps(VideoCaps(8, 8, PixelFormatI420)))

	out, err := ov.Transform(&Buffer{Video: NewI420Frame(8, 8)})
	require.NoError(t, err)

	got := int(out.Video.Data[0][0])
	assert.Greater(t, got, 100)
	assert.Less(t, got, 135)
}

func TestOverlayBlendConsumesAttachedMeta(t *testing.T) {
	ov := NewOverlay(OverlayConfig{DownstreamCaps: VideoCaps(16, 16, PixelFormatI420)})
	require.NoError(t, ov.SetCaps(VideoCaps(16, 16, PixelFormatI420)))

	in := &Buffer{Video: NewI420Frame(16, 16)}
	in.AddMeta(OverlayMeta{Composition: &OverlayComposition{Rectangles: []OverlayRectangle{{
		Pixels: solidRGBA(4, 4, 255, 255, 255, 255),
	}}}})

	out, err := ov.Transform(in)
	require.NoError(t, err)
	assert.Empty(t, out.OverlayMetas(), "blended compositions must not stay attached")
	assert.InDelta(t, 235, int(out.Video.Data[0][0]), 3)
}

func TestOverlayBlendRectangleScaling(t *testing.T) {
	ov := NewOverlay(OverlayConfig{
		Draw: func(info VideoInfo, pts ClockTime) *OverlayComposition {
			return &OverlayComposition{Rectangles: []OverlayRectangle{{
				Pixels:       solidRGBA(2, 2, 255, 255, 255, 255),
				RenderWidth:  8,
				RenderHeight: 8,
			}}}
		},
		DownstreamCaps: VideoCaps(16, 16, PixelFormatI420),
	})
	require.NoError(t, ov.SetCaps(VideoCaps(16, 16, PixelFormatI420)))

	out, err := ov.Transform(&Buffer{Video: NewI420Frame(16, 16)})
	require.NoError(t, err)
	// The 2x2 source covers the full 8x8 render area.
	assert.InDelta(t, 235, int(out.Video.Data[0][7*16+7]), 3)
	assert.Equal(t, byte(0), out.Video.Data[0][8*16+8])
}

func TestOverlayNoCompositionPassesThrough(t *testing.T) {
	ov := NewOverlay(OverlayConfig{DownstreamCaps: VideoCaps(16, 16, PixelFormatI420)})
	require.NoError(t, ov.SetCaps(VideoCaps(16, 16, PixelFormatI420)))

	in := &Buffer{Video: NewI420Frame(16, 16)}
	out, err := ov.Transform(in)
	require.NoError(t, err)
	assert.Same(t, in, out)
}
