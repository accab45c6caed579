package avpipe

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOverlayNotSupported is returned when neither attaching overlay metadata
// nor software blending can be negotiated for the current caps.
var ErrOverlayNotSupported = errors.New("neither overlay nor blending is possible")

// OverlayMode is the negotiated way of applying overlays.
type OverlayMode int

const (
	// OverlayModeUnknown means negotiation has not happened yet.
	OverlayModeUnknown OverlayMode = iota
	// OverlayModeAddMeta attaches the composition as metadata for a
	// downstream consumer that renders overlays itself.
	OverlayModeAddMeta
	// OverlayModeBlend blends the composition into the video pixels.
	OverlayModeBlend
	// OverlayModeNotSupported means the caps allow neither approach.
	OverlayModeNotSupported
)

func (m OverlayMode) String() string {
	switch m {
	case OverlayModeAddMeta:
		return "add-meta"
	case OverlayModeBlend:
		return "blend"
	case OverlayModeNotSupported:
		return "not-supported"
	default:
		return "unknown"
	}
}

// OverlayRectangle is a single overlay element: RGBA pixels placed at a
// render position, optionally rescaled and faded.
type OverlayRectangle struct {
	Pixels       *VideoFrame // Must be PixelFormatRGBA32
	RenderX      int
	RenderY      int
	RenderWidth  int     // 0 means the pixel width
	RenderHeight int     // 0 means the pixel height
	GlobalAlpha  float64 // 0 treated as fully opaque
}

// OverlayComposition is an ordered set of rectangles rendered bottom-up.
type OverlayComposition struct {
	Rectangles []OverlayRectangle
}

// VideoInfo describes the video stream an overlay renderer draws for.
type VideoInfo struct {
	Width  int
	Height int
	Format PixelFormat
}

// OverlayDrawFunc produces the composition for one frame. Returning nil
// leaves the frame untouched.
type OverlayDrawFunc func(info VideoInfo, pts ClockTime) *OverlayComposition

// OverlayConfig configures an Overlay.
type OverlayConfig struct {
	// Draw is invoked per frame to obtain the composition.
	Draw OverlayDrawFunc
	// OnCapsChanged, when set, is notified after caps negotiation with
	// the stream info and the negotiated mode.
	OnCapsChanged func(info VideoInfo, mode OverlayMode)
	// DownstreamCaps describes what the consumer accepts. Caps carrying
	// FeatureOverlayComposition enable meta attachment.
	DownstreamCaps *Caps
}

// Overlay applies application-drawn compositions to a video stream, either by
// attaching them as metadata when downstream can render overlays itself, or
// by software-blending them into I420 frames.
type Overlay struct {
	cfg OverlayConfig

	mu   sync.Mutex
	mode OverlayMode
	info VideoInfo
}

// NewOverlay creates an overlay element. Draw may be nil, in which case only
// pre-attached overlay metadata is applied.
func NewOverlay(cfg OverlayConfig) *Overlay {
	return &Overlay{cfg: cfg}
}

// Mode returns the negotiated overlay mode.
func (o *Overlay) Mode() OverlayMode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// SetCaps negotiates the overlay mode for the given input caps. Downstream
// caps announcing overlay-composition support select meta attachment; I420
// input falls back to blending; anything else fails.
func (o *Overlay) SetCaps(caps *Caps) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if caps == nil || caps.MediaType != MediaTypeRawVideo {
		o.mode = OverlayModeNotSupported
		return fmt.Errorf("caps %s: %w", caps, ErrOverlayNotSupported)
	}

	o.info = VideoInfo{
		Width:  caps.IntAttr("width", 0),
		Height: caps.IntAttr("height", 0),
	}
	switch caps.StringAttr("format", "") {
	case PixelFormatI420.String():
		o.info.Format = PixelFormatI420
	case PixelFormatNV12.String():
		o.info.Format = PixelFormatNV12
	case PixelFormatRGBA32.String():
		o.info.Format = PixelFormatRGBA32
	case PixelFormatBGRA32.String():
		o.info.Format = PixelFormatBGRA32
	case PixelFormatRGB24.String():
		o.info.Format = PixelFormatRGB24
	}

	switch {
	case o.cfg.DownstreamCaps.HasFeature(FeatureOverlayComposition):
		o.mode = OverlayModeAddMeta
	case o.info.Format == PixelFormatI420:
		o.mode = OverlayModeBlend
	default:
		o.mode = OverlayModeNotSupported
		return fmt.Errorf("caps %s: %w", caps, ErrOverlayNotSupported)
	}

	if o.cfg.OnCapsChanged != nil {
		o.cfg.OnCapsChanged(o.info, o.mode)
	}
	return nil
}

// Transform applies the overlay to one buffer. In meta mode the drawn
// composition is attached; in blend mode it is rendered into the frame along
// with any compositions already attached upstream.
func (o *Overlay) Transform(buf *Buffer) (*Buffer, error) {
	o.mu.Lock()
	mode := o.mode
	info := o.info
	o.mu.Unlock()

	switch mode {
	case OverlayModeUnknown, OverlayModeNotSupported:
		return nil, ErrOverlayNotSupported
	}

	var comp *OverlayComposition
	if o.cfg.Draw != nil {
		comp = o.cfg.Draw(info, buf.PTS)
	}

	if mode == OverlayModeAddMeta {
		if comp == nil {
			return buf, nil
		}
		out := buf.Clone()
		out.AddMeta(OverlayMeta{Composition: comp})
		return out, nil
	}

	// Blend mode. Upstream-attached compositions are consumed here since
	// nothing downstream will interpret them.
	pending := buf.OverlayMetas()
	if comp == nil && len(pending) == 0 {
		return buf, nil
	}
	if buf.Video == nil || buf.Video.Format != PixelFormatI420 {
		return nil, fmt.Errorf("blend requires an I420 frame: %w", ErrOverlayNotSupported)
	}

	out := buf.Clone()
	out.Video = buf.Video.Clone()
	kept := out.Metas[:0]
	for _, m := range out.Metas {
		if _, isOverlay := m.(OverlayMeta); !isOverlay {
			kept = append(kept, m)
		}
	}
	out.Metas = kept

	for _, m := range pending {
		blendComposition(out.Video, m.Composition)
	}
	if comp != nil {
		blendComposition(out.Video, comp)
	}
	return out, nil
}

func blendComposition(frame *VideoFrame, comp *OverlayComposition) {
	if comp == nil {
		return
	}
	for i := range comp.Rectangles {
		blendRectangle(frame, &comp.Rectangles[i])
	}
}

// blendRectangle alpha-blends an RGBA rectangle into an I420 frame. The
// rectangle is first rescaled to its render size with bilinear interpolation;
// chroma is taken from the top-left pixel of each 2x2 block.
func blendRectangle(frame *VideoFrame, rect *OverlayRectangle) {
	src := rect.Pixels
	if src == nil || src.Format != PixelFormatRGBA32 {
		return
	}

	rw, rh := rect.RenderWidth, rect.RenderHeight
	if rw <= 0 {
		rw = src.Width
	}
	if rh <= 0 {
		rh = src.Height
	}
	globalAlpha := rect.GlobalAlpha
	if globalAlpha <= 0 || globalAlpha > 1 {
		globalAlpha = 1
	}
	src = ScaleRGBA(src, rw, rh)

	yPlane, uPlane, vPlane := frame.Data[0], frame.Data[1], frame.Data[2]
	yStride, uStride, vStride := frame.Stride[0], frame.Stride[1], frame.Stride[2]

	for dy := 0; dy < rh; dy++ {
		fy := rect.RenderY + dy
		if fy < 0 || fy >= frame.Height {
			continue
		}
		row := src.Data[0][dy*src.Stride[0]:]

		for dx := 0; dx < rw; dx++ {
			fx := rect.RenderX + dx
			if fx < 0 || fx >= frame.Width {
				continue
			}
			px := row[dx*4 : dx*4+4]

			alpha := float64(px[3]) / 255 * globalAlpha
			if alpha <= 0 {
				continue
			}

			oy, ou, ov := rgbToYUV(px[0], px[1], px[2])

			yi := fy*yStride + fx
			yPlane[yi] = mix(yPlane[yi], oy, alpha)

			if fy%2 == 0 && fx%2 == 0 {
				ui := (fy/2)*uStride + fx/2
				vi := (fy/2)*vStride + fx/2
				uPlane[ui] = mix(uPlane[ui], ou, alpha)
				vPlane[vi] = mix(vPlane[vi], ov, alpha)
			}
		}
	}
}

func mix(bg, fg byte, alpha float64) byte {
	return byte(float64(bg)*(1-alpha) + float64(fg)*alpha)
}

// rgbToYUV converts an RGB pixel to BT.601 limited-range YUV.
func rgbToYUV(r, g, b byte) (y, u, v byte) {
	rf, gf, bf := float64(r), float64(g), float64(b)
	yf := 0.257*rf + 0.504*gf + 0.098*bf + 16
	uf := -0.148*rf - 0.291*gf + 0.439*bf + 128
	vf := 0.439*rf - 0.368*gf - 0.071*bf + 128
	return clampByte(yf), clampByte(uf), clampByte(vf)
}

func clampByte(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
