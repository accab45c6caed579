package avpipe

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420   PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
	PixelFormatNV12                      // YUV 4:2:0 semi-planar (Y + interleaved UV)
	PixelFormatRGB24                     // Packed RGB, 3 bytes per pixel
	PixelFormatRGBA32                    // Packed RGBA, 4 bytes per pixel
	PixelFormatBGRA32                    // Packed BGRA, 4 bytes per pixel
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatRGB24:
		return "RGB24"
	case PixelFormatRGBA32:
		return "RGBA32"
	case PixelFormatBGRA32:
		return "BGRA32"
	default:
		return "Unknown"
	}
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420:
		return 3 // Y, U, V
	case PixelFormatNV12:
		return 2 // Y, UV
	case PixelFormatRGB24, PixelFormatRGBA32, PixelFormatBGRA32:
		return 1 // Packed
	default:
		return 0
	}
}

// AudioFormat represents audio sample formats.
type AudioFormat int

const (
	AudioFormatS16 AudioFormat = iota // Signed 16-bit PCM
	AudioFormatS32                    // Signed 32-bit PCM
	AudioFormatF32                    // 32-bit float
)

func (a AudioFormat) String() string {
	switch a {
	case AudioFormatS16:
		return "S16"
	case AudioFormatS32:
		return "S32"
	case AudioFormatF32:
		return "F32"
	default:
		return "Unknown"
	}
}

// BytesPerSample returns the number of bytes per sample for this format.
func (a AudioFormat) BytesPerSample() int {
	switch a {
	case AudioFormatS16:
		return 2
	case AudioFormatS32, AudioFormatF32:
		return 4
	default:
		return 0
	}
}

// VideoFrame represents a raw video frame.
type VideoFrame struct {
	Data   [][]byte    // Plane data (1-3 planes depending on format)
	Stride []int       // Stride for each plane in bytes
	Width  int         // Frame width in pixels
	Height int         // Frame height in pixels
	Format PixelFormat // Pixel format
}

// Clone creates a deep copy of the video frame.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := &VideoFrame{
		Data:   make([][]byte, len(f.Data)),
		Stride: make([]int, len(f.Stride)),
		Width:  f.Width,
		Height: f.Height,
		Format: f.Format,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// NewI420Frame allocates a zeroed I420 frame.
func NewI420Frame(width, height int) *VideoFrame {
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	return &VideoFrame{
		Data:   [][]byte{make([]byte, ySize), make([]byte, uvSize), make([]byte, uvSize)},
		Stride: []int{width, width / 2, width / 2},
		Width:  width,
		Height: height,
		Format: PixelFormatI420,
	}
}

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	return ySize + uvSize*2
}

// AudioSamples represents raw audio samples.
type AudioSamples struct {
	Data        []byte      // Sample data, interleaved
	SampleRate  int         // Sample rate (e.g., 48000)
	Channels    int         // Number of channels (1 = mono, 2 = stereo)
	SampleCount int         // Number of samples (per channel)
	Format      AudioFormat // Sample format
}

// Clone creates a deep copy of the audio samples.
func (s *AudioSamples) Clone() *AudioSamples {
	clone := &AudioSamples{
		SampleRate:  s.SampleRate,
		Channels:    s.Channels,
		SampleCount: s.SampleCount,
		Format:      s.Format,
	}
	if s.Data != nil {
		clone.Data = make([]byte, len(s.Data))
		copy(clone.Data, s.Data)
	}
	return clone
}

// BufferFlags qualify a buffer's role on the timeline.
type BufferFlags uint32

const (
	BufferFlagDiscont   BufferFlags = 1 << iota // Discontinuity: preceding data was dropped
	BufferFlagGap                               // Placeholder for an interval without data
	BufferFlagDroppable                         // May be discarded without breaking the stream
	BufferFlagHeader                            // Carries stream setup data (e.g. a fragment header)
	BufferFlagDeltaUnit                         // Depends on previous buffers (non-keyframe)
	BufferFlagMarker                            // End of a logical unit (e.g. access unit)
)

// Has reports whether all given flags are set.
func (f BufferFlags) Has(flags BufferFlags) bool { return f&flags == flags }

// Meta is metadata attached to a buffer. The concrete variants are known to
// the elements that produce and consume them.
type Meta interface {
	MetaName() string
}

// AudioMeta attaches co-timed audio to a video buffer, as produced by
// AVCombiner and the capture backend.
type AudioMeta struct {
	Samples *Buffer
	Caps    *Caps
}

func (AudioMeta) MetaName() string { return "audio" }

// OverlayMeta attaches an overlay composition to a video buffer for a
// downstream consumer that can render it itself.
type OverlayMeta struct {
	Composition *OverlayComposition
}

func (OverlayMeta) MetaName() string { return "overlay-composition" }

// Buffer is a timestamped unit of media data. Either Data (encoded payloads,
// text fragments, audio bytes) or Video (raw planes) carries the content;
// both may be nil for pure gap placeholders.
type Buffer struct {
	Data     []byte
	Video    *VideoFrame
	Samples  *AudioSamples
	PTS      ClockTime
	DTS      ClockTime
	Duration ClockTime
	Flags    BufferFlags
	Metas    []Meta
}

// Timestamp returns the presentation timestamp, falling back to the decode
// timestamp when the PTS is unknown.
func (b *Buffer) Timestamp() ClockTime {
	if b.PTS.Valid() {
		return b.PTS
	}
	return b.DTS
}

// Empty reports whether the buffer carries no payload at all.
func (b *Buffer) Empty() bool {
	return len(b.Data) == 0 && b.Video == nil && b.Samples == nil
}

// AddMeta attaches metadata to the buffer.
func (b *Buffer) AddMeta(m Meta) {
	b.Metas = append(b.Metas, m)
}

// FindMeta returns the first attached meta with the given name, or nil.
func (b *Buffer) FindMeta(name string) Meta {
	for _, m := range b.Metas {
		if m.MetaName() == name {
			return m
		}
	}
	return nil
}

// AudioMeta returns the attached audio meta, or nil.
func (b *Buffer) AudioMeta() *AudioMeta {
	if m, ok := b.FindMeta("audio").(AudioMeta); ok {
		return &m
	}
	return nil
}

// OverlayMetas returns all attached overlay compositions.
func (b *Buffer) OverlayMetas() []OverlayMeta {
	var out []OverlayMeta
	for _, m := range b.Metas {
		if om, ok := m.(OverlayMeta); ok {
			out = append(out, om)
		}
	}
	return out
}

// Clone creates a copy of the buffer sharing payload slices but with its own
// flag and meta state.
func (b *Buffer) Clone() *Buffer {
	clone := *b
	clone.Metas = append([]Meta(nil), b.Metas...)
	return &clone
}
