package avpipe

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// PatternType defines the test pattern to generate.
type PatternType int

const (
	PatternColorBars  PatternType = iota // SMPTE color bars
	PatternGradient                      // Horizontal gradient
	PatternSolidColor                    // Solid color
	PatternMovingBox                     // Moving box (animated)
)

func (p PatternType) String() string {
	switch p {
	case PatternColorBars:
		return "ColorBars"
	case PatternGradient:
		return "Gradient"
	case PatternSolidColor:
		return "SolidColor"
	case PatternMovingBox:
		return "MovingBox"
	default:
		return "Unknown"
	}
}

// TestPatternConfig configures a test pattern source.
type TestPatternConfig struct {
	Width   int         // Frame width (default: 1280)
	Height  int         // Frame height (default: 720)
	FPS     int         // Frames per second (default: 30)
	Pattern PatternType // Pattern type (default: ColorBars)

	// For SolidColor pattern
	SolidR, SolidG, SolidB uint8
}

// DefaultTestPatternConfig returns a default test pattern configuration.
func DefaultTestPatternConfig() TestPatternConfig {
	return TestPatternConfig{
		Width:   1280,
		Height:  720,
		FPS:     30,
		Pattern: PatternColorBars,
	}
}

// TestPatternSource generates synthetic I420 buffers with a deterministic
// timeline: frame n has PTS n*frameDuration. It serves as a stand-in input
// when no real capture device or network feed is available.
type TestPatternSource struct {
	config TestPatternConfig

	yPlane []byte
	uPlane []byte
	vPlane []byte

	frameDuration ClockTime
	frameCount    uint64

	running atomic.Bool
	cancel  context.CancelFunc
	bufCh   chan *Buffer
	doneCh  chan struct{}
}

// NewTestPatternSource creates a test pattern source.
func NewTestPatternSource(config TestPatternConfig) *TestPatternSource {
	if config.Width <= 0 {
		config.Width = 1280
	}
	if config.Height <= 0 {
		config.Height = 720
	}
	if config.FPS <= 0 {
		config.FPS = 30
	}

	ySize := config.Width * config.Height
	uvSize := (config.Width / 2) * (config.Height / 2)

	s := &TestPatternSource{
		config:        config,
		yPlane:        make([]byte, ySize),
		uPlane:        make([]byte, uvSize),
		vPlane:        make([]byte, uvSize),
		frameDuration: ClockTime(uint64(Second) / uint64(config.FPS)),
		bufCh:         make(chan *Buffer, 2),
	}
	s.generatePattern(0)
	return s
}

// Caps returns the caps of the produced stream.
func (s *TestPatternSource) Caps() *Caps {
	return VideoCaps(s.config.Width, s.config.Height, PixelFormatI420).
		WithAttr("framerate-num", s.config.FPS).
		WithAttr("framerate-den", 1)
}

// NextBuffer synchronously produces the next frame. Useful for pull-driven
// pipelines and tests; do not mix with Start.
func (s *TestPatternSource) NextBuffer() *Buffer {
	buf := s.makeBuffer(s.frameCount)
	s.frameCount++
	return buf
}

// Start begins generating frames at the configured rate, delivered through
// ReadBuffer.
func (s *TestPatternSource) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("test pattern source already running")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.doneCh = make(chan struct{})
	go s.generateLoop(ctx)
	return nil
}

// Stop halts frame generation and waits for the goroutine to exit.
func (s *TestPatternSource) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()
	<-s.doneCh
	return nil
}

// ReadBuffer reads the next generated frame in push mode.
func (s *TestPatternSource) ReadBuffer(ctx context.Context) (*Buffer, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case buf := <-s.bufCh:
		return buf, nil
	}
}

func (s *TestPatternSource) generateLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.frameDuration.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			buf := s.makeBuffer(s.frameCount)
			s.frameCount++
			select {
			case <-ctx.Done():
				return
			case s.bufCh <- buf:
			default:
				// Consumer is behind; skip the frame.
			}
		}
	}
}

func (s *TestPatternSource) makeBuffer(frameNum uint64) *Buffer {
	if s.config.Pattern == PatternMovingBox || frameNum == 0 {
		s.generatePattern(frameNum)
	}
	frame := &VideoFrame{
		Data: [][]byte{
			append([]byte(nil), s.yPlane...),
			append([]byte(nil), s.uPlane...),
			append([]byte(nil), s.vPlane...),
		},
		Stride: []int{s.config.Width, s.config.Width / 2, s.config.Width / 2},
		Width:  s.config.Width,
		Height: s.config.Height,
		Format: PixelFormatI420,
	}
	return &Buffer{
		Video:    frame,
		PTS:      ClockTime(frameNum) * s.frameDuration,
		Duration: s.frameDuration,
	}
}

func (s *TestPatternSource) generatePattern(frameNum uint64) {
	switch s.config.Pattern {
	case PatternGradient:
		s.generateGradient()
	case PatternSolidColor:
		s.generateSolidColor(s.config.SolidR, s.config.SolidG, s.config.SolidB)
	case PatternMovingBox:
		s.generateMovingBox(frameNum)
	default:
		s.generateColorBars()
	}
}

// Simplified SMPTE 8-bar pattern at 75% intensity.
var colorBarsRGB = [][3]uint8{
	{192, 192, 192}, // White
	{192, 192, 0},   // Yellow
	{0, 192, 192},   // Cyan
	{0, 192, 0},     // Green
	{192, 0, 192},   // Magenta
	{192, 0, 0},     // Red
	{0, 0, 192},     // Blue
	{16, 16, 16},    // Black
}

func (s *TestPatternSource) generateColorBars() {
	w, h := s.config.Width, s.config.Height
	barWidth := w / 8

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			barIdx := x / barWidth
			if barIdx >= 8 {
				barIdx = 7
			}

			rgb := colorBarsRGB[barIdx]
			yVal, u, v := rgbToYUV(rgb[0], rgb[1], rgb[2])

			s.yPlane[y*w+x] = yVal
			if x%2 == 0 && y%2 == 0 {
				uvIdx := (y/2)*(w/2) + (x / 2)
				s.uPlane[uvIdx] = u
				s.vPlane[uvIdx] = v
			}
		}
	}
}

func (s *TestPatternSource) generateGradient() {
	w, h := s.config.Width, s.config.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s.yPlane[y*w+x] = uint8((x * 255) / w)
			if x%2 == 0 && y%2 == 0 {
				uvIdx := (y/2)*(w/2) + (x / 2)
				s.uPlane[uvIdx] = 128
				s.vPlane[uvIdx] = 128
			}
		}
	}
}

func (s *TestPatternSource) generateSolidColor(r, g, b uint8) {
	yVal, u, v := rgbToYUV(r, g, b)
	for i := range s.yPlane {
		s.yPlane[i] = yVal
	}
	for i := range s.uPlane {
		s.uPlane[i] = u
		s.vPlane[i] = v
	}
}

func (s *TestPatternSource) generateMovingBox(frameNum uint64) {
	w, h := s.config.Width, s.config.Height

	for i := range s.yPlane {
		s.yPlane[i] = 16
	}
	for i := range s.uPlane {
		s.uPlane[i] = 128
		s.vPlane[i] = 128
	}

	boxSize := 100
	radius := float64(min(w, h)) / 4
	angle := float64(frameNum) * 0.05
	boxX := w/2 + int(radius*math.Cos(angle)) - boxSize/2
	boxY := h/2 + int(radius*math.Sin(angle)) - boxSize/2

	for y := boxY; y < boxY+boxSize && y < h; y++ {
		if y < 0 {
			continue
		}
		for x := boxX; x < boxX+boxSize && x < w; x++ {
			if x < 0 {
				continue
			}
			s.yPlane[y*w+x] = 235
		}
	}
}
