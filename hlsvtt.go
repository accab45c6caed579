package avpipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/rs/zerolog"
)

// Default HLS WebVTT sink parameters.
const (
	DefaultVTTLocation         = "segment%05d.webvtt"
	DefaultVTTPlaylistLocation = "playlist.m3u8"
	DefaultVTTMaxFiles         = 10
	DefaultVTTTargetDuration   = 15 * time.Second
	DefaultVTTPlaylistLength   = 5
	// DefaultMPEGTSTimeOffset is one hour in 90kHz units, matching the
	// typical transport stream start offset of co-timed media segments.
	DefaultMPEGTSTimeOffset = 324000000
)

const mpegtsWrapMask = 0x1ffffffff // 33-bit MPEG-TS timestamp space

var webvttMagic = []byte("WEBVTT")

// VTTStreamOpener opens a writer for a segment or playlist file. The default
// opener creates plain files on disk.
type VTTStreamOpener func(name string) (io.WriteCloser, error)

// HLSWebVTTSinkConfig configures an HLSWebVTTSink.
type HLSWebVTTSinkConfig struct {
	// Location is the segment filename pattern; it must contain one
	// integer verb for the fragment index.
	Location string
	// PlaylistLocation is the playlist filename.
	PlaylistLocation string
	// PlaylistRoot, when set, is prefixed to segment URIs in the playlist,
	// for segments served from a different location than the playlist.
	PlaylistRoot string
	// MaxFiles is how many segment files to keep on disk; older ones are
	// deleted. 0 keeps everything.
	MaxFiles int
	// TargetDuration is advertised in the playlist.
	TargetDuration time.Duration
	// PlaylistLength is the number of segments the playlist window holds.
	PlaylistLength int
	// MPEGTSTimeOffset is added to the running time in the
	// X-TIMESTAMP-MAP header, in 90kHz units.
	MPEGTSTimeOffset uint64
	// OpenStream, when set, replaces direct file creation, e.g. to write
	// into object storage. Applies to segments and the playlist alike.
	OpenStream VTTStreamOpener
	// DeleteFile, when set, replaces os.Remove for rotated-out segments.
	DeleteFile func(name string) error
	// RequestKeyUnit, when set, is invoked when the sink needs upstream
	// to begin a new fragment, e.g. after a seek or on startup.
	RequestKeyUnit func()
	Logger         zerolog.Logger
}

// DefaultHLSWebVTTSinkConfig returns the standard sink configuration.
func DefaultHLSWebVTTSinkConfig() HLSWebVTTSinkConfig {
	return HLSWebVTTSinkConfig{
		Location:         DefaultVTTLocation,
		PlaylistLocation: DefaultVTTPlaylistLocation,
		MaxFiles:         DefaultVTTMaxFiles,
		TargetDuration:   DefaultVTTTargetDuration,
		PlaylistLength:   DefaultVTTPlaylistLength,
		MPEGTSTimeOffset: DefaultMPEGTSTimeOffset,
		Logger:           zerolog.Nop(),
	}
}

type vttFragment struct {
	name      string
	startTime ClockTime // Running time of the first buffer
}

// HLSWebVTTSink writes a fragmented WebVTT stream as an HLS rendition: each
// header-flagged buffer starts a new segment file, every segment gets an
// X-TIMESTAMP-MAP header tying its cue times to the MPEG-TS clock of the
// surrounding media, and a live playlist window advances as segments
// complete.
type HLSWebVTTSink struct {
	cfg HLSWebVTTSinkConfig

	mu          sync.Mutex
	segment     Segment
	haveSeg     bool
	index       int
	current     io.WriteCloser
	fragment    *vttFragment
	fragments   []*vttFragment // Closed fragments still in the playlist window
	sequence    int            // Media sequence number of fragments[0]
	written     []string       // All segment names not yet deleted
	firstInFrag bool
	tsMap       string // X-TIMESTAMP-MAP line, fixed by the first fragment
	eos         bool
}

// NewHLSWebVTTSink creates a sink with the given configuration. Zero-value
// fields fall back to the defaults.
func NewHLSWebVTTSink(cfg HLSWebVTTSinkConfig) *HLSWebVTTSink {
	def := DefaultHLSWebVTTSinkConfig()
	if cfg.Location == "" {
		cfg.Location = def.Location
	}
	if cfg.PlaylistLocation == "" {
		cfg.PlaylistLocation = def.PlaylistLocation
	}
	if cfg.MaxFiles == 0 {
		cfg.MaxFiles = def.MaxFiles
	}
	if cfg.TargetDuration == 0 {
		cfg.TargetDuration = def.TargetDuration
	}
	if cfg.PlaylistLength == 0 {
		cfg.PlaylistLength = def.PlaylistLength
	}
	if cfg.MPEGTSTimeOffset == 0 {
		cfg.MPEGTSTimeOffset = def.MPEGTSTimeOffset
	}
	return &HLSWebVTTSink{cfg: cfg}
}

// SendEvent delivers a serialized event to the sink.
func (s *HLSWebVTTSink) SendEvent(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch e := ev.(type) {
	case SegmentEvent:
		if e.Segment.Format != FormatTime {
			return fmt.Errorf("vtt sink: %w", ErrNonTimeSegment)
		}
		s.segment = e.Segment
		s.haveSeg = true
	case StreamStartEvent:
		if s.cfg.RequestKeyUnit != nil {
			// A fresh stream must start on a fragment boundary.
			s.cfg.RequestKeyUnit()
		}
	case EOSEvent:
		return s.finishLocked()
	}
	return nil
}

// Render writes one fragmented-WebVTT buffer. Buffers flagged as headers
// open a new segment; everything else appends to the current one. It returns
// FlowFlushing when ctx is cancelled and FlowError on write failures.
func (s *HLSWebVTTSink) Render(ctx context.Context, buf *Buffer) (Flow, error) {
	if err := ctx.Err(); err != nil {
		return FlowFlushing, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.eos {
		return FlowEOS, nil
	}
	if !s.haveSeg {
		return FlowError, fmt.Errorf("vtt sink: buffer before segment")
	}
	if !buf.Timestamp().Valid() {
		return FlowError, fmt.Errorf("vtt sink: buffer without a valid timestamp")
	}

	isHeader := buf.Flags.Has(BufferFlagHeader) || !buf.Flags.Has(BufferFlagDeltaUnit)
	if s.current == nil && !isHeader {
		// Mid-fragment data with nowhere to go; ask upstream for a
		// fragment start and skip until it arrives.
		if s.cfg.RequestKeyUnit != nil {
			s.cfg.RequestKeyUnit()
		}
		return FlowOK, nil
	}

	rt := s.segment.ToRunningTime(buf.Timestamp())

	if isHeader && s.current != nil {
		if err := s.closeFragmentLocked(rt, false); err != nil {
			return renderFlow(err)
		}
	}
	if s.current == nil {
		if err := s.openFragmentLocked(rt); err != nil {
			return renderFlow(err)
		}
		// Every fragment start schedules the next boundary upstream.
		if s.cfg.RequestKeyUnit != nil {
			s.cfg.RequestKeyUnit()
		}
	}

	data := buf.Data
	if s.firstInFrag {
		data = s.insertTimestampMap(data, rt)
		s.firstInFrag = false
	}
	if _, err := s.current.Write(data); err != nil {
		return renderFlow(fmt.Errorf("vtt sink: write segment: %w", err))
	}
	return FlowOK, nil
}

// renderFlow maps an I/O error to its flow outcome: a write that failed
// because the operation was cancelled is a flush, not an element error.
func renderFlow(err error) (Flow, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return FlowFlushing, nil
	}
	return FlowError, err
}

// Finish closes the current fragment and writes the final playlist with an
// end marker. Called implicitly on EOS.
func (s *HLSWebVTTSink) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishLocked()
}

func (s *HLSWebVTTSink) finishLocked() error {
	if s.eos {
		return nil
	}
	s.eos = true
	if s.current != nil {
		end := s.segment.ToRunningTime(s.segment.Position)
		if err := s.closeFragmentLocked(end, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *HLSWebVTTSink) openFragmentLocked(startTime ClockTime) error {
	name := fmt.Sprintf(s.cfg.Location, s.index)
	s.index++
	w, err := s.openStream(name)
	if err != nil {
		return fmt.Errorf("vtt sink: open segment %s: %w", name, err)
	}
	s.current = w
	s.fragment = &vttFragment{name: name, startTime: startTime}
	s.firstInFrag = true
	s.written = append(s.written, name)
	s.cfg.Logger.Debug().Str("segment", name).Msg("opened vtt segment")
	return nil
}

// closeFragmentLocked finishes the open fragment, its duration being the
// running time covered until endTime, and republishes the playlist.
func (s *HLSWebVTTSink) closeFragmentLocked(endTime ClockTime, final bool) error {
	if err := s.current.Close(); err != nil {
		return fmt.Errorf("vtt sink: close segment %s: %w", s.fragment.name, err)
	}
	s.current = nil

	frag := s.fragment
	s.fragment = nil
	s.fragments = append(s.fragments, frag)
	// The fragment duration only becomes known from the start of the next
	// one; stash the end time on the struct for playlist rendering.
	if !endTime.Valid() {
		endTime = frag.startTime
	}
	durations := s.fragmentDurations(endTime)

	for len(s.fragments) > s.cfg.PlaylistLength {
		s.fragments = s.fragments[1:]
		durations = durations[1:]
		s.sequence++
	}
	if err := s.writePlaylistLocked(durations, final); err != nil {
		return err
	}
	s.rotateLocked()
	return nil
}

// fragmentDurations computes per-fragment durations from consecutive start
// times, the last one ending at endTime.
func (s *HLSWebVTTSink) fragmentDurations(endTime ClockTime) []time.Duration {
	out := make([]time.Duration, len(s.fragments))
	for i, frag := range s.fragments {
		var end ClockTime
		if i+1 < len(s.fragments) {
			end = s.fragments[i+1].startTime
		} else {
			end = endTime
		}
		if frag.startTime.Valid() && end.Valid() && end > frag.startTime {
			out[i] = (end - frag.startTime).Duration()
		} else {
			out[i] = s.cfg.TargetDuration
		}
	}
	return out
}

func (s *HLSWebVTTSink) writePlaylistLocked(durations []time.Duration, final bool) error {
	media := &playlist.Media{
		Version:        3,
		TargetDuration: int(math.Ceil(s.cfg.TargetDuration.Seconds())),
		MediaSequence:  s.sequence,
		Endlist:        final,
	}
	for i, frag := range s.fragments {
		uri := frag.name
		if s.cfg.PlaylistRoot != "" {
			uri = strings.TrimSuffix(s.cfg.PlaylistRoot, "/") + "/" + frag.name
		}
		media.Segments = append(media.Segments, &playlist.MediaSegment{
			Duration: durations[i],
			URI:      uri,
		})
	}
	data, err := media.Marshal()
	if err != nil {
		return fmt.Errorf("vtt sink: marshal playlist: %w", err)
	}

	w, err := s.openStream(s.cfg.PlaylistLocation)
	if err != nil {
		return fmt.Errorf("vtt sink: open playlist: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("vtt sink: write playlist: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("vtt sink: close playlist: %w", err)
	}
	s.cfg.Logger.Debug().
		Int("segments", len(s.fragments)).
		Int("sequence", s.sequence).
		Bool("endlist", final).
		Msg("playlist updated")
	return nil
}

// rotateLocked deletes segment files beyond the retention limit.
func (s *HLSWebVTTSink) rotateLocked() {
	if s.cfg.MaxFiles <= 0 {
		return
	}
	for len(s.written) > s.cfg.MaxFiles {
		name := s.written[0]
		s.written = s.written[1:]
		if err := s.deleteFile(name); err != nil {
			s.cfg.Logger.Warn().Err(err).Str("segment", name).Msg("failed to delete old segment")
		}
	}
}

func (s *HLSWebVTTSink) openStream(name string) (io.WriteCloser, error) {
	if s.cfg.OpenStream != nil {
		return s.cfg.OpenStream(name)
	}
	return os.Create(name)
}

func (s *HLSWebVTTSink) deleteFile(name string) error {
	if s.cfg.DeleteFile != nil {
		return s.cfg.DeleteFile(name)
	}
	return os.Remove(name)
}

// insertTimestampMap places an X-TIMESTAMP-MAP header after the WEBVTT magic
// of a fragment's first buffer, mapping cue times to the 33-bit MPEG-TS clock.
// The mapping is fixed by the first fragment's running time and reused for
// every later fragment, so cue times stay on one timeline across the MPEG-TS
// wrap. A UTF-8 BOM before the magic is tolerated. Data without the magic is
// returned unchanged.
func (s *HLSWebVTTSink) insertTimestampMap(data []byte, rt ClockTime) []byte {
	body := data
	bomLen := 0
	if bytes.HasPrefix(body, []byte{0xEF, 0xBB, 0xBF}) {
		bomLen = 3
		body = body[3:]
	}
	if !bytes.HasPrefix(body, webvttMagic) {
		return data
	}

	lineEnd := bytes.IndexByte(body, '\n')
	if lineEnd < 0 {
		lineEnd = len(body)
	} else {
		lineEnd++
	}

	if s.tsMap == "" {
		local := rt
		if !local.Valid() {
			local = 0
		}
		mpegts := (s.cfg.MPEGTSTimeOffset + local.MPEGTS()) & mpegtsWrapMask
		ms := uint64(local) / uint64(Millisecond)
		s.tsMap = fmt.Sprintf("X-TIMESTAMP-MAP=MPEGTS:%d,LOCAL:%02d:%02d:%02d.%03d\n",
			mpegts,
			ms/3600000, (ms/60000)%60, (ms/1000)%60, ms%1000)
	}

	out := make([]byte, 0, len(data)+len(s.tsMap))
	out = append(out, data[:bomLen+lineEnd]...)
	out = append(out, s.tsMap...)
	out = append(out, data[bomLen+lineEnd:]...)
	return out
}

// SegmentCount returns the number of segments currently in the playlist
// window.
func (s *HLSWebVTTSink) SegmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fragments)
}
