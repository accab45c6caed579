package avpipe

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// RTPWriter receives packetized output, typically a WebRTC track or a UDP
// session.
type RTPWriter interface {
	WriteRTP(pkt *rtp.Packet) error
}

// RTPSinkConfig configures an RTPSink.
type RTPSinkConfig struct {
	MTU         uint16
	PayloadType uint8
	SSRC        uint32 // 0 picks a random SSRC
	ClockRate   uint32
	Payloader   rtp.Payloader
}

// H264RTPSinkConfig returns a config for packetizing H.264 at the standard
// 90kHz clock.
func H264RTPSinkConfig() RTPSinkConfig {
	return RTPSinkConfig{
		MTU:         1200,
		PayloadType: 96,
		ClockRate:   90000,
		Payloader:   &codecs.H264Payloader{},
	}
}

// OpusRTPSinkConfig returns a config for packetizing Opus at 48kHz.
func OpusRTPSinkConfig() RTPSinkConfig {
	return RTPSinkConfig{
		MTU:         1200,
		PayloadType: 111,
		ClockRate:   48000,
		Payloader:   &codecs.OpusPayloader{},
	}
}

// RTPSinkStats counts sink activity.
type RTPSinkStats struct {
	BuffersSent uint64
	PacketsSent uint64
	BytesSent   uint64
}

// RTPSink packetizes encoded buffers and writes them to an RTPWriter. Buffer
// durations drive the RTP timestamp advance.
type RTPSink struct {
	cfg        RTPSinkConfig
	packetizer rtp.Packetizer
	writer     RTPWriter

	statsMu sync.Mutex
	stats   RTPSinkStats
}

// NewRTPSink creates a sink writing to w.
func NewRTPSink(cfg RTPSinkConfig, w RTPWriter) (*RTPSink, error) {
	if cfg.Payloader == nil {
		return nil, fmt.Errorf("rtp sink: payloader is required")
	}
	if cfg.ClockRate == 0 {
		return nil, fmt.Errorf("rtp sink: clock rate is required")
	}
	if cfg.MTU == 0 {
		cfg.MTU = 1200
	}
	if cfg.SSRC == 0 {
		cfg.SSRC = rand.Uint32()
	}
	return &RTPSink{
		cfg: cfg,
		packetizer: rtp.NewPacketizer(
			cfg.MTU,
			cfg.PayloadType,
			cfg.SSRC,
			cfg.Payloader,
			rtp.NewRandomSequencer(),
			cfg.ClockRate,
		),
		writer: w,
	}, nil
}

// Render packetizes one encoded buffer and writes the resulting packets.
func (s *RTPSink) Render(buf *Buffer) error {
	if len(buf.Data) == 0 {
		return nil
	}
	samples := uint32(0)
	if buf.Duration.Valid() {
		samples = uint32(uint64(buf.Duration) * uint64(s.cfg.ClockRate) / uint64(Second))
	}
	packets := s.packetizer.Packetize(buf.Data, samples)
	var bytes uint64
	for _, pkt := range packets {
		if err := s.writer.WriteRTP(pkt); err != nil {
			return fmt.Errorf("rtp sink: write packet: %w", err)
		}
		bytes += uint64(len(pkt.Payload))
	}
	s.statsMu.Lock()
	s.stats.BuffersSent++
	s.stats.PacketsSent += uint64(len(packets))
	s.stats.BytesSent += bytes
	s.statsMu.Unlock()
	return nil
}

// Stats returns a snapshot of sink counters.
func (s *RTPSink) Stats() RTPSinkStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}
