package avpipe

import (
	"fmt"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectWriter struct {
	packets []*rtp.Packet
	err     error
}

func (w *collectWriter) WriteRTP(pkt *rtp.Packet) error {
	if w.err != nil {
		return w.err
	}
	w.packets = append(w.packets, pkt)
	return nil
}

func h264Frame() []byte {
	// A single small IDR NALU in annex-b framing.
	return append([]byte{0, 0, 0, 1, 0x65}, make([]byte, 100)...)
}

func TestRTPSinkValidation(t *testing.T) {
	_, err := NewRTPSink(RTPSinkConfig{ClockRate: 90000}, &collectWriter{})
	assert.Error(t, err, "payloader is required")

	cfg := H264RTPSinkConfig()
	cfg.ClockRate = 0
	_, err = NewRTPSink(cfg, &collectWriter{})
	assert.Error(t, err, "clock rate is required")
}

func TestRTPSinkPacketizes(t *testing.T) {
	w := &collectWriter{}
	sink, err := NewRTPSink(H264RTPSinkConfig(), w)
	require.NoError(t, err)

	require.NoError(t, sink.Render(&Buffer{Data: h264Frame(), Duration: 33 * Millisecond}))
	require.NotEmpty(t, w.packets)
	assert.Equal(t, uint8(96), w.packets[0].PayloadType)

	stats := sink.Stats()
	assert.Equal(t, uint64(1), stats.BuffersSent)
	assert.Equal(t, uint64(len(w.packets)), stats.PacketsSent)
	assert.NotZero(t, stats.BytesSent)
}

func TestRTPSinkTimestampAdvance(t *testing.T) {
	w := &collectWriter{}
	sink, err := NewRTPSink(H264RTPSinkConfig(), w)
	require.NoError(t, err)

	require.NoError(t, sink.Render(&Buffer{Data: h264Frame(), Duration: Second}))
	first := w.packets[0].Timestamp

	require.NoError(t, sink.Render(&Buffer{Data: h264Frame(), Duration: Second}))
	second := w.packets[len(w.packets)-1].Timestamp

	// One second at the 90kHz clock.
	assert.Equal(t, uint32(90000), second-first)
}

func TestRTPSinkEmptyBuffer(t *testing.T) {
	w := &collectWriter{}
	sink, err := NewRTPSink(H264RTPSinkConfig(), w)
	require.NoError(t, err)

	require.NoError(t, sink.Render(&Buffer{}))
	assert.Empty(t, w.packets)
	assert.Zero(t, sink.Stats().BuffersSent)
}

func TestRTPSinkWriteError(t *testing.T) {
	w := &collectWriter{err: fmt.Errorf("peer gone")}
	sink, err := NewRTPSink(H264RTPSinkConfig(), w)
	require.NoError(t, err)

	err = sink.Render(&Buffer{Data: h264Frame(), Duration: 33 * Millisecond})
	assert.Error(t, err)
}

func TestOpusRTPSinkConfig(t *testing.T) {
	cfg := OpusRTPSinkConfig()
	assert.Equal(t, uint32(48000), cfg.ClockRate)
	assert.Equal(t, uint8(111), cfg.PayloadType)

	w := &collectWriter{}
	sink, err := NewRTPSink(cfg, w)
	require.NoError(t, err)
	require.NoError(t, sink.Render(&Buffer{Data: []byte{0xFC, 0xFF, 0xFE}, Duration: 20 * Millisecond}))
	require.Len(t, w.packets, 1)
}
