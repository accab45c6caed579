package avpipe

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// ProgramOutput is a selectable program feed exposed as a WebRTC local
// track. An RTPSink writing to it fans packets out to every bound peer
// connection, so the same selector output can serve many viewers.
type ProgramOutput struct {
	id       string
	streamID string
	codec    webrtc.RTPCodecCapability

	bindMu   sync.RWMutex
	bindings []webrtc.TrackLocalContext
}

// NewProgramOutput creates a program output for the given codec. Empty id or
// streamID are replaced with generated UUIDs.
func NewProgramOutput(codec webrtc.RTPCodecCapability, id, streamID string) *ProgramOutput {
	if id == "" {
		id = uuid.NewString()
	}
	if streamID == "" {
		streamID = uuid.NewString()
	}
	return &ProgramOutput{
		id:       id,
		streamID: streamID,
		codec:    codec,
	}
}

// ID implements webrtc.TrackLocal.
func (t *ProgramOutput) ID() string { return t.id }

// StreamID implements webrtc.TrackLocal.
func (t *ProgramOutput) StreamID() string { return t.streamID }

// RID implements webrtc.TrackLocal. Simulcast is not used, so it is empty.
func (t *ProgramOutput) RID() string { return "" }

// Kind implements webrtc.TrackLocal.
func (t *ProgramOutput) Kind() webrtc.RTPCodecType {
	if len(t.codec.MimeType) >= 5 && t.codec.MimeType[:5] == "audio" {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// Codec returns the codec capability.
func (t *ProgramOutput) Codec() webrtc.RTPCodecCapability { return t.codec }

// Bind implements webrtc.TrackLocal.
func (t *ProgramOutput) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	t.bindMu.Lock()
	defer t.bindMu.Unlock()

	t.bindings = append(t.bindings, ctx)

	for _, p := range ctx.CodecParameters() {
		if p.MimeType == t.codec.MimeType {
			return p, nil
		}
	}
	return webrtc.RTPCodecParameters{RTPCodecCapability: t.codec}, nil
}

// Unbind implements webrtc.TrackLocal.
func (t *ProgramOutput) Unbind(ctx webrtc.TrackLocalContext) error {
	t.bindMu.Lock()
	defer t.bindMu.Unlock()

	for i, b := range t.bindings {
		if b.ID() == ctx.ID() {
			t.bindings = append(t.bindings[:i], t.bindings[i+1:]...)
			break
		}
	}
	return nil
}

// WriteRTP writes a packet to all bound peer connections. ProgramOutput
// satisfies RTPWriter, so an RTPSink can feed it directly.
func (t *ProgramOutput) WriteRTP(p *rtp.Packet) error {
	t.bindMu.RLock()
	defer t.bindMu.RUnlock()

	for _, b := range t.bindings {
		if _, err := b.WriteStream().WriteRTP(&p.Header, p.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Bound returns the number of peer connections currently attached.
func (t *ProgramOutput) Bound() int {
	t.bindMu.RLock()
	defer t.bindMu.RUnlock()
	return len(t.bindings)
}

var (
	_ webrtc.TrackLocal = (*ProgramOutput)(nil)
	_ RTPWriter         = (*ProgramOutput)(nil)
)
