package avpipe

import "sync"

// CaptureDemux splits a combined capture stream back into separate video and
// audio streams. The video output receives the buffer with its audio meta
// stripped; the audio output receives the meta's samples.
type CaptureDemux struct {
	mu        sync.Mutex
	audioCaps *Caps

	onVideo func(*Buffer)
	onAudio func(*Buffer)
	onCaps  func(audio *Caps)
}

// NewCaptureDemux creates a demuxer delivering the split streams to the given
// sinks. onAudio and onCaps may be nil when the audio stream is unused.
func NewCaptureDemux(onVideo, onAudio func(*Buffer), onCaps func(audio *Caps)) *CaptureDemux {
	return &CaptureDemux{onVideo: onVideo, onAudio: onAudio, onCaps: onCaps}
}

// Process splits one combined buffer.
func (d *CaptureDemux) Process(buf *Buffer) {
	meta := buf.AudioMeta()
	if meta == nil {
		d.onVideo(buf)
		return
	}

	out := buf.Clone()
	kept := out.Metas[:0]
	for _, m := range out.Metas {
		if _, isAudio := m.(AudioMeta); !isAudio {
			kept = append(kept, m)
		}
	}
	out.Metas = kept
	d.onVideo(out)

	if d.onAudio == nil || meta.Samples == nil {
		return
	}
	d.mu.Lock()
	capsChanged := meta.Caps != nil && !meta.Caps.Equal(d.audioCaps)
	if capsChanged {
		d.audioCaps = meta.Caps
	}
	d.mu.Unlock()
	if capsChanged && d.onCaps != nil {
		d.onCaps(meta.Caps)
	}
	audio := meta.Samples.Clone()
	if !audio.PTS.Valid() {
		audio.PTS = buf.PTS
	}
	d.onAudio(audio)
}
