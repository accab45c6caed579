// Package avpipe provides building blocks for live audio/video pipelines:
// an active-input stream selector with live A/V synchronization, an
// audio/video combiner, capture/playback device backends behind a driver
// interface, an overlay compositor, and an HLS WebVTT sink.
//
// Key pieces include:
//   - Buffer/Caps/Segment/Event: the small object model shared by all elements
//   - Selector and SyncSelector: N-to-1 input switching with running-time
//     based dropping on inactive inputs
//   - AVCombiner: pairs a video buffer with its co-timed audio as metadata
//   - CaptureSource/PlaybackSink: hardware I/O behind the Driver interface
//   - Overlay: draws application overlays as metadata or blends them in place
//   - HLSWebVTTSink: fragmented WebVTT segments plus a live M3U8 playlist
//   - RTPSink/ProgramOutput: RTP packetization and WebRTC track delivery
//
// # Architecture
//
//	Capture (combined A/V) -> CaptureDemux -> per-stream processing
//	N inputs -> SyncSelector -> Overlay -> RTPSink -> ProgramOutput
//	Subtitle stream -> HLSWebVTTSink -> fragment files + playlist
//
// Elements are driven by the caller: producers push buffers and events into
// input queues, and the caller invokes Tick/Render to advance each element.
// All timing is expressed in ClockTime (nanoseconds) and converted to
// running time through each input's Segment.
//
// # Hardware Drivers
//
// No vendor SDK is linked directly. Capture and playback talk to a Driver
// implementation that wraps the vendor's device, profile and frame objects;
// the driver delivers frames from its own thread and the elements handle the
// producer/consumer handoff with bounded, watermarked queues.
package avpipe
