package avpipe

import "errors"

// ErrDeviceNotFound is returned when no device matches the requested profile.
var ErrDeviceNotFound = errors.New("no matching capture device")

// Connection identifies a physical input/output connector.
type Connection int

const (
	ConnectionAuto Connection = iota
	ConnectionSDI
	ConnectionHDMI
	ConnectionOpticalSDI
	ConnectionComponent
	ConnectionComposite
	ConnectionSVideo
)

func (c Connection) String() string {
	switch c {
	case ConnectionSDI:
		return "sdi"
	case ConnectionHDMI:
		return "hdmi"
	case ConnectionOpticalSDI:
		return "optical-sdi"
	case ConnectionComponent:
		return "component"
	case ConnectionComposite:
		return "composite"
	case ConnectionSVideo:
		return "s-video"
	default:
		return "auto"
	}
}

// ProfileID selects how a multi-subdevice card splits its connectors.
type ProfileID int

const (
	ProfileDefault ProfileID = iota
	ProfileOneSubDeviceFullDuplex
	ProfileOneSubDeviceHalfDuplex
	ProfileTwoSubDevicesFullDuplex
	ProfileTwoSubDevicesHalfDuplex
	ProfileFourSubDevicesHalfDuplex
)

// DisplayMode describes a fixed video raster and rate.
type DisplayMode struct {
	Width      int
	Height     int
	FPSNum     int
	FPSDen     int
	Interlaced bool
}

// FrameDuration returns the duration of one frame.
func (m DisplayMode) FrameDuration() ClockTime {
	if m.FPSNum == 0 {
		return ClockTimeNone
	}
	return ClockTime(uint64(Second) * uint64(m.FPSDen) / uint64(m.FPSNum))
}

// Common broadcast modes.
var (
	Mode1080p30 = DisplayMode{Width: 1920, Height: 1080, FPSNum: 30, FPSDen: 1}
	Mode1080p25 = DisplayMode{Width: 1920, Height: 1080, FPSNum: 25, FPSDen: 1}
	Mode1080i50 = DisplayMode{Width: 1920, Height: 1080, FPSNum: 25, FPSDen: 1, Interlaced: true}
	Mode720p60  = DisplayMode{Width: 1280, Height: 720, FPSNum: 60, FPSDen: 1}
	Mode720p50  = DisplayMode{Width: 1280, Height: 720, FPSNum: 50, FPSDen: 1}
)

// DeviceProfile selects and configures a hardware device.
type DeviceProfile struct {
	// DeviceNumber is the index among detected devices. Ignored when
	// PersistentID is set.
	DeviceNumber int
	// PersistentID selects a device by its stable hardware identifier.
	// Zero means unset.
	PersistentID int64
	Connection   Connection
	PixelFormat  PixelFormat
	// AudioChannels is the number of capture/playback channels; 0
	// disables audio.
	AudioChannels int
	Profile       ProfileID
}

// DriverInfo describes a detected device.
type DriverInfo struct {
	Model        string
	DisplayName  string
	SerialNumber string
	PersistentID int64
	MaxChannels  int
}

// VideoInputFrame is one captured frame as delivered by the driver thread.
// NoSignal frames have no pixel data but still advance the timeline.
type VideoInputFrame struct {
	Frame     *VideoFrame
	Timestamp ClockTime
	Duration  ClockTime
	NoSignal  bool
}

// AudioInputPacket is a burst of captured audio delivered by the driver
// thread.
type AudioInputPacket struct {
	Samples   *AudioSamples
	Timestamp ClockTime
}

// DriverInput is the capture side of a device. Callbacks run on the driver's
// own thread and must not block; the capture element moves the data onto its
// queue and returns immediately.
type DriverInput interface {
	// StartStreams begins capture with the given mode, invoking the
	// callbacks for every frame and audio packet until StopStreams.
	StartStreams(mode DisplayMode, onVideo func(VideoInputFrame), onAudio func(AudioInputPacket)) error
	StopStreams() error
}

// DriverOutput is the playback side of a device.
type DriverOutput interface {
	// EnableOutput configures the output raster. Must be called before
	// scheduling frames.
	EnableOutput(mode DisplayMode) error
	DisableOutput() error
	// ScheduleFrame queues a frame for display at the given stream time.
	// Implementations copy the frame data into device memory before
	// returning; the caller may reuse the planes afterwards.
	ScheduleFrame(frame *VideoFrame, displayTime, duration ClockTime) error
	// WriteAudioSamples queues audio for playback alongside the video.
	WriteAudioSamples(samples *AudioSamples) error
	// StartScheduledPlayback begins consuming scheduled frames once
	// preroll is complete.
	StartScheduledPlayback(startTime ClockTime) error
	StopScheduledPlayback() error
}

// Driver abstracts a capture/playback card. Implementations wrap a vendor
// SDK; tests use in-process fakes.
type Driver interface {
	Info() DriverInfo
	// OpenInput claims the capture side of the device for the given
	// profile.
	OpenInput(profile DeviceProfile) (DriverInput, error)
	// OpenOutput claims the playback side of the device.
	OpenOutput(profile DeviceProfile) (DriverOutput, error)
	Close() error
}
