package avplay

import "time"

// AudioDeviceSpec describes an audio device's negotiated format.
type AudioDeviceSpec struct {
	SampleRate int
	Channels   int
	Format     string
	BufferSize time.Duration
}

// AudioDevice is the host audio output collaborator. The device pulls
// bytes from the core by invoking the callback registered with
// SetCallback on its own thread; the core never calls into the device to
// push data.
type AudioDevice interface {
	// Open negotiates desired against the host and returns the format
	// actually opened.
	Open(desired AudioDeviceSpec) (AudioDeviceSpec, error)

	// SetCallback registers the function the device thread invokes
	// whenever it needs more bytes. The callback must fill out entirely
	// and must not block on decode/network I/O.
	SetCallback(cb func(out []byte))

	Pause(paused bool) error
	Close() error

	// BufferedBytes approximates the number of bytes still sitting in the
	// hardware buffer, used by the audio clock's latency estimate.
	BufferedBytes() int
}

// Display is the host renderer collaborator: window/texture management.
// Subtitle rasterization is explicitly out of scope — Display only
// receives video textures.
type Display interface {
	CreateWindow(title string, width, height int) error
	Resize(width, height int) error

	// UploadTexture syncs f's pixel buffer into the backend's texture,
	// applying the vertical flip f.FlipV requests.
	UploadTexture(f *VideoFrame) error

	// Present blits the most recently uploaded texture into the window,
	// letterboxed to preserve aspect ratio.
	Present() error

	Close() error
}
