package avplay

import "time"

// Demuxer is the container/IO collaborator contract: open a URL, enumerate
// streams, pull packets, and seek. Implementations are
// expected to be safe for concurrent Read calls from a single reader task
// only — Seek/Pause are called from that same task, never concurrently with
// Read.
type Demuxer interface {
	// Open opens url (a local path or any URL scheme the backend supports)
	// and probes stream information.
	Open(url string) error

	// Streams returns metadata for every elementary stream in the
	// container, in container order.
	Streams() []StreamInfo

	// Read reads and returns the next packet. Returns io.EOF at the end
	// of the container.
	Read() (Packet, error)

	// Seek performs a container seek on streamIndex, honoring flags. min
	// and max bound the acceptable seek target when the backend supports
	// range seeking; target is the requested position.
	Seek(streamIndex int, min, target, max time.Duration, flags SeekFlags) error

	// Pause notifies the backend of a pause/resume transition, letting
	// network-backed demuxers throttle reads.
	Pause(paused bool) error

	// Close releases all resources. The Demuxer is unusable afterwards.
	Close() error
}
