package avplay

import "errors"

// Initialization errors. [NewPlayer] returns ErrNoVideo when the source has
// neither a video nor an audio stream; the other values in this block are
// not returned by any function in this package. Other format- or
// backend-specific errors are also possible.
var (
	ErrNoVideo         = errors.New("file doesn't include any video stream")
	ErrNilAudioContext = errors.New("file has audio stream but audio.Context is not initialized")
	ErrBadSampleRate   = errors.New("file audio stream and audio context sample rates don't match")
	ErrTooManyChannels = errors.New("file audio streams with more than 2 channels are not supported")
	ErrNoAudio         = errors.New("media contains no audio")
	ErrNonNilAudioContext = errors.New("audio context already initialized")
)

// Runtime errors surfaced by the pipeline.
var (
	// ErrAborted is returned by queue operations after [PacketQueue.Abort]
	// has been called and no [PacketQueue.Start] has re-armed the queue.
	ErrAborted = errors.New("queue aborted")

	// ErrSeekUnsupported is returned by [Demuxer.Seek] implementations when
	// the underlying container/stream cannot be seeked, e.g. a live source,
	// and by the reader task when a seek is requested with neither a video
	// nor an audio stream selected. [Player.Seek] does not return it.
	ErrSeekUnsupported = errors.New("seek unsupported for this source")

	// ErrNoSuchStream is returned by [Player.CycleStream] when no stream of
	// the requested kind exists to cycle to.
	ErrNoSuchStream = errors.New("no stream of the requested kind")

	// ErrClosed is returned by [Player] methods called after [Player.Close].
	ErrClosed = errors.New("player closed")
)
