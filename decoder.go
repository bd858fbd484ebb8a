package avplay

import "errors"

// Decoder drain-phase sentinels.
var (
	// ErrDecoderAgain indicates the codec needs another packet before it
	// can produce more output; not an error, the feed phase should resume.
	ErrDecoderAgain = errors.New("decoder: more input needed")

	// ErrDecoderEOF indicates the codec has drained every frame following
	// a flush/close signal.
	ErrDecoderEOF = errors.New("decoder: eof")
)

// VideoDecoder is the video half of the Decoder collaborator contract.
type VideoDecoder interface {
	// SendPacket feeds one encoded packet to the codec.
	SendPacket(pkt Packet) error
	// ReceiveFrame pulls one decoded frame. Returns [ErrDecoderAgain] when
	// the codec needs more input, [ErrDecoderEOF] once drained after a
	// close/flush.
	ReceiveFrame() (VideoFrame, error)
	// FlushBuffers discards the codec's internal state, called whenever
	// the input packet's serial changes.
	FlushBuffers()
	Close() error
}

// AudioDecoder is the audio half of the Decoder collaborator contract.
type AudioDecoder interface {
	SendPacket(pkt Packet) error
	ReceiveFrame() (AudioFrame, error)
	FlushBuffers()
	Close() error
}

// SubtitleDecoder decodes subtitle packets one-shot.
type SubtitleDecoder interface {
	// DecodeSubtitle decodes pkt. got is false when the packet produced no
	// displayable event (e.g. a continuation packet).
	DecodeSubtitle(pkt Packet) (frame SubtitleFrame, got bool, err error)
	Close() error
}

// Resampler is the audio resampling collaborator contract: it converts
// between sample formats/layouts/rates and supports drift
// compensation, used by the audio output callback instead of
// truncating/padding samples outright.
type Resampler interface {
	// Configure (re)configures the resampler for the given input/output
	// shapes. Safe to call again if either shape changes.
	Configure(inLayout, inFormat string, inRate int, outLayout, outFormat string, outRate int) error

	// Convert resamples inSamples frames from in (one []byte per plane;
	// packed formats use a single plane) into outBuf, returning the
	// number of samples actually written.
	Convert(in [][]byte, inSamples int, outBuf []byte, outCapSamples int) (outSamples int, err error)

	// SetCompensation asks the resampler to stretch/compress by
	// deltaSamples over the next distanceSamples, used by
	// synchronize_audio instead of truncating/padding.
	SetCompensation(deltaSamples, distanceSamples int) error
}
