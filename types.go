package avplay

import "time"

// StreamKind distinguishes the three stream kinds the pipeline juggles.
type StreamKind uint8

const (
	StreamVideo StreamKind = iota
	StreamAudio
	StreamSubtitle
)

func (k StreamKind) String() string {
	switch k {
	case StreamVideo:
		return "video"
	case StreamAudio:
		return "audio"
	case StreamSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

// Rational is a timebase or frame-rate fraction, e.g. {1, 90000}.
type Rational struct {
	Num, Den int
}

// Seconds converts a count of Rational units into a time.Duration.
func (r Rational) Seconds(units int64) time.Duration {
	if r.Den == 0 {
		return 0
	}
	return time.Duration(units) * time.Second * time.Duration(r.Num) / time.Duration(r.Den)
}

// DispositionFlags mirrors the subset of container stream disposition bits
// the pipeline inspects.
type DispositionFlags uint8

const (
	DispositionAttachedPic DispositionFlags = 1 << iota
	DispositionDefault
)

// CodecParameters carries the subset of decode-relevant stream parameters
// the [Demuxer] reports per stream.
type CodecParameters struct {
	CodecName string

	// video
	Width, Height                    int
	PixelFormat                      string
	SampleAspectNum, SampleAspectDen int
	FrameRateNum, FrameRateDen       int

	// audio
	SampleRate    int
	Channels      int
	ChannelLayout string
	SampleFormat  string

	// Rotation is the stream's display-matrix rotation in degrees,
	// clockwise, as reported by the demuxer; 0 if the container carries
	// none. Consulted by Options.Autorotate.
	Rotation int
}

// StreamInfo is the per-stream metadata the [Demuxer] exposes.
type StreamInfo struct {
	Index       int
	Kind        StreamKind
	TimeBase    Rational
	StartTime   time.Duration
	Duration    time.Duration
	CodecParams CodecParameters
	Disposition DispositionFlags
}

// SeekFlags mirrors the flags accepted by [Demuxer.Seek].
type SeekFlags uint8

const (
	SeekFlagByte SeekFlags = 1 << iota
	SeekFlagBackward
	SeekFlagAny
)

// StreamSelectors lets the caller pin specific stream indexes instead of
// relying on the demuxer's "best stream" heuristic.
type StreamSelectors struct {
	Video, Audio, Subtitle int // -1 means "auto"
}

// DefaultStreamSelectors requests automatic stream selection for all kinds.
func DefaultStreamSelectors() StreamSelectors {
	return StreamSelectors{Video: -1, Audio: -1, Subtitle: -1}
}

// ShowMode picks what an audio-only source displays in place of video. The
// core only tracks the selection and exposes it through [Player.ShowMode];
// synthesizing a waveform/spectrum texture is the caller's [Display]
// implementation's job, not this package's.
type ShowMode uint8

const (
	ShowModeVideo ShowMode = iota
	ShowModeWaves
	ShowModeSpectrum
)
