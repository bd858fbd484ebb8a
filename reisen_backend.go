package avplay

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/erparts/reisen"
)

// reisen fuses demuxing and decoding into a single ReadPacket+ReadXFrame
// call pair: a packet for a given stream is only decodable immediately
// after it's read. reisenBackend keeps the single decoded frame each call
// produces in a one-slot mailbox per stream kind, and [reisenDemuxer]/
// [reisenVideoDecoder]/[reisenAudioDecoder] share it: the demuxer's Read
// does the actual decode work, and the decoder's SendPacket/ReceiveFrame
// pair just claims what's already sitting in the mailbox. This keeps the
// Demuxer/Decoder split intact at the API boundary even though the
// underlying library doesn't separate the two stages itself.
type reisenBackend struct {
	media *reisen.Media

	videoStream *reisen.VideoStream
	audioStream *reisen.AudioStream

	videoIndex int // our StreamInfo.Index for the video stream, -1 if none
	audioIndex int

	videoFrameDuration time.Duration

	mu           sync.Mutex
	pendingVideo *reisen.VideoFrame
	pendingAudio *reisen.AudioFrame
}

// NewReisenDemuxer returns an unopened reisen-backed [Demuxer] (its Open
// opens the url) plus the decoder/resampler factories to pass into [Options]. Subtitles are not
// supported: reisen carries no subtitle decode path, so
// Options.NewSubtitleDecoder should be left nil when using this backend.
func NewReisenDemuxer() (*reisenDemuxer, VideoDecoderFactory, AudioDecoderFactory, ResamplerFactory) {
	b := &reisenBackend{videoIndex: -1, audioIndex: -1}
	d := &reisenDemuxer{backend: b}
	videoFactory := func(CodecParameters) (VideoDecoder, error) { return &reisenVideoDecoder{backend: b}, nil }
	audioFactory := func(CodecParameters) (AudioDecoder, error) { return &reisenAudioDecoder{backend: b}, nil }
	resamplerFactory := func() (Resampler, error) { return &reisenResampler{}, nil }
	return d, videoFactory, audioFactory, resamplerFactory
}

type reisenDemuxer struct {
	backend *reisenBackend
	streams []StreamInfo
}

func (d *reisenDemuxer) Open(url string) error {
	b := d.backend
	media, err := reisen.NewMedia(url)
	if err != nil {
		return err
	}
	b.media = media

	videoStreams := media.VideoStreams()
	audioStreams := media.AudioStreams()

	var streams []StreamInfo
	if len(videoStreams) > 0 {
		vs := videoStreams[0]
		if len(videoStreams) > 1 {
			pkgLogger.Printf("WARNING: '%s' has multiple video streams; defaulting to the first", url)
		}
		b.videoStream = vs
		b.videoIndex = len(streams)
		frNum, frDenom := vs.FrameRate()
		if frNum > 0 {
			b.videoFrameDuration = (time.Second * time.Duration(frDenom)) / time.Duration(frNum)
		}
		duration, err := vs.Duration()
		if err != nil {
			return err
		}
		streams = append(streams, StreamInfo{
			Index: b.videoIndex, Kind: StreamVideo, Duration: duration,
			CodecParams: CodecParameters{Width: vs.Width(), Height: vs.Height(), PixelFormat: "rgba"},
		})
	}
	if len(audioStreams) > 0 {
		as := audioStreams[0]
		if len(audioStreams) > 1 {
			pkgLogger.Printf("WARNING: '%s' has multiple audio streams; defaulting to the first", url)
		}
		b.audioStream = as
		b.audioIndex = len(streams)
		duration, err := as.Duration()
		if err != nil {
			return err
		}
		streams = append(streams, StreamInfo{
			Index: b.audioIndex, Kind: StreamAudio, Duration: duration,
			CodecParams: CodecParameters{SampleRate: as.SampleRate(), Channels: 2, SampleFormat: "s16"},
		})
	}
	d.streams = streams

	if err := media.OpenDecode(); err != nil {
		return err
	}
	if b.videoStream != nil {
		if err := b.videoStream.Open(); err != nil {
			return err
		}
	}
	if b.audioStream != nil {
		if err := b.audioStream.Open(); err != nil {
			return err
		}
	}
	return nil
}

func (d *reisenDemuxer) Streams() []StreamInfo { return d.streams }

func (d *reisenDemuxer) Read() (Packet, error) {
	b := d.backend
	for {
		packet, found, err := b.media.ReadPacket()
		if err != nil {
			return Packet{}, err
		}
		if !found {
			return Packet{}, io.EOF
		}

		switch packet.Type() {
		case reisen.StreamVideo:
			if b.videoStream == nil || packet.StreamIndex() != b.videoStream.Index() {
				continue
			}
			frame, _, err := b.videoStream.ReadVideoFrame()
			if err != nil {
				return Packet{}, err
			}
			if frame == nil {
				continue // decoder swallowed this packet without producing output
			}
			pts, err := frame.PresentationOffset()
			if err != nil {
				return Packet{}, err
			}
			b.mu.Lock()
			b.pendingVideo = frame
			b.mu.Unlock()
			return Packet{StreamIndex: b.videoIndex, Pts: pts, Duration: b.videoFrameDuration, Data: []byte{1}}, nil

		case reisen.StreamAudio:
			if b.audioStream == nil || packet.StreamIndex() != b.audioStream.Index() {
				continue
			}
			frame, _, err := b.audioStream.ReadAudioFrame()
			if err != nil {
				return Packet{}, err
			}
			if frame == nil {
				continue
			}
			pts, err := frame.PresentationOffset()
			if err != nil {
				return Packet{}, err
			}
			b.mu.Lock()
			b.pendingAudio = frame
			b.mu.Unlock()
			return Packet{StreamIndex: b.audioIndex, Pts: pts, Data: []byte{1}}, nil

		default:
			continue
		}
	}
}

func (d *reisenDemuxer) Seek(streamIndex int, min, target, max time.Duration, flags SeekFlags) error {
	b := d.backend
	if b.videoStream != nil {
		if err := b.videoStream.Rewind(target); err != nil {
			return err
		}
	}
	if b.audioStream != nil {
		if err := b.audioStream.Rewind(target); err != nil {
			return err
		}
	}
	b.mu.Lock()
	b.pendingVideo, b.pendingAudio = nil, nil
	b.mu.Unlock()
	return nil
}

// Pause is a no-op: reisen has no network-throttling hook to forward a
// pause transition to.
func (d *reisenDemuxer) Pause(paused bool) error { return nil }

func (d *reisenDemuxer) Close() error {
	b := d.backend
	if b.videoStream != nil {
		_ = b.videoStream.Close()
	}
	if b.audioStream != nil {
		_ = b.audioStream.Close()
	}
	if b.media == nil {
		return nil
	}
	if err := b.media.CloseDecode(); err != nil {
		return err
	}
	b.media.Close()
	return nil
}

// --- video decoder ---

type reisenVideoDecoder struct {
	backend *reisenBackend
	claimed *reisen.VideoFrame
}

func (d *reisenVideoDecoder) SendPacket(pkt Packet) error {
	d.backend.mu.Lock()
	d.claimed = d.backend.pendingVideo
	d.backend.pendingVideo = nil
	d.backend.mu.Unlock()
	return nil
}

func (d *reisenVideoDecoder) ReceiveFrame() (VideoFrame, error) {
	if d.claimed == nil {
		return VideoFrame{}, ErrDecoderAgain
	}
	frame := d.claimed
	d.claimed = nil

	pts, err := frame.PresentationOffset()
	if err != nil {
		return VideoFrame{}, err
	}
	data := frame.Data()
	w, h := d.backend.videoStream.Width(), d.backend.videoStream.Height()
	return VideoFrame{
		Pts: pts, Duration: d.backend.videoFrameDuration,
		Width: w, Height: h, Format: "rgba",
		Strides: []int{w * 4}, Data: data,
	}, nil
}

func (d *reisenVideoDecoder) FlushBuffers() {
	d.backend.mu.Lock()
	d.backend.pendingVideo = nil
	d.backend.mu.Unlock()
	d.claimed = nil
}

func (d *reisenVideoDecoder) Close() error { return nil } // owned by the demuxer

// --- audio decoder ---

type reisenAudioDecoder struct {
	backend *reisenBackend
	claimed *reisen.AudioFrame
}

func (d *reisenAudioDecoder) SendPacket(pkt Packet) error {
	d.backend.mu.Lock()
	d.claimed = d.backend.pendingAudio
	d.backend.pendingAudio = nil
	d.backend.mu.Unlock()
	return nil
}

func (d *reisenAudioDecoder) ReceiveFrame() (AudioFrame, error) {
	if d.claimed == nil {
		return AudioFrame{}, ErrDecoderAgain
	}
	frame := d.claimed
	d.claimed = nil

	pts, err := frame.PresentationOffset()
	if err != nil {
		return AudioFrame{}, err
	}
	data := frame.Data()
	const channels = 2
	nbSamples := len(data) / (2 * channels)
	sampleRate := d.backend.audioStream.SampleRate()
	return AudioFrame{
		Pts: pts, Duration: sampleDuration(nbSamples, sampleRate), SampleRate: sampleRate, Channels: channels,
		Format: "s16", NbSamples: nbSamples, Data: data,
	}, nil
}

func (d *reisenAudioDecoder) FlushBuffers() {
	d.backend.mu.Lock()
	d.backend.pendingAudio = nil
	d.backend.mu.Unlock()
	d.claimed = nil
}

func (d *reisenAudioDecoder) Close() error { return nil }

// --- resampler ---

// reisenResampler does linear-interpolation sample-rate conversion over
// s16 interleaved PCM. reisen itself performs no resampling, and nothing
// else in the pack bundles a dedicated audio resampling library, so this
// is a deliberate, narrowly-scoped stdlib fallback (see DESIGN.md).
type reisenResampler struct {
	inRate, outRate     int
	inChannels          int
	compDelta, compDist int
}

func (r *reisenResampler) Configure(_ string, _ string, inRate int, _ string, _ string, outRate int) error {
	r.inRate, r.outRate = inRate, outRate
	if r.inChannels == 0 {
		r.inChannels = 2
	}
	return nil
}

func (r *reisenResampler) Convert(in [][]byte, inSamples int, outBuf []byte, outCapSamples int) (int, error) {
	if len(in) == 0 {
		return 0, nil
	}
	src := in[0]
	channels := r.inChannels
	if r.inRate == r.outRate || r.inRate == 0 {
		n := copy(outBuf, src)
		return n / (2 * channels), nil
	}

	ratio := float64(r.inRate) / float64(r.outRate)
	if r.compDist > 0 {
		ratio *= 1 - float64(r.compDelta)/float64(r.compDist)
		r.compDelta, r.compDist = 0, 0
	}
	outSamples := int(float64(inSamples) / ratio)
	if outSamples > outCapSamples {
		outSamples = outCapSamples
	}
	for i := 0; i < outSamples; i++ {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		if idx >= inSamples-1 {
			idx = inSamples - 2
			if idx < 0 {
				idx = 0
			}
		}
		frac := srcPos - float64(idx)
		for c := 0; c < channels; c++ {
			a := sampleAt(src, idx, c, channels)
			b := sampleAt(src, idx+1, c, channels)
			v := int16(float64(a) + (float64(b)-float64(a))*frac)
			putSample(outBuf, i, c, channels, v)
		}
	}
	return outSamples, nil
}

func sampleAt(buf []byte, sample, channel, channels int) int16 {
	off := (sample*channels + channel) * 2
	if off+1 >= len(buf) {
		return 0
	}
	return int16(uint16(buf[off]) | uint16(buf[off+1])<<8)
}

func putSample(buf []byte, sample, channel, channels int, v int16) {
	off := (sample*channels + channel) * 2
	if off+1 >= len(buf) {
		return
	}
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
}

// SetCompensation records the requested drift compensation. The linear
// resampler applies it as a one-shot additional rate scaling on the next
// Convert call that actually resamples (inRate != outRate); a pass-through
// Convert leaves it pending. reisen exposes no compensation hook of its own.
func (r *reisenResampler) SetCompensation(deltaSamples, distanceSamples int) error {
	if distanceSamples <= 0 {
		return fmt.Errorf("avplay: invalid compensation distance %d", distanceSamples)
	}
	r.compDelta, r.compDist = deltaSamples, distanceSamples
	return nil
}
