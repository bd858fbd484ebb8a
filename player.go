package avplay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DecoderFactory builds a stream-kind-specific decoder for the codec
// parameters reported by the [Demuxer].
type (
	VideoDecoderFactory    func(CodecParameters) (VideoDecoder, error)
	AudioDecoderFactory    func(CodecParameters) (AudioDecoder, error)
	SubtitleDecoderFactory func(CodecParameters) (SubtitleDecoder, error)
	ResamplerFactory       func() (Resampler, error)
)

// Options configures a [NewPlayer] call.
type Options struct {
	Demuxer Demuxer

	NewVideoDecoder    VideoDecoderFactory
	NewAudioDecoder    AudioDecoderFactory
	NewSubtitleDecoder SubtitleDecoderFactory
	NewResampler       ResamplerFactory

	Display     Display     // required if the source has a video stream
	AudioDevice AudioDevice // optional; nil disables audio output entirely

	StreamSelectors StreamSelectors
	Loop            bool
	LoopCount       int // caps Loop restarts; 0 means loop forever
	InfiniteBuffer  bool
	SyncType        SyncType
	FrameDrop       int // -1 disabled, 0 auto (drop unless video is master), 1 always
	DesiredAudio    AudioDeviceSpec

	// Start and PlayDuration restrict playback to a sub-range of the
	// source, seeking to Start before the first packet and treating
	// Start+PlayDuration as the end of stream. PlayDuration of 0 plays to
	// the actual end.
	Start        time.Duration
	PlayDuration time.Duration
	SeekByBytes  bool // seek by byte offset instead of timestamp

	// Volume is the initial linear output volume in [0,1]; 0 (the zero
	// value) leaves the audio output's own default untouched.
	Volume float64

	// GenPts synthesizes a pts (the previous frame's pts plus its duration)
	// for decoded video frames that carry none; frames with a pts keep it.
	// When false, decoder-reported pts are used as-is.
	GenPts bool

	// Autorotate inserts a transpose/flip/rotate filter ahead of decoded
	// video frames when the stream reports a non-zero display rotation.
	Autorotate bool

	// Autoexit stops the player once playback reaches the end of the
	// source (or play range) without looping further.
	Autoexit bool

	// HWAccel names a hardware acceleration method for NewVideoDecoder to
	// consult; the core itself is hwaccel-agnostic and only threads the
	// name through.
	HWAccel string

	// ShowMode selects what an audio-only source displays; see [ShowMode].
	ShowMode ShowMode
}

func (o *Options) setDefaults() {
	if o.StreamSelectors == (StreamSelectors{}) {
		o.StreamSelectors = DefaultStreamSelectors()
	}
	if o.DesiredAudio.SampleRate == 0 {
		o.DesiredAudio = AudioDeviceSpec{SampleRate: 48000, Channels: 2, Format: "s16"}
	}
}

// Player is the top-level facade wiring together the reader, per-stream
// decoder drivers, clocks, presenter and audio output. One Player owns
// exactly one opened source; open a new Player to play a different URL.
type Player struct {
	opts Options

	videoq, audioq, subq *PacketQueue
	videoFrameq          *FrameQueue[VideoFrame]
	audioFrameq          *FrameQueue[AudioFrame]
	subFrameq            *FrameQueue[SubtitleFrame]

	videoClock, audioClock, externalClock *Clock

	reader    *Reader
	presenter *VideoPresenter
	audioOut  *AudioOutput

	videoDec VideoDecoder
	audioDec AudioDecoder
	subDec   SubtitleDecoder

	continueRead *continueSignal

	mu      sync.Mutex
	state   PlaybackState
	closed  bool
	cancel  context.CancelFunc
	eg      *errgroup.Group
	started bool
}

// NewPlayer opens url through opts.Demuxer and wires the full pipeline,
// but does not start decoding: call [Player.Play] to begin.
func NewPlayer(url string, opts Options) (*Player, error) {
	opts.setDefaults()
	if opts.Demuxer == nil {
		return nil, fmt.Errorf("avplay: Options.Demuxer is required")
	}

	p := &Player{
		opts:         opts,
		videoq:       NewPacketQueue(),
		audioq:       NewPacketQueue(),
		subq:         NewPacketQueue(),
		continueRead: newContinueSignal(),
		state:        Stopped,
	}

	p.reader = NewReader(opts.Demuxer, p.videoq, p.audioq, p.subq, p.continueRead, ReaderOptions{
		Loop:            opts.Loop,
		LoopCount:       opts.LoopCount,
		InfiniteBuffer:  opts.InfiniteBuffer,
		StreamSelectors: opts.StreamSelectors,
		Start:           opts.Start,
		PlayDuration:    opts.PlayDuration,
		SeekByBytes:     opts.SeekByBytes,
	})
	if err := p.reader.Open(url); err != nil {
		return nil, err
	}

	if opts.HWAccel != "" {
		pkgLogger.Printf("avplay: hwaccel %q requested; selection is up to Options.NewVideoDecoder", opts.HWAccel)
	}

	videoIdx, audioIdx, subIdx := p.reader.SelectedStreams()
	if videoIdx < 0 && audioIdx < 0 {
		return nil, ErrNoVideo
	}

	p.videoClock = NewClock(p.videoq.Serial)
	p.audioClock = NewClock(p.audioq.Serial)
	p.externalClock = NewClock(nil)

	streams := p.reader.Streams()

	if videoIdx >= 0 {
		if opts.Display == nil || opts.NewVideoDecoder == nil {
			return nil, fmt.Errorf("avplay: source has a video stream but Options.Display/NewVideoDecoder is nil")
		}
		dec, err := opts.NewVideoDecoder(streams[videoIdx].CodecParams)
		if err != nil {
			return nil, err
		}
		p.videoDec = dec
		p.videoFrameq = NewFrameQueue(videoFrameQueueSize, true, func(f *VideoFrame) int { return f.Serial })
		p.videoq.Start()
	}
	if audioIdx >= 0 && opts.AudioDevice != nil {
		if opts.NewAudioDecoder == nil {
			return nil, fmt.Errorf("avplay: source has an audio stream but Options.NewAudioDecoder is nil")
		}
		dec, err := opts.NewAudioDecoder(streams[audioIdx].CodecParams)
		if err != nil {
			return nil, err
		}
		p.audioDec = dec
		p.audioFrameq = NewFrameQueue(audioFrameQueueSize, true, func(f *AudioFrame) int { return f.Serial })
		p.audioq.Start()
	}
	if subIdx >= 0 && opts.NewSubtitleDecoder != nil {
		dec, err := opts.NewSubtitleDecoder(streams[subIdx].CodecParams)
		if err != nil {
			return nil, err
		}
		p.subDec = dec
		p.subFrameq = NewFrameQueue(subtitleFrameQueueSize, false, func(f *SubtitleFrame) int { return f.Serial })
		p.subq.Start()
	} else {
		// always keep a live subtitle frame queue so the presenter's
		// advanceSubtitles loop has something to peek, even with no
		// subtitle stream selected.
		p.subFrameq = NewFrameQueue(subtitleFrameQueueSize, false, func(f *SubtitleFrame) int { return f.Serial })
	}

	if p.videoDec != nil {
		p.presenter = NewVideoPresenter(
			p.videoFrameq, p.subFrameq, opts.Display,
			p.videoClock, p.audioClock, p.externalClock,
			p.effectiveSyncType, func() bool { return p.videoDec != nil }, func() bool { return p.audioDec != nil },
			func() bool { return p.isPaused() },
			func() int { return opts.FrameDrop },
			func() bool { return opts.InfiniteBuffer },
			p.activeQueuedPackets,
		)
	}

	if p.audioDec != nil {
		var resampler Resampler
		if opts.NewResampler != nil {
			r, err := opts.NewResampler()
			if err != nil {
				return nil, err
			}
			resampler = r
		}
		out, err := NewAudioOutput(
			p.audioFrameq, opts.AudioDevice, p.audioClock, resampler,
			func() bool { return p.effectiveSyncType() == SyncAudioMaster },
			func() float64 {
				return masterClock(p.effectiveSyncType(), p.videoDec != nil, p.audioDec != nil, p.audioClock, p.videoClock, p.externalClock)
			},
			opts.DesiredAudio,
		)
		if err != nil {
			return nil, err
		}
		p.audioOut = out
		if opts.Volume > 0 {
			p.audioOut.SetVolume(opts.Volume)
		}
	}

	return p, nil
}

func (p *Player) effectiveSyncType() SyncType {
	return effectiveSyncType(p.opts.SyncType, p.videoDec != nil, p.audioDec != nil)
}

// timestampPolicy maps Options.GenPts onto the decoder driver's pts
// derivation strategy.
func (p *Player) timestampPolicy() TimestampPolicy {
	if p.opts.GenPts {
		return TimestampBestEffort
	}
	return TimestampRawPts
}

// ShowMode reports the configured display mode for audio-only sources
//; see [ShowMode].
func (p *Player) ShowMode() ShowMode { return p.opts.ShowMode }

func (p *Player) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == Paused
}

// activeQueuedPackets reports the min/max packet backlog across the
// currently active (selected and decoded) streams, feeding the external
// clock's speed adjustment.
func (p *Player) activeQueuedPackets() (min, max int) {
	first := true
	consider := func(q *PacketQueue) {
		nb, _, _ := q.Stats()
		if first || nb < min {
			min = nb
		}
		if first || nb > max {
			max = nb
		}
		first = false
	}
	if p.videoDec != nil {
		consider(p.videoq)
	}
	if p.audioDec != nil {
		consider(p.audioq)
	}
	return min, max
}

// watchAutoexit polls for the reader reaching a true end-of-stream (one it
// won't loop past) and stops the player once the pipeline has drained,
// implementing Options.Autoexit.
func (p *Player) watchAutoexit(ctx context.Context, cancel context.CancelFunc) error {
	ticker := time.NewTicker(readaheadIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if p.reader.AtEnd() && p.reader.completionReady() {
				p.mu.Lock()
				p.started = false
				p.state = Stopped
				p.mu.Unlock()
				cancel()
				return nil
			}
		}
	}
}

// Play starts or resumes playback. The first call spawns the reader,
// decoder driver and presenter tasks under a shared [errgroup.Group]; later
// calls from [Paused] simply unfreeze the clocks.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.state == Playing {
		return nil
	}
	if !p.started {
		p.started = true
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		eg, ctx := errgroup.WithContext(ctx)
		p.eg = eg

		videoIdx, audioIdx, _ := p.reader.SelectedStreams()
		streams := p.reader.Streams()

		// finishedAt/emptyAt back the reader's loop-restart completion
		// predicate: a Loop restart must wait until
		// every active decoder has reached EOF at the current serial and
		// every frame queue it feeds has been fully presented.
		var finishedAt, emptyAt []func() bool

		if p.videoDec != nil {
			videoGraph := newPassthroughVideoGraph()
			cp := streams[videoIdx].CodecParams
			spec := ""
			if p.opts.Autorotate {
				spec = autorotateFilterSpec(cp.Rotation)
			}
			_, _ = videoGraph.Configure(spec, VideoFormat{Width: cp.Width, Height: cp.Height, PixelFormat: cp.PixelFormat}, nil)

			driver := newVideoDecoderDriver(p.videoq, p.videoFrameq, p.videoDec, videoGraph, p.continueRead)
			driver.videoClock = p.videoClock
			driver.masterClock = func() float64 {
				return masterClock(p.effectiveSyncType(), true, p.audioDec != nil, p.audioClock, p.videoClock, p.externalClock)
			}
			driver.syncType = p.effectiveSyncType
			driver.frameDropCfg = func() int { return p.opts.FrameDrop }
			driver.policy = p.timestampPolicy()
			finishedAt = append(finishedAt, func() bool { return driver.Finished() == p.videoq.Serial() })
			emptyAt = append(emptyAt, func() bool { return p.videoFrameq.Remaining() == 0 })
			eg.Go(func() error { return driver.Run(ctx) })
			eg.Go(func() error { return p.presenter.Run(ctx) })
		}
		if p.audioDec != nil {
			var resampler Resampler = noopResampler{}
			if p.opts.NewResampler != nil {
				if r, err := p.opts.NewResampler(); err == nil {
					resampler = r
				}
			}
			audioGraph := newResamplingAudioGraph(resampler)
			cp := streams[audioIdx].CodecParams
			in := AudioFormat{SampleRate: cp.SampleRate, Channels: cp.Channels, ChannelLayout: cp.ChannelLayout, SampleFormat: cp.SampleFormat}
			outSpec := p.opts.DesiredAudio
			if p.audioOut != nil {
				outSpec = p.audioOut.spec
			}
			out := AudioFormat{SampleRate: outSpec.SampleRate, Channels: outSpec.Channels, SampleFormat: outSpec.Format}
			_, _ = audioGraph.Configure("", in, []AudioFormat{out})

			driver := newAudioDecoderDriver(p.audioq, p.audioFrameq, p.audioDec, audioGraph, p.continueRead)
			finishedAt = append(finishedAt, func() bool { return driver.Finished() == p.audioq.Serial() })
			emptyAt = append(emptyAt, func() bool { return p.audioFrameq.Remaining() == 0 })
			eg.Go(func() error { return driver.Run(ctx) })
		}
		if p.subDec != nil {
			driver := newSubtitleDecoderDriver(p.subq, p.subFrameq, p.subDec, p.continueRead)
			finishedAt = append(finishedAt, func() bool { return driver.Finished() == p.subq.Serial() })
			emptyAt = append(emptyAt, func() bool { return p.subFrameq.Remaining() == 0 })
			eg.Go(func() error { return driver.Run(ctx) })
		}

		p.reader.SetCompletionCheck(func() bool {
			if p.isPaused() {
				return false
			}
			for _, done := range finishedAt {
				if !done() {
					return false
				}
			}
			for _, empty := range emptyAt {
				if !empty() {
					return false
				}
			}
			return true
		})
		eg.Go(func() error { return p.reader.Run(ctx) })

		if p.opts.Autoexit {
			eg.Go(func() error { return p.watchAutoexit(ctx, cancel) })
		}
	}

	p.videoClock.SetPaused(false)
	p.audioClock.SetPaused(false)
	p.externalClock.SetPaused(false)
	_ = p.reader.SetPaused(false)
	if p.presenter != nil {
		p.presenter.ForceRefresh()
	}
	p.state = Playing
	return nil
}

// Pause freezes all three clocks in place without tearing down any task.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.state != Playing {
		return nil
	}
	p.videoClock.SetPaused(true)
	p.audioClock.SetPaused(true)
	p.externalClock.SetPaused(true)
	_ = p.reader.SetPaused(true)
	p.state = Paused
	return nil
}

// StepFrame advances exactly one video frame while paused.
func (p *Player) StepFrame() {
	if p.presenter != nil {
		p.presenter.StepOnce()
	}
}

// Stop cancels every running task and returns the player to [Stopped].
// Play afterwards reopens tasks from scratch; the underlying [Demuxer] is
// not reopened, so playback resumes mid-stream rather than from zero unless
// the caller also calls [Player.Seek].
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.state == Stopped {
		return nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.eg != nil {
		_ = p.eg.Wait()
	}
	p.started = false
	p.state = Stopped
	return nil
}

// Seek requests an absolute seek to position, serviced asynchronously by
// the reader task. The player reports [Seeking] only while Seek itself
// runs: the previous state is restored before Seek returns, without waiting
// for the reader to apply the seek's packet queue flush.
func (p *Player) Seek(position time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	prev := p.state
	p.state = Seeking
	p.mu.Unlock()

	p.reader.RequestSeek(position, 0)
	p.videoClock.SetPaused(prev == Paused)
	if p.presenter != nil {
		p.presenter.ForceRefresh()
	}

	p.mu.Lock()
	if p.state == Seeking {
		p.state = prev
	}
	p.mu.Unlock()
	return nil
}

// SeekRelative requests a seek delta away from the last known read
// position.
func (p *Player) SeekRelative(delta time.Duration) error {
	p.reader.RequestSeekRelative(delta, 0)
	if p.presenter != nil {
		p.presenter.ForceRefresh()
	}
	return nil
}

// State returns the player's current [PlaybackState].
func (p *Player) State() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Position returns the current master-clock position.
func (p *Player) Position() time.Duration {
	v := masterClock(p.effectiveSyncType(), p.videoDec != nil, p.audioDec != nil, p.audioClock, p.videoClock, p.externalClock)
	return time.Duration(v * float64(time.Second))
}

// Duration returns the longest stream duration reported by the demuxer.
func (p *Player) Duration() time.Duration {
	var d time.Duration
	for _, s := range p.reader.Streams() {
		if s.Duration > d {
			d = s.Duration
		}
	}
	return d
}

// SetVolume sets linear audio output volume in [0,1]. A no-op when there's
// no audio output.
func (p *Player) SetVolume(v float64) {
	if p.audioOut != nil {
		p.audioOut.SetVolume(v)
	}
}

// SetMuted mutes or unmutes audio output. A no-op when there's no audio
// output.
func (p *Player) SetMuted(m bool) {
	if p.audioOut != nil {
		p.audioOut.SetMuted(m)
	}
}

// HasAudio reports whether this player has an active audio output.
func (p *Player) HasAudio() bool { return p.audioOut != nil }

// CycleStream switches to the next available stream of kind. Switching the
// active video or audio stream requires a fresh decoder for the new
// stream's codec parameters; the old decoder is closed and its frame queue
// reopened.
func (p *Player) CycleStream(kind StreamKind) error {
	old, next, err := p.reader.CycleStream(kind)
	if err != nil {
		return err
	}
	if old == next {
		return nil
	}

	streams := p.reader.Streams()
	switch kind {
	case StreamVideo:
		if p.opts.NewVideoDecoder == nil {
			return ErrNoSuchStream
		}
		dec, err := p.opts.NewVideoDecoder(streams[next].CodecParams)
		if err != nil {
			return err
		}
		if p.videoDec != nil {
			_ = p.videoDec.Close()
		}
		p.videoDec = dec
		p.videoq.Flush()
		p.videoFrameq.Reopen()
	case StreamAudio:
		if p.opts.NewAudioDecoder == nil {
			return ErrNoSuchStream
		}
		dec, err := p.opts.NewAudioDecoder(streams[next].CodecParams)
		if err != nil {
			return err
		}
		if p.audioDec != nil {
			_ = p.audioDec.Close()
		}
		p.audioDec = dec
		p.audioq.Flush()
		p.audioFrameq.Reopen()
	case StreamSubtitle:
		if p.opts.NewSubtitleDecoder == nil {
			return ErrNoSuchStream
		}
		dec, err := p.opts.NewSubtitleDecoder(streams[next].CodecParams)
		if err != nil {
			return err
		}
		if p.subDec != nil {
			_ = p.subDec.Close()
		}
		p.subDec = dec
		p.subq.Flush()
		p.subFrameq.Reopen()
	}
	return nil
}

// Close stops playback and releases every owned resource: decoders, the
// demuxer, the audio device and the display.
func (p *Player) Close() error {
	_ = p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	p.videoq.Abort()
	p.audioq.Abort()
	p.subq.Abort()
	if p.videoFrameq != nil {
		p.videoFrameq.SignalAbort()
	}
	if p.audioFrameq != nil {
		p.audioFrameq.SignalAbort()
	}
	p.subFrameq.SignalAbort()

	if p.videoDec != nil {
		_ = p.videoDec.Close()
	}
	if p.audioDec != nil {
		_ = p.audioDec.Close()
	}
	if p.subDec != nil {
		_ = p.subDec.Close()
	}
	if p.audioOut != nil {
		_ = p.audioOut.Close()
	}
	if err := p.reader.Close(); err != nil {
		return err
	}
	if p.opts.Display != nil {
		return p.opts.Display.Close()
	}
	return nil
}

// noopResampler is wired when the caller supplies no [ResamplerFactory]:
// audio output still works, it just can't apply drift compensation or
// format conversion.
type noopResampler struct{}

func (noopResampler) Configure(string, string, int, string, string, int) error { return nil }
func (noopResampler) Convert(in [][]byte, inSamples int, outBuf []byte, outCapSamples int) (int, error) {
	if len(in) == 0 {
		return 0, nil
	}
	copy(outBuf, in[0])
	return inSamples, nil
}
func (noopResampler) SetCompensation(int, int) error { return nil }
