package avplay

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// Backpressure and readahead tunables.
const (
	maxQueueSize      = 15 * 1024 * 1024 // total encoded bytes across all queues
	minFramesForReady = 25               // don't stall startup waiting past this many queued frames
	readaheadIdle     = 10 * time.Millisecond
)

// seekRequest is a pending seek handed to the reader task by [Player.Seek].
type seekRequest struct {
	target time.Duration
	rel    time.Duration // incremental seek offset; target is absolute unless relative is set
	relative bool
	flags  SeekFlags
}

// ReaderOptions configures the [Reader] loop.
type ReaderOptions struct {
	Loop            bool
	LoopCount       int  // caps the number of loop restarts when Loop is set; 0 means unlimited
	InfiniteBuffer  bool // disable backpressure entirely, e.g. for live/realtime sources
	StreamSelectors StreamSelectors

	// Start and PlayDuration restrict reading to [Start, Start+PlayDuration):
	// Start seeks there before the first read, and packets timestamped past
	// the end of the range are treated as if the container had ended.
	// PlayDuration of 0 means "to the end of the stream".
	Start        time.Duration
	PlayDuration time.Duration
	SeekByBytes  bool
}

// Reader is the single task that owns the [Demuxer]: it performs the
// open/probe/seek/read loop, fanning packets out into the video/audio/
// subtitle [PacketQueue]s and injecting EOF terminators and loop restarts.
type Reader struct {
	demux Demuxer
	opts  ReaderOptions

	videoq, audioq, subq *PacketQueue
	continueRead         *continueSignal

	streams    []StreamInfo
	videoIdx   int
	audioIdx   int
	subIdx     int
	attachedPic *Packet        // non-nil when the video stream is a single attached picture
	rangeEnd    time.Duration // timestamp past which packets are treated as EOF; 0 means unbounded

	mu      sync.Mutex
	pending []seekRequest

	eofSignaled bool
	loopsDone   int

	// completionReady gates a Loop restart behind the pipeline actually
	// having drained: set by [Player] once the decoder
	// drivers and frame queues it owns exist. Defaults to always-ready so a
	// bare Reader (e.g. in tests) behaves as before.
	completionReady func() bool
}

// NewReader wires a [Reader] over demux, not yet opened.
func NewReader(demux Demuxer, videoq, audioq, subq *PacketQueue, continueRead *continueSignal, opts ReaderOptions) *Reader {
	return &Reader{
		demux:           demux,
		opts:            opts,
		videoq:          videoq,
		audioq:          audioq,
		subq:            subq,
		continueRead:    continueRead,
		videoIdx:        -1,
		audioIdx:        -1,
		subIdx:          -1,
		completionReady: func() bool { return true },
	}
}

// SetCompletionCheck installs the predicate that gates a Loop restart once
// EOF is seen: it should report true only once every active decoder driver
// has reached EOF at the current serial and every frame queue has been
// drained. Player calls this after wiring the decoder drivers, before
// starting the reader task.
func (r *Reader) SetCompletionCheck(fn func() bool) {
	r.completionReady = fn
}

// Open opens url and selects streams per opts.StreamSelectors, preferring
// the demuxer's reported defaults when a selector is left to "auto".
func (r *Reader) Open(url string) error {
	if err := r.demux.Open(url); err != nil {
		return err
	}
	r.streams = r.demux.Streams()

	sel := r.opts.StreamSelectors
	r.videoIdx = pickStream(r.streams, StreamVideo, sel.Video)
	r.audioIdx = pickStream(r.streams, StreamAudio, sel.Audio)
	r.subIdx = pickStream(r.streams, StreamSubtitle, sel.Subtitle)

	if r.videoIdx >= 0 && r.streams[r.videoIdx].Disposition&DispositionAttachedPic != 0 {
		// A lone attached picture is read once up front and replayed as a
		// single, never-expiring video frame instead of being pulled from
		// the regular read loop.
		pkt, err := r.demux.Read()
		if err == nil && pkt.StreamIndex == r.videoIdx {
			r.attachedPic = &pkt
		}
	}

	if r.opts.Start > 0 {
		seekStream := r.videoIdx
		if seekStream < 0 {
			seekStream = r.audioIdx
		}
		if seekStream >= 0 {
			flags := SeekFlags(0)
			if r.opts.SeekByBytes {
				flags |= SeekFlagByte
			}
			if err := r.demux.Seek(seekStream, r.opts.Start, r.opts.Start, r.opts.Start, flags); err != nil {
				return err
			}
		}
	}
	if r.opts.PlayDuration > 0 {
		r.rangeEnd = r.opts.Start + r.opts.PlayDuration
	}
	return nil
}

func pickStream(streams []StreamInfo, kind StreamKind, selector int) int {
	if selector >= 0 {
		for _, s := range streams {
			if s.Index == selector && s.Kind == kind {
				return s.Index
			}
		}
		return -1
	}
	best := -1
	for _, s := range streams {
		if s.Kind != kind {
			continue
		}
		if best < 0 || s.Disposition&DispositionDefault != 0 {
			best = s.Index
		}
	}
	return best
}

// Streams exposes the probed stream table.
func (r *Reader) Streams() []StreamInfo { return r.streams }

// SelectedStreams returns the currently selected video/audio/subtitle
// indexes, -1 meaning "none".
func (r *Reader) SelectedStreams() (video, audio, subtitle int) {
	return r.videoIdx, r.audioIdx, r.subIdx
}

// RequestSeek enqueues an absolute seek to target, consumed by the next
// iteration of [Reader.Run]'s loop.
func (r *Reader) RequestSeek(target time.Duration, flags SeekFlags) {
	r.mu.Lock()
	r.pending = append(r.pending, seekRequest{target: target, flags: flags})
	r.mu.Unlock()
	r.continueRead.notify()
}

// RequestSeekRelative enqueues a relative seek of delta from the current
// position.
func (r *Reader) RequestSeekRelative(delta time.Duration, flags SeekFlags) {
	r.mu.Lock()
	r.pending = append(r.pending, seekRequest{rel: delta, relative: true, flags: flags})
	r.mu.Unlock()
	r.continueRead.notify()
}

func (r *Reader) takeSeek() (seekRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return seekRequest{}, false
	}
	req := r.pending[0]
	r.pending = r.pending[1:]
	return req, true
}

// Run drives the read loop until ctx is canceled or a demuxer/queue error
// occurs. Once the container is exhausted and no loop restart follows, it
// keeps idling so later seek requests are still serviced.
func (r *Reader) Run(ctx context.Context) error {
	var lastPts time.Duration

	if r.attachedPic != nil {
		pkt := *r.attachedPic
		if err := r.videoq.Put(pkt); err != nil && !errors.Is(err, ErrAborted) {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if req, ok := r.takeSeek(); ok {
			if err := r.performSeek(req, lastPts); err != nil {
				return err
			}
			r.clearEOFSignaled()
		}

		if !r.opts.InfiniteBuffer && r.shouldThrottle() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readaheadIdle):
			}
			continue
		}

		pkt, err := r.demux.Read()
		if err == nil && r.rangeEnd > 0 && pkt.Pts >= r.rangeEnd {
			// Past the requested play range: treat the container as
			// exhausted without consuming this packet.
			err = io.EOF
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !r.markEOFSignaled() {
					r.signalEOF()
				}
				if r.loopAllowed() && r.completionReady() {
					if err := r.performSeek(seekRequest{target: r.opts.Start}, lastPts); err != nil {
						return err
					}
					r.clearEOFSignaled()
					r.markLoopDone()
					continue
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(readaheadIdle):
				}
				continue
			}
			return err
		}

		lastPts = pkt.Pts
		switch pkt.StreamIndex {
		case r.videoIdx:
			err = r.videoq.Put(pkt)
		case r.audioIdx:
			err = r.audioq.Put(pkt)
		case r.subIdx:
			err = r.subq.Put(pkt)
		default:
			continue // stream we didn't select; drop
		}
		if err != nil && !errors.Is(err, ErrAborted) {
			return err
		}
	}
}

// performSeek resolves a possibly-relative request against lastPts, asks
// the demuxer to seek, and flushes every queue so their serial advances.
// A lone attached picture is re-enqueued after the flush since it never
// appears again in the regular read loop.
func (r *Reader) performSeek(req seekRequest, lastPts time.Duration) error {
	target := req.target
	if req.relative {
		target = lastPts + req.rel
		if target < 0 {
			target = 0
		}
	}

	seekStream := r.videoIdx
	if seekStream < 0 {
		seekStream = r.audioIdx
	}
	if seekStream < 0 {
		return ErrSeekUnsupported
	}

	flags := req.flags
	if r.opts.SeekByBytes {
		flags |= SeekFlagByte
	}

	const seekSlop = 2 * time.Second
	min, max := target-seekSlop, target+seekSlop
	if flags&SeekFlagBackward != 0 {
		max = target
	} else {
		min = target
	}

	if err := r.demux.Seek(seekStream, min, target, max, flags); err != nil {
		return err
	}

	r.videoq.Flush()
	r.audioq.Flush()
	r.subq.Flush()

	if r.attachedPic != nil {
		pkt := *r.attachedPic
		if err := r.videoq.Put(pkt); err != nil && !errors.Is(err, ErrAborted) {
			return err
		}
	}
	return nil
}

// shouldThrottle stops reading once the queues collectively hold enough
// encoded data, to bound the reader's memory footprint ahead of the
// decoders.
func (r *Reader) shouldThrottle() bool {
	vn, vs, _ := r.videoq.Stats()
	an, as, _ := r.audioq.Stats()
	sn, ss, _ := r.subq.Stats()
	total := vs + as + ss
	if total >= maxQueueSize {
		return true
	}
	return (r.videoIdx < 0 || vn > minFramesForReady) &&
		(r.audioIdx < 0 || an > minFramesForReady) &&
		(r.subIdx < 0 || sn > minFramesForReady)
}

// markEOFSignaled records that this pass's EOF terminators are about to be
// (or already were) injected, returning whether that had already happened.
func (r *Reader) markEOFSignaled() (wasAlready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wasAlready = r.eofSignaled
	r.eofSignaled = true
	return wasAlready
}

func (r *Reader) clearEOFSignaled() {
	r.mu.Lock()
	r.eofSignaled = false
	r.mu.Unlock()
}

func (r *Reader) markLoopDone() {
	r.mu.Lock()
	r.loopsDone++
	r.mu.Unlock()
}

// loopAllowed reports whether another loop restart is permitted: looping
// must be enabled, and, if LoopCount caps it, not yet exhausted.
func (r *Reader) loopAllowed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.opts.Loop {
		return false
	}
	return r.opts.LoopCount <= 0 || r.loopsDone < r.opts.LoopCount
}

// AtEnd reports whether this pass has reached EOF (or the end of the
// configured play range) and will not loop again, the condition
// Options.Autoexit watches for.
func (r *Reader) AtEnd() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.eofSignaled {
		return false
	}
	if !r.opts.Loop {
		return true
	}
	return r.opts.LoopCount > 0 && r.loopsDone >= r.opts.LoopCount
}

// signalEOF injects a null packet into every selected queue so each
// decoder driver can mark itself finished.
func (r *Reader) signalEOF() {
	if r.videoIdx >= 0 {
		_ = r.videoq.PutNullPacket(r.videoIdx)
	}
	if r.audioIdx >= 0 {
		_ = r.audioq.PutNullPacket(r.audioIdx)
	}
	if r.subIdx >= 0 {
		_ = r.subq.PutNullPacket(r.subIdx)
	}
}

// Close releases the underlying demuxer.
func (r *Reader) Close() error {
	return r.demux.Close()
}

// SetPaused forwards a pause/resume transition to the demuxer, letting
// network-backed backends throttle reads while paused.
func (r *Reader) SetPaused(paused bool) error {
	return r.demux.Pause(paused)
}

// CycleStream selects the next available stream of kind, cycling back to
// the first once the last is passed, and records it as the reader's
// selection for that kind. It returns the previously and newly selected
// indexes; newIndex is -1 if no stream of kind exists at all.
func (r *Reader) CycleStream(kind StreamKind) (oldIndex, newIndex int, err error) {
	var candidates []int
	for _, s := range r.streams {
		if s.Kind == kind {
			candidates = append(candidates, s.Index)
		}
	}
	if len(candidates) == 0 {
		return -1, -1, ErrNoSuchStream
	}

	var cur *int
	switch kind {
	case StreamVideo:
		cur = &r.videoIdx
	case StreamAudio:
		cur = &r.audioIdx
	case StreamSubtitle:
		cur = &r.subIdx
	}

	old := *cur
	next := candidates[0]
	for i, idx := range candidates {
		if idx == old {
			next = candidates[(i+1)%len(candidates)]
			break
		}
	}
	*cur = next
	return old, next, nil
}
