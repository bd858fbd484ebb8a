package avplay

import (
	"sync"
	"time"
)

// VideoFrame is a decoded video picture ready for presentation.
// The pixel buffer uses Strides to describe per-plane row pitches; a single
// packed plane is the common case for the RGBA data [Display] consumes.
type VideoFrame struct {
	Serial   int
	Pts      time.Duration
	Duration time.Duration
	Pos      int64

	Width, Height             int
	Format                    string
	SampleAspectNum           int
	SampleAspectDen           int
	Strides                   []int
	Data                      []byte

	// Uploaded reports whether the frame's texture has already been
	// synced to the [Display] backend; the presenter sets this once it
	// blits the frame so a reblit (e.g. on window expose) can skip re-upload.
	Uploaded bool
	// FlipV reports whether the frame requires a vertical flip due to a
	// negative source stride.
	FlipV bool
}

// AudioFrame is a decoded block of audio samples.
type AudioFrame struct {
	Serial        int
	Pts           time.Duration
	Duration      time.Duration
	SampleRate    int
	Channels      int
	ChannelLayout string
	Format        string
	NbSamples     int
	Data          []byte
}

// SubtitleRect is one rendering region of a decoded subtitle frame. The
// pixel contents are opaque to the core: rasterization is out of scope
//; only the rect geometry and timing are tracked.
type SubtitleRect struct {
	X, Y, W, H int
	Data       []byte
}

// SubtitleFrame is a decoded subtitle event. StartDisplay and
// EndDisplay are offsets relative to Pts, following libavcodec's
// AVSubtitle semantics (a packet can carry an event that starts/ends
// partway through its own duration).
type SubtitleFrame struct {
	Serial       int
	Pts          time.Duration
	Rects        []SubtitleRect
	StartDisplay time.Duration
	EndDisplay   time.Duration
}

// Video, audio and subtitle frame queue capacities.
const (
	videoFrameQueueSize    = 3
	audioFrameQueueSize    = 9
	subtitleFrameQueueSize = 16
)

// FrameQueue is a tiny bounded ring of decoded frames that lets the
// presenter inspect the previously-shown frame via the keep_last/
// rindex_shown protocol. T is the concrete frame type
// ([VideoFrame], [AudioFrame] or [SubtitleFrame]); serialOf extracts the
// producing packet's serial from a frame so FrameQueue itself stays
// frame-type agnostic.
type FrameQueue[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	items       []T
	maxSize     int
	rindex      int
	windex      int
	size        int
	keepLast    bool
	rindexShown int
	aborted     bool

	serialOf func(*T) int
}

// NewFrameQueue creates a queue of the given capacity. keepLast should be
// true for video and audio (smooth pause/resume, duration computation
// against the incoming frame) and false for subtitles (clean overwrite on
// stream switch).
func NewFrameQueue[T any](maxSize int, keepLast bool, serialOf func(*T) int) *FrameQueue[T] {
	fq := &FrameQueue[T]{
		items:    make([]T, maxSize),
		maxSize:  maxSize,
		keepLast: keepLast,
		serialOf: serialOf,
	}
	fq.cond = sync.NewCond(&fq.mu)
	return fq
}

// SignalAbort wakes every blocked caller and makes subsequent
// PeekWritable/PeekReadable calls return immediately with ok=false. It
// mirrors the abort of the frame queue's associated packet queue without
// the two queues ever sharing a lock.
func (fq *FrameQueue[T]) SignalAbort() {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	fq.aborted = true
	fq.cond.Broadcast()
}

// Reopen clears the abort flag and drops any queued frames, called when a
// decoder restarts after a stop/stream-switch.
func (fq *FrameQueue[T]) Reopen() {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	fq.aborted = false
	fq.rindex, fq.windex, fq.size, fq.rindexShown = 0, 0, 0, 0
	var zero T
	for i := range fq.items {
		fq.items[i] = zero
	}
	fq.cond.Broadcast()
}

// PeekWritable blocks until there is room for a new frame or the queue is
// aborted, then returns a pointer to the writable slot at windex.
func (fq *FrameQueue[T]) PeekWritable() (*T, bool) {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	for fq.size >= fq.maxSize && !fq.aborted {
		fq.cond.Wait()
	}
	if fq.aborted {
		return nil, false
	}
	return &fq.items[fq.windex], true
}

// Push commits the frame written into the slot returned by PeekWritable,
// advancing windex and waking one blocked reader.
func (fq *FrameQueue[T]) Push() {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	fq.windex = (fq.windex + 1) % fq.maxSize
	fq.size++
	fq.cond.Signal()
}

// PeekReadable blocks until there is at least one unconsumed frame or the
// queue is aborted, then returns a pointer to it.
func (fq *FrameQueue[T]) PeekReadable() (*T, bool) {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	for fq.size-fq.rindexShown <= 0 && !fq.aborted {
		fq.cond.Wait()
	}
	if fq.aborted {
		return nil, false
	}
	idx := (fq.rindex + fq.rindexShown) % fq.maxSize
	return &fq.items[idx], true
}

// PeekCurrent returns the slot at (rindex+rindexShown) without blocking. It
// is undefined (returns nil) when no frame is available.
func (fq *FrameQueue[T]) PeekCurrent() *T {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	if fq.size-fq.rindexShown <= 0 {
		return nil
	}
	idx := (fq.rindex + fq.rindexShown) % fq.maxSize
	return &fq.items[idx]
}

// PeekNext returns the slot one beyond PeekCurrent, or nil if unavailable.
func (fq *FrameQueue[T]) PeekNext() *T {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	if fq.size-fq.rindexShown <= 1 {
		return nil
	}
	idx := (fq.rindex + fq.rindexShown + 1) % fq.maxSize
	return &fq.items[idx]
}

// PeekLast returns the slot at rindex: the most recently presented frame
// when keepLast is set. Only meaningful when keepLast is true.
func (fq *FrameQueue[T]) PeekLast() *T {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	return &fq.items[fq.rindex]
}

// Advance releases the current frame. If keepLast is set and the current
// frame hasn't been "shown" yet, the first Advance only flips rindexShown so
// the frame stays peekable via PeekLast for re-blit/duration purposes;
// subsequent Advances move rindex as usual.
func (fq *FrameQueue[T]) Advance() {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	if fq.keepLast && fq.rindexShown == 0 {
		fq.rindexShown = 1
		return
	}
	var zero T
	fq.items[fq.rindex] = zero
	fq.rindex = (fq.rindex + 1) % fq.maxSize
	fq.size--
	fq.rindexShown = 0
	fq.cond.Signal()
}

// Remaining returns size - rindexShown: the number of frames still pending
// presentation.
func (fq *FrameQueue[T]) Remaining() int {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	return fq.size - fq.rindexShown
}

// SerialOfCurrent returns the serial of the current readable frame, or -1
// if none is available.
func (fq *FrameQueue[T]) SerialOfCurrent() int {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	if fq.size-fq.rindexShown <= 0 {
		return -1
	}
	idx := (fq.rindex + fq.rindexShown) % fq.maxSize
	return fq.serialOf(&fq.items[idx])
}
