package avplay

import (
	"context"
	"math"
	"time"
)

// TimestampPolicy selects how a decoded video frame's pts is derived.
type TimestampPolicy uint8

const (
	TimestampBestEffort TimestampPolicy = iota
	TimestampRawPts
	TimestampDtsOnly
)

// continueSignal is a one-shot, coalescing wakeup used by a decoder driver
// to tell the reader "the packet queue was empty, keep producing". It
// purposefully carries no state: the only thing that crosses the
// reader/decoder boundary is "something happened, check again".
type continueSignal struct{ ch chan struct{} }

func newContinueSignal() *continueSignal { return &continueSignal{ch: make(chan struct{}, 1)} }

func (s *continueSignal) notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s *continueSignal) C() <-chan struct{} { return s.ch }

// driverBase holds the epoch/serial bookkeeping shared by every decoder
// driver kind.
type driverBase struct {
	pktq         *PacketQueue
	continueRead *continueSignal

	serial   int
	finished int // serial at which EOF was reached; -1 means "not finished"
	startPts time.Duration
	nextPts  time.Duration
	lastDts  time.Duration // dts of the most recently sent packet, for TimestampDtsOnly
}

func newDriverBase(pktq *PacketQueue, continueRead *continueSignal) driverBase {
	return driverBase{pktq: pktq, continueRead: continueRead, finished: -1}
}

// Finished reports the serial at which this driver reached EOF, or -1.
// Used by the reader's completion predicate.
func (b *driverBase) Finished() int {
	return b.finished
}

// getPacket pops the next packet, notifying continueRead if the queue had
// been empty, and applies the feed-phase flush-on-serial-change rule. It
// returns ok=false when the queue is aborted.
func (b *driverBase) getPacket(flush func()) (Packet, bool) {
	nb, _, _ := b.pktq.Stats()
	var pkt Packet
	result := b.pktq.Get(true, &pkt, nil)
	if result == GetAborted {
		return Packet{}, false
	}
	if nb == 0 {
		b.continueRead.notify()
	}
	if pkt.Serial != b.serial {
		flush()
		b.serial = pkt.Serial
		b.nextPts = b.startPts
		b.finished = -1
	}
	b.lastDts = pkt.Dts
	return pkt, true
}

// --- video ---

// videoDecoderDriver drives one video stream: drain the codec, filter,
// early-drop under decode pressure, and push onto the frame queue.
type videoDecoderDriver struct {
	driverBase
	frameq *FrameQueue[VideoFrame]
	dec    VideoDecoder
	filter VideoFilterGraph

	policy TimestampPolicy

	videoClock   *Clock
	masterClock  func() float64
	syncType     func() SyncType
	frameDropCfg func() int // -1 disabled, 0 only-when-not-master, 1 always
}

func newVideoDecoderDriver(pktq *PacketQueue, frameq *FrameQueue[VideoFrame], dec VideoDecoder, filter VideoFilterGraph, continueRead *continueSignal) *videoDecoderDriver {
	return &videoDecoderDriver{
		driverBase: newDriverBase(pktq, continueRead),
		frameq:     frameq,
		dec:        dec,
		filter:     filter,
	}
}

// Run is the decode loop: drain phase followed by feed phase, forever,
// until the packet queue aborts or a fatal codec error occurs.
func (d *videoDecoderDriver) Run(ctx context.Context) error {
	for {
	drain:
		for {
			frame, err := d.dec.ReceiveFrame()
			switch err {
			case ErrDecoderAgain:
				break drain
			case ErrDecoderEOF:
				d.finished = d.serial
				break drain
			case nil:
				d.applyTimestampPolicy(&frame)
				frame.Serial = d.serial
				if err := d.filter.Push(frame); err != nil {
					return err
				}
				for {
					filtered, ferr := d.filter.Pull()
					if ferr != nil {
						break
					}
					filtered.Serial = d.serial
					if d.shouldEarlyDrop(filtered) {
						continue
					}
					if !d.pushFrame(ctx, filtered) {
						return nil
					}
				}
			default:
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pkt, ok := d.getPacket(d.dec.FlushBuffers)
		if !ok {
			return nil
		}
		if pkt.Serial != d.pktq.Serial() {
			continue // stale relative to a flush that raced the Get
		}
		if pkt.IsNull() {
			d.finished = pkt.Serial
			continue
		}
		if err := d.dec.SendPacket(pkt); err != nil {
			return err
		}
	}
}

// applyTimestampPolicy derives f.Pts per d.policy: TimestampRawPts trusts
// the decoder outright, TimestampDtsOnly substitutes the last sent packet's
// decode timestamp, and the default TimestampBestEffort only synthesizes a
// pts when the decoder didn't supply one. It then advances nextPts for
// whichever later frame is missing one of its own.
func (d *videoDecoderDriver) applyTimestampPolicy(f *VideoFrame) {
	switch d.policy {
	case TimestampDtsOnly:
		f.Pts = d.lastDts
	case TimestampRawPts:
	default:
		if f.Pts < 0 {
			f.Pts = d.nextPts
		}
	}
	if f.Duration > 0 {
		d.nextPts = f.Pts + f.Duration
	} else {
		d.nextPts = f.Pts
	}
}

func (d *videoDecoderDriver) pushFrame(ctx context.Context, f VideoFrame) bool {
	slot, ok := d.frameq.PeekWritable()
	if !ok {
		return false
	}
	*slot = f
	d.frameq.Push()
	return true
}

// shouldEarlyDrop drops a filtered frame before it reaches the frame queue
// when all of the listed conditions hold. This is the same threshold logic
// as the presenter's late drop, applied earlier in the pipeline.
func (d *videoDecoderDriver) shouldEarlyDrop(f VideoFrame) bool {
	mode := d.frameDropCfg()
	if mode < 0 {
		return false
	}
	if mode == 0 && d.syncType() == SyncVideoMaster {
		return false
	}
	master := d.masterClock()
	diff := f.Pts.Seconds() - master
	if math.IsNaN(diff) || math.Abs(diff) >= NoSyncThreshold.Seconds() {
		return false
	}
	const lastFilterDelay = 0 // no filter graph in this implementation introduces extra latency
	if diff-lastFilterDelay >= 0 {
		return false
	}
	if d.serial != d.videoClock.Serial() {
		return false
	}
	nb, _, _ := d.pktq.Stats()
	return nb > 0
}

// --- audio ---

// audioDecoderDriver drives the audio stream analogously to
// [videoDecoderDriver], synthesizing pts from nb_samples when the codec
// doesn't provide one.
type audioDecoderDriver struct {
	driverBase
	frameq *FrameQueue[AudioFrame]
	dec    AudioDecoder
	filter AudioFilterGraph
}

func newAudioDecoderDriver(pktq *PacketQueue, frameq *FrameQueue[AudioFrame], dec AudioDecoder, filter AudioFilterGraph, continueRead *continueSignal) *audioDecoderDriver {
	return &audioDecoderDriver{
		driverBase: newDriverBase(pktq, continueRead),
		frameq:     frameq,
		dec:        dec,
		filter:     filter,
	}
}

// sampleDuration converts a sample count at sampleRate into a time.Duration.
func sampleDuration(nbSamples, sampleRate int) time.Duration {
	return time.Duration(float64(nbSamples) / float64(max(sampleRate, 1)) * float64(time.Second))
}

func (d *audioDecoderDriver) Run(ctx context.Context) error {
	for {
	drain:
		for {
			frame, err := d.dec.ReceiveFrame()
			switch err {
			case ErrDecoderAgain:
				break drain
			case ErrDecoderEOF:
				d.finished = d.serial
				break drain
			case nil:
				if frame.Pts < 0 {
					frame.Pts = d.nextPts
				}
				d.nextPts = frame.Pts + sampleDuration(frame.NbSamples, frame.SampleRate)
				frame.Serial = d.serial
				if err := d.filter.Push(frame); err != nil {
					return err
				}
				for {
					filtered, ferr := d.filter.Pull()
					if ferr != nil {
						break
					}
					filtered.Serial = d.serial
					// the filter graph may resample (changing NbSamples and
					// SampleRate), so Duration is computed on the frame that
					// actually reaches the queue, not the pre-filter one.
					filtered.Duration = sampleDuration(filtered.NbSamples, filtered.SampleRate)
					slot, ok := d.frameq.PeekWritable()
					if !ok {
						return nil
					}
					*slot = filtered
					d.frameq.Push()
				}
			default:
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pkt, ok := d.getPacket(d.dec.FlushBuffers)
		if !ok {
			return nil
		}
		if pkt.Serial != d.pktq.Serial() {
			continue
		}
		if pkt.IsNull() {
			d.finished = pkt.Serial
			continue
		}
		if err := d.dec.SendPacket(pkt); err != nil {
			return err
		}
	}
}

// --- subtitle ---

// subtitleDecoderDriver drives the subtitle stream. Subtitles decode
// one-shot per packet, so there is no drain/feed split: each packet yields
// at most one frame.
type subtitleDecoderDriver struct {
	driverBase
	frameq *FrameQueue[SubtitleFrame]
	dec    SubtitleDecoder
}

func newSubtitleDecoderDriver(pktq *PacketQueue, frameq *FrameQueue[SubtitleFrame], dec SubtitleDecoder, continueRead *continueSignal) *subtitleDecoderDriver {
	return &subtitleDecoderDriver{
		driverBase: newDriverBase(pktq, continueRead),
		frameq:     frameq,
		dec:        dec,
	}
}

func (d *subtitleDecoderDriver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pkt, ok := d.getPacket(func() {})
		if !ok {
			return nil
		}
		if pkt.Serial != d.pktq.Serial() {
			continue
		}
		if pkt.IsNull() {
			d.finished = pkt.Serial
			continue
		}
		frame, got, err := d.dec.DecodeSubtitle(pkt)
		if err != nil {
			return err
		}
		if !got {
			continue
		}
		frame.Serial = pkt.Serial
		slot, ok := d.frameq.PeekWritable()
		if !ok {
			return nil
		}
		*slot = frame
		d.frameq.Push()
	}
}
