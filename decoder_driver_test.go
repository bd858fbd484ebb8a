package avplay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeVideoDecoder struct {
	pending []VideoFrame
	flushed int
}

func (d *fakeVideoDecoder) SendPacket(pkt Packet) error {
	if pkt.IsNull() {
		return nil
	}
	d.pending = append(d.pending, VideoFrame{Pts: pkt.Pts, Width: 4, Height: 4})
	return nil
}

func (d *fakeVideoDecoder) ReceiveFrame() (VideoFrame, error) {
	if len(d.pending) == 0 {
		return VideoFrame{}, ErrDecoderAgain
	}
	f := d.pending[0]
	d.pending = d.pending[1:]
	return f, nil
}

func (d *fakeVideoDecoder) FlushBuffers() {
	d.flushed++
	d.pending = nil
}

func (d *fakeVideoDecoder) Close() error { return nil }

func newTestVideoDriver(pktq *PacketQueue, frameq *FrameQueue[VideoFrame], dec VideoDecoder) *videoDecoderDriver {
	driver := newVideoDecoderDriver(pktq, frameq, dec, newPassthroughVideoGraph(), newContinueSignal())
	driver.videoClock = NewClock(pktq.Serial)
	driver.masterClock = func() float64 { return 0 }
	driver.syncType = func() SyncType { return SyncVideoMaster }
	driver.frameDropCfg = func() int { return -1 }
	return driver
}

func TestVideoDecoderDriverProducesFrames(t *testing.T) {
	pktq := NewPacketQueue()
	pktq.Start()
	frameq := NewFrameQueue(videoFrameQueueSize, true, videoSerial)
	dec := &fakeVideoDecoder{}
	driver := newTestVideoDriver(pktq, frameq, dec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- driver.Run(ctx) }()

	require.NoError(t, pktq.Put(Packet{StreamIndex: 0, Pts: 0}))

	f, ok := frameq.PeekReadable()
	require.True(t, ok)
	require.Equal(t, time.Duration(0), f.Pts)

	pktq.Abort()
	require.NoError(t, waitDone(t, done))
}

func TestVideoDecoderDriverFlushesOnSerialChange(t *testing.T) {
	pktq := NewPacketQueue()
	pktq.Start()
	frameq := NewFrameQueue(videoFrameQueueSize, true, videoSerial)
	dec := &fakeVideoDecoder{}
	driver := newTestVideoDriver(pktq, frameq, dec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- driver.Run(ctx) }()

	require.NoError(t, pktq.Put(Packet{StreamIndex: 0, Pts: 0}))
	_, ok := frameq.PeekReadable()
	require.True(t, ok)

	pktq.Flush() // simulates a seek: bumps the serial out from under the driver
	require.NoError(t, pktq.Put(Packet{StreamIndex: 0, Pts: 5 * time.Second}))

	// the first packet's serial change (0 -> 1) already flushed once
	require.Eventually(t, func() bool { return dec.flushed > 1 }, time.Second, time.Millisecond)

	pktq.Abort()
	require.NoError(t, waitDone(t, done))
}

func TestVideoDecoderDriverFinishesOnNullPacket(t *testing.T) {
	pktq := NewPacketQueue()
	pktq.Start()
	frameq := NewFrameQueue(videoFrameQueueSize, true, videoSerial)
	dec := &fakeVideoDecoder{}
	driver := newTestVideoDriver(pktq, frameq, dec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- driver.Run(ctx) }()

	require.NoError(t, pktq.PutNullPacket(0))
	require.Eventually(t, func() bool { return driver.Finished() == pktq.Serial() }, time.Second, time.Millisecond)

	pktq.Abort()
	require.NoError(t, waitDone(t, done))
}

func TestShouldEarlyDropRequiresPendingPacketsAndBehindMaster(t *testing.T) {
	pktq := NewPacketQueue()
	pktq.Start()
	frameq := NewFrameQueue(videoFrameQueueSize, true, videoSerial)
	driver := newTestVideoDriver(pktq, frameq, &fakeVideoDecoder{})
	driver.syncType = func() SyncType { return SyncAudioMaster }
	driver.masterClock = func() float64 { return 1.0 }
	driver.videoClock.Set(0, 0) // driver.serial starts at 0, matches
	driver.frameDropCfg = func() int { return 0 }

	// frame is far behind master but the packet queue is empty: no backlog to
	// catch up on, so don't drop.
	require.False(t, driver.shouldEarlyDrop(VideoFrame{Pts: 0, Serial: 0}))

	require.NoError(t, pktq.Put(Packet{StreamIndex: 0}))
	require.True(t, driver.shouldEarlyDrop(VideoFrame{Pts: 0, Serial: 0}))
}

func TestShouldEarlyDropDisabled(t *testing.T) {
	pktq := NewPacketQueue()
	pktq.Start()
	frameq := NewFrameQueue(videoFrameQueueSize, true, videoSerial)
	driver := newTestVideoDriver(pktq, frameq, &fakeVideoDecoder{})
	driver.frameDropCfg = func() int { return -1 }
	require.NoError(t, pktq.Put(Packet{StreamIndex: 0}))
	require.False(t, driver.shouldEarlyDrop(VideoFrame{Pts: 0, Serial: 0}))
}

type fakeAudioDecoder struct {
	pending []AudioFrame
}

func (d *fakeAudioDecoder) SendPacket(pkt Packet) error {
	if pkt.IsNull() {
		return nil
	}
	d.pending = append(d.pending, AudioFrame{Pts: pkt.Pts, SampleRate: 48000, NbSamples: 1024})
	return nil
}

func (d *fakeAudioDecoder) ReceiveFrame() (AudioFrame, error) {
	if len(d.pending) == 0 {
		return AudioFrame{}, ErrDecoderAgain
	}
	f := d.pending[0]
	d.pending = d.pending[1:]
	return f, nil
}

func (d *fakeAudioDecoder) FlushBuffers() { d.pending = nil }
func (d *fakeAudioDecoder) Close() error  { return nil }

func TestAudioDecoderDriverSynthesizesMissingPts(t *testing.T) {
	pktq := NewPacketQueue()
	pktq.Start()
	frameq := NewFrameQueue(audioFrameQueueSize, true, func(f *AudioFrame) int { return f.Serial })
	dec := &fakeAudioDecoder{}
	driver := newAudioDecoderDriver(pktq, frameq, dec, newResamplingAudioGraph(noopResampler{}), newContinueSignal())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- driver.Run(ctx) }()

	require.NoError(t, pktq.Put(Packet{StreamIndex: 0, Pts: -1})) // codec gave no pts

	f, ok := frameq.PeekReadable()
	require.True(t, ok)
	require.Equal(t, time.Duration(0), f.Pts, "falls back to driver.startPts when the decoder reports no pts")

	pktq.Abort()
	require.NoError(t, waitDone(t, done))
}

type fakeSubtitleDecoder struct{}

func (fakeSubtitleDecoder) DecodeSubtitle(pkt Packet) (SubtitleFrame, bool, error) {
	if len(pkt.Data) == 0 {
		return SubtitleFrame{}, false, nil
	}
	return SubtitleFrame{Pts: pkt.Pts, EndDisplay: time.Second}, true, nil
}

func (fakeSubtitleDecoder) Close() error { return nil }

func TestSubtitleDecoderDriverSkipsPacketsWithNoEvent(t *testing.T) {
	pktq := NewPacketQueue()
	pktq.Start()
	frameq := NewFrameQueue(subtitleFrameQueueSize, false, func(f *SubtitleFrame) int { return f.Serial })
	driver := newSubtitleDecoderDriver(pktq, frameq, fakeSubtitleDecoder{}, newContinueSignal())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- driver.Run(ctx) }()

	require.NoError(t, pktq.Put(Packet{StreamIndex: 0, Data: nil})) // no event
	require.NoError(t, pktq.Put(Packet{StreamIndex: 0, Data: []byte{1}, Pts: time.Second}))

	f, ok := frameq.PeekReadable()
	require.True(t, ok)
	require.Equal(t, time.Second, f.Pts)

	pktq.Abort()
	require.NoError(t, waitDone(t, done))
}

func waitDone(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		t.Fatal("driver.Run never returned after abort")
		return nil
	}
}
