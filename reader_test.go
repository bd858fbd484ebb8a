package avplay

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeDemuxer struct {
	mu      sync.Mutex
	streams []StreamInfo
	packets []Packet
	idx     int
	opened  string
	seeks   []time.Duration
	paused  bool
	closed  bool
}

func (d *fakeDemuxer) Open(url string) error {
	d.opened = url
	return nil
}

func (d *fakeDemuxer) Streams() []StreamInfo { return d.streams }

func (d *fakeDemuxer) Read() (Packet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx >= len(d.packets) {
		return Packet{}, io.EOF
	}
	p := d.packets[d.idx]
	d.idx++
	return p, nil
}

func (d *fakeDemuxer) Seek(streamIndex int, min, target, max time.Duration, flags SeekFlags) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seeks = append(d.seeks, target)
	d.idx = 0
	return nil
}

func (d *fakeDemuxer) Pause(paused bool) error {
	d.paused = paused
	return nil
}

func (d *fakeDemuxer) Close() error {
	d.closed = true
	return nil
}

func testStreams() []StreamInfo {
	return []StreamInfo{
		{Index: 0, Kind: StreamVideo, Duration: 10 * time.Second},
		{Index: 1, Kind: StreamAudio, Duration: 10 * time.Second},
	}
}

func TestReaderOpenSelectsStreams(t *testing.T) {
	demux := &fakeDemuxer{streams: testStreams()}
	r := NewReader(demux, NewPacketQueue(), NewPacketQueue(), NewPacketQueue(), newContinueSignal(), ReaderOptions{StreamSelectors: DefaultStreamSelectors()})

	require.NoError(t, r.Open("file.mp4"))
	require.Equal(t, "file.mp4", demux.opened)

	video, audio, sub := r.SelectedStreams()
	require.Equal(t, 0, video)
	require.Equal(t, 1, audio)
	require.Equal(t, -1, sub)
}

func TestReaderRoutesPacketsToTheRightQueue(t *testing.T) {
	demux := &fakeDemuxer{
		streams: testStreams(),
		packets: []Packet{
			{StreamIndex: 0, Pts: 0},
			{StreamIndex: 1, Pts: 0},
			{StreamIndex: 0, Pts: time.Second},
		},
	}
	videoq, audioq, subq := NewPacketQueue(), NewPacketQueue(), NewPacketQueue()
	videoq.Start()
	audioq.Start()
	subq.Start()
	r := NewReader(demux, videoq, audioq, subq, newContinueSignal(), ReaderOptions{StreamSelectors: DefaultStreamSelectors()})
	require.NoError(t, r.Open("file.mp4"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		nb, _, _ := videoq.Stats()
		return nb == 2
	}, time.Second, time.Millisecond)
	nb, _, _ := audioq.Stats()
	require.Equal(t, 1, nb)

	cancel()
	<-done
}

func TestReaderSignalsEOFOncePerPass(t *testing.T) {
	demux := &fakeDemuxer{
		streams: testStreams(),
		packets: []Packet{{StreamIndex: 0, Pts: 0}},
	}
	videoq, audioq, subq := NewPacketQueue(), NewPacketQueue(), NewPacketQueue()
	videoq.Start()
	audioq.Start()
	subq.Start()
	r := NewReader(demux, videoq, audioq, subq, newContinueSignal(), ReaderOptions{StreamSelectors: DefaultStreamSelectors()})
	require.NoError(t, r.Open("file.mp4"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// one real video packet plus the null EOF terminator for the video stream.
	require.Eventually(t, func() bool {
		nb, _, _ := videoq.Stats()
		return nb == 2
	}, time.Second, time.Millisecond)

	var null Packet
	require.Equal(t, GetGot, videoq.Get(false, &null, nil)) // the real packet
	require.Equal(t, GetGot, videoq.Get(false, &null, nil)) // the terminator
	require.True(t, null.IsNull())

	cancel()
	<-done
}

func TestReaderLoopsAfterEOFWhenConfigured(t *testing.T) {
	demux := &fakeDemuxer{
		streams: testStreams(),
		packets: []Packet{{StreamIndex: 0, Pts: 0}},
	}
	videoq, audioq, subq := NewPacketQueue(), NewPacketQueue(), NewPacketQueue()
	videoq.Start()
	audioq.Start()
	subq.Start()
	r := NewReader(demux, videoq, audioq, subq, newContinueSignal(), ReaderOptions{
		StreamSelectors: DefaultStreamSelectors(),
		Loop:            true,
	})
	require.NoError(t, r.Open("file.mp4"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		demux.mu.Lock()
		defer demux.mu.Unlock()
		return len(demux.seeks) > 0
	}, time.Second, time.Millisecond, "looping should seek back to 0 after EOF")

	cancel()
	<-done
}

func TestReaderBackpressureDoesNotThrottleEmptyQueues(t *testing.T) {
	demux := &fakeDemuxer{streams: testStreams()}
	videoq, audioq, subq := NewPacketQueue(), NewPacketQueue(), NewPacketQueue()
	r := NewReader(demux, videoq, audioq, subq, newContinueSignal(), ReaderOptions{StreamSelectors: DefaultStreamSelectors()})
	require.NoError(t, r.Open("file.mp4"))
	require.False(t, r.shouldThrottle(), "an empty queue never throttles, regardless of minFramesForReady")
}

func TestReaderCycleStreamWrapsAround(t *testing.T) {
	demux := &fakeDemuxer{streams: []StreamInfo{
		{Index: 0, Kind: StreamVideo},
		{Index: 2, Kind: StreamAudio},
		{Index: 3, Kind: StreamAudio},
	}}
	r := NewReader(demux, NewPacketQueue(), NewPacketQueue(), NewPacketQueue(), newContinueSignal(), ReaderOptions{StreamSelectors: DefaultStreamSelectors()})
	require.NoError(t, r.Open("file.mp4"))

	_, audio, _ := r.SelectedStreams()
	old, next, err := r.CycleStream(StreamAudio)
	require.NoError(t, err)
	require.Equal(t, audio, old)
	require.NotEqual(t, old, next)

	old2, next2, err := r.CycleStream(StreamAudio)
	require.NoError(t, err)
	require.Equal(t, next, old2)
	require.Equal(t, audio, next2, "cycling past the last candidate wraps back to the first")
}

func TestReaderCycleStreamNoSuchStream(t *testing.T) {
	demux := &fakeDemuxer{streams: testStreams()} // no subtitle stream
	r := NewReader(demux, NewPacketQueue(), NewPacketQueue(), NewPacketQueue(), newContinueSignal(), ReaderOptions{StreamSelectors: DefaultStreamSelectors()})
	require.NoError(t, r.Open("file.mp4"))

	_, _, err := r.CycleStream(StreamSubtitle)
	require.ErrorIs(t, err, ErrNoSuchStream)
}

func TestReaderSetPausedForwardsToDemuxer(t *testing.T) {
	demux := &fakeDemuxer{streams: testStreams()}
	r := NewReader(demux, NewPacketQueue(), NewPacketQueue(), NewPacketQueue(), newContinueSignal(), ReaderOptions{StreamSelectors: DefaultStreamSelectors()})
	require.NoError(t, r.Open("file.mp4"))

	require.NoError(t, r.SetPaused(true))
	require.True(t, demux.paused)
}

func TestReaderCloseClosesDemuxer(t *testing.T) {
	demux := &fakeDemuxer{streams: testStreams()}
	r := NewReader(demux, NewPacketQueue(), NewPacketQueue(), NewPacketQueue(), newContinueSignal(), ReaderOptions{StreamSelectors: DefaultStreamSelectors()})
	require.NoError(t, r.Close())
	require.True(t, demux.closed)
}
