package avplay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeDisplay struct {
	mu       sync.Mutex
	created  bool
	uploads  int
	presents int
	closed   bool
}

func (d *fakeDisplay) CreateWindow(title string, width, height int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created = true
	return nil
}

func (d *fakeDisplay) Resize(width, height int) error { return nil }

func (d *fakeDisplay) UploadTexture(f *VideoFrame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uploads++
	return nil
}

func (d *fakeDisplay) Present() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presents++
	return nil
}

func (d *fakeDisplay) presentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.presents
}

func (d *fakeDisplay) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func playerTestStreams() []StreamInfo {
	return []StreamInfo{
		{Index: 0, Kind: StreamVideo, Duration: 10 * time.Second},
		{Index: 1, Kind: StreamAudio, Duration: 10 * time.Second},
	}
}

func playerTestPackets() []Packet {
	var pkts []Packet
	for i := 0; i < 5; i++ {
		pkts = append(pkts,
			Packet{StreamIndex: 0, Pts: time.Duration(i) * 40 * time.Millisecond},
			Packet{StreamIndex: 1, Pts: time.Duration(i) * 20 * time.Millisecond},
		)
	}
	return pkts
}

func newTestPlayer(t *testing.T) (*Player, *fakeDemuxer, *fakeDisplay, *fakeAudioDevice) {
	t.Helper()
	demux := &fakeDemuxer{streams: playerTestStreams(), packets: playerTestPackets()}
	display := &fakeDisplay{}
	device := &fakeAudioDevice{}

	p, err := NewPlayer("file.mp4", Options{
		Demuxer:         demux,
		NewVideoDecoder: func(CodecParameters) (VideoDecoder, error) { return &fakeVideoDecoder{}, nil },
		NewAudioDecoder: func(CodecParameters) (AudioDecoder, error) { return &fakeAudioDecoder{}, nil },
		Display:         display,
		AudioDevice:     device,
		StreamSelectors: DefaultStreamSelectors(),
		SyncType:        SyncAudioMaster,
	})
	require.NoError(t, err)
	return p, demux, display, device
}

func TestNewPlayerRequiresDemuxer(t *testing.T) {
	_, err := NewPlayer("file.mp4", Options{})
	require.Error(t, err)
}

func TestNewPlayerErrorsWithoutVideoOrAudio(t *testing.T) {
	demux := &fakeDemuxer{streams: []StreamInfo{{Index: 0, Kind: StreamSubtitle}}}
	_, err := NewPlayer("file.mp4", Options{Demuxer: demux, StreamSelectors: DefaultStreamSelectors()})
	require.ErrorIs(t, err, ErrNoVideo)
}

func TestPlayerPlayPausePlayStop(t *testing.T) {
	p, _, display, _ := newTestPlayer(t)
	defer p.Close()

	require.Equal(t, Stopped, p.State())

	require.NoError(t, p.Play())
	require.Equal(t, Playing, p.State())

	require.Eventually(t, func() bool { return display.presentCount() > 0 }, time.Second, time.Millisecond,
		"the presenter should blit at least one frame once the pipeline is running")

	require.NoError(t, p.Pause())
	require.Equal(t, Paused, p.State())
	require.True(t, p.videoClock.paused)
	require.True(t, p.audioClock.paused)

	require.NoError(t, p.Play())
	require.Equal(t, Playing, p.State())
	require.False(t, p.videoClock.paused)

	require.NoError(t, p.Stop())
	require.Equal(t, Stopped, p.State())
}

func TestPlayerSeekRequestsReachTheDemuxer(t *testing.T) {
	p, demux, _, _ := newTestPlayer(t)
	defer p.Close()
	require.NoError(t, p.Play())

	require.NoError(t, p.Seek(5*time.Second))
	require.Eventually(t, func() bool {
		demux.mu.Lock()
		defer demux.mu.Unlock()
		return len(demux.seeks) > 0
	}, time.Second, time.Millisecond)
}

func TestPlayerSeekRelativeRequestsReachTheDemuxer(t *testing.T) {
	p, demux, _, _ := newTestPlayer(t)
	defer p.Close()
	require.NoError(t, p.Play())

	require.NoError(t, p.SeekRelative(time.Second))
	require.Eventually(t, func() bool {
		demux.mu.Lock()
		defer demux.mu.Unlock()
		return len(demux.seeks) > 0
	}, time.Second, time.Millisecond)
}

func TestPlayerSetVolumeAndMuted(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)
	defer p.Close()
	require.True(t, p.HasAudio())

	p.SetVolume(0.25)
	require.Equal(t, 0.25, p.audioOut.volume)

	p.SetMuted(true)
	require.True(t, p.audioOut.muted)
}

func TestPlayerCycleStreamNoSubtitle(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)
	defer p.Close()
	require.ErrorIs(t, p.CycleStream(StreamSubtitle), ErrNoSuchStream)
}

func TestPlayerDurationReflectsLongestStream(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)
	defer p.Close()
	require.Equal(t, 10*time.Second, p.Duration())
}

func TestPlayerCloseClosesCollaborators(t *testing.T) {
	p, demux, display, device := newTestPlayer(t)
	require.NoError(t, p.Play())
	require.NoError(t, p.Close())

	require.True(t, demux.closed)
	require.True(t, display.closed)
	require.True(t, device.closed)

	require.ErrorIs(t, p.Play(), ErrClosed)
}
