package avplay

import (
	"context"
	"math"
	"time"
)

// VideoPresenter drives the refresh-tick loop: decide when the currently
// queued video frame is due, apply the A/V sync correction from
// [computeTargetDelay], drop it if already late, and otherwise blit it
// through the [Display] collaborator and advance the video clock.
type VideoPresenter struct {
	videoq *FrameQueue[VideoFrame]
	subq   *FrameQueue[SubtitleFrame]
	display Display

	videoClock, audioClock, externalClock *Clock
	syncType                              func() SyncType
	hasVideo, hasAudio                    func() bool
	paused                                func() bool
	frameDropCfg                          func() int

	// realtime and queuedPackets back the external clock's speed
	// adjustment; queuedPackets reports the min/max packet backlog across
	// the active streams.
	realtime      func() bool
	queuedPackets func() (min, max int)

	frameTimer   time.Time
	lastDuration time.Duration
	forceRefresh bool
	stepOnce     bool
}

// NewVideoPresenter wires a presenter over videoq/subq, blitting through
// display.
func NewVideoPresenter(videoq *FrameQueue[VideoFrame], subq *FrameQueue[SubtitleFrame], display Display, videoClock, audioClock, externalClock *Clock, syncType func() SyncType, hasVideo, hasAudio, paused func() bool, frameDropCfg func() int, realtime func() bool, queuedPackets func() (min, max int)) *VideoPresenter {
	return &VideoPresenter{
		videoq:        videoq,
		subq:          subq,
		display:       display,
		videoClock:    videoClock,
		audioClock:    audioClock,
		externalClock: externalClock,
		syncType:      syncType,
		hasVideo:      hasVideo,
		hasAudio:      hasAudio,
		paused:        paused,
		frameDropCfg:  frameDropCfg,
		realtime:      realtime,
		queuedPackets: queuedPackets,
		frameTimer:    time.Now(),
	}
}

// ForceRefresh asks the next tick to re-blit the current frame even if its
// schedule hasn't elapsed, used after a seek or a resize.
func (p *VideoPresenter) ForceRefresh() { p.forceRefresh = true }

// StepOnce advances exactly one frame while paused, then re-pauses.
func (p *VideoPresenter) StepOnce() { p.stepOnce = true }

// Run ticks at RefreshRate until ctx is canceled, calling tick each time.
func (p *VideoPresenter) Run(ctx context.Context) error {
	ticker := time.NewTicker(RefreshRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.tick(); err != nil {
				return err
			}
		}
	}
}

// tick implements one pass of the refresh algorithm.
func (p *VideoPresenter) tick() error {
	if p.syncType() == SyncExternalClock && p.realtime() {
		min, max := p.queuedPackets()
		adjustExternalClockSpeed(p.externalClock, min, max)
	}

	if (p.paused() && !p.stepOnce) && !p.forceRefresh {
		p.advanceSubtitles()
		return nil
	}

	cur := p.videoq.PeekCurrent()
	if cur == nil {
		return nil // nothing decoded yet
	}

	if q := p.videoClock.queueSerial; q != nil && cur.Serial != q() {
		// stale relative to a flush that raced us; drop without display.
		p.videoq.Advance()
		return nil
	}

	next := p.videoq.PeekNext()
	duration := p.frameDuration(cur, next)
	delay := computeTargetDelay(duration, p.syncType() == SyncVideoMaster, cur.Pts.Seconds(), p.masterClockValue())

	now := time.Now()
	if !p.forceRefresh && !p.stepOnce && now.Before(p.frameTimer.Add(delay)) {
		return nil // not due yet
	}

	if !p.forceRefresh && !p.stepOnce && p.shouldDropLate(cur, next) {
		p.videoq.Advance()
		p.videoClock.Set(cur.Pts.Seconds(), cur.Serial)
		return nil
	}

	p.frameTimer = p.frameTimer.Add(delay)
	if delay > 0 && now.Sub(p.frameTimer) > NoSyncThreshold {
		p.frameTimer = now
	}

	if err := p.display.UploadTexture(cur); err != nil {
		return err
	}
	cur.Uploaded = true
	p.advanceSubtitles()
	if err := p.display.Present(); err != nil {
		return err
	}

	p.videoClock.Set(cur.Pts.Seconds(), cur.Serial)
	p.externalClock.SyncTo(p.videoClock)

	p.lastDuration = duration
	p.forceRefresh = false
	p.stepOnce = false
	p.videoq.Advance()
	return nil
}

// shouldDropLate is the presenter half of frame dropping: when frame
// dropping is enabled (in auto mode, only while video is not the master),
// and a next frame is already queued, and the current frame missed its
// slot by more than its own delay, skip straight to the next frame instead
// of blitting a stale one.
func (p *VideoPresenter) shouldDropLate(cur, next *VideoFrame) bool {
	if p.frameDropCfg() < 0 {
		return false
	}
	if p.frameDropCfg() == 0 && p.syncType() == SyncVideoMaster {
		return false
	}
	if next == nil {
		return false
	}
	duration := p.frameDuration(cur, next)
	delay := computeTargetDelay(duration, p.syncType() == SyncVideoMaster, cur.Pts.Seconds(), p.masterClockValue())
	return shouldLateDrop(time.Now(), p.frameTimer.Add(delay), delay)
}

// frameDuration clamps the pts delta between cur and next to a sane range,
// falling back to lastDuration when it can't be computed.
func (p *VideoPresenter) frameDuration(cur, next *VideoFrame) time.Duration {
	if next == nil {
		return p.lastDuration
	}
	delta := next.Pts - cur.Pts
	return clampDuration(delta, 10*time.Second, p.lastDuration)
}

func (p *VideoPresenter) masterClockValue() float64 {
	return masterClock(p.syncType(), p.hasVideo(), p.hasAudio(), p.audioClock, p.videoClock, p.externalClock)
}

// advanceSubtitles drops subtitle frames whose display window has elapsed
// relative to the video clock.
func (p *VideoPresenter) advanceSubtitles() {
	for {
		sub := p.subq.PeekCurrent()
		if sub == nil {
			return
		}
		videoPts := p.videoClock.Get()
		if math.IsNaN(videoPts) {
			return
		}
		end := sub.Pts + sub.EndDisplay
		if time.Duration(videoPts*float64(time.Second)) < end {
			return
		}
		p.subq.Advance()
	}
}
