package avplay

import (
	"math"
	"time"
)

// masterClock returns the value of whichever clock effectiveSyncType
// resolves to.
func masterClock(syncType SyncType, hasVideo, hasAudio bool, audioClock, videoClock, externalClock *Clock) float64 {
	switch effectiveSyncType(syncType, hasVideo, hasAudio) {
	case SyncVideoMaster:
		return videoClock.Get()
	case SyncAudioMaster:
		return audioClock.Get()
	default:
		return externalClock.Get()
	}
}

// effectiveSyncType resolves the configured sync mode against stream
// availability, mirroring get_master_sync_type: a video preference falls
// back to audio when there's no video stream, an audio preference falls
// back to the external clock when there's no audio stream, and external is
// always honored as configured.
func effectiveSyncType(configured SyncType, hasVideo, hasAudio bool) SyncType {
	switch configured {
	case SyncVideoMaster:
		if hasVideo {
			return SyncVideoMaster
		}
		return SyncAudioMaster
	case SyncAudioMaster:
		if hasAudio {
			return SyncAudioMaster
		}
		return SyncExternalClock
	default:
		return SyncExternalClock
	}
}

// clampDuration clamps lastDuration: if it's not finite, is non-positive,
// or exceeds maxFrameDuration, fall back to fallback.
func clampDuration(lastDuration, maxFrameDuration, fallback time.Duration) time.Duration {
	f := lastDuration.Seconds()
	if math.IsNaN(f) || lastDuration <= 0 || lastDuration > maxFrameDuration {
		return fallback
	}
	return lastDuration
}

// computeTargetDelay computes the target delay for the next video frame.
// lastDuration is the clamped pts delta between the current and next
// queued video frame; videoMaster disables the correction entirely (master
// streams schedule at their own native pace).
func computeTargetDelay(lastDuration time.Duration, videoMaster bool, videoClockVal, masterClockVal float64) time.Duration {
	if videoMaster {
		return lastDuration
	}

	diff := videoClockVal - masterClockVal
	if math.IsNaN(diff) || math.Abs(diff) >= NoSyncThreshold.Seconds() {
		return lastDuration
	}

	syncThreshold := clampSeconds(lastDuration, AVSyncThresholdMin, AVSyncThresholdMax)
	diffDur := time.Duration(diff * float64(time.Second))

	switch {
	case diffDur <= -syncThreshold:
		delay := lastDuration + diffDur
		if delay < 0 {
			delay = 0
		}
		return delay
	case diffDur >= syncThreshold && lastDuration > AVSyncFramedupThreshold:
		return lastDuration + diffDur
	case diffDur >= syncThreshold:
		return 2 * lastDuration
	default:
		return lastDuration
	}
}

func clampSeconds(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// shouldLateDrop is the presenter half of frame dropping: given the wall
// time the current frame was due (frameTimer+delay) and now, report
// whether it's already late enough that the next queued frame should be
// shown instead.
func shouldLateDrop(now, frameTimer time.Time, delay time.Duration) bool {
	return now.Sub(frameTimer) > delay
}

// adjustExternalClockSpeed nudges the external clock's speed based on how
// starved or saturated the packet queues are, only meaningful when the
// external clock is master over a realtime input.
func adjustExternalClockSpeed(clock *Clock, minQueuedPackets, maxQueuedPackets int) {
	speed := clock.Speed()
	switch {
	case minQueuedPackets <= externalClockMinFrames:
		speed = math.Max(externalClockSpeedMin, speed-externalClockSpeedStep)
	case maxQueuedPackets >= externalClockMaxFrames:
		speed = math.Min(externalClockSpeedMax, speed+externalClockSpeedStep)
	default:
		target := 1.0
		if speed != target {
			if speed > target {
				speed = math.Max(target, speed-externalClockSpeedStep)
			} else {
				speed = math.Min(target, speed+externalClockSpeedStep)
			}
		}
	}
	clock.SetSpeed(speed)
}
