package avplay

import (
	"math"
	"sync"
	"time"
)

// SyncType selects which [Clock] acts as master for A/V synchronization.
type SyncType uint8

const (
	SyncAudioMaster SyncType = iota
	SyncVideoMaster
	SyncExternalClock
)

// Sync and frame-drop tunables.
const (
	// NoSyncThreshold: diffs at or above this magnitude are treated as a
	// stream discontinuity rather than drift, and correction is disabled.
	NoSyncThreshold = 10 * time.Second

	// AVSyncThresholdMin/Max bound the sync_threshold clamp used by
	// computeTargetDelay.
	AVSyncThresholdMin = 40 * time.Millisecond
	AVSyncThresholdMax = 100 * time.Millisecond

	// AVSyncFramedupThreshold gates the "wait" vs "double up" branch of
	// computeTargetDelay.
	AVSyncFramedupThreshold = 100 * time.Millisecond

	// RefreshRate is the nominal video presenter tick period.
	RefreshRate = 10 * time.Millisecond

	// externalClockSpeedStep/Min/Max bound the external clock's realtime
	// speed nudging.
	externalClockSpeedStep = 0.001
	externalClockSpeedMin  = 0.900
	externalClockSpeedMax  = 1.010

	// externalClockMinFrames/MaxFrames are the queued-packet thresholds
	// that trigger the speed nudge.
	externalClockMinFrames = 2
	externalClockMaxFrames = 10
)

// Clock models one of the three synchronization clocks: audio (advanced by
// the audio callback), video (advanced when a frame is shown) or external
// (advanced by wall time). Reading a clock whose stored serial doesn't
// match its referenced queue's current serial yields NaN ("undefined").
type Clock struct {
	mu sync.Mutex

	pts         float64 // seconds
	ptsDrift    float64 // pts - wallTimeAtSet, seconds
	lastUpdated float64 // seconds, monotonic
	speed       float64
	paused      bool
	serial      int

	// queueSerial returns the current serial of the packet queue this
	// clock is bound to. A nil queueSerial means the clock is always
	// considered current (used for the external clock, which has no
	// associated queue).
	queueSerial func() int
}

// NewClock creates a clock bound to queueSerial (may be nil), initially
// undefined (NaN) and running at normal speed.
func NewClock(queueSerial func() int) *Clock {
	c := &Clock{speed: 1.0, serial: -1, queueSerial: queueSerial}
	c.pts = math.NaN()
	c.ptsDrift = math.NaN()
	return c
}

var clockEpoch = time.Now()

func monotonicSeconds() float64 {
	return time.Since(clockEpoch).Seconds()
}

// currentQueueSerial returns the bound queue's serial, or the clock's own
// last-set serial when unbound (external clock).
func (c *Clock) currentQueueSerial() int {
	if c.queueSerial == nil {
		return c.serial
	}
	return c.queueSerial()
}

// Get returns the clock's current value in seconds. If the clock's stored
// serial has gone stale relative to its bound queue, or the clock was never
// set, it returns NaN.
func (c *Clock) Get() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noLockGet()
}

func (c *Clock) noLockGet() float64 {
	if c.currentQueueSerial() != c.serial {
		return math.NaN()
	}
	if c.paused {
		return c.pts
	}
	now := monotonicSeconds()
	return c.ptsDrift + now - (now-c.lastUpdated)*(1-c.speed)
}

// setAtLocked is the lock-held body of SetAt, factored out so callers that
// already hold c.mu (SetSpeed re-baselining) don't re-enter sync.Mutex.Lock.
func (c *Clock) setAtLocked(pts float64, serial int, at float64) {
	c.pts = pts
	c.lastUpdated = at
	c.ptsDrift = pts - at
	c.serial = serial
}

// SetAt sets the clock to pts (seconds) observed at wall-clock time `at`
// (seconds), stamped with serial. pts_drift is recomputed as pts - at, and
// subsequent Get() calls integrate from lastUpdated at the clock's current
// speed, letting speed changes apply without a discontinuity.
func (c *Clock) SetAt(pts float64, serial int, at float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setAtLocked(pts, serial, at)
}

// Set sets the clock to pts (seconds), stamped with serial, using the
// current wall-clock time.
func (c *Clock) Set(pts float64, serial int) {
	c.SetAt(pts, serial, monotonicSeconds())
}

// SetSpeed changes the clock's integration speed without introducing a
// discontinuity: the current value is captured and becomes the new
// ptsDrift baseline before the speed itself changes.
func (c *Clock) SetSpeed(speed float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.noLockGet()
	c.setAtLocked(current, c.serial, monotonicSeconds()) // re-baseline before changing speed
	c.speed = speed
}

// Speed returns the clock's current integration speed.
func (c *Clock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// SetPaused freezes (true) or resumes (false) the clock at its current
// value.
func (c *Clock) SetPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if paused == c.paused {
		return
	}
	if paused {
		c.pts = c.noLockGet()
	} else {
		c.setAtLocked(c.pts, c.serial, monotonicSeconds())
	}
	c.paused = paused
}

// Serial returns the serial the clock was last Set with.
func (c *Clock) Serial() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serial
}

// SyncTo re-baselines c to match slave's value if they have drifted by more
// than NoSyncThreshold, per the audio/video clock update steps of spec
// §4.5. A no-op if either clock is currently undefined.
func (c *Clock) SyncTo(slave *Clock) {
	cVal, sVal := c.Get(), slave.Get()
	if !math.IsNaN(sVal) && (math.IsNaN(cVal) || math.Abs(cVal-sVal) > NoSyncThreshold.Seconds()) {
		c.Set(sVal, slave.Serial())
	}
}
