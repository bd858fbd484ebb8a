package avplay

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockUndefinedBeforeSet(t *testing.T) {
	c := NewClock(nil)
	require.True(t, math.IsNaN(c.Get()))
}

func TestClockSetAtThenGet(t *testing.T) {
	c := NewClock(nil)
	c.SetAt(10, 0, monotonicSeconds())
	require.InDelta(t, 10.0, c.Get(), 0.05)
}

func TestClockGoesStaleOnSerialMismatch(t *testing.T) {
	serial := 0
	c := NewClock(func() int { return serial })
	c.Set(5, 0)
	require.False(t, math.IsNaN(c.Get()))

	serial = 1 // the bound queue flushed; the clock's stamped serial is now stale
	require.True(t, math.IsNaN(c.Get()))
}

func TestClockSetSpeedRebaselinesWithoutJump(t *testing.T) {
	c := NewClock(nil)
	c.Set(1.0, 0)
	before := c.Get()
	c.SetSpeed(2.0)
	after := c.Get()
	require.InDelta(t, before, after, 0.05, "speed change should not introduce a visible jump")
	require.Equal(t, 2.0, c.Speed())
}

func TestClockSetPausedFreezesValue(t *testing.T) {
	c := NewClock(nil)
	c.Set(3.0, 0)
	c.SetPaused(true)
	v1 := c.Get()
	time.Sleep(20 * time.Millisecond)
	v2 := c.Get()
	require.Equal(t, v1, v2, "a paused clock must not advance")

	c.SetPaused(false)
	time.Sleep(5 * time.Millisecond)
	require.Greater(t, c.Get(), v2, "unpausing resumes integration")
}

func TestClockSyncToWithinThresholdNoOp(t *testing.T) {
	c := NewClock(nil)
	slave := NewClock(nil)
	c.Set(10.0, 1)
	slave.Set(10.05, 1)

	c.SyncTo(slave)
	require.InDelta(t, 10.0, c.Get(), 0.05)
}

func TestClockSyncToBeyondThresholdRebaselines(t *testing.T) {
	c := NewClock(nil)
	slave := NewClock(nil)
	c.Set(1.0, 1)
	slave.Set(50.0, 2) // drift far beyond NoSyncThreshold

	c.SyncTo(slave)
	require.InDelta(t, 50.0, c.Get(), 0.05)
	require.Equal(t, 2, c.Serial())
}

func TestClockSyncToNoOpWhenSlaveUndefined(t *testing.T) {
	c := NewClock(nil)
	slave := NewClock(nil)
	c.Set(10.0, 1)

	c.SyncTo(slave) // slave never Set, still NaN
	require.Equal(t, 10.0, c.Get())
}
