package avplay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func videoSerial(f *VideoFrame) int { return f.Serial }

func pushVideoFrame(t *testing.T, fq *FrameQueue[VideoFrame], f VideoFrame) {
	t.Helper()
	slot, ok := fq.PeekWritable()
	require.True(t, ok)
	*slot = f
	fq.Push()
}

func TestFrameQueueKeepLastFirstAdvanceKeepsFramePeekable(t *testing.T) {
	fq := NewFrameQueue(3, true, videoSerial)
	pushVideoFrame(t, fq, VideoFrame{Serial: 1, Pts: 0})
	pushVideoFrame(t, fq, VideoFrame{Serial: 1, Pts: time.Second})

	cur := fq.PeekCurrent()
	require.NotNil(t, cur)
	require.Equal(t, time.Duration(0), cur.Pts)

	fq.Advance()

	require.Equal(t, time.Duration(0), fq.PeekLast().Pts, "keep_last retains the just-shown frame")
	next := fq.PeekCurrent()
	require.NotNil(t, next)
	require.Equal(t, time.Second, next.Pts, "current advances to the frame that was 'next' before")
}

func TestFrameQueueNonKeepLastAdvanceFreesSlot(t *testing.T) {
	fq := NewFrameQueue(2, false, func(f *SubtitleFrame) int { return f.Serial })
	slot, ok := fq.PeekWritable()
	require.True(t, ok)
	slot.Pts = time.Second
	fq.Push()

	require.Equal(t, 1, fq.Remaining())
	fq.Advance()
	require.Equal(t, 0, fq.Remaining())
}

func TestFrameQueuePeekWritableBlocksUntilRoom(t *testing.T) {
	fq := NewFrameQueue(1, false, videoSerial)
	slot, ok := fq.PeekWritable()
	require.True(t, ok)
	*slot = VideoFrame{Pts: time.Second}
	fq.Push()

	var wg sync.WaitGroup
	wg.Add(1)
	gotSlot := make(chan *VideoFrame, 1)
	go func() {
		defer wg.Done()
		s, ok := fq.PeekWritable()
		if ok {
			gotSlot <- s
		} else {
			gotSlot <- nil
		}
	}()

	select {
	case <-gotSlot:
		t.Fatal("PeekWritable should block while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	fq.Advance() // frees the one slot
	select {
	case s := <-gotSlot:
		require.NotNil(t, s)
	case <-time.After(time.Second):
		t.Fatal("PeekWritable never unblocked after Advance")
	}
	wg.Wait()
}

func TestFrameQueueSignalAbortUnblocksReaders(t *testing.T) {
	fq := NewFrameQueue(2, false, videoSerial)
	done := make(chan bool, 1)
	go func() {
		_, ok := fq.PeekReadable()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	fq.SignalAbort()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("PeekReadable never unblocked after SignalAbort")
	}
}

func TestFrameQueueReopenClearsAbortAndFrames(t *testing.T) {
	fq := NewFrameQueue(2, false, videoSerial)
	pushVideoFrame(t, fq, VideoFrame{Pts: time.Second})
	fq.SignalAbort()

	_, ok := fq.PeekWritable()
	require.False(t, ok)

	fq.Reopen()
	require.Equal(t, 0, fq.Remaining())
	_, ok = fq.PeekWritable()
	require.True(t, ok)
}

func TestFrameQueueSerialOfCurrent(t *testing.T) {
	fq := NewFrameQueue(3, false, videoSerial)
	require.Equal(t, -1, fq.SerialOfCurrent(), "undefined when empty")

	pushVideoFrame(t, fq, VideoFrame{Serial: 5})
	require.Equal(t, 5, fq.SerialOfCurrent())
}

func TestFrameQueuePeekNextNilWhenOnlyOneQueued(t *testing.T) {
	fq := NewFrameQueue(3, true, videoSerial)
	pushVideoFrame(t, fq, VideoFrame{Pts: time.Second})
	require.Nil(t, fq.PeekNext())
}
