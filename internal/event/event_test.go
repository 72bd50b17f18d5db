package event

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAsyncEventQueuePostGet(t *testing.T) {
	q := New(4)
	defer q.Close()

	q.Post(AsyncEvent{ChannelID: 1, Type: TypeTaskComplete})
	q.Post(AsyncEvent{ChannelID: 2, Type: TypeTimeout})
	require.Equal(t, 2, q.Len())

	out := make([]AsyncEvent, 4)
	n := q.Get(out)
	require.Equal(t, 2, n)
	require.Equal(t, uint32(1), out[0].ChannelID)
	require.Equal(t, uint32(2), out[1].ChannelID)
	require.Equal(t, 0, q.Len())
}

func TestAsyncEventQueueDropsOldestWhenFull(t *testing.T) {
	q := New(2)
	defer q.Close()

	q.Post(AsyncEvent{ChannelID: 1})
	q.Post(AsyncEvent{ChannelID: 2})
	q.Post(AsyncEvent{ChannelID: 3})

	out := make([]AsyncEvent, 4)
	n := q.Get(out)
	require.Equal(t, 2, n)
	require.Equal(t, uint32(2), out[0].ChannelID)
	require.Equal(t, uint32(3), out[1].ChannelID)
}

func TestTimingWheelFiresOnce(t *testing.T) {
	w := NewTimingWheel(64)
	go w.Run()
	defer w.Stop()

	var fired atomic.Bool
	w.Start(5, func(args interface{}) { fired.Store(true) }, nil, false)

	require.Eventually(t, fired.Load, time.Second, time.Millisecond)
}

func TestTimingWheelPeriodicFiresMultipleTimes(t *testing.T) {
	w := NewTimingWheel(64)
	go w.Run()
	defer w.Stop()

	var count atomic.Int32
	w.Start(2, func(args interface{}) { count.Add(1) }, nil, true)

	require.Eventually(t, func() bool { return count.Load() >= 3 }, time.Second, time.Millisecond)
}

func TestTimerStopPreventsFiring(t *testing.T) {
	w := NewTimingWheel(64)
	go w.Run()
	defer w.Stop()

	var fired atomic.Bool
	timer := w.Start(20, func(args interface{}) { fired.Store(true) }, nil, false)
	timer.Stop()

	time.Sleep(50 * time.Millisecond)
	require.False(t, fired.Load())
}
