package event

import (
	"container/list"
	"sync"
	"time"
)

// TimerState enumerates a Timer's lifecycle.
type TimerState int

const (
	TimerInvalid TimerState = iota
	TimerInited
	TimerPending
	TimerRunning
	TimerFinished
)

// Timer is one scheduled callback slot.
type Timer struct {
	state    TimerState
	cb       func(args interface{})
	args     interface{}
	periodMs int64
	periodic bool

	wheel *TimingWheel
	slot  int
	elem  *list.Element
}

// Stop cancels a pending or periodic timer. Safe to call even if the
// timer already fired once (a non-periodic fired timer is a no-op).
func (t *Timer) Stop() {
	t.wheel.mu.Lock()
	defer t.wheel.mu.Unlock()
	if t.state != TimerPending || t.elem == nil {
		return
	}
	t.wheel.slots[t.slot].Remove(t.elem)
	t.elem = nil
	t.state = TimerFinished
}

// TimingWheel drives per-channel timeouts at 1ms tick granularity using
// a fixed number of slots, advancing one slot per tick on a single
// background goroutine so firing order within a tick is deterministic.
type TimingWheel struct {
	mu      sync.Mutex
	tickMs  int64
	slots   []*list.List
	cur     int
	stop    chan struct{}
	stopped bool
}

// NewTimingWheel creates a wheel with the given slot count; total
// addressable horizon is slots*1ms before wraparound.
func NewTimingWheel(slots int) *TimingWheel {
	w := &TimingWheel{
		tickMs: 1,
		slots:  make([]*list.List, slots),
		stop:   make(chan struct{}),
	}
	for i := range w.slots {
		w.slots[i] = list.New()
	}
	return w
}

// Run advances the wheel by one slot every tick until Stop is called.
func (w *TimingWheel) Run() {
	ticker := time.NewTicker(time.Duration(w.tickMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.advance()
		}
	}
}

func (w *TimingWheel) advance() {
	w.mu.Lock()
	slot := w.slots[w.cur]
	due := make([]*Timer, 0, slot.Len())
	for e := slot.Front(); e != nil; {
		next := e.Next()
		t := e.Value.(*Timer)
		due = append(due, t)
		slot.Remove(e)
		t.elem = nil
		e = next
	}
	w.cur = (w.cur + 1) % len(w.slots)
	w.mu.Unlock()

	for _, t := range due {
		w.mu.Lock()
		t.state = TimerRunning
		w.mu.Unlock()
		t.cb(t.args)
		if t.periodic {
			w.schedule(t, t.periodMs)
		} else {
			w.mu.Lock()
			t.state = TimerFinished
			w.mu.Unlock()
		}
	}
}

// Stop halts the background goroutine. Pending timers are left in place
// (not fired) and become inert.
func (w *TimingWheel) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()
	close(w.stop)
}

func (w *TimingWheel) schedule(t *Timer, ms int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	offset := int(ms / w.tickMs)
	if offset <= 0 {
		offset = 1
	}
	slot := (w.cur + offset) % len(w.slots)
	t.slot = slot
	t.state = TimerPending
	t.elem = w.slots[slot].PushBack(t)
}

// Start arms a new timer that fires cb(args) after ms milliseconds,
// repeating every ms if periodic is true.
func (w *TimingWheel) Start(ms int64, cb func(args interface{}), args interface{}, periodic bool) *Timer {
	t := &Timer{
		state:    TimerInited,
		cb:       cb,
		args:     args,
		periodMs: ms,
		periodic: periodic,
		wheel:    w,
	}
	w.schedule(t, ms)
	return t
}
