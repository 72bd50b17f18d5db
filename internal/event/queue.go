// Package event implements the async event queue and timing wheel that
// the task engine and channel table use to signal completions, errors,
// and timeouts without blocking their callers.
package event

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Type enumerates the kinds of asynchronous events a consumer can see.
type Type int

const (
	TypeTaskComplete Type = iota
	TypeTaskError
	TypeChannelDown
	TypeQueueError
	TypeTimeout
)

// AsyncEvent is one posted event. Ctx carries an opaque payload set by
// the producer (e.g. a *taskengine.Task or error detail) interpreted by
// whoever drains the queue.
type AsyncEvent struct {
	ChannelID uint32
	Type      Type
	ErrCode   int32
	LQH       uint64
	RQH       uint64
	Ctx       interface{}
}

// AsyncEventQueue is a mutex-guarded ring of pending events, paired with
// an eventfd (Linux) so a poller can multiplex it alongside socket and
// io_uring completion fds in one epoll/select loop.
type AsyncEventQueue struct {
	mu    sync.Mutex
	ring  []AsyncEvent
	head  int
	count int

	efd int
}

// New creates a queue with the given ring capacity. If eventfd creation
// fails (non-Linux, or sandboxed), efd is left at -1 and Fd reports that;
// callers fall back to polling Get directly.
func New(capacity int) *AsyncEventQueue {
	q := &AsyncEventQueue{
		ring: make([]AsyncEvent, capacity),
		efd:  -1,
	}
	if fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err == nil {
		q.efd = fd
	}
	return q
}

// Fd returns the eventfd descriptor for epoll/select registration, or -1
// if none is available.
func (q *AsyncEventQueue) Fd() int { return q.efd }

// Post appends ev, dropping the oldest entry if the ring is full — a
// full event queue means the consumer is behind, and newest state (most
// recent timeout/error) matters more than stale entries.
func (q *AsyncEventQueue) Post(ev AsyncEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.ring)
	if q.count == n {
		q.head = (q.head + 1) % n
	} else {
		q.count++
	}
	idx := (q.head + q.count - 1) % n
	q.ring[idx] = ev
	if q.efd >= 0 {
		var buf [8]byte
		buf[0] = 1
		unix.Write(q.efd, buf[:])
	}
}

// Get drains up to len(events) pending entries into events, returning
// how many were copied.
func (q *AsyncEventQueue) Get(events []AsyncEvent) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for n < len(events) && q.count > 0 {
		events[n] = q.ring[q.head]
		q.head = (q.head + 1) % len(q.ring)
		q.count--
		n++
	}
	if q.count == 0 && q.efd >= 0 {
		var buf [8]byte
		unix.Read(q.efd, buf[:])
	}
	return n
}

// Len reports the number of currently pending events.
func (q *AsyncEventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Close releases the eventfd, if one was allocated.
func (q *AsyncEventQueue) Close() error {
	if q.efd >= 0 {
		return unix.Close(q.efd)
	}
	return nil
}
