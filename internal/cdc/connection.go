package cdc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/urpc/internal/cursor"
	"github.com/ehrlich-b/urpc/internal/logging"
	"github.com/ehrlich-b/urpc/internal/wire"
)

// URGState tracks whether urgent-data tracking is currently meaningful.
type URGState int

const (
	URGInvalid URGState = iota
	URGValid
)

// txCursors tracks the three-phase TX pipeline: bytes prepared for send,
// bytes actually sent, and bytes the peer has confirmed via FIN.
type txCursors struct {
	Prep, Sent, Fin cursor.Atomic
}

// rxCursors tracks the three-phase RX pipeline mirroring txCursors.
type rxCursors struct {
	Prod, Cons, Confirmed cursor.Atomic
}

// Connection is one CDC-managed connection: cursor pairs, flow-control
// space accounting, and the close/abort state machine. It is built on
// top of a queue.Queue and wire.CDCMessage exchange rather than a kernel
// socket, since this is a userspace rewrite of the connection-tracking
// logic throughout.
type Connection struct {
	mu sync.Mutex

	state   ConnState
	logger  *logging.Logger

	TX txCursors
	RX rxCursors

	URGCursor cursor.Cursor
	urgState  URGState
	urgInline bool

	bytesToRcv    atomic.Int64
	sndbufSpace   atomic.Int64
	peerRMBESpace atomic.Int64

	txCDCSeq atomic.Uint32

	// lastRxSeq is the last peer CDC sequence number accepted by ApplyCDC,
	// or -1 before the first message arrives.
	lastRxSeq atomic.Int32

	closeWait chan struct{}
}

// New creates a Connection in StateInit with the given RMB/send-buffer
// capacities.
func New(rmbLen, sndbufLen int64, urgInline bool) *Connection {
	c := &Connection{
		state:     StateInit,
		logger:    logging.Default(),
		urgInline: urgInline,
		closeWait: make(chan struct{}),
	}
	c.bytesToRcv.Store(0)
	c.sndbufSpace.Store(sndbufLen)
	c.peerRMBESpace.Store(rmbLen)
	c.lastRxSeq.Store(-1)
	return c
}

func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) applyEvent(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := transition(c.state, ev)
	if err != nil {
		return err
	}
	c.state = next
	if next == StateClosed {
		select {
		case <-c.closeWait:
		default:
			close(c.closeWait)
		}
	}
	return nil
}

// Open transitions a freshly created connection into StateActive.
func (c *Connection) Open() error { return c.applyEvent(EventOpen) }

// OnRxBytes accounts for n bytes arriving, enforcing the invariant
// 0 <= BytesToRcv <= local receive-buffer length. The add/check/store is
// bracketed the way the cursor fields it mirrors are: bump first, verify
// the invariant still holds, then let concurrent readers observe it.
func (c *Connection) OnRxBytes(n int64, rmbLen int64) error {
	v := c.bytesToRcv.Add(n)
	if v < 0 || v > rmbLen {
		c.bytesToRcv.Add(-n)
		return fmt.Errorf("cdc: bytes_to_rcv invariant violated: %d not in [0,%d]", v, rmbLen)
	}
	return nil
}

// OnRxConsumed accounts for the application consuming n bytes, freeing
// that much receive space.
func (c *Connection) OnRxConsumed(n int64) {
	c.bytesToRcv.Add(-n)
}

// CloseActive starts an application-initiated close.
func (c *Connection) CloseActive() error { return c.applyEvent(EventAppClose) }

// ClosePassive records that the peer signaled it's done writing.
func (c *Connection) ClosePassive() error { return c.applyEvent(EventPeerClosed) }

// Abort moves the connection directly to abort processing from any state
// before StateProcessAbort; abort always wins over an in-progress graceful
// close. A second Abort in StateProcessAbort moves to StatePeerAbortWait,
// and Abort is rejected in StatePeerAbortWait and StateClosed.
func (c *Connection) Abort() error { return c.applyEvent(EventAbort) }

// AbortAck completes an in-flight abort once the peer acknowledges it.
func (c *Connection) AbortAck() error { return c.applyEvent(EventPeerAbortAck) }

// AppFin/PeerFin record TX/RX drain completion after the respective
// close was initiated.
func (c *Connection) AppFin() error  { return c.applyEvent(EventAppFin) }
func (c *Connection) PeerFin() error { return c.applyEvent(EventPeerFin) }

// CloseStreamWait blocks until TX has drained (Prep caught up to Sent
// and Fin caught up to Sent, i.e. nothing outstanding) or the linger
// deadline elapses, at which point it forces an abort (StateProcessAbort).
func (c *Connection) CloseStreamWait(ctx context.Context, ringSize uint32, linger time.Duration) error {
	deadline := time.After(linger)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		prep := c.TX.Prep.Load()
		fin := c.TX.Fin.Load()
		if cursor.Diff(ringSize, fin, prep) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			c.logger.Warn("close linger expired, forcing abort")
			return c.Abort()
		case <-ticker.C:
		}
	}
}

// SetUrgent marks byte position at as carrying urgent (out-of-band)
// data.
func (c *Connection) SetUrgent(at cursor.Cursor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.URGCursor = at
	c.urgState = URGValid
}

// ConsumeUrgentInline advances RX.Cons past the urgent byte when inline
// urgent delivery is enabled, matching SO_OOBINLINE-equivalent behavior.
func (c *Connection) ConsumeUrgentInline(ringSize uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.urgState != URGValid || !c.urgInline {
		return
	}
	cons := c.RX.Cons.Load()
	if cons == c.URGCursor {
		c.RX.Cons.Store(cursor.Add(ringSize, cons, 1))
	}
	c.urgState = URGInvalid
}

// Wait blocks until the connection reaches StateClosed.
func (c *Connection) Wait(ctx context.Context) error {
	select {
	case <-c.closeWait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextSeqno returns the next CDC message sequence number to stamp,
// monotonically increasing so the peer's staleness guard (SeqnoNewer)
// can reject replayed or reordered messages.
func (c *Connection) NextSeqno() uint16 {
	return uint16(c.txCDCSeq.Add(1))
}

// ApplyCDC applies an inbound CDC message's cursor update, first
// checking it against SeqnoNewer: a message that isn't strictly newer
// than the last one applied is dropped rather than clobbering state,
// guarding against a stale or reordered message surviving a reconnect.
// It reports whether the message was applied.
func (c *Connection) ApplyCDC(msg *wire.CDCMessage) bool {
	last := c.lastRxSeq.Load()
	if last >= 0 && !wire.SeqnoNewer(uint16(last), msg.Seqno) {
		return false
	}
	c.lastRxSeq.Store(int32(msg.Seqno))

	// msg.Cons is the peer's view of what it has consumed of our sends;
	// msg.Prod is the peer's view of what it has produced for us to
	// consume next.
	c.TX.Fin.Store(msg.Cons)
	c.RX.Prod.Store(msg.Prod)
	return true
}
