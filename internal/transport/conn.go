// Package transport implements the deadline-bounded sideband connection
// used to exchange control-plane messages (negotiation, attach,
// channel/queue management) between peers before a jetty carries the
// actual data path.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/urpc/internal/logging"
	"github.com/ehrlich-b/urpc/internal/wire"
)

// State enumerates a Conn's lifecycle.
type State int32

const (
	StateUninitialized State = iota
	StateConnecting
	StateTLSConnecting
	StateConnected
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateTLSConnecting:
		return "tls_connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// CtlBufMaxLen bounds a single control message's data payload.
const CtlBufMaxLen = 256 << 20

// Phase tracks where an in-flight receive is within the two-phase
// head-then-data framing.
type Phase int

const (
	PhaseHead Phase = iota
	PhaseData
)

// ioBufRecord is the resumable state of one in-flight receive, allowing
// RecvAsync to be called repeatedly across short reads without losing
// partial progress.
type ioBufRecord struct {
	Phase  Phase
	Head   [wire.CtlHeadSize]byte
	Offset int
	Data   []byte

	MsgType uint32
	TaskID  uint32
}

func (r *ioBufRecord) reset() {
	r.Phase = PhaseHead
	r.Offset = 0
	r.Data = nil
}

// Message is one fully received control message, framed on the wire as
// a wire.CtlHead followed by its data payload.
type Message struct {
	Type   uint32
	TaskID uint32
	Data   []byte
}

// Conn is one sideband connection to a peer over a plain net.Conn.
// Writes are bounded by the ctx deadline (30s when ctx has none); reads
// are bounded only when ctx carries a deadline, and otherwise RecvAsync
// blocks until a full frame or an error arrives.
type Conn struct {
	mu    sync.Mutex
	nc    net.Conn
	state atomic.Int32

	logger *logging.Logger
	rx     ioBufRecord
	txSeq  atomic.Uint32
	reader *bufio.Reader

	closeOnce sync.Once
}

// Dial opens a Conn to addr. When tlsConfig is non-nil the connection
// negotiates TLS before becoming StateConnected.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (*Conn, error) {
	c := &Conn{logger: logging.Default()}
	c.state.Store(int32(StateConnecting))

	d := net.Dialer{}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.state.Store(int32(StateError))
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	if tlsConfig != nil {
		c.state.Store(int32(StateTLSConnecting))
		tc := tls.Client(nc, tlsConfig)
		if err := tc.HandshakeContext(ctx); err != nil {
			nc.Close()
			c.state.Store(int32(StateError))
			return nil, fmt.Errorf("transport: tls handshake %s: %w", addr, err)
		}
		nc = tc
	}

	c.nc = nc
	c.state.Store(int32(StateConnected))
	return c, nil
}

// FromConn wraps an already-accepted net.Conn as a Conn in StateConnected.
func FromConn(nc net.Conn) *Conn {
	c := &Conn{nc: nc, logger: logging.Default()}
	c.state.Store(int32(StateConnected))
	return c
}

func (c *Conn) State() State { return State(c.state.Load()) }

// SendAsync writes one framed message as a wire.CtlHead followed by
// data. It uses deadline-bounded writes rather than actually blocking,
// so a slow peer causes a timeout error instead of stalling the caller
// indefinitely. taskID correlates the message with the task-engine task
// awaiting its reply, since several workflows can share one Conn.
func (c *Conn) SendAsync(ctx context.Context, msgType uint32, taskID uint32, data []byte) error {
	if len(data) > CtlBufMaxLen {
		return fmt.Errorf("transport: payload %d exceeds max %d", len(data), CtlBufMaxLen)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.txSeq.Add(1)
	head := make([]byte, wire.CtlHeadSize)
	wire.PutCtlHead(head, &wire.CtlHead{
		Version:   wire.ProtoVersion,
		CtlOpcode: wire.CtlOpcode(msgType),
		DataSize:  uint32(len(data)),
		TaskID:    taskID,
	})

	if dl, ok := ctx.Deadline(); ok {
		c.nc.SetWriteDeadline(dl)
	} else {
		c.nc.SetWriteDeadline(time.Now().Add(30 * time.Second))
	}
	defer c.nc.SetWriteDeadline(time.Time{})

	if _, err := c.nc.Write(head); err != nil {
		return fmt.Errorf("transport: write head: %w", err)
	}
	if len(data) > 0 {
		if _, err := c.nc.Write(data); err != nil {
			return fmt.Errorf("transport: write data: %w", err)
		}
	}
	return nil
}

// RecvAsync reads one framed message, resuming mid-frame across calls
// via the Conn's embedded ioBufRecord state.
func (c *Conn) RecvAsync(ctx context.Context) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reader == nil {
		c.reader = bufio.NewReaderSize(c.nc, 64*1024)
	}
	r := c.reader
	if dl, ok := ctx.Deadline(); ok {
		c.nc.SetReadDeadline(dl)
		defer c.nc.SetReadDeadline(time.Time{})
	}

	for c.rx.Phase == PhaseHead && c.rx.Offset < wire.CtlHeadSize {
		n, err := r.Read(c.rx.Head[c.rx.Offset:])
		if err != nil {
			return nil, err
		}
		c.rx.Offset += n
	}
	if c.rx.Phase == PhaseHead {
		if c.rx.Head[1] != wire.CtlHdrOpcode {
			c.rx.reset()
			return nil, fmt.Errorf("transport: bad header marker %02x", c.rx.Head[1])
		}
		h := wire.GetCtlHead(c.rx.Head[:])
		c.rx.MsgType = uint32(h.CtlOpcode)
		c.rx.TaskID = h.TaskID
		if h.DataSize > CtlBufMaxLen {
			c.rx.reset()
			return nil, fmt.Errorf("transport: frame data_size %d exceeds max", h.DataSize)
		}
		c.rx.Data = make([]byte, h.DataSize)
		c.rx.Phase = PhaseData
		c.rx.Offset = 0
	}

	for c.rx.Offset < len(c.rx.Data) {
		n, err := io.ReadFull(r, c.rx.Data[c.rx.Offset:])
		c.rx.Offset += n
		if err != nil {
			return nil, err
		}
	}

	msg := &Message{Type: c.rx.MsgType, TaskID: c.rx.TaskID, Data: c.rx.Data}
	c.rx.reset()
	return msg, nil
}

// Close shuts the underlying connection down, idempotently.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		if c.nc != nil {
			err = c.nc.Close()
		}
	})
	return err
}
