// Package giouring adapts github.com/pawelgaczynski/giouring's io_uring
// bindings as a stand-in fabric transport: each Jetty is a connected
// socket pair (created via socketpair(2)) driven through one shared
// io_uring instance, so local development and tests can exercise the
// provider.Provider contract without a real RDMA-capable NIC. The
// submission/completion ring mechanics map directly onto a verbs queue
// pair — SQEs stand in for posted work requests, CQEs for completions.
package giouring

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/urpc/internal/logging"
	"github.com/ehrlich-b/urpc/provider"
)

// Provider is an io_uring-backed stand-in fabric. One Provider owns one
// ring; every Jetty it creates submits through that shared ring.
type Provider struct {
	mu     sync.Mutex
	ring   *giouring.Ring
	logger *logging.Logger

	nextHandle atomic.Uint64
	pending    map[uint64]*pendingOp
}

type opcode int

const (
	opSend opcode = iota
	opRecv
)

type pendingOp struct {
	jetty *Jetty
	id    uint64
	dir   provider.Direction
	imm   uint32
}

// New creates a Provider with a ring sized for entries concurrent
// operations.
func New(entries uint32) (*Provider, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("giouring: create ring: %w", err)
	}
	return &Provider{
		ring:    ring,
		logger:  logging.Default(),
		pending: make(map[uint64]*pendingOp),
	}, nil
}

// CreateJetty allocates a connected socket pair and wraps it as a Jetty
// bound to this Provider's ring.
func (p *Provider) CreateJetty(cfg provider.JettyConfig) (provider.Jetty, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("giouring: socketpair: %w", err)
	}
	return &Jetty{provider: p, fds: fds, cfg: cfg}, nil
}

// RegisterSegment registers buf with the ring's fixed-buffer table so
// SQEs can reference it by index instead of by address, matching a
// verbs memory-region registration. The returned handle is an opaque
// index into that table.
func (p *Provider) RegisterSegment(buf []byte) (provider.Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(buf) == 0 {
		return 0, fmt.Errorf("giouring: cannot register empty segment")
	}
	iov := []unix.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}
	if err := p.ring.RegisterBuffers(iov); err != nil {
		return 0, fmt.Errorf("giouring: register buffers: %w", err)
	}
	return provider.Segment(p.nextHandle.Add(1)), nil
}

// DeregisterSegment unregisters the fixed buffer. giouring only supports
// one registered buffer table at a time in this stand-in usage, so this
// clears the whole table rather than tracking per-segment indices.
func (p *Provider) DeregisterSegment(seg provider.Segment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ring.UnregisterBuffers()
}

// Jetty is one socket-pair-backed stand-in for a verbs queue pair.
type Jetty struct {
	provider *Provider
	fds      [2]int
	cfg      provider.JettyConfig
}

func (j *Jetty) submit(op opcode, dir provider.Direction, wr provider.WorkRequest) error {
	p := j.provider
	p.mu.Lock()
	defer p.mu.Unlock()

	sqe := p.ring.GetSQE()
	if sqe == nil {
		return fmt.Errorf("giouring: submission queue full")
	}

	switch op {
	case opSend:
		sqe.PrepareSend(j.fds[0], wr.Payload, 0)
	case opRecv:
		sqe.PrepareRecv(j.fds[0], wr.Payload, 0)
	default:
		return fmt.Errorf("giouring: unsupported opcode %d", op)
	}
	sqe.UserData = wr.ID
	p.pending[wr.ID] = &pendingOp{jetty: j, id: wr.ID, dir: dir, imm: wr.Imm}

	if _, err := p.ring.Submit(); err != nil {
		delete(p.pending, wr.ID)
		return fmt.Errorf("giouring: submit: %w", err)
	}
	return nil
}

func (j *Jetty) PostSend(wr provider.WorkRequest) error {
	return j.submit(opSend, provider.DirectionSend, wr)
}

func (j *Jetty) PostSendImm(wr provider.WorkRequest) error {
	return j.submit(opSend, provider.DirectionSend, wr)
}

// PostWrite has no RDMA-write analog over a plain socket pair; it's
// submitted as a plain send of the local buffer, and the work request's
// remote handle/offset are not used or encoded by anyone.
func (j *Jetty) PostWrite(wr provider.WorkRequest) error {
	return j.submit(opSend, provider.DirectionSend, wr)
}

func (j *Jetty) PostWriteImm(wr provider.WorkRequest) error {
	return j.submit(opSend, provider.DirectionSend, wr)
}

func (j *Jetty) PostRead(wr provider.WorkRequest) error {
	return j.submit(opRecv, provider.DirectionRecv, wr)
}

func (j *Jetty) PostRecv(wr provider.WorkRequest) error {
	return j.submit(opRecv, provider.DirectionRecv, wr)
}

// PollCompletions drains up to max ready CQEs belonging to this jetty.
func (j *Jetty) PollCompletions(dir provider.Direction, max int) ([]provider.Completion, error) {
	p := j.provider
	p.mu.Lock()
	defer p.mu.Unlock()

	cqes := make([]*giouring.CompletionQueueEvent, max)
	n := p.ring.PeekBatchCQE(cqes)

	out := make([]provider.Completion, 0, n)
	for i := uint32(0); i < n; i++ {
		cqe := cqes[i]
		op, ok := p.pending[cqe.UserData]
		if !ok || op.jetty != j {
			continue
		}
		if dir != provider.DirectionBoth && op.dir != dir {
			continue
		}
		delete(p.pending, cqe.UserData)
		c := provider.Completion{ID: cqe.UserData, Imm: op.imm}
		if cqe.Res < 0 {
			c.Err = fmt.Errorf("giouring: completion error %d", cqe.Res)
		} else {
			c.N = int(cqe.Res)
		}
		out = append(out, c)
	}
	p.ring.CQAdvance(n)
	return out, nil
}

// Close releases the socket pair's endpoints.
func (j *Jetty) Close() error {
	unix.Close(j.fds[0])
	return unix.Close(j.fds[1])
}
