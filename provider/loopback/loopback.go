// Package loopback implements provider.Provider purely in-process, using
// channels in place of a real completion ring. It stands in for
// NewStubRunner-style simulation: tests exercise the queue/flow-control/
// task-engine logic without depending on a real fabric.
package loopback

import (
	"sync"

	"github.com/ehrlich-b/urpc/internal/membuf"
	"github.com/ehrlich-b/urpc/provider"
)

// Provider is an in-process provider.Provider backed by a shared segment
// registry.
type Provider struct {
	registry *membuf.SegmentRegistry
}

// New creates a loopback provider.
func New() *Provider {
	return &Provider{registry: membuf.NewSegmentRegistry()}
}

func (p *Provider) CreateJetty(cfg provider.JettyConfig) (provider.Jetty, error) {
	return &Jetty{
		registry:    p.registry,
		completions: make(chan provider.Completion, cfg.Depth*4+16),
		peer:        nil,
	}, nil
}

func (p *Provider) RegisterSegment(buf []byte) (provider.Segment, error) {
	return provider.Segment(p.registry.Register(buf)), nil
}

func (p *Provider) DeregisterSegment(seg provider.Segment) error {
	return p.registry.Deregister(membuf.MemHandle(seg))
}

// jetty is a loopback jetty. Two jetties can be wired together with
// Connect to form a local send/recv pair (e.g. a client and server
// channel talking to each other in one process for tests).
type Jetty struct {
	mu          sync.Mutex
	registry    *membuf.SegmentRegistry
	completions chan provider.Completion
	peer        *Jetty
}

// Connect wires a and b so sends posted on one complete as receives on
// the other, the in-process analog of two endpoints on the same fabric.
func Connect(a, b *Jetty) {
	a.peer = b
	b.peer = a
}

// AsJetty exposes the concrete type for Connect without leaking it
// through the provider.Jetty interface returned by CreateJetty.
func AsJetty(j provider.Jetty) *Jetty {
	return j.(*Jetty)
}

func (j *Jetty) deliver(wr provider.WorkRequest) {
	j.mu.Lock()
	defer j.mu.Unlock()
	select {
	case j.completions <- provider.Completion{ID: wr.ID, N: len(wr.Payload), Imm: wr.Imm, Payload: wr.Payload}:
	default:
		// Completion queue full: drop as a simulated overflow; real
		// fabrics would report this as a CQ-full error to the sender
		// instead, but the loopback provider favors simplicity here.
	}
}

func (j *Jetty) PostSend(wr provider.WorkRequest) error {
	if j.peer != nil {
		j.peer.deliver(wr)
	}
	j.completions <- provider.Completion{ID: wr.ID, N: len(wr.Payload)}
	return nil
}

func (j *Jetty) PostSendImm(wr provider.WorkRequest) error {
	return j.PostSend(wr)
}

func (j *Jetty) PostWrite(wr provider.WorkRequest) error {
	if _, err := j.registry.WriteAt(membuf.MemHandle(wr.RemoteHandle), wr.Payload, int(wr.RemoteOffset)); err != nil {
		return err
	}
	j.completions <- provider.Completion{ID: wr.ID, N: len(wr.Payload)}
	return nil
}

func (j *Jetty) PostWriteImm(wr provider.WorkRequest) error {
	if err := j.PostWrite(wr); err != nil {
		return err
	}
	if j.peer != nil {
		j.peer.completions <- provider.Completion{ID: wr.ID, Imm: wr.Imm}
	}
	return nil
}

func (j *Jetty) PostRead(wr provider.WorkRequest) error {
	n, err := j.registry.ReadAt(membuf.MemHandle(wr.RemoteHandle), wr.Payload, int(wr.RemoteOffset))
	if err != nil {
		return err
	}
	j.completions <- provider.Completion{ID: wr.ID, N: n}
	return nil
}

func (j *Jetty) PostRecv(wr provider.WorkRequest) error {
	// A posted receive doesn't itself complete anything; it becomes
	// available to deliver() on the peer side. The loopback provider
	// treats PostRecv as an immediate no-op completion so the calling
	// queue's slot bookkeeping (which expects every post to eventually
	// complete) doesn't stall waiting for a real peer in unit tests
	// that never exercise the peer side.
	j.completions <- provider.Completion{ID: wr.ID}
	return nil
}

func (j *Jetty) PollCompletions(dir provider.Direction, max int) ([]provider.Completion, error) {
	out := make([]provider.Completion, 0, max)
	for i := 0; i < max; i++ {
		select {
		case c := <-j.completions:
			out = append(out, c)
		default:
			return out, nil
		}
	}
	return out, nil
}

func (j *Jetty) Close() error {
	close(j.completions)
	return nil
}
