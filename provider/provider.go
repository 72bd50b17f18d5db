// Package provider defines the abstract verbs-provider contract the
// queue/jetty layer consumes: creating jetties, posting work requests,
// polling completions, and registering memory for remote access. Two
// implementations are provided: provider/giouring (a ring-based stand-in
// fabric useful for local development) and provider/loopback (a pure
// in-process implementation for unit tests).
package provider

import "fmt"

// Direction selects which completion queue(s) to poll.
type Direction int

const (
	DirectionSend Direction = iota
	DirectionRecv
	DirectionBoth
)

// WorkRequest describes one post: an opaque ID the caller uses to
// correlate the eventual completion, a payload, and (for WRITE/WRITE_IMM)
// a remote target.
type WorkRequest struct {
	ID            uint64
	Payload       []byte
	RemoteHandle  uint64
	RemoteOffset  uint64
	Imm           uint32
}

// Completion reports the outcome of one previously posted work request.
// Payload carries the bytes delivered to the receiving side of a
// PostSend/PostSendImm, letting a queue decode small control messages
// (e.g. a CDC message) straight off the completion without a separate
// registered-segment read.
type Completion struct {
	ID      uint64
	N       int
	Imm     uint32
	Payload []byte
	Err     error
}

// JettyConfig parameterizes jetty creation.
type JettyConfig struct {
	Depth uint32
}

// Jetty is a send+recv/completion-queue pair: the basic unit of work
// posting and polling.
type Jetty interface {
	PostSend(wr WorkRequest) error
	PostSendImm(wr WorkRequest) error
	PostWrite(wr WorkRequest) error
	PostWriteImm(wr WorkRequest) error
	PostRead(wr WorkRequest) error
	PostRecv(wr WorkRequest) error
	PollCompletions(dir Direction, max int) ([]Completion, error)
	Close() error
}

// Segment is a handle to memory registered for remote access.
type Segment uint64

// Provider is the abstract fabric a queue is built on.
type Provider interface {
	CreateJetty(cfg JettyConfig) (Jetty, error)
	RegisterSegment(buf []byte) (Segment, error)
	DeregisterSegment(seg Segment) error
}

// ErrUnsupported is returned by an operation a given provider doesn't
// implement (e.g. PostWriteImm on a provider with no immediate-data
// support).
var ErrUnsupported = fmt.Errorf("provider: operation not supported")
