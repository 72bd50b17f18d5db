// Package cdc implements the connection-data-control state machine: the
// per-connection lifecycle (active close, passive close, abort, urgent
// data) layered on top of a queue's cursors and credit pool, modeled as
// a library that wraps queue.Queue + wire.CDCMessage rather than a
// kernel socket.
package cdc

import "fmt"

// ConnState enumerates the connection lifecycle states.
type ConnState int

const (
	StateInit ConnState = iota
	StateActive
	StateAppCloseWait1
	StateAppCloseWait2
	StatePeerCloseWait1
	StatePeerCloseWait2
	StateAppFinCloseWait
	StatePeerFinCloseWait
	StateProcessAbort
	StatePeerAbortWait
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateActive:
		return "active"
	case StateAppCloseWait1:
		return "app_close_wait1"
	case StateAppCloseWait2:
		return "app_close_wait2"
	case StatePeerCloseWait1:
		return "peer_close_wait1"
	case StatePeerCloseWait2:
		return "peer_close_wait2"
	case StateAppFinCloseWait:
		return "app_fin_close_wait"
	case StatePeerFinCloseWait:
		return "peer_fin_close_wait"
	case StateProcessAbort:
		return "process_abort"
	case StatePeerAbortWait:
		return "peer_abort_wait"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event enumerates the transitions a Connection can undergo.
type Event int

const (
	EventOpen Event = iota
	EventAppClose     // local app called Close
	EventPeerClosed   // peer signaled it's done writing
	EventAppFin       // local side finished draining TX after AppClose
	EventPeerFin      // peer signaled its own drain completed
	EventAbort        // local or peer abort
	EventPeerAbortAck // peer acknowledged our abort
)

var transitions = map[ConnState]map[Event]ConnState{
	StateInit: {
		EventOpen:  StateActive,
		EventAbort: StateProcessAbort,
	},
	StateActive: {
		EventAppClose:   StateAppCloseWait1,
		EventPeerClosed: StatePeerCloseWait1,
		EventAbort:      StateProcessAbort,
	},
	StateAppCloseWait1: {
		EventPeerClosed: StateAppCloseWait2,
		EventAppFin:     StateAppFinCloseWait,
		EventAbort:      StateProcessAbort,
	},
	StateAppCloseWait2: {
		EventAppFin: StateClosed,
		EventAbort:  StateProcessAbort,
	},
	StatePeerCloseWait1: {
		EventAppClose: StatePeerCloseWait2,
		EventPeerFin:  StatePeerFinCloseWait,
		EventAbort:    StateProcessAbort,
	},
	StatePeerCloseWait2: {
		EventPeerFin: StateClosed,
		EventAbort:   StateProcessAbort,
	},
	StateAppFinCloseWait: {
		EventPeerFin: StateClosed,
		EventAbort:   StateProcessAbort,
	},
	StatePeerFinCloseWait: {
		EventAppFin: StateClosed,
		EventAbort:  StateProcessAbort,
	},
	StateProcessAbort: {
		EventAbort: StatePeerAbortWait,
	},
	StatePeerAbortWait: {
		EventPeerAbortAck: StateClosed,
	},
	StateClosed: {},
}

// transition applies event to from, returning the resulting state or an
// error if the event isn't valid from that state.
func transition(from ConnState, event Event) (ConnState, error) {
	next, ok := transitions[from][event]
	if !ok {
		return from, fmt.Errorf("cdc: event %d invalid in state %s", event, from)
	}
	return next, nil
}
