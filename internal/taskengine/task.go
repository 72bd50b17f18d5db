// Package taskengine implements the handshake/workflow state machine:
// attach, detach, channel and queue management all run as Tasks stepped
// by a single-threaded Engine, each step driving a transport.Conn
// through a send/receive phase.
package taskengine

import "sync/atomic"

// TaskID uniquely identifies a task for the lifetime of the engine.
type TaskID uint64

// InstanceKey identifies the remote peer instance a task is negotiating
// or operating against.
type InstanceKey struct {
	EID           uint64
	PID           uint32
	InstanceNonce string
}

// WorkflowType enumerates every task workflow the engine can step,
// transcribed from the handshake/management protocol's task table.
type WorkflowType int

const (
	ClientAttachServer WorkflowType = iota
	ClientDetachServer
	ClientRefreshServer
	ServerHandshakeClient
	ChannelAddQueue
	ChannelRmQueue
	ChannelAddLocalQueue
	ChannelAddRemoteQueue
	ChannelRmLocalQueue
	ChannelRmRemoteQueue
	ChannelPairQueue
	ChannelUnpairQueue
	HandleAttachReq
	HandleDetachReq
	HandleAdviseReq
	HandleAddQueueReq
	HandleRmQueueReq
	HandleAddLocalQueueReq
	HandleAddRemoteQueueReq
	HandleRmLocalQueueReq
	HandleRmRemoteQueueReq
	ReleaseResource
	HandlePairQueueReq
	HandleUnpairQueueReq
)

func (w WorkflowType) String() string {
	names := [...]string{
		"ClientAttachServer", "ClientDetachServer", "ClientRefreshServer",
		"ServerHandshakeClient", "ChannelAddQueue", "ChannelRmQueue",
		"ChannelAddLocalQueue", "ChannelAddRemoteQueue", "ChannelRmLocalQueue",
		"ChannelRmRemoteQueue", "ChannelPairQueue", "ChannelUnpairQueue",
		"HandleAttachReq", "HandleDetachReq", "HandleAdviseReq",
		"HandleAddQueueReq", "HandleRmQueueReq", "HandleAddLocalQueueReq",
		"HandleAddRemoteQueueReq", "HandleRmLocalQueueReq", "HandleRmRemoteQueueReq",
		"ReleaseResource", "HandlePairQueueReq", "HandleUnpairQueueReq",
	}
	if int(w) < 0 || int(w) >= len(names) {
		return "unknown"
	}
	return names[w]
}

// ListType identifies which of the engine's three lists a task sits in.
type ListType int

const (
	ListReady ListType = iota
	ListActive
	ListRunning
)

// TaskState enumerates the phase a task is currently in.
type TaskState int

const (
	StatePendingSend TaskState = iota
	StateSending
	StatePendingRecv
	StateRecving
	StateImporting
	StateStepComplete
)

// Action is what a step function tells the engine to do next.
type Action int

const (
	ActionContinue Action = iota
	ActionStop
)

// ErrForceExit is the sentinel error code for a forcibly canceled task,
// matching the protocol's reserved "force exit" error value.
const ErrForceExit = int32(-2147483648)

// Task is one in-flight workflow instance.
type Task struct {
	ID           TaskID
	Key          InstanceKey
	Workflow     WorkflowType
	OuterStep    uint32
	InnerStep    uint32
	List         ListType
	State        TaskState
	RefCnt       atomic.Int32
	IsServer     bool

	UseDelayTimeout bool
	IsRecvCompleted bool
	IsSendCancelMsg bool
	IsNotify        bool
	IsUserCanceled  bool

	Result  int
	ErrCode int32

	ctx interface{} // workflow-specific scratch state; typed via getCtx[T]
}

func (t *Task) setCtx(v interface{}) { t.ctx = v }
func (t *Task) getCtx() interface{}  { return t.ctx }
