package taskengine

import (
	"context"
	"fmt"

	"github.com/ehrlich-b/urpc/internal/wire"
)

// negotiateCtx carries scratch state across a task's steps: the bound
// connection, attach-specific negotiation fields, a generic
// request/response payload pair for the single-round-trip workflows
// (refresh, queue add/rm, the passive Handle*Req handlers), and an
// optional closure for workflows that only need to run one local
// mutation (channel/queue table bookkeeping) on the task engine.
type negotiateCtx struct {
	conn       taskConn
	encryptKey []byte
	queues     []wire.QueueInfo
	reqBody    []byte
	respData   []byte
	fn         func()
}

// taskConn is the minimal surface a workflow step needs from a
// transport connection; satisfied by connAdapter wrapping a
// *transport.Conn (whose RecvAsync returns a *transport.Message), narrowed here so
// workflow step functions stay testable without a real socket. msgType
// and taskID correspond to a wire.CtlHead's CtlOpcode and TaskID fields.
type taskConn interface {
	SendAsync(ctx context.Context, msgType uint32, taskID uint32, data []byte) error
	RecvAsync(ctx context.Context) (*taskMessage, error)
}

// taskMessage mirrors transport.Message's shape without importing the
// concrete type, so tests can supply a fake taskConn.
type taskMessage struct {
	Type   uint32
	TaskID uint32
	Data   []byte
}

func registerWorkflows(e *Engine) {
	// ClientAttachServer: SendNeg -> RecvNeg -> SendAttach -> RecvAttach -> ImportQueues -> Done
	e.register(ClientAttachServer, 0, stepClientSendNeg)
	e.register(ClientAttachServer, 1, stepClientRecvNeg)
	e.register(ClientAttachServer, 2, stepClientSendAttach)
	e.register(ClientAttachServer, 3, stepClientRecvAttach)
	e.register(ClientAttachServer, 4, stepClientImportQueues)

	// ClientDetachServer: SendDetach -> RecvDetachAck -> Done
	e.register(ClientDetachServer, 0, stepClientSendDetach)
	e.register(ClientDetachServer, 1, stepClientRecvDetachAck)

	// ServerHandshakeClient (passive side of ClientAttachServer):
	// RecvNeg -> SendNegAck -> RecvAttach -> SendAttachAck -> Done
	e.register(ServerHandshakeClient, 0, stepServerRecvNeg)
	e.register(ServerHandshakeClient, 1, stepServerSendNegAck)
	e.register(ServerHandshakeClient, 2, stepServerRecvAttach)
	e.register(ServerHandshakeClient, 3, stepServerSendAttachAck)

	// ReleaseResource: a single step that always completes; its only
	// job is to exist as a task so Engine bookkeeping (refcount,
	// completion event) applies uniformly to cleanup work scheduled by
	// the channel table.
	e.register(ReleaseResource, 0, stepReleaseResource)

	// ClientRefreshServer: one-shot session-info refresh exchange.
	e.register(ClientRefreshServer, 0, makeSendStep(wire.CtlSessionUpdate))
	e.register(ClientRefreshServer, 1, makeRecvStep(wire.CtlSessionUpdate))

	// ChannelAddQueue/ChannelRmQueue: wire round trip advertising a
	// queue to the peer's channel, acked with the same opcode.
	e.register(ChannelAddQueue, 0, makeSendStep(wire.CtlQueueInfoAdd))
	e.register(ChannelAddQueue, 1, makeRecvStep(wire.CtlQueueInfoAdd))
	e.register(ChannelRmQueue, 0, makeSendStep(wire.CtlQueueInfoRm))
	e.register(ChannelRmQueue, 1, makeRecvStep(wire.CtlQueueInfoRm))

	// ChannelAddLocalQueue/ChannelAddRemoteQueue/ChannelRmLocalQueue/
	// ChannelRmRemoteQueue/ChannelPairQueue/ChannelUnpairQueue: purely
	// local channel-table mutations dispatched through the engine so
	// channel.Channel never mutates its maps outside a task step; the
	// mutation closure itself is attached by the caller via SetTaskFunc.
	e.register(ChannelAddLocalQueue, 0, makeRunFuncStep())
	e.register(ChannelAddRemoteQueue, 0, makeRunFuncStep())
	e.register(ChannelRmLocalQueue, 0, makeRunFuncStep())
	e.register(ChannelRmRemoteQueue, 0, makeRunFuncStep())
	e.register(ChannelPairQueue, 0, makeRunFuncStep())
	e.register(ChannelUnpairQueue, 0, makeRunFuncStep())

	// HandleAttachReq/HandleDetachReq/HandleAdviseReq/HandleAddQueueReq/
	// HandleRmQueueReq/HandlePairQueueReq/HandleUnpairQueueReq: the
	// passive side of a peer-initiated control request, receiving one
	// message and acking it with the same opcode once the caller's
	// handler has run (attached via SetTaskFunc, run between recv and
	// ack by makeRecvAndAckStep).
	e.register(HandleAttachReq, 0, makeRecvAndAckStep(wire.CtlQueueInfoAttach))
	e.register(HandleDetachReq, 0, makeRecvAndAckStep(wire.CtlQueueInfoDetach))
	e.register(HandleAdviseReq, 0, makeRecvAndAckStep(wire.CtlTPInfoUpdate))
	e.register(HandleAddQueueReq, 0, makeRecvAndAckStep(wire.CtlQueueInfoAdd))
	e.register(HandleRmQueueReq, 0, makeRecvAndAckStep(wire.CtlQueueInfoRm))
	e.register(HandlePairQueueReq, 0, makeRecvAndAckStep(wire.CtlQueueInfoBind))
	e.register(HandleUnpairQueueReq, 0, makeRecvAndAckStep(wire.CtlQueueInfoUnbind))

	// HandleAddLocalQueueReq/HandleAddRemoteQueueReq/HandleRmLocalQueueReq/
	// HandleRmRemoteQueueReq: server-originated local bookkeeping, the
	// same kind of local-only job as their Channel-side counterparts.
	e.register(HandleAddLocalQueueReq, 0, makeRunFuncStep())
	e.register(HandleAddRemoteQueueReq, 0, makeRunFuncStep())
	e.register(HandleRmLocalQueueReq, 0, makeRunFuncStep())
	e.register(HandleRmRemoteQueueReq, 0, makeRunFuncStep())
}

// makeSendStep returns a step that sends the task's pending request body
// (set via SetRequestBody) under opcode op and advances.
func makeSendStep(op wire.CtlOpcode) stepFunc {
	return func(ctx context.Context, e *Engine, t *Task) (Action, error) {
		nc := getNegotiateCtx(t)
		if nc.conn == nil {
			return ActionStop, fmt.Errorf("taskengine: no connection bound to task %d", t.ID)
		}
		t.State = StateSending
		if err := nc.conn.SendAsync(ctx, uint32(op), uint32(t.ID), nc.reqBody); err != nil {
			return ActionStop, err
		}
		t.State = StatePendingRecv
		return ActionContinue, nil
	}
}

// makeRecvStep returns a step that receives a reply matching opcode op,
// stores its payload as the task's response data, and completes the
// task.
func makeRecvStep(op wire.CtlOpcode) stepFunc {
	return func(ctx context.Context, e *Engine, t *Task) (Action, error) {
		nc := getNegotiateCtx(t)
		msg, err := nc.conn.RecvAsync(ctx)
		if err != nil {
			return ActionStop, err
		}
		if msg.Type != uint32(op) {
			return ActionStop, fmt.Errorf("taskengine: expected %s, got %d", op, msg.Type)
		}
		nc.respData = msg.Data
		t.IsRecvCompleted = true
		t.State = StateStepComplete
		return ActionStop, nil
	}
}

// makeRecvAndAckStep returns a step for the passive side of a request:
// receive a message matching opcode op, run the task's attached handler
// closure (if any) against its payload, then ack with the same opcode.
func makeRecvAndAckStep(op wire.CtlOpcode) stepFunc {
	return func(ctx context.Context, e *Engine, t *Task) (Action, error) {
		nc := getNegotiateCtx(t)
		msg, err := nc.conn.RecvAsync(ctx)
		if err != nil {
			return ActionStop, err
		}
		if msg.Type != uint32(op) {
			return ActionStop, fmt.Errorf("taskengine: expected %s, got %d", op, msg.Type)
		}
		nc.reqBody = msg.Data
		if nc.fn != nil {
			nc.fn()
		}
		if err := nc.conn.SendAsync(ctx, uint32(op), uint32(t.ID), nc.respData); err != nil {
			return ActionStop, err
		}
		t.State = StateStepComplete
		return ActionStop, nil
	}
}

// makeRunFuncStep returns a step that runs the task's attached closure
// (set via SetTaskFunc) once and completes; used by workflows that are
// purely local bookkeeping with no wire round trip of their own.
func makeRunFuncStep() stepFunc {
	return func(ctx context.Context, e *Engine, t *Task) (Action, error) {
		nc := getNegotiateCtx(t)
		if nc.fn != nil {
			nc.fn()
		}
		t.State = StateStepComplete
		return ActionStop, nil
	}
}

func getNegotiateCtx(t *Task) *negotiateCtx {
	nc, ok := t.getCtx().(*negotiateCtx)
	if !ok {
		nc = &negotiateCtx{}
		t.setCtx(nc)
	}
	return nc
}

func stepClientSendNeg(ctx context.Context, e *Engine, t *Task) (Action, error) {
	nc := getNegotiateCtx(t)
	if nc.conn == nil {
		return ActionStop, fmt.Errorf("taskengine: no connection bound to task %d", t.ID)
	}
	body := wire.EncodeNegotiation(wire.Negotiation{EncryptKey: nc.encryptKey})
	t.State = StateSending
	if err := nc.conn.SendAsync(ctx, uint32(wire.CtlNegotiate), uint32(t.ID), body); err != nil {
		return ActionStop, err
	}
	t.State = StatePendingRecv
	return ActionContinue, nil
}

func stepClientRecvNeg(ctx context.Context, e *Engine, t *Task) (Action, error) {
	nc := getNegotiateCtx(t)
	msg, err := nc.conn.RecvAsync(ctx)
	if err != nil {
		return ActionStop, err
	}
	if msg.Type != uint32(wire.CtlNegotiateAck) {
		return ActionStop, fmt.Errorf("taskengine: expected negotiate-ack, got %d", msg.Type)
	}
	t.IsRecvCompleted = true
	return ActionContinue, nil
}

func stepClientSendAttach(ctx context.Context, e *Engine, t *Task) (Action, error) {
	nc := getNegotiateCtx(t)
	body := wire.EncodeQueueInfoArray(nc.queues)
	if err := nc.conn.SendAsync(ctx, uint32(wire.CtlAttach), uint32(t.ID), body); err != nil {
		return ActionStop, err
	}
	return ActionContinue, nil
}

func stepClientRecvAttach(ctx context.Context, e *Engine, t *Task) (Action, error) {
	nc := getNegotiateCtx(t)
	msg, err := nc.conn.RecvAsync(ctx)
	if err != nil {
		return ActionStop, err
	}
	if msg.Type != uint32(wire.CtlAttachAck) {
		return ActionStop, fmt.Errorf("taskengine: expected attach-ack, got %d", msg.Type)
	}
	queues, err := wire.DecodeQueueInfoArray(msg.Data)
	if err != nil {
		return ActionStop, err
	}
	nc.queues = queues
	return ActionContinue, nil
}

func stepClientImportQueues(ctx context.Context, e *Engine, t *Task) (Action, error) {
	t.State = StateImporting
	// Importing remote queue descriptors into the channel table is
	// driven by the caller via the task's result; the engine itself
	// doesn't own the channel table, it only reports completion.
	t.State = StateStepComplete
	t.Result = len(getNegotiateCtx(t).queues)
	return ActionStop, nil
}

func stepClientSendDetach(ctx context.Context, e *Engine, t *Task) (Action, error) {
	nc := getNegotiateCtx(t)
	if err := nc.conn.SendAsync(ctx, uint32(wire.CtlDetach), uint32(t.ID), nil); err != nil {
		return ActionStop, err
	}
	return ActionContinue, nil
}

func stepClientRecvDetachAck(ctx context.Context, e *Engine, t *Task) (Action, error) {
	nc := getNegotiateCtx(t)
	msg, err := nc.conn.RecvAsync(ctx)
	if err != nil {
		return ActionStop, err
	}
	if msg.Type != uint32(wire.CtlDetachAck) {
		return ActionStop, fmt.Errorf("taskengine: expected detach-ack, got %d", msg.Type)
	}
	t.State = StateStepComplete
	return ActionStop, nil
}

func stepServerRecvNeg(ctx context.Context, e *Engine, t *Task) (Action, error) {
	nc := getNegotiateCtx(t)
	msg, err := nc.conn.RecvAsync(ctx)
	if err != nil {
		return ActionStop, err
	}
	if msg.Type != uint32(wire.CtlNegotiate) {
		return ActionStop, fmt.Errorf("taskengine: expected negotiate, got %d", msg.Type)
	}
	neg, err := wire.DecodeNegotiation(msg.Data)
	if err != nil {
		return ActionStop, err
	}
	nc.encryptKey = neg.EncryptKey
	return ActionContinue, nil
}

func stepServerSendNegAck(ctx context.Context, e *Engine, t *Task) (Action, error) {
	nc := getNegotiateCtx(t)
	if err := nc.conn.SendAsync(ctx, uint32(wire.CtlNegotiateAck), uint32(t.ID), nil); err != nil {
		return ActionStop, err
	}
	return ActionContinue, nil
}

func stepServerRecvAttach(ctx context.Context, e *Engine, t *Task) (Action, error) {
	nc := getNegotiateCtx(t)
	msg, err := nc.conn.RecvAsync(ctx)
	if err != nil {
		return ActionStop, err
	}
	if msg.Type != uint32(wire.CtlAttach) {
		return ActionStop, fmt.Errorf("taskengine: expected attach, got %d", msg.Type)
	}
	queues, err := wire.DecodeQueueInfoArray(msg.Data)
	if err != nil {
		return ActionStop, err
	}
	nc.queues = queues
	return ActionContinue, nil
}

func stepServerSendAttachAck(ctx context.Context, e *Engine, t *Task) (Action, error) {
	nc := getNegotiateCtx(t)
	body := wire.EncodeQueueInfoArray(nc.queues)
	if err := nc.conn.SendAsync(ctx, uint32(wire.CtlAttachAck), uint32(t.ID), body); err != nil {
		return ActionStop, err
	}
	t.State = StateStepComplete
	return ActionStop, nil
}

func stepReleaseResource(ctx context.Context, e *Engine, t *Task) (Action, error) {
	t.State = StateStepComplete
	return ActionStop, nil
}
