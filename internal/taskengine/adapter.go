package taskengine

import (
	"context"

	"github.com/ehrlich-b/urpc/internal/transport"
	"github.com/ehrlich-b/urpc/internal/wire"
)

// connAdapter narrows a *transport.Conn to the taskConn surface
// workflow steps use, translating transport.Message into taskMessage so
// this package doesn't need to import transport's full Conn API.
type connAdapter struct {
	conn *transport.Conn
}

// Wrap adapts a transport connection for use by a task's negotiation
// context.
func Wrap(conn *transport.Conn) taskConn {
	return &connAdapter{conn: conn}
}

func (a *connAdapter) SendAsync(ctx context.Context, msgType uint32, taskID uint32, data []byte) error {
	return a.conn.SendAsync(ctx, msgType, taskID, data)
}

func (a *connAdapter) RecvAsync(ctx context.Context) (*taskMessage, error) {
	msg, err := a.conn.RecvAsync(ctx)
	if err != nil {
		return nil, err
	}
	return &taskMessage{Type: msg.Type, TaskID: msg.TaskID, Data: msg.Data}, nil
}

// BindConn attaches a transport connection to a freshly submitted task
// so its step functions have something to send/receive on.
func BindConn(t *Task, conn *transport.Conn) {
	getNegotiateCtx(t).conn = Wrap(conn)
}

// SetOfferedQueues records the queues a ClientAttachServer task should
// advertise during the attach exchange.
func SetOfferedQueues(t *Task, queues []wire.QueueInfo) {
	getNegotiateCtx(t).queues = queues
}

// ImportedQueues returns the queues negotiated by a completed attach
// task, from either side of the handshake.
func ImportedQueues(t *Task) []wire.QueueInfo {
	return getNegotiateCtx(t).queues
}

// EncryptKey returns the negotiated encryption key, if any, for t.
func EncryptKey(t *Task) []byte {
	return getNegotiateCtx(t).encryptKey
}

// SetEncryptKey records the PSK-style encryption key a ClientAttachServer
// task should offer during negotiation.
func SetEncryptKey(t *Task, key []byte) {
	getNegotiateCtx(t).encryptKey = key
}

// SetRequestBody records the payload a makeSendStep-driven task should
// send.
func SetRequestBody(t *Task, body []byte) {
	getNegotiateCtx(t).reqBody = body
}

// RequestBody returns the payload a makeRecvAndAckStep-driven task
// received, for its attached handler closure to inspect.
func RequestBody(t *Task) []byte {
	return getNegotiateCtx(t).reqBody
}

// ResponseData returns the payload a makeRecvStep-driven task received
// as its reply.
func ResponseData(t *Task) []byte {
	return getNegotiateCtx(t).respData
}

// SetResponseBody records the payload a makeRecvAndAckStep-driven task
// should ack a received request with; typically called by the task's
// attached handler closure before it returns.
func SetResponseBody(t *Task, body []byte) {
	getNegotiateCtx(t).respData = body
}

// SetTaskFunc attaches the local-mutation closure a makeRunFuncStep or
// makeRecvAndAckStep task runs when it steps; used by callers (the
// channel table) that dispatch bookkeeping mutations
// through the engine instead of running them inline.
func SetTaskFunc(t *Task, fn func()) {
	getNegotiateCtx(t).fn = fn
}
