package taskengine

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ehrlich-b/urpc/internal/event"
	"github.com/ehrlich-b/urpc/internal/transport"
	"github.com/ehrlich-b/urpc/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestClientServerAttachHandshake(t *testing.T) {
	clientNC, serverNC := net.Pipe()
	defer clientNC.Close()
	defer serverNC.Close()

	clientConn := transport.FromConn(clientNC)
	serverConn := transport.FromConn(serverNC)

	events := event.New(16)
	defer events.Close()
	clientEng := New(events, nil)
	serverEng := New(events, nil)

	clientTask := clientEng.Submit(ClientAttachServer, InstanceKey{}, false)
	BindConn(clientTask, clientConn)
	getNegotiateCtx(clientTask).queues = []wire.QueueInfo{{QueueID: 1, Token: 9, Depth: 128, EntrySize: 4096}}

	serverTask := serverEng.Submit(ServerHandshakeClient, InstanceKey{}, true)
	BindConn(serverTask, serverConn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		serverEng.Drain(ctx)
		close(done)
	}()

	require.NoError(t, clientEng.Drain(ctx))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}

	require.Equal(t, StateStepComplete, clientTask.State)
	nc := getNegotiateCtx(clientTask)
	require.Len(t, nc.queues, 1)
	require.Equal(t, uint32(1), nc.queues[0].QueueID)
}

func TestCancelForcesExitCode(t *testing.T) {
	events := event.New(4)
	defer events.Close()
	eng := New(events, nil)
	task := eng.Submit(ReleaseResource, InstanceKey{}, false)
	require.True(t, eng.Cancel(task.ID))

	ctx := context.Background()
	action, err := eng.step(ctx, task)
	require.NoError(t, err)
	require.Equal(t, ActionStop, action)
	require.Equal(t, ErrForceExit, task.ErrCode)
}

func TestReleaseResourceCompletesImmediately(t *testing.T) {
	events := event.New(4)
	defer events.Close()
	eng := New(events, nil)
	task := eng.Submit(ReleaseResource, InstanceKey{}, false)

	ctx := context.Background()
	action, err := eng.step(ctx, task)
	require.NoError(t, err)
	require.Equal(t, ActionStop, action)
	require.Equal(t, StateStepComplete, task.State)
}

func TestWorkflowStringUnknownOutOfRange(t *testing.T) {
	require.Equal(t, "unknown", WorkflowType(999).String())
}

func TestClientRefreshServerRoundTrip(t *testing.T) {
	clientNC, serverNC := net.Pipe()
	defer clientNC.Close()
	defer serverNC.Close()

	clientConn := transport.FromConn(clientNC)
	serverConn := transport.FromConn(serverNC)

	events := event.New(16)
	defer events.Close()
	clientEng := New(events, nil)

	clientTask := clientEng.Submit(ClientRefreshServer, InstanceKey{}, false)
	BindConn(clientTask, clientConn)
	SetRequestBody(clientTask, []byte("hi"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		msg, err := serverConn.RecvAsync(ctx)
		require.NoError(t, err)
		require.Equal(t, uint32(wire.CtlSessionUpdate), msg.Type)
		serverConn.SendAsync(ctx, uint32(wire.CtlSessionUpdate), msg.TaskID, []byte("ack"))
		close(done)
	}()

	require.NoError(t, clientEng.Drain(ctx))
	<-done

	require.Equal(t, StateStepComplete, clientTask.State)
	require.Equal(t, []byte("ack"), ResponseData(clientTask))
}

func TestRunFuncStepInvokesAttachedClosure(t *testing.T) {
	events := event.New(4)
	defer events.Close()
	eng := New(events, nil)
	task := eng.Submit(ChannelAddLocalQueue, InstanceKey{}, false)

	var ran bool
	SetTaskFunc(task, func() { ran = true })

	ctx := context.Background()
	action, err := eng.step(ctx, task)
	require.NoError(t, err)
	require.Equal(t, ActionStop, action)
	require.Equal(t, StateStepComplete, task.State)
	require.True(t, ran)
}

func TestRecvAndAckStepRunsHandlerThenAcks(t *testing.T) {
	clientNC, serverNC := net.Pipe()
	defer clientNC.Close()
	defer serverNC.Close()

	serverConn := transport.FromConn(serverNC)

	events := event.New(16)
	defer events.Close()
	eng := New(events, nil)

	task := eng.Submit(HandleAddQueueReq, InstanceKey{}, true)
	BindConn(task, serverConn)

	var handled []byte
	SetTaskFunc(task, func() {
		handled = RequestBody(task)
		SetResponseBody(task, []byte("ok"))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	clientConn := transport.FromConn(clientNC)
	done := make(chan *transport.Message, 1)
	go func() {
		clientConn.SendAsync(ctx, uint32(wire.CtlQueueInfoAdd), 5, []byte("req"))
		msg, err := clientConn.RecvAsync(ctx)
		require.NoError(t, err)
		done <- msg
	}()

	require.NoError(t, eng.Drain(ctx))

	select {
	case msg := <-done:
		require.Equal(t, uint32(wire.CtlQueueInfoAdd), msg.Type)
		require.Equal(t, []byte("ok"), msg.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ack")
	}
	require.Equal(t, []byte("req"), handled)
}
