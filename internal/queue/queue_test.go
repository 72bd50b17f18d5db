package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/urpc/internal/cdc"
	"github.com/ehrlich-b/urpc/internal/cursor"
	"github.com/ehrlich-b/urpc/internal/wire"
	"github.com/ehrlich-b/urpc/provider"
	"github.com/ehrlich-b/urpc/provider/loopback"
)

func TestNewQueuePrimesRxSlots(t *testing.T) {
	p := loopback.New()
	q, err := New(Config{
		ChannelID:   1,
		QueueID:     1,
		Mode:        TransSendRecv,
		Depth:       4,
		Provider:    p,
		CPUAffinity: -1,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx))
	defer q.Destroy()

	require.Eventually(t, func() bool {
		return q.Query().RxProd.Count == 4
	}, time.Second, time.Millisecond)
}

func TestTxPostAdvancesTxProd(t *testing.T) {
	p := loopback.New()
	q, err := New(Config{QueueID: 1, Mode: TransSendRecv, Depth: 4, Provider: p, CPUAffinity: -1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx))
	defer q.Destroy()

	require.NoError(t, q.TxPost(provider.WorkRequest{ID: 100, Payload: []byte("hi")}))
	require.Equal(t, uint32(1), q.Query().TxProd.Count)
}

func TestTxPostBackpressuresWhenWindowExhausted(t *testing.T) {
	p := loopback.New()
	q, err := New(Config{QueueID: 1, Mode: TransSendRecv, Depth: 4, Provider: p, CPUAffinity: -1, FlowControl: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx))
	defer q.Destroy()

	// Start() -> prime() posts all 4 RX slots, generating a pending
	// advertisement the peer would apply to its own view of our window;
	// here we loop it straight back to model a single-process peer that
	// has already primed its own matching depth.
	adv, ok := q.PendingAdvertisement()
	require.True(t, ok)
	require.Equal(t, uint32(4), adv.Count)
	q.ApplyRemoteAdvertisement(adv)

	for i := 0; i < 4; i++ {
		require.NoError(t, q.TxPost(provider.WorkRequest{ID: uint64(100 + i), Payload: []byte("x")}))
	}
	err = q.TxPost(provider.WorkRequest{ID: 200, Payload: []byte("x")})
	require.ErrorIs(t, err, ErrFlowControlled)
}

func TestTxPostWithoutFlowControlNeverBackpressures(t *testing.T) {
	p := loopback.New()
	q, err := New(Config{QueueID: 1, Mode: TransSendRecv, Depth: 1, Provider: p, CPUAffinity: -1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx))
	defer q.Destroy()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.TxPost(provider.WorkRequest{ID: uint64(i), Payload: []byte("x")}))
	}
}

func TestHandleCompletionAppliesCDCMessage(t *testing.T) {
	p := loopback.New()
	conn := cdc.New(4096, 4096, false)
	q, err := New(Config{QueueID: 1, Mode: TransSendRecv, Depth: 4, Provider: p, CPUAffinity: -1, CDC: conn})
	require.NoError(t, err)
	require.Same(t, conn, q.CDC())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx))
	defer q.Destroy()

	msg := &wire.CDCMessage{Seqno: 1, Prod: cursor.Cursor{Count: 7}}
	buf := make([]byte, wire.CDCMessageSize)
	wire.PutCDCMessage(buf, msg)

	q.handleCompletion(provider.Completion{ID: 0, Payload: buf})
	require.Equal(t, cursor.Cursor{Count: 7}, conn.RX.Prod.Load())
}

func TestNewRejectsZeroDepth(t *testing.T) {
	p := loopback.New()
	_, err := New(Config{Depth: 0, Provider: p})
	require.Error(t, err)
}

func TestBufPoolRoundsUpToBucket(t *testing.T) {
	buf := GetBuffer(1000)
	require.Equal(t, 1000, len(buf))
	require.Equal(t, bucket128K, cap(buf))
	PutBuffer(buf)
}

func TestDisorderPoolReserveRelease(t *testing.T) {
	p := NewDisorderPool()
	p.AddNode(7, 2)
	require.True(t, p.Reserve(7))
	require.True(t, p.Reserve(7))
	require.False(t, p.Reserve(7))
	p.Release(7)
	require.True(t, p.Reserve(7))
}

func TestDisorderPoolRecoversErrored(t *testing.T) {
	p := NewDisorderPool()
	p.AddNode(1, 1)
	p.MarkError(1)
	require.False(t, p.Reserve(1))
	p.RecoverErrored()
	require.True(t, p.Reserve(1))
}

func TestDisorderPoolFatalStaysFatal(t *testing.T) {
	p := NewDisorderPool()
	p.AddNode(1, 1)
	p.MarkFatal(1)
	p.RecoverErrored()
	require.False(t, p.Reserve(1))
}
