package urpc

import (
	"context"
	"testing"
	"time"

	"github.com/ehrlich-b/urpc/internal/channel"
	"github.com/ehrlich-b/urpc/internal/queue"
	"github.com/ehrlich-b/urpc/internal/wire"
	"github.com/ehrlich-b/urpc/provider/loopback"
	"github.com/stretchr/testify/require"
)

func TestEndpointAttachOverTCP(t *testing.T) {
	serverEp, err := NewEndpoint(Config{EID: 1, PID: 100, Provider: loopback.New()})
	require.NoError(t, err)
	defer serverEp.Close()

	clientEp, err := NewEndpoint(Config{EID: 2, PID: 200, Provider: loopback.New()})
	require.NoError(t, err)
	defer clientEp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go serverEp.Run(ctx)
	go clientEp.Run(ctx)

	serveErr := make(chan error, 1)
	go func() { serveErr <- serverEp.ListenAndServe(ctx, "127.0.0.1:0") }()

	var addr string
	require.Eventually(t, func() bool {
		serverEp.mu.Lock()
		defer serverEp.mu.Unlock()
		if serverEp.ln == nil {
			return false
		}
		addr = serverEp.ln.Addr().String()
		return true
	}, time.Second, 5*time.Millisecond)

	offer := []wire.QueueInfo{{QueueID: 1, Token: 7, Depth: 32, EntrySize: 4096}}
	ch, err := clientEp.Connect(ctx, addr, offer)
	require.NoError(t, err)
	require.NotNil(t, ch)

	require.Eventually(t, func() bool {
		return serverEp.Channels().Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEndpointCreateAndDetachQueue(t *testing.T) {
	ep, err := NewEndpoint(Config{EID: 1, PID: 1, Provider: loopback.New()})
	require.NoError(t, err)
	defer ep.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go ep.Run(ctx)

	ch := ep.Channels().Create(0, channel.PeerKey{EID: 1, PID: 1})
	require.NoError(t, ch.QueueAddLocal(ctx, ep.engine, 5))

	_, err = ep.CreateQueue(ctx, uint32(ch.LocalID), queue.Config{QueueID: 5, Depth: 8})
	require.NoError(t, err)
	require.NotNil(t, ep.Queue(5))

	require.NoError(t, ep.Detach(ctx, ch.LocalID))
	require.Nil(t, ep.Queue(5))
}

func TestEndpointSnapshotStartsWithZeroTasksRun(t *testing.T) {
	ep, err := NewEndpoint(Config{EID: 1, PID: 1, Provider: loopback.New()})
	require.NoError(t, err)
	defer ep.Close()

	snap := ep.Snapshot()
	require.Equal(t, uint64(0), snap.TasksRun)
}
