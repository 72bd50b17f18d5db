package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ehrlich-b/urpc/internal/event"
	"github.com/ehrlich-b/urpc/internal/taskengine"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *taskengine.Engine {
	t.Helper()
	events := event.New(16)
	t.Cleanup(events.Close)
	return taskengine.New(events, nil)
}

func TestQueueAddRmLocalDispatchThroughEngine(t *testing.T) {
	eng := newTestEngine(t)
	table := NewTable()
	ch := table.Create(0, PeerKey{EID: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, ch.QueueAddLocal(ctx, eng, 5))
	require.Equal(t, []uint32{5}, ch.LocalQueues())

	require.NoError(t, ch.QueueRmLocal(ctx, eng, 5))
	require.Empty(t, ch.LocalQueues())
}

func TestQueueAddRmRemoteDispatchThroughEngine(t *testing.T) {
	eng := newTestEngine(t)
	table := NewTable()
	ch := table.Create(0, PeerKey{EID: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ref := RemoteQueueRef{QueueID: 9, Token: 3}
	require.NoError(t, ch.QueueAddRemote(ctx, eng, ref))
	require.Equal(t, []RemoteQueueRef{ref}, ch.RemoteQueues())

	require.NoError(t, ch.QueueRmRemote(ctx, eng, 9))
	require.Empty(t, ch.RemoteQueues())
}

func TestQueuePairUnpairDispatchThroughEngine(t *testing.T) {
	eng := newTestEngine(t)
	table := NewTable()
	ch := table.Create(0, PeerKey{EID: 1})
	other := table.Create(0, PeerKey{EID: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, ch.QueuePair(ctx, eng, other.LocalID))
	paired, ok := ch.ManagePair()
	require.True(t, ok)
	require.Equal(t, other.LocalID, paired)

	require.NoError(t, ch.QueueUnpair(ctx, eng))
	_, ok = ch.ManagePair()
	require.False(t, ok)
}
