// Package channel implements the channel/connection table: a channel
// multiplexes multiple queues over one logical connection to a peer,
// and Table provides O(1) lookup by channel ID plus a secondary index
// for reusing an existing TCP connection toward the same peer.
package channel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"

	"github.com/ehrlich-b/urpc/internal/logging"
	"github.com/ehrlich-b/urpc/internal/taskengine"
)

// ID identifies a channel, locally or remotely assigned.
type ID uint32

// RemoteQueueRef is a reference to a queue owned by the peer, imported
// into this channel during an attach/add-queue workflow.
type RemoteQueueRef struct {
	QueueID uint32
	Token   uint32
}

// PeerKey identifies a remote endpoint for TCP-connection reuse: same
// EID+PID+InstanceNonce means "this is the same peer process instance",
// so a new channel to it can ride an existing transport connection.
type PeerKey struct {
	EID           uint64
	PID           uint32
	InstanceNonce string
}

// NewInstanceNonce generates a process-local unique nonce used to
// disambiguate reconnects from the same peer process.
func NewInstanceNonce() string {
	return xid.New().String()
}

// Channel is one multiplexed connection carrying one or more queues.
type Channel struct {
	LocalID  ID
	RemoteID ID

	mu          sync.RWMutex
	local       map[uint32]struct{}
	remote      map[uint32]RemoteQueueRef
	managePair  *ID
	refcnt      atomic.Int32
}

func newChannel(local, remote ID) *Channel {
	return &Channel{
		LocalID:  local,
		RemoteID: remote,
		local:    make(map[uint32]struct{}),
		remote:   make(map[uint32]RemoteQueueRef),
	}
}

// QueueAddLocal registers a locally-owned queue under this channel. The
// mutation runs as a ChannelAddLocalQueue task on eng rather than
// inline, so it's ordered with respect to every other channel/queue
// management task in flight on the same engine.
func (c *Channel) QueueAddLocal(ctx context.Context, eng *taskengine.Engine, queueID uint32) error {
	task := eng.Submit(taskengine.ChannelAddLocalQueue, taskengine.InstanceKey{}, false)
	taskengine.SetTaskFunc(task, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.local[queueID] = struct{}{}
	})
	return eng.Drain(ctx)
}

// QueueRmLocal removes a locally-owned queue from this channel, via a
// ChannelRmLocalQueue task.
func (c *Channel) QueueRmLocal(ctx context.Context, eng *taskengine.Engine, queueID uint32) error {
	task := eng.Submit(taskengine.ChannelRmLocalQueue, taskengine.InstanceKey{}, false)
	taskengine.SetTaskFunc(task, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.local, queueID)
	})
	return eng.Drain(ctx)
}

// QueueAddRemote imports a peer-owned queue reference, via a
// ChannelAddRemoteQueue task.
func (c *Channel) QueueAddRemote(ctx context.Context, eng *taskengine.Engine, ref RemoteQueueRef) error {
	task := eng.Submit(taskengine.ChannelAddRemoteQueue, taskengine.InstanceKey{}, false)
	taskengine.SetTaskFunc(task, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.remote[ref.QueueID] = ref
	})
	return eng.Drain(ctx)
}

// QueueRmRemote drops a peer-owned queue reference, via a
// ChannelRmRemoteQueue task. Removing a remote reference never touches
// the corresponding local queue object — that ownership boundary is the
// invariant this table enforces.
func (c *Channel) QueueRmRemote(ctx context.Context, eng *taskengine.Engine, queueID uint32) error {
	task := eng.Submit(taskengine.ChannelRmRemoteQueue, taskengine.InstanceKey{}, false)
	taskengine.SetTaskFunc(task, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.remote, queueID)
	})
	return eng.Drain(ctx)
}

// QueuePair establishes the manage-channel/data-channel pairing between
// this channel and other, via a ChannelPairQueue task.
func (c *Channel) QueuePair(ctx context.Context, eng *taskengine.Engine, other ID) error {
	task := eng.Submit(taskengine.ChannelPairQueue, taskengine.InstanceKey{}, false)
	taskengine.SetTaskFunc(task, func() {
		id := other
		c.mu.Lock()
		defer c.mu.Unlock()
		c.managePair = &id
	})
	return eng.Drain(ctx)
}

// QueueUnpair clears this channel's manage-channel pairing, via a
// ChannelUnpairQueue task.
func (c *Channel) QueueUnpair(ctx context.Context, eng *taskengine.Engine) error {
	task := eng.Submit(taskengine.ChannelUnpairQueue, taskengine.InstanceKey{}, false)
	taskengine.SetTaskFunc(task, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.managePair = nil
	})
	return eng.Drain(ctx)
}

// ManagePair returns the paired management channel ID, if any.
func (c *Channel) ManagePair() (ID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.managePair == nil {
		return 0, false
	}
	return *c.managePair, true
}

// LocalQueues returns a snapshot of locally-owned queue IDs.
func (c *Channel) LocalQueues() []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uint32, 0, len(c.local))
	for id := range c.local {
		out = append(out, id)
	}
	return out
}

// RemoteQueues returns a snapshot of imported remote queue references.
func (c *Channel) RemoteQueues() []RemoteQueueRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]RemoteQueueRef, 0, len(c.remote))
	for _, ref := range c.remote {
		out = append(out, ref)
	}
	return out
}

// Retain/Release implement simple refcounting so RELEASE_RESOURCE
// cleanup can coalesce multiple pending releases into one.
func (c *Channel) Retain() { c.refcnt.Add(1) }
func (c *Channel) Release() int32 { return c.refcnt.Add(-1) }

// Table is the process-wide channel registry: a read-write-locked map
// for O(1) lookup by ID, plus a secondary peer-keyed index for
// connection reuse during attach.
type Table struct {
	mu       sync.RWMutex
	byID     map[ID]*Channel
	byPeer   map[PeerKey][]*Channel
	logger   *logging.Logger
	nextID   uint32
}

// NewTable creates an empty channel table.
func NewTable() *Table {
	return &Table{
		byID:   make(map[ID]*Channel),
		byPeer: make(map[PeerKey][]*Channel),
		logger: logging.Default(),
	}
}

// Create allocates a new local channel ID and registers the channel
// against peer for reuse lookups.
func (t *Table) Create(remote ID, peer PeerKey) *Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	local := ID(t.nextID)
	ch := newChannel(local, remote)
	t.byID[local] = ch
	t.byPeer[peer] = append(t.byPeer[peer], ch)
	return ch
}

// Lookup returns the channel for id, or nil if not found.
func (t *Table) Lookup(id ID) *Channel {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byID[id]
}

// LookupByPeer returns existing channels toward peer, letting a new
// attach reuse one instead of opening another transport connection.
func (t *Table) LookupByPeer(peer PeerKey) []*Channel {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*Channel(nil), t.byPeer[peer]...)
}

// Remove deletes a channel from both indices. It never touches the
// channel's locally-owned queues; those are released by their owning
// queue manager, not by the table.
func (t *Table) Remove(id ID, peer PeerKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, id)
	list := t.byPeer[peer]
	for i, ch := range list {
		if ch.LocalID == id {
			t.byPeer[peer] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(t.byPeer[peer]) == 0 {
		delete(t.byPeer, peer)
	}
}

// Len returns the number of registered channels.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// IDs returns a snapshot of every currently registered channel ID, in
// no particular order.
func (t *Table) IDs() []ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ID, 0, len(t.byID))
	for id := range t.byID {
		out = append(out, id)
	}
	return out
}
