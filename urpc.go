package urpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/ehrlich-b/urpc/internal/cdc"
	"github.com/ehrlich-b/urpc/internal/channel"
	"github.com/ehrlich-b/urpc/internal/event"
	"github.com/ehrlich-b/urpc/internal/ipc"
	"github.com/ehrlich-b/urpc/internal/logging"
	"github.com/ehrlich-b/urpc/internal/queue"
	"github.com/ehrlich-b/urpc/internal/taskengine"
	"github.com/ehrlich-b/urpc/internal/transport"
	"github.com/ehrlich-b/urpc/internal/wire"
	"github.com/ehrlich-b/urpc/provider"
)

// Config describes how to construct an Endpoint: the verbs provider
// backing every queue it creates, sizing defaults, and where to send
// observations.
type Config struct {
	EID           uint64
	PID           uint32
	Provider      provider.Provider
	QueueDepth    uint32
	EntrySize     uint32
	EventBacklog  int
	TimingSlots   int
	TLSConfig     *tls.Config
	EncryptKey    []byte
	Observer      Observer
}

func (c *Config) setDefaults() {
	if c.QueueDepth == 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	if c.EntrySize == 0 {
		c.EntrySize = DefaultEntrySize
	}
	if c.EventBacklog == 0 {
		c.EventBacklog = DefaultChannelBacklog
	}
	if c.TimingSlots == 0 {
		c.TimingSlots = DefaultTimingWheelSlots
	}
	if c.Observer == nil {
		c.Observer = NoOpObserver{}
	}
}

// Endpoint is the runtime's public handle: one per process, it owns the
// channel table, the transport registry, the task engine driving every
// attach/detach/queue-management workflow, and the queues created on
// top of the configured provider.
type Endpoint struct {
	cfg Config

	instanceNonce string
	channels      *channel.Table
	registry      *transport.Registry
	engine        *taskengine.Engine
	events        *event.AsyncEventQueue
	wheel         *event.TimingWheel
	metrics       *Metrics
	logger        *logging.Logger

	mu      sync.Mutex
	queues  map[uint32]*queue.Queue
	admin   *ipc.Server
	ln      net.Listener
	running bool
}

// NewEndpoint constructs an Endpoint. The caller owns starting Run (the
// task engine's persistent loop) and, for server use, ListenAndServe.
func NewEndpoint(cfg Config) (*Endpoint, error) {
	if cfg.Provider == nil {
		return nil, NewError("NEW_ENDPOINT", ErrCodeInvalidParameters, "provider is required")
	}
	cfg.setDefaults()

	events := event.New(cfg.EventBacklog)
	wheel := event.NewTimingWheel(cfg.TimingSlots)

	ep := &Endpoint{
		cfg:           cfg,
		instanceNonce: channel.NewInstanceNonce(),
		channels:      channel.NewTable(),
		registry:      transport.NewRegistry(),
		engine:        taskengine.New(events, wheel),
		events:        events,
		wheel:         wheel,
		metrics:       NewMetrics(),
		logger:        logging.Default(),
		queues:        make(map[uint32]*queue.Queue),
	}
	return ep, nil
}

// peerKey builds this endpoint's identity as seen by a remote peer.
func (e *Endpoint) peerKey() channel.PeerKey {
	return channel.PeerKey{EID: e.cfg.EID, PID: e.cfg.PID, InstanceNonce: e.instanceNonce}
}

// Run starts the task engine's persistent event loop and the timing
// wheel's tick goroutine; it blocks until ctx is canceled.
func (e *Endpoint) Run(ctx context.Context) error {
	go e.wheel.Run()
	defer e.wheel.Stop()
	return e.engine.Run(ctx)
}

// ListenAndServe accepts sideband TCP(+TLS) connections on addr,
// registers each one as a server-side ServerEntry, and drives the
// passive attach handshake (ServerHandshakeClient) to completion for
// every incoming connection. It blocks until ctx is canceled or Accept
// fails.
func (e *Endpoint) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("urpc: listen %s: %w", addr, err)
	}
	e.mu.Lock()
	e.ln = ln
	e.running = true
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("urpc: accept: %w", err)
			}
		}
		go e.acceptConn(ctx, nc)
	}
}

func (e *Endpoint) acceptConn(ctx context.Context, nc net.Conn) {
	conn := transport.FromConn(nc)
	serverEntry := e.registry.AcceptServer(channel.PeerKey{}, nc)

	task := e.engine.Submit(taskengine.ServerHandshakeClient, taskengine.InstanceKey{}, true)
	taskengine.BindConn(task, conn)

	drainCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := e.engine.Drain(drainCtx); err != nil {
		e.logger.Warn("server handshake drain failed", "error", err)
		e.metrics.RecordTaskComplete(false)
		e.cfg.Observer.ObserveTaskComplete(false)
		return
	}
	e.metrics.RecordTaskComplete(true)
	e.cfg.Observer.ObserveTaskComplete(true)

	queues := taskengine.ImportedQueues(task)
	ch := e.channels.Create(0, serverEntry.Peer)
	serverEntry.AddChannel(ch.LocalID)
	for _, q := range queues {
		if err := ch.QueueAddRemote(ctx, e.engine, channel.RemoteQueueRef{QueueID: q.QueueID, Token: q.Token}); err != nil {
			e.logger.Warn("queue add remote failed", "error", err)
		}
	}
	e.events.Post(event.AsyncEvent{ChannelID: uint32(ch.LocalID), Type: event.TypeTaskComplete})
}

// Connect dials addr, negotiates an attach against the remote peer
// offering the given queues, and returns the resulting local channel.
func (e *Endpoint) Connect(ctx context.Context, addr string, offer []wire.QueueInfo) (*channel.Channel, error) {
	conn, err := transport.Dial(ctx, addr, e.cfg.TLSConfig)
	if err != nil {
		return nil, WrapError("CONNECT", err)
	}

	task := e.engine.Submit(taskengine.ClientAttachServer, taskengine.InstanceKey{EID: e.cfg.EID, PID: e.cfg.PID, InstanceNonce: e.instanceNonce}, false)
	taskengine.BindConn(task, conn)
	taskengine.SetOfferedQueues(task, offer)
	if len(e.cfg.EncryptKey) > 0 {
		taskengine.SetEncryptKey(task, e.cfg.EncryptKey)
	}

	if err := e.engine.Drain(ctx); err != nil {
		e.metrics.RecordTaskComplete(false)
		e.cfg.Observer.ObserveTaskComplete(false)
		return nil, WrapError("CONNECT", err)
	}
	e.metrics.RecordTaskComplete(true)
	e.cfg.Observer.ObserveTaskComplete(true)

	peer := channel.PeerKey{EID: e.cfg.EID, PID: e.cfg.PID, InstanceNonce: e.instanceNonce}
	ch := e.channels.Create(0, peer)
	for _, q := range offer {
		if err := ch.QueueAddLocal(ctx, e.engine, q.QueueID); err != nil {
			return nil, WrapError("CONNECT", err)
		}
	}
	clientEntry := e.registry.ClientFor(peer, addr, e.cfg.TLSConfig)
	clientEntry.Retain()
	return ch, nil
}

// CreateQueue creates and starts a queue (jetty) bound to channelID,
// using this Endpoint's configured provider and defaults for any zero
// field of qcfg.
func (e *Endpoint) CreateQueue(ctx context.Context, channelID uint32, qcfg queue.Config) (*queue.Queue, error) {
	if qcfg.Provider == nil {
		qcfg.Provider = e.cfg.Provider
	}
	if qcfg.Depth == 0 {
		qcfg.Depth = e.cfg.QueueDepth
	}
	qcfg.ChannelID = channelID
	if qcfg.CDC == nil {
		rmbLen := int64(qcfg.Depth) * int64(e.cfg.EntrySize)
		conn := cdc.New(rmbLen, rmbLen, false)
		if err := conn.Open(); err != nil {
			return nil, WrapError("CREATE_QUEUE", err)
		}
		qcfg.CDC = conn
	}
	q, err := queue.New(qcfg)
	if err != nil {
		return nil, WrapError("CREATE_QUEUE", err)
	}
	if err := q.Start(ctx); err != nil {
		return nil, WrapError("CREATE_QUEUE", err)
	}

	e.mu.Lock()
	e.queues[qcfg.QueueID] = q
	e.mu.Unlock()
	return q, nil
}

// Queue returns a previously created queue by ID, or nil.
func (e *Endpoint) Queue(queueID uint32) *queue.Queue {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queues[queueID]
}

// Channels exposes the channel table for callers that need direct
// lookup beyond what Connect/ListenAndServe return.
func (e *Endpoint) Channels() *channel.Table { return e.channels }

// Snapshot returns a point-in-time view of this Endpoint's metrics.
func (e *Endpoint) Snapshot() MetricsSnapshot { return e.metrics.Snapshot() }

// ServeAdmin starts the local unix-domain admin socket, exposing
// channel listing, a stats snapshot, and a detach trigger. It blocks
// until ctx is canceled.
func (e *Endpoint) ServeAdmin(ctx context.Context, socketPath string) error {
	admin := ipc.NewServer(socketPath, e.channels, func() interface{} {
		return e.Snapshot()
	}, func(ctx context.Context, id channel.ID) error {
		return e.Detach(ctx, id)
	})
	e.mu.Lock()
	e.admin = admin
	e.mu.Unlock()
	return admin.Serve(ctx)
}

// Detach tears a channel down: submits ReleaseResource, removes it from
// the channel table, and recycles its jetties.
func (e *Endpoint) Detach(ctx context.Context, id channel.ID) error {
	ch := e.channels.Lookup(id)
	if ch == nil {
		return NewChannelError("DETACH", uint32(id), ErrCodeChannelNotFound, "no such channel")
	}

	e.engine.Submit(taskengine.ReleaseResource, taskengine.InstanceKey{}, false)
	if err := e.engine.Drain(ctx); err != nil {
		return WrapError("DETACH", err)
	}

	e.mu.Lock()
	for _, qid := range ch.LocalQueues() {
		if q, ok := e.queues[qid]; ok {
			q.Destroy()
			delete(e.queues, qid)
		}
	}
	e.mu.Unlock()

	e.channels.Remove(id, channel.PeerKey{EID: e.cfg.EID, PID: e.cfg.PID, InstanceNonce: e.instanceNonce})
	return nil
}

// Close releases the listening socket, admin socket, and every
// outstanding queue.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ln != nil {
		e.ln.Close()
	}
	if e.admin != nil {
		e.admin.Close()
	}
	for id, q := range e.queues {
		q.Destroy()
		delete(e.queues, id)
	}
	e.events.Close()
	e.metrics.Stop()
	return nil
}
