package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/urpc/internal/channel"
	"github.com/ehrlich-b/urpc/internal/logging"
)

// ClientEntry is one outbound connection to a peer, shared by every
// task that talks to that peer so they don't each open their own TCP
// connection.
type ClientEntry struct {
	Peer    channel.PeerKey
	Addr    string
	conn    atomic.Pointer[Conn]
	refcnt  atomic.Int32
	retries int32

	tlsConfig *tls.Config
	logger    *logging.Logger
}

// RetryTimes bounds how many times a client entry redials after a break
// before giving up and surfacing the error to callers.
const RetryTimes = 5

func newClientEntry(peer channel.PeerKey, addr string, tlsConfig *tls.Config) *ClientEntry {
	return &ClientEntry{Peer: peer, Addr: addr, tlsConfig: tlsConfig, logger: logging.Default()}
}

// Get returns the live connection, dialing (or redialing after a prior
// break) up to RetryTimes.
func (e *ClientEntry) Get(ctx context.Context) (*Conn, error) {
	if c := e.conn.Load(); c != nil && c.State() == StateConnected {
		return c, nil
	}
	var lastErr error
	for i := int32(0); i < RetryTimes; i++ {
		c, err := Dial(ctx, e.Addr, e.tlsConfig)
		if err == nil {
			e.conn.Store(c)
			e.retries = 0
			return c, nil
		}
		lastErr = err
		e.logger.Warn("client entry redial failed", "peer", e.Addr, "attempt", i)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * 50 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("transport: exhausted %d retries to %s: %w", RetryTimes, e.Addr, lastErr)
}

func (e *ClientEntry) Retain() { e.refcnt.Add(1) }
func (e *ClientEntry) Release() int32 { return e.refcnt.Add(-1) }

// ServerEntry tracks one accepted connection's peer instance key plus
// the channels it carries, so a TCP death can bulk-release them.
type ServerEntry struct {
	Peer     channel.PeerKey
	Conn     *Conn
	Channels []channel.ID
	mu       sync.Mutex
}

func (e *ServerEntry) AddChannel(id channel.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Channels = append(e.Channels, id)
}

func (e *ServerEntry) ChannelList() []channel.ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]channel.ID(nil), e.Channels...)
}

// Registry is the process-wide transport table: client entries keyed by
// peer for outbound reuse, server entries keyed by remote address for
// inbound bookkeeping.
type Registry struct {
	mu      sync.RWMutex
	clients map[channel.PeerKey]*ClientEntry
	servers map[string]*ServerEntry
	logger  *logging.Logger
}

// NewRegistry creates an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[channel.PeerKey]*ClientEntry),
		servers: make(map[string]*ServerEntry),
		logger:  logging.Default(),
	}
}

// ClientFor returns the existing client entry for peer, or creates one
// dialing addr.
func (r *Registry) ClientFor(peer channel.PeerKey, addr string, tlsConfig *tls.Config) *ClientEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.clients[peer]; ok {
		return e
	}
	e := newClientEntry(peer, addr, tlsConfig)
	r.clients[peer] = e
	return e
}

// DropClient removes a client entry, e.g. once its refcount reaches zero.
func (r *Registry) DropClient(peer channel.PeerKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, peer)
}

// AcceptServer registers a freshly accepted connection under its remote
// address.
func (r *Registry) AcceptServer(peer channel.PeerKey, nc net.Conn) *ServerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &ServerEntry{Peer: peer, Conn: FromConn(nc)}
	r.servers[nc.RemoteAddr().String()] = e
	return e
}

// DropServer removes a server entry, e.g. on TCP death, returning the
// channels it owned so the caller can release them.
func (r *Registry) DropServer(remoteAddr string) []channel.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.servers[remoteAddr]
	if !ok {
		return nil
	}
	delete(r.servers, remoteAddr)
	return e.ChannelList()
}
