// Package ipc implements a thin local admin surface: a unix-domain
// socket that accepts newline-delimited JSON requests and answers with
// a JSON response, used by cmd/urpc-admin to list channels, dump a
// metrics snapshot, and trigger a detach without needing its own copy
// of the wire/task-engine machinery.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/ehrlich-b/urpc/internal/channel"
	"github.com/ehrlich-b/urpc/internal/logging"
)

// Request is one admin command. Args is op-specific:
//   - "list_channels": no args
//   - "stats": no args
//   - "detach": {"channel_id": "<uint32>"}
type Request struct {
	Op   string            `json:"op"`
	Args map[string]string `json:"args,omitempty"`
}

// Response carries either Data or Error, never both.
type Response struct {
	OK    bool        `json:"ok"`
	Error string      `json:"error,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// ChannelSummary is the list_channels entry shape.
type ChannelSummary struct {
	ID          uint32   `json:"id"`
	RemoteID    uint32   `json:"remote_id"`
	LocalQueues []uint32 `json:"local_queues"`
}

// DetachFunc is invoked when a "detach" request names an existing
// channel; the caller wires this to whatever tears the channel down
// (task engine ReleaseResource submission, transport registry cleanup).
type DetachFunc func(ctx context.Context, id channel.ID) error

// Server is a unix-domain socket admin listener bound to one Table and
// a stats snapshot function.
type Server struct {
	socketPath string
	table      *channel.Table
	statsFn    func() interface{}
	detachFn   DetachFunc
	logger     *logging.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a Server that will listen on socketPath.
// statsFn is called fresh on every "stats" request (typically
// Metrics.Snapshot); detachFn may be nil, in which case "detach"
// requests are answered with an error.
func NewServer(socketPath string, table *channel.Table, statsFn func() interface{}, detachFn DetachFunc) *Server {
	return &Server{
		socketPath: socketPath,
		table:      table,
		statsFn:    statsFn,
		detachFn:   detachFn,
		logger:     logging.Default(),
	}
}

// Serve binds the socket and accepts connections until ctx is canceled
// or an unrecoverable accept error occurs.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.RemoveAll(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ipc: remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("ipc: listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("ipc: accept: %w", err)
			}
		}
		go s.handle(ctx, conn)
	}
}

// Close releases the listening socket, if any.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	os.RemoveAll(s.socketPath)
	return err
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)
	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			enc.Encode(Response{OK: false, Error: err.Error()})
			continue
		}
		enc.Encode(s.dispatch(ctx, req))
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Op {
	case "list_channels":
		return Response{OK: true, Data: s.listChannels()}
	case "stats":
		if s.statsFn == nil {
			return Response{OK: false, Error: "stats not available"}
		}
		return Response{OK: true, Data: s.statsFn()}
	case "detach":
		return s.detach(ctx, req.Args["channel_id"])
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown op %q", req.Op)}
	}
}

func (s *Server) listChannels() []ChannelSummary {
	out := []ChannelSummary{}
	for _, id := range s.table.IDs() {
		ch := s.table.Lookup(id)
		if ch == nil {
			continue
		}
		out = append(out, ChannelSummary{
			ID:          uint32(ch.LocalID),
			RemoteID:    uint32(ch.RemoteID),
			LocalQueues: ch.LocalQueues(),
		})
	}
	return out
}

func (s *Server) detach(ctx context.Context, channelIDStr string) Response {
	if s.detachFn == nil {
		return Response{OK: false, Error: "detach not supported"}
	}
	var id uint32
	if _, err := fmt.Sscanf(channelIDStr, "%d", &id); err != nil {
		return Response{OK: false, Error: fmt.Sprintf("invalid channel_id %q", channelIDStr)}
	}
	if err := s.detachFn(ctx, channel.ID(id)); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true}
}
