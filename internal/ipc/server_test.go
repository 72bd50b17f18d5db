package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/ehrlich-b/urpc/internal/channel"
	"github.com/ehrlich-b/urpc/internal/event"
	"github.com/ehrlich-b/urpc/internal/taskengine"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T, table *channel.Table, statsFn func() interface{}, detachFn DetachFunc) (*Server, string) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "admin.sock")
	srv := NewServer(sock, table, statsFn, detachFn)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	require.Eventually(t, func() bool {
		c, err := net.Dial("unix", sock)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, sock
}

func roundTrip(t *testing.T, sock string, req Request) Response {
	t.Helper()
	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, json.NewEncoder(conn).Encode(req))

	var resp Response
	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan())
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	return resp
}

func TestListChannelsEmpty(t *testing.T) {
	table := channel.NewTable()
	_, sock := startTestServer(t, table, nil, nil)

	resp := roundTrip(t, sock, Request{Op: "list_channels"})
	require.True(t, resp.OK)
}

func TestListChannelsReturnsCreated(t *testing.T) {
	table := channel.NewTable()
	ch := table.Create(channel.ID(7), channel.PeerKey{EID: 1})
	events := event.New(4)
	defer events.Close()
	eng := taskengine.New(events, nil)
	require.NoError(t, ch.QueueAddLocal(context.Background(), eng, 3))
	_, sock := startTestServer(t, table, nil, nil)

	resp := roundTrip(t, sock, Request{Op: "list_channels"})
	require.True(t, resp.OK)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var summaries []ChannelSummary
	require.NoError(t, json.Unmarshal(raw, &summaries))
	require.Len(t, summaries, 1)
	require.Equal(t, uint32(7), summaries[0].RemoteID)
	require.Equal(t, []uint32{3}, summaries[0].LocalQueues)
}

func TestStatsUnavailableWithoutFn(t *testing.T) {
	table := channel.NewTable()
	_, sock := startTestServer(t, table, nil, nil)

	resp := roundTrip(t, sock, Request{Op: "stats"})
	require.False(t, resp.OK)
}

func TestStatsReturnsSnapshot(t *testing.T) {
	table := channel.NewTable()
	statsFn := func() interface{} { return map[string]int{"channels": 1} }
	_, sock := startTestServer(t, table, statsFn, nil)

	resp := roundTrip(t, sock, Request{Op: "stats"})
	require.True(t, resp.OK)
}

func TestDetachWithoutHandlerErrors(t *testing.T) {
	table := channel.NewTable()
	_, sock := startTestServer(t, table, nil, nil)

	resp := roundTrip(t, sock, Request{Op: "detach", Args: map[string]string{"channel_id": "1"}})
	require.False(t, resp.OK)
}

func TestDetachInvokesHandler(t *testing.T) {
	table := channel.NewTable()
	var gotID channel.ID
	detachFn := func(ctx context.Context, id channel.ID) error {
		gotID = id
		return nil
	}
	_, sock := startTestServer(t, table, nil, detachFn)

	resp := roundTrip(t, sock, Request{Op: "detach", Args: map[string]string{"channel_id": "42"}})
	require.True(t, resp.OK)
	require.Equal(t, channel.ID(42), gotID)
}

func TestUnknownOpErrors(t *testing.T) {
	table := channel.NewTable()
	_, sock := startTestServer(t, table, nil, nil)

	resp := roundTrip(t, sock, Request{Op: "bogus"})
	require.False(t, resp.OK)
}
