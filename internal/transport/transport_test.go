package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func listenLocal(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func TestSendRecvRoundTrip(t *testing.T) {
	ln := listenLocal(t)
	defer ln.Close()

	serverMsg := make(chan *Message, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		c := FromConn(nc)
		msg, err := c.RecvAsync(context.Background())
		require.NoError(t, err)
		serverMsg <- msg
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := Dial(ctx, ln.Addr().String(), nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.SendAsync(ctx, 7, 42, []byte("hello")))

	select {
	case msg := <-serverMsg:
		require.Equal(t, uint32(7), msg.Type)
		require.Equal(t, uint32(42), msg.TaskID)
		require.Equal(t, []byte("hello"), msg.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestRecvAsyncResumesAcrossShortReads(t *testing.T) {
	client, server := net.Pipe()
	cConn := FromConn(client)
	sConn := FromConn(server)
	defer cConn.Close()
	defer sConn.Close()

	done := make(chan *Message, 1)
	go func() {
		msg, err := sConn.RecvAsync(context.Background())
		require.NoError(t, err)
		done <- msg
	}()

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, cConn.SendAsync(context.Background(), 1, 0, payload))

	select {
	case msg := <-done:
		require.Equal(t, payload, msg.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestSendAsyncRejectsOversizedPayload(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := FromConn(client)
	err := c.SendAsync(context.Background(), 1, 0, make([]byte, CtlBufMaxLen+1))
	require.Error(t, err)
}

func TestConnCloseIsIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	c := FromConn(client)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.Equal(t, StateClosed, c.State())
}
