package cdc

import (
	"context"
	"testing"
	"time"

	"github.com/ehrlich-b/urpc/internal/cursor"
	"github.com/ehrlich-b/urpc/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestOpenTransitionsToActive(t *testing.T) {
	c := New(4096, 4096, false)
	require.Equal(t, StateInit, c.State())
	require.NoError(t, c.Open())
	require.Equal(t, StateActive, c.State())
}

func TestActiveCloseSequence(t *testing.T) {
	c := New(4096, 4096, false)
	require.NoError(t, c.Open())
	require.NoError(t, c.CloseActive())
	require.Equal(t, StateAppCloseWait1, c.State())
	require.NoError(t, c.ClosePassive())
	require.Equal(t, StateAppCloseWait2, c.State())
	require.NoError(t, c.AppFin())
	require.Equal(t, StateClosed, c.State())
}

func TestPassiveCloseSequence(t *testing.T) {
	c := New(4096, 4096, false)
	require.NoError(t, c.Open())
	require.NoError(t, c.ClosePassive())
	require.Equal(t, StatePeerCloseWait1, c.State())
	require.NoError(t, c.CloseActive())
	require.Equal(t, StatePeerCloseWait2, c.State())
	require.NoError(t, c.PeerFin())
	require.Equal(t, StateClosed, c.State())
}

func TestAbortWinsFromAnyState(t *testing.T) {
	c := New(4096, 4096, false)
	require.NoError(t, c.Open())
	require.NoError(t, c.CloseActive())
	require.NoError(t, c.Abort())
	require.Equal(t, StateProcessAbort, c.State())
	require.NoError(t, c.Abort())
	require.Equal(t, StatePeerAbortWait, c.State())
	require.NoError(t, c.AbortAck())
	require.Equal(t, StateClosed, c.State())
}

func TestInvalidTransitionReturnsError(t *testing.T) {
	c := New(4096, 4096, false)
	err := c.AppFin()
	require.Error(t, err)
}

func TestOnRxBytesEnforcesInvariant(t *testing.T) {
	c := New(100, 100, false)
	require.NoError(t, c.OnRxBytes(50, 100))
	require.Error(t, c.OnRxBytes(60, 100))
	c.OnRxConsumed(50)
	require.NoError(t, c.OnRxBytes(60, 100))
}

func TestConsumeUrgentInlineAdvancesCons(t *testing.T) {
	c := New(4096, 4096, true)
	c.SetUrgent(cursor.Cursor{Count: 5, Wrap: 0})
	c.RX.Cons.Store(cursor.Cursor{Count: 5, Wrap: 0})
	c.ConsumeUrgentInline(4096)
	require.Equal(t, cursor.Cursor{Count: 6, Wrap: 0}, c.RX.Cons.Load())
}

func TestCloseStreamWaitReturnsWhenDrained(t *testing.T) {
	c := New(4096, 4096, false)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.CloseStreamWait(ctx, 128, 50*time.Millisecond))
}

func TestCloseStreamWaitForcesAbortOnLinger(t *testing.T) {
	c := New(4096, 4096, false)
	require.NoError(t, c.Open())
	c.TX.Prep.Store(cursor.Cursor{Count: 10, Wrap: 0})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := c.CloseStreamWait(ctx, 128, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, StateProcessAbort, c.State())
}

func TestNextSeqnoMonotonic(t *testing.T) {
	c := New(4096, 4096, false)
	a := c.NextSeqno()
	b := c.NextSeqno()
	require.Equal(t, a+1, b)
}

func TestApplyCDCUpdatesCursors(t *testing.T) {
	c := New(4096, 4096, false)
	msg := &wire.CDCMessage{
		Seqno: 1,
		Prod:  cursor.Cursor{Count: 10, Wrap: 0},
		Cons:  cursor.Cursor{Count: 3, Wrap: 0},
	}
	require.True(t, c.ApplyCDC(msg))
	require.Equal(t, msg.Prod, c.RX.Prod.Load())
	require.Equal(t, msg.Cons, c.TX.Fin.Load())
}

func TestApplyCDCRejectsStaleSeqno(t *testing.T) {
	c := New(4096, 4096, false)
	require.True(t, c.ApplyCDC(&wire.CDCMessage{Seqno: 5, Prod: cursor.Cursor{Count: 1}}))
	// A message with an older or equal sequence number is dropped and
	// must not clobber the cursor state applied above.
	applied := c.ApplyCDC(&wire.CDCMessage{Seqno: 4, Prod: cursor.Cursor{Count: 99}})
	require.False(t, applied)
	require.Equal(t, cursor.Cursor{Count: 1}, c.RX.Prod.Load())

	require.True(t, c.ApplyCDC(&wire.CDCMessage{Seqno: 6, Prod: cursor.Cursor{Count: 2}}))
	require.Equal(t, cursor.Cursor{Count: 2}, c.RX.Prod.Load())
}
