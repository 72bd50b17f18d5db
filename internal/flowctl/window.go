// Package flowctl implements the credit-based flow control engine
// layered over a queue's RX posting: each side advertises how much
// receive buffer it has available so the peer never sends faster than
// the receiver can keep up, without a round trip per message.
package flowctl

import (
	"sync/atomic"

	"github.com/ehrlich-b/urpc/internal/cursor"
)

// Window tracks one queue's flow-control bookkeeping from both
// directions: how much of the local receive depth has been posted since
// the last advertisement, and the last window the peer advertised to us.
type Window struct {
	Depth          uint32
	InitialWindow  uint32
	NotifyInterval uint32

	localRxPosted  atomic.Uint32
	remoteRxWindow atomic.Int64 // signed so OnTx can detect exhaustion cleanly
	localSet       atomic.Bool
	remoteGet      atomic.Bool
}

// NewWindow creates a Window for a queue of the given depth, defaulting
// InitialWindow to depth/2 and NotifyInterval to depth/16 as the spec's
// bootstrap and steady-state advertisement cadence.
func NewWindow(depth uint32) *Window {
	w := &Window{
		Depth:          depth,
		InitialWindow:  depth / 2,
		NotifyInterval: depth / 16,
	}
	if w.NotifyInterval == 0 {
		w.NotifyInterval = 1
	}
	return w
}

// Advertisement is emitted by OnRxPost when enough RX buffer has
// accumulated to be worth telling the peer about.
type Advertisement struct {
	Count uint32
}

// OnRxPost records that n more receive buffers were posted locally,
// returning an Advertisement to send to the peer once the running total
// crosses the bootstrap or steady-state threshold. ok is false when no
// advertisement is due yet.
func (w *Window) OnRxPost(n uint32) (adv Advertisement, ok bool) {
	total := w.localRxPosted.Add(n)
	threshold := w.NotifyInterval
	if !w.localSet.Load() {
		threshold = w.InitialWindow
	}
	if total < threshold {
		return Advertisement{}, false
	}
	w.localRxPosted.Add(-total) // reset the running counter
	w.localSet.Store(true)
	return Advertisement{Count: total}, true
}

// OnAdvertisementReceived applies a peer's advertisement to the local
// view of remote RX window.
func (w *Window) OnAdvertisementReceived(adv Advertisement) {
	w.remoteRxWindow.Add(int64(adv.Count))
	w.remoteGet.Store(true)
}

// OnTx attempts to consume n units of remote window before a send;
// returns false if the window is exhausted (backpressure, not an error).
func (w *Window) OnTx(n uint32) bool {
	for {
		cur := w.remoteRxWindow.Load()
		if cur < int64(n) {
			return false
		}
		if w.remoteRxWindow.CompareAndSwap(cur, cur-int64(n)) {
			return true
		}
	}
}

// OnSendFailure restores n units of remote window after a post that
// claimed window but never actually went out, so a failed send doesn't
// silently lose credit.
func (w *Window) OnSendFailure(n uint32) {
	w.remoteRxWindow.Add(int64(n))
}

// OnTeardown folds unconsumed allocated-but-never-sent window back into
// the queue's credit pool leak accounting.
func (w *Window) OnTeardown(pool *cursor.CreditPool) {
	remaining := w.remoteRxWindow.Load()
	if remaining > 0 {
		pool.Leak(int32(remaining))
	}
}

// RemoteWindow reports the currently-known remote receive window, for
// diagnostics.
func (w *Window) RemoteWindow() int64 { return w.remoteRxWindow.Load() }
