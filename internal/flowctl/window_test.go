package flowctl

import (
	"testing"

	"github.com/ehrlich-b/urpc/internal/cursor"
	"github.com/stretchr/testify/require"
)

func TestOnRxPostBootstrapsAtInitialWindow(t *testing.T) {
	w := NewWindow(128) // InitialWindow=64, NotifyInterval=8

	_, ok := w.OnRxPost(30)
	require.False(t, ok)

	adv, ok := w.OnRxPost(40)
	require.True(t, ok)
	require.Equal(t, uint32(70), adv.Count)
}

func TestOnRxPostSteadyStateUsesNotifyInterval(t *testing.T) {
	w := NewWindow(128)
	_, _ = w.OnRxPost(64) // bootstraps

	_, ok := w.OnRxPost(4)
	require.False(t, ok)

	adv, ok := w.OnRxPost(5)
	require.True(t, ok)
	require.Equal(t, uint32(9), adv.Count)
}

func TestOnTxBackpressureWhenWindowExhausted(t *testing.T) {
	w := NewWindow(128)
	w.OnAdvertisementReceived(Advertisement{Count: 4})

	require.True(t, w.OnTx(4))
	require.False(t, w.OnTx(1))
}

func TestOnSendFailureRestoresWindow(t *testing.T) {
	w := NewWindow(128)
	w.OnAdvertisementReceived(Advertisement{Count: 2})
	require.True(t, w.OnTx(2))
	w.OnSendFailure(2)
	require.True(t, w.OnTx(2))
}

func TestOnTeardownLeaksRemainingWindow(t *testing.T) {
	w := NewWindow(128)
	w.OnAdvertisementReceived(Advertisement{Count: 10})
	pool := cursor.NewCreditPool(128)
	w.OnTeardown(pool)
	require.Equal(t, int32(10), pool.Leaked())
}

func TestCreditRequesterAllowsOnlyOneOutstanding(t *testing.T) {
	var r CreditRequester
	require.True(t, r.TryRequest())
	require.False(t, r.TryRequest())
	r.Complete()
	require.True(t, r.TryRequest())
}
