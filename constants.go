package urpc

import "github.com/ehrlich-b/urpc/internal/wire"

// Defaults applied when a caller leaves the corresponding config field
// at its zero value.
const (
	// DefaultQueueDepth is the jetty/queue work-request depth used when
	// a Config doesn't specify one.
	DefaultQueueDepth = 128

	// DefaultEntrySize is the per-slot buffer size registered with the
	// provider when a Config doesn't specify one.
	DefaultEntrySize = 4096

	// DefaultChannelBacklog bounds how many not-yet-drained async events
	// the Endpoint's single AsyncEventQueue holds before dropping the oldest.
	DefaultChannelBacklog = 4096

	// DefaultRetryTimes matches the sideband transport's reconnection
	// bound; internal/transport uses its own RetryTimes constant and does
	// not read this one.
	DefaultRetryTimes = 5

	// DefaultTimingWheelSlots sizes the task engine's 1ms-tick slotted
	// timer facility.
	DefaultTimingWheelSlots = 2048

	// ProtoVersion is the wire protocol version negotiated during
	// attach; re-exported here so callers building their own transport
	// glue don't need to import internal/wire directly.
	ProtoVersion = wire.ProtoVersion
)
