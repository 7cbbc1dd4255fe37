// Package signal defines the lifecycle notifications a Socket Worker
// emits alongside market data, distinct from the data stream itself.
// Grounded on the small closed-enum + String() shape of
// pkg/events.EventKind.
package signal

import "time"

// Kind classifies a lifecycle signal.
type Kind int

const (
	// Connect fires once a socket opens and its initial subscriptions
	// have been written.
	Connect Kind = iota
	// FirstReceivedData fires at most once per connection epoch, the
	// first time a frame arrives.
	FirstReceivedData
	// Disconnect fires when a worker exits with a restartable error.
	Disconnect
	// Stop fires when a worker exits by request.
	Stop
	// StreamUnrepairable fires when a worker exits with a fatal error.
	StreamUnrepairable
)

// String returns the symbolic name for the signal kind, matching the
// wire vocabulary used in signal buffer records.
func (k Kind) String() string {
	switch k {
	case Connect:
		return "CONNECT"
	case FirstReceivedData:
		return "FIRST_RECEIVED_DATA"
	case Disconnect:
		return "DISCONNECT"
	case Stop:
		return "STOP"
	case StreamUnrepairable:
		return "STREAM_UNREPAIRABLE"
	default:
		return "UNKNOWN"
	}
}

// Signal is one lifecycle notification record.
type Signal struct {
	Type      Kind
	StreamID  string
	Timestamp time.Time

	// LastReceivedData carries the last received record on Disconnect.
	LastReceivedData any
	// FirstReceivedData carries the triggering frame on FirstReceivedData.
	FirstReceivedData any
	// Err carries the failure reason on StreamUnrepairable.
	Err error
}

// Sink receives lifecycle signals as they're emitted. Implementations
// must not block the emitting worker for long and must never be called
// while a stream-table lock is held (spec.md §5).
type Sink interface {
	Emit(Signal)
}

// SinkFunc adapts a plain function to a Sink.
type SinkFunc func(Signal)

// Emit calls f(sig).
func (f SinkFunc) Emit(sig Signal) { f(sig) }
