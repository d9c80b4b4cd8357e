package livechannel

import "time"

// State is the connection state of a Client.
type State int

const (
	// Connecting means a transport is being opened.
	Connecting State = iota
	// Open means the transport is ready and commands may be sent.
	Open
	// Closed means there is no live transport.
	Closed
	// Errored means the transport failed; it is always followed by Closed.
	Errored
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// StateEvent is delivered to subscribers on every transition, every scheduled
// reconnect and when the client gives up.
type StateEvent struct {
	From State
	To   State

	// Attempt is the reconnect attempt counter after the event.
	Attempt int
	// Delay is set when a reconnect has been scheduled.
	Delay time.Duration
	// GaveUp is set once the attempt budget is exhausted.
	GaveUp bool
	// TornDown is set on the final event produced by Teardown.
	TornDown bool
	// Err carries ErrConnectionLost or ErrMaxRetriesExceeded when relevant.
	Err error

	At time.Time
}

// Scheduled reports whether the event announces a pending reconnect.
func (e StateEvent) Scheduled() bool {
	return e.Delay > 0
}
