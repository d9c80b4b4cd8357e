package livechannel

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionLost is reported when the transport closes or fails. The
	// client recovers from it by reconnecting.
	ErrConnectionLost = errors.New("live channel: connection lost")
	// ErrMaxRetriesExceeded is terminal: no further reconnects are scheduled.
	ErrMaxRetriesExceeded = errors.New("live channel: max reconnect attempts exceeded")
	// ErrNotConnected is returned by Send while the state is not Open.
	ErrNotConnected = errors.New("live channel: not connected")
	// ErrTornDown is returned by operations on a client after Teardown.
	ErrTornDown = errors.New("live channel: client torn down")
)

// MalformedMessageError reports an inbound payload that could not be parsed.
// It never affects the connection state.
type MalformedMessageError struct {
	Raw []byte
	Err error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("live channel: malformed message: %v", e.Err)
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

// HandshakeError is returned by WebSocketDialer when the server answered the
// upgrade request with a non-101 status.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake failed with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}
