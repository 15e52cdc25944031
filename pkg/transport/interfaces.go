package transport

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned by commands issued without a live session
	ErrNotConnected = errors.New("transport not connected")
	// ErrAlreadyActive is returned when Activate is called on an active transport
	ErrAlreadyActive = errors.New("transport already active")
)

// Handle identifies a live subscription. It is owned by the transport and is
// only meaningful within the session that created it.
type Handle string

// Status is the connection status of the transport as tracked by the core.
type Status int

const (
	// Disconnected means no session exists and none is being opened
	Disconnected Status = iota
	// Initializing means Activate was called and the session is being opened
	Initializing
	// Connected means the broker accepted the session
	Connected
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Initializing:
		return "INITIALIZING"
	case Connected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "DISCONNECTED":
		return Disconnected, true
	case "INITIALIZING":
		return Initializing, true
	case "CONNECTED":
		return Connected, true
	default:
		return Disconnected, false
	}
}

// Listener receives inbound events from a Transport.
//
// Callbacks are never invoked from inside a Transport method call; they come
// from the transport's own goroutines and must not block for long.
type Listener interface {
	// OnConnect reports that the broker accepted the session.
	OnConnect()

	// OnDisconnect reports the end of a session. err is nil when the session
	// was closed on request and non-nil when connecting failed or the
	// connection was lost.
	OnDisconnect(err error)

	// OnError reports a protocol-level error frame received mid-session.
	OnError(detail string)

	// OnMessage delivers the raw body of a message received on destination.
	OnMessage(destination string, body []byte)
}

// Transport is the outbound half of the pub/sub protocol client.
type Transport interface {
	// Activate starts opening a session. It returns once the attempt is
	// underway; the outcome is reported through l.
	Activate(ctx context.Context, l Listener) error

	// Deactivate closes the current session, if any. Handles issued by the
	// closed session become invalid.
	Deactivate(ctx context.Context) error

	// Subscribe attaches to destination and returns the handle of the new
	// subscription.
	Subscribe(destination string) (Handle, error)

	// Unsubscribe releases a handle. Releasing a handle that is no longer live
	// is a no-op.
	Unsubscribe(h Handle) error

	// Publish sends body to destination.
	Publish(destination string, body []byte) error
}
