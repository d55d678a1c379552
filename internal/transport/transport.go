// Package transport implements the TCP and RTU wire variants behind the
// Session layer (§4.2, §5). Both variants expose the same Transport
// interface so C4 never branches on wire type.
package transport

import (
	"context"
	"time"
)

// EventKind enumerates the connection-lifecycle events a Transport reports.
type EventKind int

const (
	Connecting EventKind = iota
	Connected
	Disconnected
	ErrorEvent
)

func (k EventKind) String() string {
	switch k {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case ErrorEvent:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one connection-lifecycle notification (§4.2).
type Event struct {
	Kind    EventKind
	HadErr  bool // valid when Kind == Disconnected
	Err     error
}

// Transport is the wire-level contract both TCP and RTU implement. Send is
// the only blocking, request-shaped operation; everything else is
// lifecycle management.
type Transport interface {
	// Connect opens the underlying socket/port. It blocks until connected,
	// the context is cancelled, or the connect timeout elapses.
	Connect(ctx context.Context) error

	// Disconnect closes the underlying socket/port and releases any
	// process-wide resources (the RTU port registry slot).
	Disconnect() error

	// Send writes one PDU addressed to unitID and returns the matching
	// response PDU (an exception response is returned as a PDU like any
	// other), or an error (gwerrors.Timeout, gwerrors.TransportError,
	// gwerrors.BusyInProgress from RTU, or the context's error).
	Send(ctx context.Context, unitID byte, requestPDU []byte, timeout time.Duration) ([]byte, error)

	// Events returns the transport's lifecycle event stream. The channel is
	// not closed on Disconnect; it stays open across reconnects.
	Events() <-chan Event
}
