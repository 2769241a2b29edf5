package livesync

import "fmt"

// ValidationError reports a caller mistake on an outbound action (empty or
// oversized chat text, missing room id). It is returned synchronously and
// never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotConnectedError reports an outbound action attempted while the shared
// connection is not established. Callers must retry after reconnect; the
// core does not queue outbound actions across disconnects.
type NotConnectedError struct {
	Status Status
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("not connected (status %s)", e.Status)
}

// TransportError wraps a recoverable transport-level failure. It is caught
// at the connection manager boundary and surfaced as state, never thrown
// into UI code.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedPayloadError reports an inbound event whose payload failed shape
// validation. Such events are dropped with a logged warning and never reach
// the session state.
type MalformedPayloadError struct {
	Event string
	Err   error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed %s payload: %v", e.Event, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }
