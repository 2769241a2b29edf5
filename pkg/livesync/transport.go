package livesync

import "context"

// Transport dials sessions against the realtime backend. Implementations
// live outside this package (see pkg/transport/ws); the core depends only
// on this contract.
//
// The backend is assumed to provide at-least-once delivery of inbound
// frames on a healthy session and silent drop on disconnection. There is no
// offline queue: frames sent on a dead session are lost, and the server
// treats connection loss as implicit leave-all.
type Transport interface {
	Dial(ctx context.Context) (Session, error)
}

// Session is one established connection to the backend.
type Session interface {
	// Send transmits a frame. It must be safe for concurrent use.
	Send(Frame) error
	// Receive blocks until the next inbound frame arrives or the session
	// dies, in which case it returns an error.
	Receive() (Frame, error)
	// Close tears the session down. Receive unblocks with an error.
	Close() error
}
