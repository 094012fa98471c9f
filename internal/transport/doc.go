// Package transport defines the raw socket contract used by the
// connection manager and provides the WebSocket implementation.
//
// The transport is opaque to message semantics: frames go in, frames
// come out. All inbound activity (opened, frame, closed, error) is
// delivered on a single tagged event stream per socket so the consumer
// can serialize transport events against its own state.
package transport
