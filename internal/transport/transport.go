package transport

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotOpen       = errors.New("socket not open")
	ErrAlreadyOpened = errors.New("socket already opened")
	ErrClosed        = errors.New("socket closed")
)

// Well-known close codes (RFC 6455 status codes).
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006
)

// EventKind tags an inbound socket event.
type EventKind int

const (
	// KindOpened signals the socket finished opening and is usable.
	KindOpened EventKind = iota

	// KindFrame carries one inbound frame.
	KindFrame

	// KindClosed signals the peer closed the socket, with code and reason.
	KindClosed

	// KindError signals a transport failure (dial error, read error).
	KindError
)

func (k EventKind) String() string {
	switch k {
	case KindOpened:
		return "opened"
	case KindFrame:
		return "frame"
	case KindClosed:
		return "closed"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one entry in a socket's inbound event stream.
//
// The four transport callbacks (opened, frame, closed, error) are folded
// into a single tagged stream so the consumer can serialize them against
// its own state with one handler.
type Event struct {
	Kind EventKind

	// Data and ReceivedAt are set for KindFrame.
	Data       []byte
	ReceivedAt time.Time

	// Code and Reason are set for KindClosed.
	Code   int
	Reason string

	// Err is set for KindError.
	Err error
}

// Socket is a raw bidirectional frame channel.
//
// Open starts the connection attempt in the background and must not block;
// the outcome arrives on Events as KindOpened or KindError. A Socket is
// single-use: once closed it cannot be reopened.
type Socket interface {
	Open(ctx context.Context) error
	Close(code int, reason string) error
	Send(payload []byte) error
	Events() <-chan Event
}

// Factory produces a fresh Socket for each connection attempt.
type Factory func() Socket
