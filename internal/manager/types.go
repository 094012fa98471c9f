package manager

import (
	"errors"
	"time"

	"github.com/mvisser/tether/internal/backoff"
)

// Errors
var (
	ErrNotConnected   = errors.New("not connected")
	ErrConnectTimeout = errors.New("connect timeout")
)

// Bus topics published on connection activity.
const (
	TopicState      = "conn.state"
	TopicMessage    = "conn.message"
	TopicError      = "conn.error"
	TopicSendFailed = "conn.send_failed"
)

// EventKind selects a subscription stream.
type EventKind int

const (
	// EventStateChanged fires on every state transition.
	EventStateChanged EventKind = iota

	// EventMessageReceived fires per inbound frame, in arrival order.
	EventMessageReceived

	// EventSendFailed fires when Send is rejected or the write fails.
	EventSendFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "stateChanged"
	case EventMessageReceived:
		return "messageReceived"
	case EventSendFailed:
		return "sendFailed"
	default:
		return "unknown"
	}
}

// StateChange is the payload delivered to stateChanged subscribers.
type StateChange struct {
	From State
	To   State

	// Reason is meaningful when To is StateDisconnected.
	Reason DownReason

	// Attempt is the failed-attempt count at transition time.
	Attempt int

	// Err is the failure that caused the transition, if any.
	Err error
}

// Inbound is the payload delivered to messageReceived subscribers.
type Inbound struct {
	Data       []byte
	ReceivedAt time.Time
}

// SendFailure is the payload delivered to sendFailed subscribers.
type SendFailure struct {
	Payload []byte
	Err     error
}

// Handler is a subscription callback. Handlers run on the manager's
// serialized event loop and must not block; defer slow work elsewhere.
type Handler func(event any)

// Config configures a Manager.
type Config struct {
	// ConnectTimeout bounds a single open attempt.
	ConnectTimeout time.Duration

	// MaxAttempts is the consecutive-failure ceiling before the manager
	// settles into Disconnected.
	MaxAttempts int

	// Backoff is the retry wait schedule.
	Backoff backoff.Policy

	// MinReconnectInterval throttles back-to-back Reconnect calls.
	MinReconnectInterval time.Duration
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:       10 * time.Second,
		MaxAttempts:          3,
		Backoff:              backoff.Default(),
		MinReconnectInterval: 100 * time.Millisecond,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.MinReconnectInterval <= 0 {
		c.MinReconnectInterval = def.MinReconnectInterval
	}
}

// Stats is a point-in-time diagnostic snapshot.
type Stats struct {
	State    State
	Attempts int
	Down     DownReason
}
