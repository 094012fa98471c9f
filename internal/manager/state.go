package manager

// State is the connection state. Exactly one value is active at any
// instant; only the manager's event loop may change it.
type State int32

const (
	// StateDisconnected: no connection and no attempt pending.
	StateDisconnected State = iota

	// StateConnecting: an open attempt is in flight.
	StateConnecting

	// StateConnected: the transport is open and usable.
	StateConnected

	// StateFaulted: an attempt failed and a backoff-scheduled retry is
	// pending. When the retry timer fires the machine moves to
	// Connecting (next attempt) or Disconnected (attempts exhausted).
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// DownReason records why the manager last left an up state. It lets
// observers distinguish a deliberate stop from an exhausted retry budget.
type DownReason int32

const (
	// DownNone: not down, or never been connected.
	DownNone DownReason = iota

	// DownRequested: the caller asked for the disconnect.
	DownRequested

	// DownExhausted: the retry budget was spent; only a manual
	// reconnect or a liveness signal resumes the connection.
	DownExhausted

	// DownRemote: the peer closed the connection cleanly.
	DownRemote
)

func (r DownReason) String() string {
	switch r {
	case DownNone:
		return "none"
	case DownRequested:
		return "requested"
	case DownExhausted:
		return "exhausted"
	case DownRemote:
		return "remote"
	default:
		return "unknown"
	}
}
