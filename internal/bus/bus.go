// Package bus defines the publish sink the connection manager uses for
// application-wide observability. The bus implementation itself lives
// outside this module; only the sink contract is consumed here.
package bus

import "log/slog"

// Publisher is a fire-and-forget publish sink. Implementations must not
// block: the manager publishes from its serialized event loop.
type Publisher interface {
	Publish(topic string, payload any)
}

// Nop discards all publishes.
type Nop struct{}

func (Nop) Publish(string, any) {}

// Logging publishes by writing a debug log line per event. Useful for
// daemons that have no real bus wired in.
type Logging struct {
	logger *slog.Logger
}

// NewLogging creates a Logging publisher.
func NewLogging(logger *slog.Logger) Logging {
	if logger == nil {
		logger = slog.Default()
	}
	return Logging{logger: logger}
}

func (l Logging) Publish(topic string, payload any) {
	l.logger.Debug("bus publish", "topic", topic, "payload", payload)
}
