// Package liveness resumes an idle connection when the environment
// signals that it regained the ability to communicate.
package liveness

import (
	"log/slog"
	"os"
	"os/signal"

	"github.com/mvisser/tether/internal/manager"
)

// Conn is the slice of the connection manager the monitor needs.
type Conn interface {
	Connect()
	Stats() manager.Stats
}

// Source delivers became-reachable edges. Notify registers a callback
// and returns a function that cancels the registration.
type Source interface {
	Notify(fn func()) (cancel func())
}

// Monitor watches a reachability source and resumes the connection when
// the manager is idle after exhausting its retries. It never resumes a
// connection the caller stopped deliberately, and it is the only
// component allowed to call Connect without an explicit request.
type Monitor struct {
	conn   Conn
	logger *slog.Logger
	cancel func()
}

// NewMonitor creates a Monitor. Call Watch to attach it to a source.
func NewMonitor(conn Conn, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{conn: conn, logger: logger}
}

// Watch registers the monitor on the source.
func (m *Monitor) Watch(src Source) {
	m.cancel = src.Notify(m.onSignal)
}

// Close detaches the monitor from its source.
func (m *Monitor) Close() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// onSignal fires once per reachability edge. Duplicate-open protection
// comes from the manager's no-op guard while Connecting/Connected.
func (m *Monitor) onSignal() {
	stats := m.conn.Stats()
	if stats.State != manager.StateDisconnected || stats.Down != manager.DownExhausted {
		m.logger.Debug("reachability signal ignored",
			"state", stats.State,
			"down", stats.Down,
		)
		return
	}

	m.logger.Info("reachability regained, resuming connection")
	m.conn.Connect()
}

// SignalSource is a Source backed by an OS signal, giving headless
// deployments a concrete reachability edge (SIGUSR1 by convention).
type SignalSource struct {
	sig os.Signal
}

// NewSignalSource creates a SignalSource for the given signal.
func NewSignalSource(sig os.Signal) *SignalSource {
	return &SignalSource{sig: sig}
}

func (s *SignalSource) Notify(fn func()) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, s.sig)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ch:
				fn()
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
