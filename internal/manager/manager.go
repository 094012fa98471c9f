package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mvisser/tether/internal/bus"
	"github.com/mvisser/tether/internal/transport"
)

// Manager owns one logical connection to a remote endpoint and keeps it
// alive across transient failures. All state transitions, timer fires and
// transport events are serialized onto a single event loop; the public
// methods are safe for concurrent use.
type Manager struct {
	cfg    Config
	dial   transport.Factory
	logger *slog.Logger
	bus    bus.Publisher

	subs *subscribers

	cmds    chan command
	stopped chan struct{}

	startMu sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc

	// Mirrors maintained by the loop for lock-free reads.
	stateVal    atomic.Int32
	downVal     atomic.Int32
	attemptsVal atomic.Int64

	// Send path: the live socket while Connected.
	sendMu   sync.RWMutex
	sendSock transport.Socket

	// Everything below is owned exclusively by the event loop.
	state         State
	down          DownReason
	attempts      int
	lastErr       error
	sock          transport.Socket
	sockEvents    <-chan transport.Event
	connectTimer  *time.Timer
	connectTimerC <-chan time.Time
	retryTimer    *time.Timer
	retryTimerC   <-chan time.Time
	lastReconnect time.Time
}

type cmdKind int

const (
	cmdConnect cmdKind = iota
	cmdDisconnect
	cmdReconnect
)

type command struct {
	kind cmdKind
	done chan struct{}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithPublisher wires an event-bus sink. Defaults to a no-op sink.
func WithPublisher(p bus.Publisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.bus = p
		}
	}
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(cfg Config, dial transport.Factory, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	m := &Manager{
		cfg:     cfg,
		dial:    dial,
		logger:  logger,
		bus:     bus.Nop{},
		subs:    newSubscribers(),
		cmds:    make(chan command, 16),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the event loop. It does not connect; call Connect.
func (m *Manager) Start(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.started {
		return fmt.Errorf("manager already started")
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)

	go m.run()

	m.logger.Debug("connection manager started",
		"connect_timeout", m.cfg.ConnectTimeout,
		"max_attempts", m.cfg.MaxAttempts,
	)
	return nil
}

// Stop tears the manager down: timers cancelled, any live socket closed
// with a normal code, subscriber registrations released. The ctx bounds
// how long Stop waits for the loop to drain.
func (m *Manager) Stop(ctx context.Context) error {
	m.startMu.Lock()
	if !m.started {
		m.startMu.Unlock()
		return nil
	}
	cancel := m.cancel
	m.startMu.Unlock()

	m.Disconnect()
	cancel()

	select {
	case <-m.stopped:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout waiting for event loop")
	}

	m.subs.clear()
	m.logger.Debug("connection manager stopped")
	return nil
}

// Connect asks the manager to open the connection. No-op while
// Connecting or Connected. Returns immediately; progress is reported
// through stateChanged events.
func (m *Manager) Connect() {
	m.enqueue(command{kind: cmdConnect})
}

// Disconnect stops the connection: cancels all pending timers, closes any
// live socket with a normal code, and resets the attempt counter. By the
// time it returns, no timer of this manager will fire again. Idempotent.
func (m *Manager) Disconnect() {
	done := make(chan struct{})
	if !m.enqueue(command{kind: cmdDisconnect, done: done}) {
		return
	}
	select {
	case <-done:
	case <-m.stopped:
	}
}

// Reconnect is Disconnect immediately followed by Connect. Calls arriving
// within MinReconnectInterval of the previous execution are dropped.
func (m *Manager) Reconnect() {
	m.enqueue(command{kind: cmdReconnect})
}

func (m *Manager) enqueue(cmd command) bool {
	select {
	case m.cmds <- cmd:
		return true
	case <-m.stopped:
		return false
	}
}

// Send forwards one payload to the transport. Outside Connected it emits
// a sendFailed event and returns ErrNotConnected; the payload is never
// queued or retried.
func (m *Manager) Send(payload []byte) error {
	m.sendMu.RLock()
	sock := m.sendSock
	m.sendMu.RUnlock()

	if sock == nil || m.State() != StateConnected {
		m.notifySendFailure(payload, ErrNotConnected)
		return ErrNotConnected
	}

	if err := sock.Send(payload); err != nil {
		m.notifySendFailure(payload, err)
		return err
	}
	return nil
}

func (m *Manager) notifySendFailure(payload []byte, err error) {
	failure := SendFailure{Payload: payload, Err: err}
	m.subs.dispatch(EventSendFailed, failure)
	m.bus.Publish(TopicSendFailed, failure)
}

// Subscribe registers a callback for the given event kind and returns
// its handle. Callbacks for one kind run in registration order.
func (m *Manager) Subscribe(kind EventKind, fn Handler) Subscription {
	return m.subs.add(kind, fn)
}

// Unsubscribe removes a registration. Returns false if it was not found.
func (m *Manager) Unsubscribe(sub Subscription) bool {
	return m.subs.remove(sub)
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.stateVal.Load())
}

// Stats returns a diagnostic snapshot.
func (m *Manager) Stats() Stats {
	return Stats{
		State:    State(m.stateVal.Load()),
		Attempts: int(m.attemptsVal.Load()),
		Down:     DownReason(m.downVal.Load()),
	}
}

// run is the event loop. It is the only goroutine that touches the
// connection state, attempt counter, timers and socket handle.
func (m *Manager) run() {
	defer close(m.stopped)

	for {
		select {
		case <-m.ctx.Done():
			m.handleDisconnect()
			return

		case cmd := <-m.cmds:
			switch cmd.kind {
			case cmdConnect:
				m.handleConnect()
			case cmdDisconnect:
				m.handleDisconnect()
			case cmdReconnect:
				m.handleReconnect()
			}
			if cmd.done != nil {
				close(cmd.done)
			}

		case ev := <-m.sockEvents:
			m.handleSocketEvent(ev)

		case <-m.connectTimerC:
			m.connectTimer = nil
			m.connectTimerC = nil
			m.handleConnectTimeout()

		case <-m.retryTimerC:
			m.retryTimer = nil
			m.retryTimerC = nil
			m.handleRetryFire()
		}
	}
}

func (m *Manager) handleConnect() {
	switch m.state {
	case StateConnecting, StateConnected:
		m.logger.Debug("connect ignored", "state", m.state)
		return
	case StateFaulted:
		// The caller asked to skip the pending backoff wait.
		m.stopRetryTimer()
	}
	m.open()
}

// open starts one attempt: fresh socket, connect-timeout armed,
// transition to Connecting.
func (m *Manager) open() {
	m.sock = m.dial()
	m.sockEvents = m.sock.Events()
	m.armConnectTimer()
	m.transition(StateConnecting, DownNone, nil)

	if err := m.sock.Open(m.ctx); err != nil {
		m.failAttempt(err)
	}
}

func (m *Manager) handleDisconnect() {
	m.stopConnectTimer()
	m.stopRetryTimer()
	m.detachSocket(transport.CloseNormal, "client disconnect")
	m.attempts = 0
	m.attemptsVal.Store(0)
	m.lastErr = nil

	if m.state != StateDisconnected {
		m.transition(StateDisconnected, DownRequested, nil)
	} else if m.down != DownRequested {
		// Already down; just record that the caller now owns the stop
		// so the liveness monitor will not resume it.
		m.down = DownRequested
		m.downVal.Store(int32(DownRequested))
	}
}

func (m *Manager) handleReconnect() {
	if !m.lastReconnect.IsZero() && time.Since(m.lastReconnect) < m.cfg.MinReconnectInterval {
		m.logger.Debug("reconnect throttled",
			"since_last", time.Since(m.lastReconnect),
			"min_interval", m.cfg.MinReconnectInterval,
		)
		return
	}
	m.lastReconnect = time.Now()

	m.handleDisconnect()
	m.handleConnect()
}

func (m *Manager) handleSocketEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.KindOpened:
		m.stopConnectTimer()
		m.attempts = 0
		m.attemptsVal.Store(0)
		m.lastErr = nil

		m.sendMu.Lock()
		m.sendSock = m.sock
		m.sendMu.Unlock()

		m.transition(StateConnected, DownNone, nil)

	case transport.KindFrame:
		inbound := Inbound{Data: ev.Data, ReceivedAt: ev.ReceivedAt}
		m.subs.dispatch(EventMessageReceived, inbound)
		m.bus.Publish(TopicMessage, inbound)

	case transport.KindClosed:
		if ev.Code == transport.CloseNormal {
			// Deliberate remote stop: no retry.
			m.logger.Info("peer closed connection", "reason", ev.Reason)
			m.stopConnectTimer()
			m.detachSocket(transport.CloseNormal, "")
			m.transition(StateDisconnected, DownRemote, nil)
			return
		}
		m.failAttempt(fmt.Errorf("abnormal close %d: %s", ev.Code, ev.Reason))

	case transport.KindError:
		m.failAttempt(ev.Err)
	}
}

func (m *Manager) handleConnectTimeout() {
	if m.state != StateConnecting {
		return
	}
	m.logger.Warn("connect timeout", "timeout", m.cfg.ConnectTimeout)
	m.failAttempt(ErrConnectTimeout)
}

// failAttempt is the shared retry path for connect timeouts, transport
// errors and abnormal closes: count the failure, arm the backoff timer,
// move to Faulted.
func (m *Manager) failAttempt(err error) {
	m.stopConnectTimer()
	m.detachSocket(transport.CloseGoingAway, "retrying")

	m.attempts++
	m.attemptsVal.Store(int64(m.attempts))
	m.lastErr = err

	delay := m.cfg.Backoff.Delay(m.attempts)
	m.armRetryTimer(delay)

	m.logger.Warn("connection attempt failed",
		"attempt", m.attempts,
		"max_attempts", m.cfg.MaxAttempts,
		"retry_in", delay,
		"error", err,
	)

	m.transition(StateFaulted, DownNone, err)
	m.bus.Publish(TopicError, err)
}

func (m *Manager) handleRetryFire() {
	if m.state != StateFaulted {
		return
	}

	if m.attempts >= m.cfg.MaxAttempts {
		m.logger.Error("retry attempts exhausted",
			"attempts", m.attempts,
			"error", m.lastErr,
		)
		m.transition(StateDisconnected, DownExhausted, m.lastErr)
		return
	}

	m.open()
}

// transition is the single place state changes. It updates the mirrors
// and emits exactly one stateChanged event, synchronously.
func (m *Manager) transition(to State, down DownReason, err error) {
	from := m.state
	m.state = to
	m.down = down
	m.stateVal.Store(int32(to))
	m.downVal.Store(int32(down))

	m.logger.Info("connection state changed",
		"from", from,
		"to", to,
		"reason", down,
		"attempt", m.attempts,
	)

	change := StateChange{
		From:    from,
		To:      to,
		Reason:  down,
		Attempt: m.attempts,
		Err:     err,
	}
	m.subs.dispatch(EventStateChanged, change)
	m.bus.Publish(TopicState, change)
}

// detachSocket closes and forgets the current socket. After this the
// loop no longer reads its event stream, so anything a stale dial or
// read goroutine emits is simply never observed.
func (m *Manager) detachSocket(code int, reason string) {
	m.sendMu.Lock()
	m.sendSock = nil
	m.sendMu.Unlock()

	if m.sock != nil {
		m.sock.Close(code, reason)
		m.sock = nil
		m.sockEvents = nil
	}
}

func (m *Manager) armConnectTimer() {
	m.stopConnectTimer()
	m.connectTimer = time.NewTimer(m.cfg.ConnectTimeout)
	m.connectTimerC = m.connectTimer.C
}

func (m *Manager) stopConnectTimer() {
	if m.connectTimer != nil {
		m.connectTimer.Stop()
		m.connectTimer = nil
		m.connectTimerC = nil
	}
}

func (m *Manager) armRetryTimer(delay time.Duration) {
	m.stopRetryTimer()
	m.retryTimer = time.NewTimer(delay)
	m.retryTimerC = m.retryTimer.C
}

func (m *Manager) stopRetryTimer() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
		m.retryTimerC = nil
	}
}
