package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig configures a WebSocket socket.
type WebSocketConfig struct {
	URL              string        // ws:// or wss:// endpoint
	Header           http.Header   // optional handshake headers
	HandshakeTimeout time.Duration // dial handshake ceiling
	WriteTimeout     time.Duration // write deadline for sends
	EventBuffer      int           // event channel buffer size
}

// DefaultWebSocketConfig returns sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		EventBuffer:      1024,
	}
}

// WebSocket is a Socket backed by a gorilla/websocket connection.
type WebSocket struct {
	cfg    WebSocketConfig
	logger *slog.Logger

	events chan Event
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	opening bool
	opened  bool
	closed  bool
}

var _ Socket = (*WebSocket)(nil)

// NewWebSocket creates a new, unopened WebSocket socket.
func NewWebSocket(cfg WebSocketConfig, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultWebSocketConfig().EventBuffer
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultWebSocketConfig().HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWebSocketConfig().WriteTimeout
	}

	return &WebSocket{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, cfg.EventBuffer),
		done:   make(chan struct{}),
	}
}

// Open starts the dial in the background. The outcome is reported on
// Events as KindOpened or KindError.
func (s *WebSocket) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.opening || s.opened {
		s.mu.Unlock()
		return ErrAlreadyOpened
	}
	s.opening = true
	s.mu.Unlock()

	go s.dial(ctx)
	return nil
}

func (s *WebSocket) dial(ctx context.Context) {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, s.cfg.Header)
	if err != nil {
		s.emit(Event{Kind: KindError, Err: err})
		return
	}

	s.mu.Lock()
	if s.closed {
		// Closed while the dial was in flight; discard the connection.
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.opened = true
	s.mu.Unlock()

	// Server sends ping, we respond with pong.
	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	go s.readLoop(conn)

	s.logger.Debug("websocket opened", "url", s.cfg.URL)
	s.emit(Event{Kind: KindOpened})
}

// Close stops the socket, sending a close frame with the given code and
// reason when a connection is live. Idempotent.
func (s *WebSocket) Close(code int, reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.opened = false
	conn := s.conn
	s.mu.Unlock()

	close(s.done)

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}

	return nil
}

// Send writes one text frame to the connection.
func (s *WebSocket) Send(payload []byte) error {
	s.mu.Lock()
	if !s.opened || s.closed {
		s.mu.Unlock()
		return ErrNotOpen
	}
	conn := s.conn
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Events returns the inbound event stream.
func (s *WebSocket) Events() <-chan Event {
	return s.events
}

// readLoop reads frames until the connection drops, converting the
// terminating error into a Closed or Error event.
func (s *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-s.done:
				return
			default:
			}

			s.mu.Lock()
			s.opened = false
			s.mu.Unlock()

			if ce, ok := err.(*websocket.CloseError); ok {
				s.emit(Event{Kind: KindClosed, Code: ce.Code, Reason: ce.Text})
			} else {
				s.emit(Event{Kind: KindError, Err: err})
			}
			return
		}

		s.emit(Event{Kind: KindFrame, Data: data, ReceivedAt: receivedAt})
	}
}

func (s *WebSocket) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	default:
		s.logger.Warn("event buffer full, dropping event", "kind", ev.Kind)
	}
}
