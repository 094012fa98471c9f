package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mvisser/tether/internal/backoff"
	"github.com/mvisser/tether/internal/transport"
)

// fakeSocket is an in-memory transport.Socket driven by the test.
type fakeSocket struct {
	mu        sync.Mutex
	events    chan transport.Event
	opened    bool
	closed    bool
	closeCode int
	sent      [][]byte

	// Behavior on Open: emit an error, emit opened, or stay silent.
	failOpen error
	autoOpen bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{events: make(chan transport.Event, 16)}
}

func (s *fakeSocket) Open(ctx context.Context) error {
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()

	if s.failOpen != nil {
		s.events <- transport.Event{Kind: transport.KindError, Err: s.failOpen}
		return nil
	}
	if s.autoOpen {
		s.events <- transport.Event{Kind: transport.KindOpened}
	}
	return nil
}

func (s *fakeSocket) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.closeCode = code
	return nil
}

func (s *fakeSocket) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened || s.closed {
		return transport.ErrNotOpen
	}
	s.sent = append(s.sent, payload)
	return nil
}

func (s *fakeSocket) Events() <-chan transport.Event { return s.events }

func (s *fakeSocket) emitFrame(data []byte) {
	s.events <- transport.Event{Kind: transport.KindFrame, Data: data, ReceivedAt: time.Now()}
}

func (s *fakeSocket) emitClose(code int, reason string) {
	s.events <- transport.Event{Kind: transport.KindClosed, Code: code, Reason: reason}
}

func (s *fakeSocket) sentFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *fakeSocket) isClosed() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.closeCode
}

// fakeFactory records every socket it hands out.
type fakeFactory struct {
	mu      sync.Mutex
	build   func() *fakeSocket
	sockets []*fakeSocket
}

func newFakeFactory(build func() *fakeSocket) *fakeFactory {
	return &fakeFactory{build: build}
}

func (f *fakeFactory) dial() transport.Socket {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.build()
	f.sockets = append(f.sockets, s)
	return s
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sockets)
}

func (f *fakeFactory) last() *fakeSocket {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sockets) == 0 {
		return nil
	}
	return f.sockets[len(f.sockets)-1]
}

func testConfig() Config {
	return Config{
		ConnectTimeout:       2 * time.Second,
		MaxAttempts:          3,
		Backoff:              backoff.Policy{Base: 20 * time.Millisecond, Factor: 2},
		MinReconnectInterval: 50 * time.Millisecond,
	}
}

func startManager(t *testing.T, cfg Config, factory *fakeFactory) *Manager {
	t.Helper()
	m := NewManager(cfg, factory.dial, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Stop(ctx)
	})
	return m
}

func recordStates(m *Manager) <-chan StateChange {
	ch := make(chan StateChange, 64)
	m.Subscribe(EventStateChanged, func(e any) { ch <- e.(StateChange) })
	return ch
}

func waitState(t *testing.T, ch <-chan StateChange, want State) StateChange {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-ch:
			if c.To == want {
				return c
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func TestManager_ConnectSuccess(t *testing.T) {
	factory := newFakeFactory(func() *fakeSocket {
		s := newFakeSocket()
		s.autoOpen = true
		return s
	})
	m := startManager(t, testConfig(), factory)
	states := recordStates(m)

	m.Connect()

	waitState(t, states, StateConnecting)
	waitState(t, states, StateConnected)

	stats := m.Stats()
	if stats.State != StateConnected {
		t.Errorf("state = %v, want connected", stats.State)
	}
	if stats.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", stats.Attempts)
	}
	if factory.count() != 1 {
		t.Errorf("dial count = %d, want 1", factory.count())
	}
}

func TestManager_Connect_NoOpWhileConnecting(t *testing.T) {
	factory := newFakeFactory(newFakeSocket) // silent: stays Connecting
	m := startManager(t, testConfig(), factory)
	states := recordStates(m)

	m.Connect()
	waitState(t, states, StateConnecting)

	m.Connect()
	m.Connect()
	time.Sleep(50 * time.Millisecond)

	if factory.count() != 1 {
		t.Errorf("dial count = %d, want 1 (connect must be a no-op while connecting)", factory.count())
	}
	if got := m.Stats().Attempts; got != 0 {
		t.Errorf("attempts = %d, want 0", got)
	}
}

func TestManager_Connect_NoOpWhileConnected(t *testing.T) {
	factory := newFakeFactory(func() *fakeSocket {
		s := newFakeSocket()
		s.autoOpen = true
		return s
	})
	m := startManager(t, testConfig(), factory)
	states := recordStates(m)

	m.Connect()
	waitState(t, states, StateConnected)

	m.Connect()
	time.Sleep(50 * time.Millisecond)

	if factory.count() != 1 {
		t.Errorf("dial count = %d, want 1", factory.count())
	}
}

func TestManager_RetryExhaustion(t *testing.T) {
	dialErr := errors.New("connection refused")
	factory := newFakeFactory(func() *fakeSocket {
		s := newFakeSocket()
		s.failOpen = dialErr
		return s
	})
	m := startManager(t, testConfig(), factory)
	states := recordStates(m)

	m.Connect()

	var seen []StateChange
	deadline := time.After(5 * time.Second)
collect:
	for {
		select {
		case c := <-states:
			seen = append(seen, c)
			if c.To == StateDisconnected {
				break collect
			}
		case <-deadline:
			t.Fatalf("never reached disconnected; transitions so far: %v", seen)
		}
	}

	var intoConnecting, intoDisconnected int
	for _, c := range seen {
		switch c.To {
		case StateConnecting:
			intoConnecting++
		case StateDisconnected:
			intoDisconnected++
		}
	}
	if intoConnecting != 3 {
		t.Errorf("transitions into connecting = %d, want 3", intoConnecting)
	}
	if intoDisconnected != 1 {
		t.Errorf("transitions into disconnected = %d, want 1", intoDisconnected)
	}

	final := seen[len(seen)-1]
	if final.Reason != DownExhausted {
		t.Errorf("final reason = %v, want exhausted", final.Reason)
	}
	if !errors.Is(final.Err, dialErr) {
		t.Errorf("final err = %v, want %v", final.Err, dialErr)
	}

	if factory.count() != 3 {
		t.Errorf("dial count = %d, want 3", factory.count())
	}

	// No further automatic attempt after exhaustion.
	time.Sleep(200 * time.Millisecond)
	if factory.count() != 3 {
		t.Errorf("dial count after settling = %d, want 3", factory.count())
	}
	if got := m.Stats().Down; got != DownExhausted {
		t.Errorf("down reason = %v, want exhausted", got)
	}
}

func TestManager_DisconnectCancelsRetry(t *testing.T) {
	factory := newFakeFactory(func() *fakeSocket {
		s := newFakeSocket()
		s.failOpen = errors.New("refused")
		return s
	})
	cfg := testConfig()
	cfg.Backoff = backoff.Policy{Base: 100 * time.Millisecond, Factor: 2}
	m := startManager(t, cfg, factory)
	states := recordStates(m)

	m.Connect()
	waitState(t, states, StateFaulted)

	m.Disconnect()

	// The pending retry timer must never fire a new attempt.
	time.Sleep(300 * time.Millisecond)
	if factory.count() != 1 {
		t.Errorf("dial count = %d, want 1 (retry timer must be cancelled)", factory.count())
	}

	stats := m.Stats()
	if stats.State != StateDisconnected {
		t.Errorf("state = %v, want disconnected", stats.State)
	}
	if stats.Down != DownRequested {
		t.Errorf("down reason = %v, want requested", stats.Down)
	}
	if stats.Attempts != 0 {
		t.Errorf("attempts = %d, want 0 after disconnect", stats.Attempts)
	}
}

func TestManager_Disconnect_Idempotent(t *testing.T) {
	factory := newFakeFactory(func() *fakeSocket {
		s := newFakeSocket()
		s.autoOpen = true
		return s
	})
	m := startManager(t, testConfig(), factory)
	states := recordStates(m)

	m.Connect()
	waitState(t, states, StateConnected)

	m.Disconnect()
	waitState(t, states, StateDisconnected)
	m.Disconnect()
	time.Sleep(50 * time.Millisecond)

	// Only one disconnected event total.
	select {
	case c := <-states:
		t.Errorf("unexpected extra transition: %+v", c)
	default:
	}

	closed, code := factory.last().isClosed()
	if !closed {
		t.Error("socket not closed on disconnect")
	}
	if code != transport.CloseNormal {
		t.Errorf("close code = %d, want %d", code, transport.CloseNormal)
	}
}

func TestManager_Send_Connected(t *testing.T) {
	factory := newFakeFactory(func() *fakeSocket {
		s := newFakeSocket()
		s.autoOpen = true
		return s
	})
	m := startManager(t, testConfig(), factory)
	states := recordStates(m)

	m.Connect()
	waitState(t, states, StateConnected)

	if err := m.Send([]byte("payload-1")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	frames := factory.last().sentFrames()
	if len(frames) != 1 {
		t.Fatalf("socket received %d frames, want 1", len(frames))
	}
	if string(frames[0]) != "payload-1" {
		t.Errorf("socket received %q, want %q", frames[0], "payload-1")
	}
}

func TestManager_Send_NotConnected(t *testing.T) {
	factory := newFakeFactory(newFakeSocket)
	m := startManager(t, testConfig(), factory)

	var mu sync.Mutex
	var failures []SendFailure
	m.Subscribe(EventSendFailed, func(e any) {
		mu.Lock()
		failures = append(failures, e.(SendFailure))
		mu.Unlock()
	})

	if err := m.Send([]byte("dropped")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send = %v, want ErrNotConnected", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 1 {
		t.Fatalf("sendFailed events = %d, want 1", len(failures))
	}
	if string(failures[0].Payload) != "dropped" {
		t.Errorf("failure payload = %q, want %q", failures[0].Payload, "dropped")
	}
	if !errors.Is(failures[0].Err, ErrNotConnected) {
		t.Errorf("failure err = %v, want ErrNotConnected", failures[0].Err)
	}

	if factory.count() != 0 {
		t.Errorf("dial count = %d, want 0 (send must never touch the transport)", factory.count())
	}
}

func TestManager_MessageOrder(t *testing.T) {
	factory := newFakeFactory(func() *fakeSocket {
		s := newFakeSocket()
		s.autoOpen = true
		return s
	})
	m := startManager(t, testConfig(), factory)
	states := recordStates(m)

	received := make(chan []byte, 16)
	m.Subscribe(EventMessageReceived, func(e any) {
		received <- e.(Inbound).Data
	})

	m.Connect()
	waitState(t, states, StateConnected)

	sock := factory.last()
	for i := 0; i < 5; i++ {
		sock.emitFrame([]byte{byte('0' + i)})
	}

	for i := 0; i < 5; i++ {
		select {
		case data := <-received:
			if want := string(byte('0' + i)); string(data) != want {
				t.Errorf("frame %d = %q, want %q", i, data, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestManager_AbnormalCloseRetries(t *testing.T) {
	factory := newFakeFactory(func() *fakeSocket {
		s := newFakeSocket()
		s.autoOpen = true
		return s
	})
	m := startManager(t, testConfig(), factory)
	states := recordStates(m)

	m.Connect()
	waitState(t, states, StateConnected)
	if got := m.Stats().Attempts; got != 0 {
		t.Fatalf("attempts after open = %d, want 0", got)
	}

	factory.last().emitClose(transport.CloseAbnormal, "going away")

	faulted := waitState(t, states, StateFaulted)
	if faulted.Attempt != 1 {
		t.Errorf("attempt at fault = %d, want 1 (counter reset by the successful open)", faulted.Attempt)
	}

	// Backoff elapses and a fresh socket reconnects.
	waitState(t, states, StateConnected)
	if factory.count() != 2 {
		t.Errorf("dial count = %d, want 2", factory.count())
	}
	if got := m.Stats().Attempts; got != 0 {
		t.Errorf("attempts after reconnect = %d, want 0", got)
	}
}

func TestManager_RemoteNormalClose(t *testing.T) {
	factory := newFakeFactory(func() *fakeSocket {
		s := newFakeSocket()
		s.autoOpen = true
		return s
	})
	m := startManager(t, testConfig(), factory)
	states := recordStates(m)

	m.Connect()
	waitState(t, states, StateConnected)

	factory.last().emitClose(transport.CloseNormal, "bye")

	final := waitState(t, states, StateDisconnected)
	if final.Reason != DownRemote {
		t.Errorf("reason = %v, want remote", final.Reason)
	}

	time.Sleep(100 * time.Millisecond)
	if factory.count() != 1 {
		t.Errorf("dial count = %d, want 1 (clean remote close must not retry)", factory.count())
	}
}

func TestManager_ConnectTimeout(t *testing.T) {
	factory := newFakeFactory(newFakeSocket) // never opens
	cfg := testConfig()
	cfg.ConnectTimeout = 50 * time.Millisecond
	m := startManager(t, cfg, factory)
	states := recordStates(m)

	m.Connect()

	faulted := waitState(t, states, StateFaulted)
	if !errors.Is(faulted.Err, ErrConnectTimeout) {
		t.Errorf("fault err = %v, want ErrConnectTimeout", faulted.Err)
	}

	closed, _ := factory.sockets[0].isClosed()
	if !closed {
		t.Error("timed-out socket must be forcibly closed")
	}
}

func TestManager_ReconnectThrottle(t *testing.T) {
	factory := newFakeFactory(func() *fakeSocket {
		s := newFakeSocket()
		s.autoOpen = true
		return s
	})
	cfg := testConfig()
	cfg.MinReconnectInterval = 300 * time.Millisecond
	m := startManager(t, cfg, factory)
	states := recordStates(m)

	m.Connect()
	waitState(t, states, StateConnected)

	m.Reconnect()
	m.Reconnect() // inside the throttle window: dropped

	waitState(t, states, StateConnected)
	time.Sleep(100 * time.Millisecond)

	if factory.count() != 2 {
		t.Errorf("dial count = %d, want 2 (one net disconnect+connect pair)", factory.count())
	}

	var disconnects int
	for {
		select {
		case c := <-states:
			if c.To == StateDisconnected {
				disconnects++
			}
			continue
		default:
		}
		break
	}
	if disconnects != 0 {
		t.Errorf("extra disconnect transitions = %d, want 0 beyond the consumed pair", disconnects)
	}
}

func TestManager_ConnectFromFaultedSkipsWait(t *testing.T) {
	factory := newFakeFactory(func() *fakeSocket {
		s := newFakeSocket()
		s.failOpen = errors.New("refused")
		return s
	})
	cfg := testConfig()
	cfg.Backoff = backoff.Policy{Base: 10 * time.Second, Factor: 2} // effectively forever
	m := startManager(t, cfg, factory)
	states := recordStates(m)

	m.Connect()
	waitState(t, states, StateFaulted)

	m.Connect()
	waitState(t, states, StateConnecting)

	if factory.count() != 2 {
		t.Errorf("dial count = %d, want 2 (manual connect skips the backoff wait)", factory.count())
	}
}

func TestManager_StopReleasesEverything(t *testing.T) {
	factory := newFakeFactory(func() *fakeSocket {
		s := newFakeSocket()
		s.autoOpen = true
		return s
	})
	m := NewManager(testConfig(), factory.dial, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	states := recordStates(m)

	m.Connect()
	waitState(t, states, StateConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	closed, code := factory.last().isClosed()
	if !closed || code != transport.CloseNormal {
		t.Errorf("socket closed=%v code=%d, want normal close on stop", closed, code)
	}
	if got := m.State(); got != StateDisconnected {
		t.Errorf("state after stop = %v, want disconnected", got)
	}
}
