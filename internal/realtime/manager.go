package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/confdex/assistant-client/internal/apperrors"
	"github.com/confdex/assistant-client/internal/logger"
)

var (
	// ErrEmptyCredential is returned by Connect for a null/empty
	// credential. The manager never opens an unauthenticated channel.
	ErrEmptyCredential = errors.New("realtime: empty credential")

	// ErrNotReady is returned by Send before the readiness signal.
	ErrNotReady = errors.New("realtime: channel not ready")
)

// serverMessage is the wire envelope of every inbound channel message.
type serverMessage struct {
	Type          string                `json:"type"`
	Message       string                `json:"message,omitempty"`
	UserID        string                `json:"userId,omitempty"`
	Email         string                `json:"email,omitempty"`
	Conversations []ConversationSummary `json:"conversations,omitempty"`
}

// Options configures a Manager.
type Options struct {
	SocketURL       string
	Dialer          Dialer // nil means the production websocket dialer
	Fatal           *FatalLatch
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Manager owns the single authenticated long-lived channel to the chat
// backend. It is the only component allowed to open or close the
// channel; everything else sends through it or consumes its event
// stream.
//
// State machine:
//
//	idle -> connecting -> connected
//	connected -> disconnected -> connecting   (non-local drop, retryable)
//	any -> auth_error                          (credential rejected; terminal
//	                                            until the credential changes)
//	any -> connection_error                    (dial retries exhausted)
//	any -> idle                                (explicit local close)
//	any -> fatal_error                         (fatal latch tripped)
//
// Events are delivered to a single consumer channel; sends never block
// the read loop (lagging consumers drop events with a warning).
type Manager struct {
	socketURL string
	dialer    Dialer
	fatal     *FatalLatch

	maxAttempts     uint
	initialInterval time.Duration
	maxInterval     time.Duration

	log    *logger.Logger
	events chan Event

	mu         sync.Mutex
	state      State
	credential string
	conn       Conn
	cancel     context.CancelFunc
	ready      bool
	localClose bool
	generation int
}

// NewManager creates a manager in the idle state.
func NewManager(opts Options, log *logger.Logger) *Manager {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	fatal := opts.Fatal
	if fatal == nil {
		fatal = &FatalLatch{}
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 5
	}
	initial := opts.InitialInterval
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	max := opts.MaxInterval
	if max <= 0 {
		max = 15 * time.Second
	}

	return &Manager{
		socketURL:       opts.SocketURL,
		dialer:          dialer,
		fatal:           fatal,
		maxAttempts:     maxAttempts,
		initialInterval: initial,
		maxInterval:     max,
		log:             log.WithComponent("realtime-manager"),
		events:          make(chan Event, 64),
		state:           StateIdle,
	}
}

// Events returns the single consumer channel of typed notifications.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Fatal returns the shared fatal latch.
func (m *Manager) Fatal() *FatalLatch {
	return m.fatal
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens (or rebinds) the channel with the given credential.
// It is idempotent: the same credential while connecting/connected is
// a no-op. A different credential forces disconnect-then-reconnect and
// counts as an explicit new session, clearing the fatal latch.
func (m *Manager) Connect(credential string) error {
	if credential == "" {
		return ErrEmptyCredential
	}

	m.mu.Lock()

	active := m.state == StateConnecting || m.state == StateConnected
	if active && credential == m.credential {
		m.mu.Unlock()
		return nil
	}

	rebind := credential != m.credential && m.credential != ""
	if m.cancel != nil {
		// Tear down the previous session before starting a new one.
		m.localClose = true
		m.cancel()
		if m.conn != nil {
			m.conn.Close()
		}
	}

	if rebind || m.state == StateFatalError || m.state == StateAuthError {
		// Explicit new-session action: only this clears a fatal latch.
		m.fatal.Reset()
	}

	m.credential = credential
	m.localClose = false
	m.ready = false
	m.generation++
	gen := m.generation

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	go m.supervise(ctx, credential, gen)
	return nil
}

// UpdateCredential rebinds the channel to a new credential. An empty
// credential disconnects proactively instead of waiting for the server
// to reject the stale one.
func (m *Manager) UpdateCredential(credential string) error {
	if credential == "" {
		m.Disconnect()
		return nil
	}
	return m.Connect(credential)
}

// Disconnect closes the channel locally. No error is surfaced; the
// state returns to idle.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return
	}
	m.localClose = true
	m.ready = false
	m.cancel()
	m.cancel = nil
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	gen := m.generation
	m.mu.Unlock()

	m.setState(gen, StateIdle, "")
}

// Send writes a command to the channel. Commands are gated on the
// post-connect readiness signal.
func (m *Manager) Send(v interface{}) error {
	m.mu.Lock()
	conn, ready := m.conn, m.ready
	m.mu.Unlock()

	if conn == nil || !ready {
		return ErrNotReady
	}
	return conn.WriteJSON(v)
}

// supervise runs one session generation: connect with retry, serve the
// read loop, reconnect on non-local drops until a terminal condition.
func (m *Manager) supervise(ctx context.Context, credential string, gen int) {
	for {
		if ctx.Err() != nil {
			return
		}
		if m.fatal.Tripped() {
			m.setState(gen, StateFatalError, "session marked fatal")
			return
		}

		conn, err := m.connectWithRetry(ctx, credential, gen)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return
			case apperrors.IsAuth(err):
				m.setState(gen, StateAuthError, err.Error())
			case apperrors.IsFatal(err):
				m.setState(gen, StateFatalError, err.Error())
			default:
				m.setState(gen, StateConnectionError, err.Error())
			}
			return
		}

		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			conn.Close()
			return
		}
		m.conn = conn
		m.mu.Unlock()

		m.setState(gen, StateConnected, "")

		err = m.serve(ctx, conn, gen)

		m.mu.Lock()
		local := m.localClose
		if m.conn == conn {
			m.conn = nil
		}
		m.ready = false
		m.mu.Unlock()

		if err == nil || local || ctx.Err() != nil {
			m.setState(gen, StateIdle, "")
			return
		}
		if m.fatal.Tripped() {
			// Already fatal; a redundant disconnect message would only
			// add noise.
			m.log.Debug("disconnect after fatal, suppressing",
				slog.String("error", err.Error()))
			m.setState(gen, StateFatalError, "")
			return
		}

		// Transient drop with a non-local reason: neutral status, then
		// reconnect with the same credential.
		m.setState(gen, StateDisconnected, err.Error())
	}
}

// connectWithRetry dials and performs the handshake under a bounded
// exponential backoff. Auth rejections and fatal conditions are
// permanent; everything else retries.
func (m *Manager) connectWithRetry(ctx context.Context, credential string, gen int) (Conn, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = m.initialInterval
	expo.MaxInterval = m.maxInterval

	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(m.maxAttempts)), ctx)

	var conn Conn
	operation := func() error {
		if m.fatal.Tripped() {
			return backoff.Permanent(apperrors.NewFatal("session marked fatal"))
		}

		m.setState(gen, StateConnecting, "")

		c, err := m.dialer.Dial(ctx, m.socketURL, credential)
		if err != nil {
			m.log.Warn("dial failed", slog.String("error", err.Error()))
			return apperrors.NewTransient("dial", err)
		}

		if err := m.handshake(c); err != nil {
			c.Close()
			if apperrors.IsAuth(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		conn = c
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return conn, nil
}

// handshake reads the server's first message: connect, auth_error, or
// anything else (treated as a generic connect failure).
func (m *Manager) handshake(conn Conn) error {
	data, err := conn.ReadMessage()
	if err != nil {
		return apperrors.NewTransient("handshake read", err)
	}

	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return apperrors.NewTransient("handshake decode", err)
	}

	switch msg.Type {
	case "connect":
		return nil
	case "auth_error":
		return apperrors.NewAuthError(msg.Message)
	default:
		return apperrors.NewTransient("handshake", errors.New("unexpected message "+msg.Type))
	}
}

// serve reads channel messages until the connection drops. Returns nil
// for context cancellation; transport errors otherwise.
func (m *Manager) serve(ctx context.Context, conn Conn, gen int) error {
	// Unblock the read on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return apperrors.NewTransient("read", err)
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.log.Warn("undecodable channel message", slog.String("error", err.Error()))
			continue
		}

		switch msg.Type {
		case "connection_ready":
			m.mu.Lock()
			if gen == m.generation {
				m.ready = true
			}
			m.mu.Unlock()
			m.emit(Ready{UserID: msg.UserID, Email: msg.Email})
		case "conversation_list":
			m.emit(ListUpdate{Conversations: msg.Conversations})
		default:
			m.log.Warn("unknown channel message type", slog.String("type", msg.Type))
		}
	}
}

// setState records a transition and emits it, ignoring updates from
// superseded session generations.
func (m *Manager) setState(gen int, state State, reason string) {
	m.mu.Lock()
	if gen != m.generation || m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.mu.Unlock()

	m.log.Info("connection state changed",
		slog.String("state", string(state)),
		slog.String("reason", reason))
	m.emit(StateChanged{State: state, Reason: reason})
}

// emit delivers an event without ever blocking the read loop.
func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.log.Warn("event channel full, dropping event")
	}
}
