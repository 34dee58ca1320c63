// Package transport manages the live message channel to the support backend.
//
// A Manager owns one socket at a time and walks an explicit state machine
// (Disconnected → Connecting → Open → Closed). Everything the socket
// reports is delivered, in arrival order, on the Events channel.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/chatline/internal/protocol"
)

// Close codes used by the manager.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

var (
	// ErrNotConnected is returned by Publish when the channel is not open.
	ErrNotConnected = errors.New("not connected")
	// ErrMalformedFrame wraps inbound frames that are not valid envelopes.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrInvalidTransition is returned for state changes the machine forbids.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists the legal moves of the state machine.
var transitions = map[State][]State{
	StateDisconnected: {StateConnecting, StateClosed},
	StateConnecting:   {StateOpen, StateClosed},
	StateOpen:         {StateClosed},
	StateClosed:       {StateConnecting},
}

// EventKind discriminates Event.
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventMalformed
	EventError
	EventClose
)

// Event is one occurrence on the channel.
type Event struct {
	Kind     EventKind
	Envelope protocol.Envelope // EventMessage
	Err      error             // EventMalformed, EventError
	Code     int               // EventClose
	Reason   string            // EventClose
	// Retrying is set on an EventClose that will be followed by a
	// reconnect attempt. The last EventClose always has it unset.
	Retrying bool
}

// CloseError reports a closure of the underlying socket.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("socket closed (code %d)", e.Code)
	}
	return fmt.Sprintf("socket closed (code %d): %s", e.Code, e.Reason)
}

// Socket is one established bidirectional message channel. ReadMessage
// returns a *CloseError when the peer closes the channel.
type Socket interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	WriteClose(code int, reason string) error
	Close() error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Socket, error)
}

// ReconnectPolicy bounds automatic reconnection after an abnormal close.
// The zero value disables reconnection.
type ReconnectPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Enabled reports whether the policy allows any reconnect attempt.
func (p ReconnectPolicy) Enabled() bool {
	return p.MaxAttempts > 0
}

// Backoff returns the wait before the given zero-based attempt.
func (p ReconnectPolicy) Backoff(attempt int) time.Duration {
	base := p.BaseBackoff
	if base <= 0 {
		base = 2 * time.Second
	}
	wait := base
	for i := 0; i < attempt; i++ {
		if p.MaxBackoff > 0 && wait >= p.MaxBackoff {
			break
		}
		if wait > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		wait *= 2
	}
	if p.MaxBackoff > 0 && wait > p.MaxBackoff {
		wait = p.MaxBackoff
	}
	return wait
}

// Manager owns the live channel.
type Manager struct {
	dialer           Dialer
	baseURL          string
	reconnect        ReconnectPolicy
	handshakeTimeout time.Duration

	mu         sync.Mutex
	state      State
	sock       Socket
	closing    bool
	launchData string

	events    chan Event
	stop      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
}

// Opts holds parameters for creating a Manager.
type Opts struct {
	BaseURL          string // http(s) or ws(s) origin of the backend
	Dialer           Dialer // defaults to a gorilla/websocket dialer
	Reconnect        ReconnectPolicy
	HandshakeTimeout time.Duration // 0 means no timeout
	EventBuffer      int           // defaults to 64
}

// New creates a Manager in the Disconnected state.
func New(opts Opts) (*Manager, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("transport: base url is required")
	}
	if _, err := WebSocketURL(opts.BaseURL, ""); err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = NewWebsocketDialer(opts.HandshakeTimeout)
	}
	buf := opts.EventBuffer
	if buf <= 0 {
		buf = 64
	}
	return &Manager{
		dialer:           dialer,
		baseURL:          opts.BaseURL,
		reconnect:        opts.Reconnect,
		handshakeTimeout: opts.HandshakeTimeout,
		events:           make(chan Event, buf),
		stop:             make(chan struct{}),
	}, nil
}

// WebSocketURL builds the channel endpoint for base: http maps to ws and
// https to wss, and the launch data travels in the initData parameter.
func WebSocketURL(base, launchData string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("transport: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("transport: base url %q: unsupported scheme %q", base, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("transport: base url %q has no host", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = "initData=" + url.QueryEscape(launchData)
	u.Fragment = ""
	return u.String(), nil
}

// Events returns the event stream. It is closed after the terminal
// EventClose.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// transition moves the machine to next. Callers hold m.mu.
func (m *Manager) transition(next State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("transport: %s → %s: %w", m.state, next, ErrInvalidTransition)
}

// moveTo applies a transition the caller expects to be legal and logs it
// when the machine rejects it. Callers hold m.mu.
func (m *Manager) moveTo(next State) {
	if err := m.transition(next); err != nil {
		log.Printf("transport: %v", err)
	}
}

// Connect opens the channel. A dial failure is reported both as events
// (EventError, then EventClose with code 1006) and as the returned error.
func (m *Manager) Connect(ctx context.Context, launchData string) error {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return fmt.Errorf("transport: connect: manager closed: %w", ErrNotConnected)
	}
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("transport: connect from %s: %w", state, ErrInvalidTransition)
	}
	m.moveTo(StateConnecting)
	m.launchData = launchData
	m.mu.Unlock()

	if err := m.dial(ctx); err != nil {
		m.finish(CloseAbnormal, err.Error())
		return err
	}
	return nil
}

// dial opens a socket while Connecting. On failure it leaves the machine
// Closed and emits EventError.
func (m *Manager) dial(ctx context.Context) error {
	u, err := WebSocketURL(m.baseURL, m.launchData)
	if err != nil {
		return err
	}
	dctx := ctx
	if m.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, m.handshakeTimeout)
		defer cancel()
	}

	sock, err := m.dialer.Dial(dctx, u)
	if err != nil {
		m.mu.Lock()
		m.moveTo(StateClosed)
		m.mu.Unlock()
		err = fmt.Errorf("transport: dial: %w", err)
		m.emit(Event{Kind: EventError, Err: err})
		return err
	}

	m.mu.Lock()
	if m.closing {
		m.moveTo(StateClosed)
		m.mu.Unlock()
		sock.Close()
		return fmt.Errorf("transport: dial: %w", ErrNotConnected)
	}
	m.sock = sock
	m.moveTo(StateOpen)
	m.mu.Unlock()

	m.emit(Event{Kind: EventOpen})
	go m.readLoop(sock)
	return nil
}

// readLoop pumps inbound frames until the socket ends.
func (m *Manager) readLoop(sock Socket) {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			m.handleReadError(sock, err)
			return
		}
		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			m.emit(Event{Kind: EventMalformed, Err: fmt.Errorf("transport: %w: %v", ErrMalformedFrame, err)})
			continue
		}
		m.emit(Event{Kind: EventMessage, Envelope: env})
	}
}

func (m *Manager) handleReadError(sock Socket, err error) {
	sock.Close()

	m.mu.Lock()
	closing := m.closing
	if m.sock == sock {
		m.sock = nil
	}
	m.moveTo(StateClosed)
	m.mu.Unlock()

	code, reason := CloseAbnormal, ""
	var ce *CloseError
	switch {
	case errors.As(err, &ce):
		code, reason = ce.Code, ce.Reason
	case closing:
		code = CloseNormal
	default:
		m.emit(Event{Kind: EventError, Err: fmt.Errorf("transport: read: %w", err)})
	}
	m.afterClose(code, reason, 0)
}

// afterClose emits the close event and either reconnects or terminates the
// event stream. attempt counts reconnects already made.
func (m *Manager) afterClose(code int, reason string, attempt int) {
	for {
		m.mu.Lock()
		closing := m.closing
		m.mu.Unlock()

		retry := !closing && code != CloseNormal && attempt < m.reconnect.MaxAttempts
		if !retry {
			m.finish(code, reason)
			return
		}
		m.emit(Event{Kind: EventClose, Code: code, Reason: reason, Retrying: true})

		wait := m.reconnect.Backoff(attempt)
		attempt++
		log.Printf("transport: reconnect attempt %d/%d in %v", attempt, m.reconnect.MaxAttempts, wait)
		select {
		case <-m.stop:
			m.finish(CloseNormal, "")
			return
		case <-time.After(wait):
		}

		m.mu.Lock()
		err := m.transition(StateConnecting)
		m.mu.Unlock()
		if err != nil {
			log.Printf("transport: reconnect: %v", err)
			m.terminate()
			return
		}
		if err := m.dial(context.Background()); err != nil {
			code, reason = CloseAbnormal, err.Error()
			continue
		}
		return
	}
}

// Publish writes one frame. It fails with ErrNotConnected unless Open.
func (m *Manager) Publish(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateOpen || m.sock == nil {
		return fmt.Errorf("transport: publish: %w", ErrNotConnected)
	}
	if err := m.sock.WriteMessage(frame); err != nil {
		return fmt.Errorf("transport: publish: %w", err)
	}
	return nil
}

// Close ends the channel with a normal closure and disables reconnection.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return nil
	}
	m.closing = true
	sock := m.sock
	state := m.state
	if state == StateDisconnected {
		m.moveTo(StateClosed)
	}
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stop) })

	switch {
	case sock != nil:
		if err := sock.WriteClose(CloseNormal, ""); err != nil {
			log.Printf("transport: write close: %v", err)
		}
		// The read loop observes the closed socket and finishes the stream.
		return sock.Close()
	case state == StateDisconnected:
		m.finish(CloseNormal, "")
	}
	return nil
}

func (m *Manager) emit(ev Event) {
	m.events <- ev
}

// finish emits the terminal EventClose and ends the stream.
func (m *Manager) finish(code int, reason string) {
	m.emit(Event{Kind: EventClose, Code: code, Reason: reason})
	m.terminate()
}

func (m *Manager) terminate() {
	m.closeOnce.Do(func() { close(m.events) })
}
