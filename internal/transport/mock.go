package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var errMockClosed = errors.New("mock socket: closed")

// MockDialer implements Dialer for testing. Each Dial returns a fresh
// MockSocket unless a failure is queued.
type MockDialer struct {
	mu      sync.Mutex
	urls    []string
	sockets []*MockSocket
	fails   []error
	dialed  chan *MockSocket
}

// NewMockDialer creates a MockDialer.
func NewMockDialer() *MockDialer {
	return &MockDialer{dialed: make(chan *MockSocket, 16)}
}

// Dial records the URL and returns a new MockSocket or the next queued
// failure.
func (d *MockDialer) Dial(ctx context.Context, rawURL string) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, rawURL)
	if len(d.fails) > 0 {
		err := d.fails[0]
		d.fails = d.fails[1:]
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := NewMockSocket()
	d.sockets = append(d.sockets, s)
	select {
	case d.dialed <- s:
	default:
	}
	return s, nil
}

// --- Test helpers ---

// FailNext queues errors returned by the next Dial calls.
func (d *MockDialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fails = append(d.fails, errs...)
}

// URLs returns every dialed URL.
func (d *MockDialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.urls))
	copy(out, d.urls)
	return out
}

// LastSocket returns the most recently dialed socket.
func (d *MockDialer) LastSocket() (*MockSocket, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil, false
	}
	return d.sockets[len(d.sockets)-1], true
}

// Dialed delivers each socket as it is created.
func (d *MockDialer) Dialed() <-chan *MockSocket {
	return d.dialed
}

type mockRead struct {
	data []byte
	err  error
}

// MockSocket implements Socket for testing. It records written frames and
// lets tests inject inbound frames, read errors and closes.
type MockSocket struct {
	mu         sync.Mutex
	inbound    chan mockRead
	done       chan struct{}
	closed     bool
	sent       [][]byte
	closeCode  int
	writeErr   error
	closeFrame bool
}

// NewMockSocket creates an open MockSocket.
func NewMockSocket() *MockSocket {
	return &MockSocket{
		inbound: make(chan mockRead, 100),
		done:    make(chan struct{}),
	}
}

// ReadMessage blocks until a simulated frame, error or Close.
func (s *MockSocket) ReadMessage() ([]byte, error) {
	select {
	case r := <-s.inbound:
		return r.data, r.err
	case <-s.done:
		return nil, errMockClosed
	}
}

// WriteMessage records the frame.
func (s *MockSocket) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errMockClosed
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	return nil
}

// WriteClose records the close code.
func (s *MockSocket) WriteClose(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errMockClosed
	}
	s.closeFrame = true
	s.closeCode = code
	return nil
}

// Close unblocks pending reads.
func (s *MockSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}

// --- Test helpers ---

// SimulateFrame delivers a raw inbound frame.
func (s *MockSocket) SimulateFrame(data string) {
	s.inbound <- mockRead{data: []byte(data)}
}

// SimulateClose makes the peer close the channel with code and reason.
func (s *MockSocket) SimulateClose(code int, reason string) {
	s.inbound <- mockRead{err: &CloseError{Code: code, Reason: reason}}
}

// SimulateReadError makes the next read fail with err.
func (s *MockSocket) SimulateReadError(err error) {
	s.inbound <- mockRead{err: err}
}

// FailWrites makes subsequent writes return err.
func (s *MockSocket) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Sent returns a copy of every written frame as strings.
func (s *MockSocket) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, b := range s.sent {
		out[i] = string(b)
	}
	return out
}

// LastSent returns the most recent frame. Returns "" and false if nothing
// was written.
func (s *MockSocket) LastSent() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return "", false
	}
	return string(s.sent[len(s.sent)-1]), true
}

// Closed reports whether Close was called.
func (s *MockSocket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseCode returns the code passed to WriteClose, or 0.
func (s *MockSocket) CloseCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closeFrame {
		return 0
	}
	return s.closeCode
}

// String describes the socket for test failure messages.
func (s *MockSocket) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("MockSocket{sent=%d closed=%v}", len(s.sent), s.closed)
}
