package session

import "sync"

// Gate is the single-flight lock guarding the outbound send path. A send
// that cannot acquire it is dropped, not queued.
type Gate struct {
	mu   sync.Mutex
	held bool
}

// TryAcquire takes the gate. It returns false if a send is already in
// flight.
func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return false
	}
	g.held = true
	return true
}

// Release frees the gate. Releasing a free gate is a no-op.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.held = false
}

// Busy reports whether a send is in flight.
func (g *Gate) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}
