package relay

import "sync"

// PresenceTracker counts currently open connections for the whole process.
// The count mirrors live connection state only; it is not persisted and
// restarts at zero.
type PresenceTracker struct {
	mu    sync.Mutex
	count int
}

// NewPresenceTracker returns a tracker starting at zero.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{}
}

// Increment records a new connection and returns the updated count.
func (p *PresenceTracker) Increment() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.count++
	return p.count
}

// Decrement records a closed connection and returns the updated count,
// clamped at zero.
func (p *PresenceTracker) Decrement() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.count > 0 {
		p.count--
	}
	return p.count
}

// Count returns the current number of open connections.
func (p *PresenceTracker) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.count
}
