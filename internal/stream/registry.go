package stream

import (
	"sync"
	"time"
)

// Registry maps a client identity to the last delay observed delivering a
// frame to it, and to the time of its last delay warning. Entries outlive
// their sessions and are never pruned; the maps are bounded by the number of
// distinct clients seen.
type Registry struct {
	mu     sync.RWMutex
	delays map[string]time.Duration
	warned map[string]time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		delays: make(map[string]time.Duration),
		warned: make(map[string]time.Time),
	}
}

// AllowWarning reports whether clientID may log a delay warning at now, and
// if so marks it as warned. Every session of one client shares the window.
func (r *Registry) AllowWarning(clientID string, now time.Time, interval time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.warned[clientID]; ok && now.Sub(last) < interval {
		return false
	}
	r.warned[clientID] = now
	return true
}

// Record overwrites the delay for clientID.
func (r *Registry) Record(clientID string, delay time.Duration) {
	r.mu.Lock()
	r.delays[clientID] = delay
	r.mu.Unlock()
}

// Snapshot returns a copy that later Records do not affect.
func (r *Registry) Snapshot() map[string]time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]time.Duration, len(r.delays))
	for k, v := range r.delays {
		out[k] = v
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.delays)
}
