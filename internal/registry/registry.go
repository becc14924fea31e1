package registry

import "sync"

// Handle is the live outbound endpoint for one connected user. The server's
// websocket session satisfies it; tests substitute fakes.
type Handle interface {
	// SessionID distinguishes handles so a stale cleanup can be told apart
	// from a fresh registration for the same user.
	SessionID() string
	// Close tears down the underlying channel. Must be idempotent.
	Close() error
}

// ConnectionRegistry maps a user id to at most one live handle.
type ConnectionRegistry interface {
	Register(userID int64, h Handle) (replaced bool)
	Deregister(userID int64, h Handle) bool
	Lookup(userID int64) (Handle, bool)
	Range(fn func(userID int64, h Handle) bool)
	Count() int
}

// InMemoryRegistry is a mutex-guarded map registry.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	conns map[int64]Handle
}

var _ ConnectionRegistry = (*InMemoryRegistry)(nil)

// NewInMemory creates an empty registry.
func NewInMemory() *InMemoryRegistry {
	return &InMemoryRegistry{
		conns: make(map[int64]Handle),
	}
}

// Register installs h as the user's handle, closing and discarding any prior
// handle for the same user. Returns whether a replacement occurred.
func (r *InMemoryRegistry) Register(userID int64, h Handle) bool {
	r.mu.Lock()
	prev, existed := r.conns[userID]
	r.conns[userID] = h
	r.mu.Unlock()

	// Close outside the lock: the evicted session's teardown may call back
	// into Deregister.
	if existed && prev != h {
		_ = prev.Close()
	}
	return existed
}

// Deregister removes the user's entry only if it still points at h, so a late
// cleanup from a superseded session never clobbers a newer registration.
func (r *InMemoryRegistry) Deregister(userID int64, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.conns[userID]
	if !ok || cur != h {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Lookup fetches the user's live handle, if any.
func (r *InMemoryRegistry) Lookup(userID int64) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.conns[userID]
	return h, ok
}

// Range iterates over a snapshot of the current registrations so fn never
// runs under the registry lock.
func (r *InMemoryRegistry) Range(fn func(userID int64, h Handle) bool) {
	if fn == nil {
		return
	}

	type entry struct {
		userID int64
		h      Handle
	}

	r.mu.RLock()
	snapshot := make([]entry, 0, len(r.conns))
	for id, h := range r.conns {
		snapshot = append(snapshot, entry{userID: id, h: h})
	}
	r.mu.RUnlock()

	for _, e := range snapshot {
		if !fn(e.userID, e.h) {
			return
		}
	}
}

// Count returns the number of registered handles.
func (r *InMemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
