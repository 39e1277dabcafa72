// Package federation implements the HQ/Remote Federation component (C9):
// remote-role registration with an HQ, HQ-role registry/health-checking,
// session list/request fan-out, and WebSocket buffer-subscription
// proxying. One codebase plays both roles depending on configuration.
//
// Grounded on the teacher's long-lived in-memory registries (an
// RWMutex-guarded map, injectable clock for testability) generalized
// from session bookkeeping to remote bookkeeping.
package federation

import (
	"sync"
	"time"
)

// Registration is a RemoteRegistration from spec.md §3, held only by the
// HQ role.
type Registration struct {
	ID            string
	Name          string
	BaseURL       string
	BearerToken   string
	LastHealthy   time.Time
	OwnedSessionIDs []string

	consecutiveFailures int
}

// Public strips the bearer token for the GET /api/remotes response.
func (r Registration) Public() Registration {
	r.BearerToken = ""
	return r
}

// Registry is the HQ-role's in-memory table of registered remotes.
type Registry struct {
	mu      sync.RWMutex
	remotes map[string]*Registration

	now func() time.Time // test seam
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		remotes: make(map[string]*Registration),
		now:     time.Now,
	}
}

// Register adds or replaces a remote's registration. Re-registering an
// existing id replaces the old entry outright: any in-flight proxied
// request or WS subscription tied to the old connection is simply
// abandoned by the caller that owned it, since nothing here references
// Registration by pointer identity across calls.
func (r *Registry) Register(id, name, baseURL, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remotes[id] = &Registration{
		ID:          id,
		Name:        name,
		BaseURL:     baseURL,
		BearerToken: token,
		LastHealthy: r.now(),
	}
}

// Unregister removes a remote immediately (graceful DELETE or eviction).
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.remotes, id)
}

// Get returns a copy of a remote's registration.
func (r *Registry) Get(id string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.remotes[id]
	if !ok {
		return Registration{}, false
	}
	return *reg, true
}

// List returns a stable-enough snapshot of every registered remote.
func (r *Registry) List() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, 0, len(r.remotes))
	for _, reg := range r.remotes {
		out = append(out, *reg)
	}
	return out
}

// SetOwnedSessions updates the session ids a remote reports owning,
// called after each successful /sessions fan-out.
func (r *Registry) SetOwnedSessions(id string, sessionIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.remotes[id]; ok {
		reg.OwnedSessionIDs = sessionIDs
	}
}

// OwnerOf returns the remote id owning sessionID, if any, for routing
// session-scoped requests.
func (r *Registry) OwnerOf(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, reg := range r.remotes {
		for _, owned := range reg.OwnedSessionIDs {
			if owned == sessionID {
				return id, true
			}
		}
	}
	return "", false
}

// recordHealthy resets a remote's failure counter and stamps LastHealthy.
// Returns false if the remote is no longer registered (already evicted).
func (r *Registry) recordHealthy(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.remotes[id]
	if !ok {
		return false
	}
	reg.consecutiveFailures = 0
	reg.LastHealthy = r.now()
	return true
}

// recordFailure increments a remote's failure counter and evicts it once
// it reaches maxConsecutiveFailures, per spec.md §4.9. Returns true if
// the remote was evicted by this call.
func (r *Registry) recordFailure(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.remotes[id]
	if !ok {
		return false
	}
	reg.consecutiveFailures++
	if reg.consecutiveFailures >= maxConsecutiveFailures {
		delete(r.remotes, id)
		return true
	}
	return false
}
