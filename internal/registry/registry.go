// Package registry is the single source of truth for which identities
// currently hold a live transport. All writers remove stale entries before
// writing new ones; the newest open wins and the displaced transport is
// handed back to the caller for teardown.
package registry

import (
	"sort"
	"sync"

	"github.com/okynn/senderctl/internal/identity"
	"github.com/okynn/senderctl/internal/observability"
	"github.com/okynn/senderctl/internal/transport"
)

// Registry maps identities to live transport handles.
type Registry struct {
	mu    sync.RWMutex
	items map[identity.Identity]transport.Transport
}

// New creates an empty session registry.
func New() *Registry {
	return &Registry{items: make(map[identity.Identity]transport.Transport)}
}

// Register stores the transport for an identity and returns any displaced
// handle. The caller that receives a non-nil displaced transport owns its
// teardown; the registry never closes handles itself.
func (r *Registry) Register(id identity.Identity, tr transport.Transport) transport.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.items[id]
	if prev == tr {
		return nil
	}
	r.items[id] = tr
	observability.SetLiveSessions(len(r.items))
	return prev
}

// Remove drops the identity's entry only when it still holds the given
// handle. A stale attempt observing a late close therefore cannot evict a
// newer winner's registration.
func (r *Registry) Remove(id identity.Identity, tr transport.Transport) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.items[id]
	if !ok || current != tr {
		return false
	}
	delete(r.items, id)
	observability.SetLiveSessions(len(r.items))
	return true
}

// Evict drops the identity's entry unconditionally and returns the handle
// that was registered, if any. Used by explicit sender removal.
func (r *Registry) Evict(id identity.Identity) (transport.Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.items[id]
	if !ok {
		return nil, false
	}
	delete(r.items, id)
	observability.SetLiveSessions(len(r.items))
	return current, true
}

// Get returns the live transport for an identity, if registered.
func (r *Registry) Get(id identity.Identity) (transport.Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tr, ok := r.items[id]
	return tr, ok
}

// Has reports whether the identity currently holds a live transport.
func (r *Registry) Has(id identity.Identity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[id]
	return ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Identities returns all registered identities in deterministic order.
func (r *Registry) Identities() []identity.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]identity.Identity, 0, len(r.items))
	for id := range r.items {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tenant != out[j].Tenant {
			return out[i].Tenant < out[j].Tenant
		}
		return out[i].Number < out[j].Number
	})
	return out
}
