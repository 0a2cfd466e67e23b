package presence

import (
	"chatify/internal/models"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Handle is a live connection that events can be pushed to.
type Handle interface {
	ID() string
	// Send queues an event for delivery. It reports false when the event was dropped.
	Send(ev models.Event) bool
}

// Registry maps identities to the single connection currently owning them.
type Registry struct {
	entries map[string]Handle

	mu sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Handle),
	}
}

// Join upserts the entry for identity. A later join for the same identity
// takes over routing from the previous handle.
func (r *Registry) Join(identity string, h Handle) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced = r.entries[identity]
	r.entries[identity] = h
	return replaced
}

// LeaveIdentity removes the entry for identity, if any.
func (r *Registry) LeaveIdentity(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[identity]; !ok {
		return false
	}
	delete(r.entries, identity)
	return true
}

// LeaveHandle removes every entry still owned by the handle and returns the identities removed.
// Entries that were taken over by a newer handle are left alone.
func (r *Registry) LeaveHandle(handleID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := lo.FilterMapToSlice(r.entries, func(identity string, h Handle) (string, bool) {
		return identity, h.ID() == handleID
	})
	for _, identity := range removed {
		delete(r.entries, identity)
	}
	sort.Strings(removed)
	return removed
}

func (r *Registry) Find(identity string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.entries[identity]
	return h, ok
}

// Entries returns the presence list sorted by identity.
func (r *Registry) Entries() models.PresenceList {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := lo.MapToSlice(r.entries, func(identity string, h Handle) models.Peer {
		return models.Peer{Identity: identity, Handle: h.ID()}
	})
	sort.Slice(list, func(i, j int) bool {
		return list[i].Identity < list[j].Identity
	})
	return list
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
