package presence

import (
	"sort"
	"sync"
)

// EventReachableSet is broadcast on every presence change and carries the full
// snapshot of reachable identities.
const EventReachableSet = "reachableSet"

// Handle is an addressable channel to one live connection.
//
// Send must never block: slow or dead peers get their frames dropped and the
// next disconnect cleanup converges state. Key distinguishes connections of
// the same identity so a stale disconnect cannot erase a fresher reconnect.
type Handle interface {
	Key() string
	Send(event string, data any)
}

// Registry is the authoritative identity -> live connection mapping.
// Last connect wins: an identity gets at most one routable handle, always the
// newest. Process-local; initialized empty, never persisted.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Handle
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]Handle{}}
}

// Register unconditionally overwrites any existing entry for identity and
// broadcasts the updated reachable set to every connection.
func (r *Registry) Register(identity string, h Handle) {
	r.mu.Lock()
	r.entries[identity] = h
	handles, snapshot := r.snapshotLocked()
	r.mu.Unlock()

	broadcast(handles, EventReachableSet, snapshot)
}

// Unregister removes the entry only when the stored handle is the one
// disconnecting. Reports whether an entry was removed; the caller owns the
// durable liveness write, the registry stays free of I/O.
func (r *Registry) Unregister(identity string, h Handle) bool {
	r.mu.Lock()
	cur, ok := r.entries[identity]
	if !ok || cur.Key() != h.Key() {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, identity)
	handles, snapshot := r.snapshotLocked()
	r.mu.Unlock()

	broadcast(handles, EventReachableSet, snapshot)
	return true
}

// Resolve is a pure lookup. Absence is a normal outcome meaning "deliver via
// fallback", never an error.
func (r *Registry) Resolve(identity string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.entries[identity]
	return h, ok
}

// Identities returns the current reachable set, sorted.
func (r *Registry) Identities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, snapshot := r.snapshotLocked()
	return snapshot
}

// Broadcast sends an event to every live connection.
func (r *Registry) Broadcast(event string, data any) {
	r.mu.Lock()
	handles, _ := r.snapshotLocked()
	r.mu.Unlock()

	broadcast(handles, event, data)
}

func (r *Registry) snapshotLocked() ([]Handle, []string) {
	handles := make([]Handle, 0, len(r.entries))
	identities := make([]string, 0, len(r.entries))
	for id, h := range r.entries {
		handles = append(handles, h)
		identities = append(identities, id)
	}
	sort.Strings(identities)
	return handles, identities
}

func broadcast(handles []Handle, event string, data any) {
	for _, h := range handles {
		h.Send(event, data)
	}
}
