package active

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// EventActiveCalls is broadcast on every change and carries the full list of
// live calls; it is also sent once to each newly-connected participant.
const EventActiveCalls = "activeCalls"

// Party is one leg of a live call, with the display name resolved at answer
// time for UI lists.
type Party struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
}

// Entry exists only between "answered" and "ended".
type Entry struct {
	RecordID  string    `json:"record_id"`
	Caller    Party     `json:"caller"`
	Receiver  Party     `json:"receiver"`
	StartTime time.Time `json:"start_time"`
}

// Registry is the in-memory set of answered calls. Process-local, initialized
// empty, never persisted; the ledger keeps the durable trail.
//
// Invariants:
// - at most one entry per ledger record id (Activate upserts by record id);
// - at most one entry per identity in either leg — repaired defensively with
//   the newer entry winning.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry // keyed by ledger record id

	broadcast func(event string, data any)
	log       *slog.Logger
}

func NewRegistry(broadcast func(event string, data any), log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		entries:   map[string]Entry{},
		broadcast: broadcast,
		log:       log,
	}
}

// Activate upserts by record id. A duplicate answer event keeps the original
// StartTime but refreshes the receiver, which may legitimately change when the
// record was reassigned to whoever actually answered.
func (r *Registry) Activate(e Entry) {
	r.mu.Lock()
	if prev, ok := r.entries[e.RecordID]; ok {
		e.StartTime = prev.StartTime
	} else {
		// A participant cannot be in two live calls. If an older entry still
		// holds either leg, the teardown for it was lost; drop it.
		for id, other := range r.entries {
			if r.shares(other, e) {
				r.log.Warn("active call entry superseded",
					"stale_record_id", id,
					"record_id", e.RecordID)
				delete(r.entries, id)
			}
		}
	}
	r.entries[e.RecordID] = e
	list := r.listLocked()
	r.mu.Unlock()

	r.publish(list)
}

// Deactivate removes the single entry where identity appears in either leg and
// returns it so the caller can notify both legs. The list is re-broadcast even
// when nothing was found; a duplicate end event then just refreshes the UI.
func (r *Registry) Deactivate(identity string) (Entry, bool) {
	r.mu.Lock()
	var removed Entry
	found := false
	for id, e := range r.entries {
		if e.Caller.Identity == identity || e.Receiver.Identity == identity {
			removed = e
			found = true
			delete(r.entries, id)
			break
		}
	}
	list := r.listLocked()
	r.mu.Unlock()

	r.publish(list)
	return removed, found
}

// List returns the current entries, oldest call first.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].RecordID < out[j].RecordID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

func (r *Registry) shares(a, b Entry) bool {
	for _, x := range []string{a.Caller.Identity, a.Receiver.Identity} {
		if x == b.Caller.Identity || x == b.Receiver.Identity {
			return true
		}
	}
	return false
}

func (r *Registry) publish(list []Entry) {
	if r.broadcast != nil {
		r.broadcast(EventActiveCalls, list)
	}
}
