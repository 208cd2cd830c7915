package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory repository for tests and early development.
// It applies the same conditional-write semantics as the Postgres repo.

type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: map[string]Record{}}
}

func (r *MemoryRepo) Create(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = rec
	return nil
}

func (r *MemoryRepo) FindByID(ctx context.Context, id string) (Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok, nil
}

func (r *MemoryRepo) SetAnswered(ctx context.Context, id, receiverID string, answeredAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Status != StatusMissed {
		return false, nil
	}
	rec.Status = StatusOngoing
	rec.ReceiverID = receiverID
	rec.StartTime = answeredAt
	rec.UpdatedAt = answeredAt
	r.records[id] = rec
	return true, nil
}

func (r *MemoryRepo) SetStatusIfMissed(ctx context.Context, id string, to Status, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Status != StatusMissed || !rec.Status.CanTransition(to) {
		return false, nil
	}
	rec.Status = to
	rec.UpdatedAt = at
	r.records[id] = rec
	return true, nil
}

func (r *MemoryRepo) SetCompleted(ctx context.Context, id string, endedAt time.Time, durationSeconds int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Status != StatusOngoing {
		return false, nil
	}
	rec.Status = StatusCompleted
	rec.EndTime = &endedAt
	rec.DurationSeconds = durationSeconds
	rec.UpdatedAt = endedAt
	r.records[id] = rec
	return true, nil
}

func (r *MemoryRepo) LatestMissedByCaller(ctx context.Context, callerID string, notBefore time.Time) (Record, bool, error) {
	return r.latest(func(rec Record) bool {
		return rec.Status == StatusMissed && rec.CallerID == callerID
	}, notBefore)
}

func (r *MemoryRepo) LatestMissedByEitherCaller(ctx context.Context, a, b string, notBefore time.Time) (Record, bool, error) {
	return r.latest(func(rec Record) bool {
		if rec.Status != StatusMissed {
			return false
		}
		return rec.CallerID == a || (b != "" && rec.CallerID == b)
	}, notBefore)
}

func (r *MemoryRepo) LatestOngoingByParticipant(ctx context.Context, a, b string, notBefore time.Time) (Record, bool, error) {
	return r.latest(func(rec Record) bool {
		if rec.Status != StatusOngoing {
			return false
		}
		if rec.CallerID == a || rec.ReceiverID == a {
			return true
		}
		return b != "" && (rec.CallerID == b || rec.ReceiverID == b)
	}, notBefore)
}

func (r *MemoryRepo) latest(match func(Record) bool, notBefore time.Time) (Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best Record
	found := false
	for _, rec := range r.records {
		if !match(rec) {
			continue
		}
		if !notBefore.IsZero() && rec.CreatedAt.Before(notBefore) {
			continue
		}
		if !found || rec.CreatedAt.After(best.CreatedAt) {
			best = rec
			found = true
		}
	}
	return best, found, nil
}

func (r *MemoryRepo) ListNonTerminal(ctx context.Context) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0)
	for _, rec := range r.records {
		if !rec.Status.IsTerminal() {
			out = append(out, rec)
		}
	}
	sortByCreatedDesc(out)
	return out, nil
}

func (r *MemoryRepo) List(ctx context.Context, limit, offset int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		all = append(all, rec)
	}
	sortByCreatedDesc(all)
	if offset >= len(all) {
		return []Record{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryRepo) ListBetween(ctx context.Context, from, to time.Time) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0)
	for _, rec := range r.records {
		if rec.CreatedAt.Before(from) || !rec.CreatedAt.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	sortByCreatedDesc(out)
	return out, nil
}

func sortByCreatedDesc(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}
