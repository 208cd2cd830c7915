package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Service owns every status transition on call records. Callers never write
// records directly; going through here keeps the transition set closed and the
// reconciliation search order in one place.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrNotConfigured = errors.New("ledger: repository not configured")

// CreateAttempt records the intent to call before any delivery is attempted.
// receiverID is empty for support-target rings.
func (s *Service) CreateAttempt(ctx context.Context, callerID, receiverID string, typ Type) (Record, error) {
	if s.repo == nil {
		return Record{}, ErrNotConfigured
	}
	now := s.clock().UTC()
	rec := Record{
		ID:         uuid.NewString(),
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     StatusMissed,
		Type:       typ,
		StartTime:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// MarkAnswered moves a record to ongoing and reassigns it to the identity that
// actually answered. When the given record id is unknown or already terminal,
// it falls back to the caller's most recent missed record. Returns the record
// that was updated; found is false when no record could be claimed (the
// answer lost the race or arrived with nothing to match).
func (s *Service) MarkAnswered(ctx context.Context, recordID, callerID, answeringID string) (Record, bool, error) {
	if s.repo == nil {
		return Record{}, false, ErrNotConfigured
	}
	now := s.clock().UTC()

	if recordID != "" {
		updated, err := s.repo.SetAnswered(ctx, recordID, answeringID, now)
		if err != nil {
			return Record{}, false, err
		}
		if updated {
			rec, _, err := s.repo.FindByID(ctx, recordID)
			return rec, true, err
		}
	}

	// Exact id missing or already terminal: claim the caller's most recent
	// unanswered ring instead.
	rec, found, err := s.repo.LatestMissedByCaller(ctx, callerID, time.Time{})
	if err != nil || !found {
		return Record{}, false, err
	}
	updated, err := s.repo.SetAnswered(ctx, rec.ID, answeringID, now)
	if err != nil || !updated {
		return Record{}, false, err
	}
	out, _, err := s.repo.FindByID(ctx, rec.ID)
	return out, true, err
}

// MarkRejected settles the caller's most recent unanswered ring as rejected.
// Silently a no-op when there is nothing to reject.
func (s *Service) MarkRejected(ctx context.Context, callerID string) (Record, bool, error) {
	if s.repo == nil {
		return Record{}, false, ErrNotConfigured
	}
	rec, found, err := s.repo.LatestMissedByCaller(ctx, callerID, time.Time{})
	if err != nil || !found {
		return Record{}, false, err
	}
	updated, err := s.repo.SetStatusIfMissed(ctx, rec.ID, StatusRejected, s.clock().UTC())
	if err != nil || !updated {
		return Record{}, false, err
	}
	return rec, true, nil
}

// MarkTerminated reconciles a hangup or disconnect when the event carries no
// record id. Search order matters and must not change: a recent unanswered
// ring from either identity is cancelled first; only then is an ongoing call
// involving either identity completed. Older dangling missed records are left
// alone — they are genuine earlier missed rings.
func (s *Service) MarkTerminated(ctx context.Context, a, b string, ringWindow, ongoingWindow time.Duration) (Record, bool, error) {
	if s.repo == nil {
		return Record{}, false, ErrNotConfigured
	}
	now := s.clock().UTC()

	rec, found, err := s.repo.LatestMissedByEitherCaller(ctx, a, b, now.Add(-ringWindow))
	if err != nil {
		return Record{}, false, err
	}
	if found {
		updated, err := s.repo.SetStatusIfMissed(ctx, rec.ID, StatusCancelled, now)
		if err != nil {
			return Record{}, false, err
		}
		if updated {
			rec.Status = StatusCancelled
			return rec, true, nil
		}
	}

	rec, found, err = s.repo.LatestOngoingByParticipant(ctx, a, b, now.Add(-ongoingWindow))
	if err != nil || !found {
		return Record{}, false, err
	}
	dur := int(now.Sub(rec.StartTime).Seconds())
	if dur < 0 {
		dur = 0
	}
	updated, err := s.repo.SetCompleted(ctx, rec.ID, now, dur)
	if err != nil || !updated {
		return Record{}, false, err
	}
	rec.Status = StatusCompleted
	rec.EndTime = &now
	rec.DurationSeconds = dur
	return rec, true, nil
}

// CancelRecentMissed settles the caller's own very recent unanswered ring as
// cancelled; used on disconnect where the only durable signal is the caller's
// identity.
func (s *Service) CancelRecentMissed(ctx context.Context, callerID string, window time.Duration) (Record, bool, error) {
	if s.repo == nil {
		return Record{}, false, ErrNotConfigured
	}
	now := s.clock().UTC()
	rec, found, err := s.repo.LatestMissedByCaller(ctx, callerID, now.Add(-window))
	if err != nil || !found {
		return Record{}, false, err
	}
	updated, err := s.repo.SetStatusIfMissed(ctx, rec.ID, StatusCancelled, now)
	if err != nil || !updated {
		return Record{}, false, err
	}
	rec.Status = StatusCancelled
	return rec, true, nil
}

// SweepStale reconciles records a previous process left in a non-terminal
// status. A restart drops all live registries, so anything still missed is
// cancelled and anything still ongoing is completed at sweep time. Run once at
// boot, before connections are accepted.
func (s *Service) SweepStale(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, ErrNotConfigured
	}
	recs, err := s.repo.ListNonTerminal(ctx)
	if err != nil {
		return 0, err
	}
	now := s.clock().UTC()
	swept := 0
	for _, rec := range recs {
		switch rec.Status {
		case StatusMissed:
			updated, err := s.repo.SetStatusIfMissed(ctx, rec.ID, StatusCancelled, now)
			if err != nil {
				return swept, err
			}
			if updated {
				swept++
			}
		case StatusOngoing:
			dur := int(now.Sub(rec.StartTime).Seconds())
			if dur < 0 {
				dur = 0
			}
			updated, err := s.repo.SetCompleted(ctx, rec.ID, now, dur)
			if err != nil {
				return swept, err
			}
			if updated {
				swept++
			}
		}
	}
	return swept, nil
}

// List returns records most-recent-first for the history endpoint.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Record, error) {
	if s.repo == nil {
		return nil, ErrNotConfigured
	}
	return s.repo.List(ctx, limit, offset)
}
