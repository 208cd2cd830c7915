package ledger

import (
	"context"
	"time"
)

// Repository is the persistence contract for call records.
//
// All status-changing methods are conditional writes: they apply only when the
// stored record is still in the expected source status, and report whether a
// row actually changed. That check is what keeps a late reject from clobbering
// a record another connection already answered.
//
// All "Latest*" lookups are most-recent-first by creation time and return at
// most one record. notBefore bounds the search; the zero time means unbounded.
type Repository interface {
	Create(ctx context.Context, r Record) error
	FindByID(ctx context.Context, id string) (Record, bool, error)

	// SetAnswered moves a missed record to ongoing, rewrites the receiver to
	// the answering identity, and resets start_time to answeredAt.
	SetAnswered(ctx context.Context, id, receiverID string, answeredAt time.Time) (bool, error)

	// SetStatusIfMissed moves a missed record to the given terminal status
	// (rejected or cancelled).
	SetStatusIfMissed(ctx context.Context, id string, to Status, at time.Time) (bool, error)

	// SetCompleted moves an ongoing record to completed.
	SetCompleted(ctx context.Context, id string, endedAt time.Time, durationSeconds int) (bool, error)

	LatestMissedByCaller(ctx context.Context, callerID string, notBefore time.Time) (Record, bool, error)

	// LatestMissedByEitherCaller matches records whose caller is either
	// identity; the second identity may be empty.
	LatestMissedByEitherCaller(ctx context.Context, a, b string, notBefore time.Time) (Record, bool, error)

	// LatestOngoingByParticipant matches records where either identity appears
	// as caller or receiver; the second identity may be empty.
	LatestOngoingByParticipant(ctx context.Context, a, b string, notBefore time.Time) (Record, bool, error)

	// ListNonTerminal returns every record still in missed or ongoing,
	// used by the boot-time sweep.
	ListNonTerminal(ctx context.Context) ([]Record, error)

	List(ctx context.Context, limit, offset int) ([]Record, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]Record, error)
}
