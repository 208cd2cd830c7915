package ledger

import "time"

// Record is the durable audit trail of one call attempt.
//
// Invariants:
// - Status follows the closed set below; a record never leaves a terminal status.
// - ReceiverID is empty until someone answers. A support-target ring is created
//   with no receiver; MarkAnswered rewrites it to whoever actually picked up.
// - StartTime is reset at answer time. It anchors the visible/billable duration,
//   not the moment the ring went out.

type Record struct {
	ID       string `json:"id" db:"id"`
	CallerID string `json:"caller_id" db:"caller_id"`

	// ReceiverID is empty while the attempt is unanswered.
	ReceiverID string `json:"receiver_id,omitempty" db:"receiver_id"`

	Status Status `json:"status" db:"status"`
	Type   Type   `json:"type" db:"call_type"`

	StartTime time.Time  `json:"start_time" db:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" db:"end_time"`

	// DurationSeconds is populated on completion; kept as an int for JSON
	// friendliness, stored as INT in Postgres.
	DurationSeconds int `json:"duration" db:"duration_seconds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	// StatusMissed is the creation default: the ring went out (or failed to)
	// and nobody has acted on it yet.
	StatusMissed    Status = "missed"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
// Every status except missed and ongoing is terminal.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition enforces the closed transition set:
// missed -> {ongoing, rejected, cancelled}; ongoing -> completed.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusMissed:
		return to == StatusOngoing || to == StatusRejected || to == StatusCancelled
	case StatusOngoing:
		return to == StatusCompleted
	default:
		return false
	}
}

type Type string

const (
	// TypeDirect is a ring to a concrete identity.
	TypeDirect Type = "direct"
	// TypeSupport is a ring to the any-reachable-admin target.
	TypeSupport Type = "support"
)
