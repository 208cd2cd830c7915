package relay

import "encoding/json"

// TargetSupport is the signaling target meaning "any reachable administrator",
// resolved to a concrete fan-out set at dispatch time.
const TargetSupport = "support"

// Outbound event names. Signal payloads are opaque blobs relayed between the
// legs; this subsystem never inspects them.
const (
	EventRinging           = "ringing"
	EventRingClaimed       = "ringClaimed"
	EventAnswered          = "answered"
	EventRejected          = "rejected"
	EventNoTargetAvailable = "noTargetAvailable"
	EventCancelled         = "cancelled"
	EventEnded             = "ended"
)

type RingingPayload struct {
	RecordID     string          `json:"record_id"`
	FromIdentity string          `json:"from_identity"`
	FromName     string          `json:"from_name"`
	Signal       json.RawMessage `json:"signal,omitempty"`
}

type RingClaimedPayload struct {
	RecordID   string `json:"record_id"`
	AnsweredBy string `json:"answered_by"`
}

type AnsweredPayload struct {
	Signal json.RawMessage `json:"signal,omitempty"`
}

type RejectedPayload struct{}

type NoTargetPayload struct {
	Reason string `json:"reason"`
}

type CancelledPayload struct {
	RecordID       string `json:"record_id,omitempty"`
	CallerIdentity string `json:"caller_identity"`
}

type EndedPayload struct{}

// Inbound requests. The acting identity always comes from the connection's
// authenticated context, never from the payload.

type InitiateRequest struct {
	Target string          `json:"target"`
	Signal json.RawMessage `json:"signal,omitempty"`
}

type AnswerRequest struct {
	RecordID string          `json:"record_id"`
	To       string          `json:"to"`
	Signal   json.RawMessage `json:"signal,omitempty"`
}

type RejectRequest struct {
	To string `json:"to"`
}

type TerminateRequest struct {
	// To hints at the counterpart identity; may be empty.
	To string `json:"to,omitempty"`
}
