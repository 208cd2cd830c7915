package relay

import (
	"context"
	"log/slog"
	"time"

	"support-signaling/internal/active"
	"support-signaling/internal/config"
	"support-signaling/internal/directory"
	"support-signaling/internal/ledger"
	"support-signaling/internal/notify"
	"support-signaling/internal/presence"
)

// Service is the call state machine. It is the only writer of ledger records
// and active-call entries; connection handlers feed it inbound events and it
// decides fan-out through the presence registry.
//
// Every step is best-effort and isolated: a failed ledger write or an
// unresolvable peer never aborts the remaining teardown/broadcast steps. A
// stuck "ringing" indicator on a client costs more than a slightly inaccurate
// ledger row, so the design leans on redundant cleanup converging state rather
// than on transactions.

type Service struct {
	presence *presence.Registry
	active   *active.Registry
	ledger   *ledger.Service
	dir      directory.Lookup
	notifier notify.Notifier

	cfg   config.SignalingConfig
	log   *slog.Logger
	clock func() time.Time
}

func NewService(
	pres *presence.Registry,
	act *active.Registry,
	led *ledger.Service,
	dir directory.Lookup,
	notifier notify.Notifier,
	cfg config.SignalingConfig,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		presence: pres,
		active:   act,
		ledger:   led,
		dir:      dir,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		clock:    time.Now,
	}
}

// Initiate handles a new ring. The ledger attempt is created before any
// delivery is tried: the record is a durable statement of intent, whether or
// not anyone is reachable.
func (s *Service) Initiate(ctx context.Context, callerID string, req InitiateRequest) {
	typ := ledger.TypeDirect
	receiverID := req.Target
	if req.Target == TargetSupport {
		typ = ledger.TypeSupport
		receiverID = ""
	}

	recordID := ""
	if rec, err := s.ledger.CreateAttempt(ctx, callerID, receiverID, typ); err != nil {
		s.log.Error("ledger attempt create failed", "caller", callerID, "err", err)
	} else {
		recordID = rec.ID
	}

	callerName := s.displayName(ctx, callerID)
	ring := RingingPayload{
		RecordID:     recordID,
		FromIdentity: callerID,
		FromName:     callerName,
		Signal:       req.Signal,
	}

	if typ == ledger.TypeSupport {
		admins := s.reachableAdmins(ctx)
		if len(admins) == 0 {
			s.sendTo(callerID, EventNoTargetAvailable, NoTargetPayload{Reason: "no admin available"})
			s.notifier.NotifyUnreachable(ctx, TargetSupport, "missed support call from "+callerName)
			return
		}
		// Broadcast the same record id to every reachable admin; whoever
		// answers first claims it.
		for _, admin := range admins {
			s.sendTo(admin, EventRinging, ring)
		}
		return
	}

	if h, ok := s.presence.Resolve(req.Target); ok {
		h.Send(EventRinging, ring)
		return
	}

	s.sendTo(callerID, EventNoTargetAvailable, NoTargetPayload{Reason: "offline"})
	// Only a targeted ring warrants an async nudge. An admin ringing a
	// specific offline customer notifies them; a customer whose generic
	// support ring found nobody was already handled above, and a customer
	// ringing an offline concrete identity picked that target knowingly.
	if s.isAdmin(ctx, callerID) {
		s.notifier.NotifyUnreachable(ctx, req.Target, "missed call from "+callerName)
	}
}

// Answer claims a ring. callerID in the request is the original caller; the
// answering identity comes from the connection.
func (s *Service) Answer(ctx context.Context, answeringID string, req AnswerRequest) {
	recordID := req.RecordID
	rec, found, err := s.ledger.MarkAnswered(ctx, req.RecordID, req.To, answeringID)
	if err != nil {
		s.log.Error("ledger answer failed", "record_id", req.RecordID, "answered_by", answeringID, "err", err)
	} else if found {
		recordID = rec.ID
	} else {
		s.log.Warn("answer matched no ledger record", "record_id", req.RecordID, "caller", req.To, "answered_by", answeringID)
	}

	// Only the committed claim gets announced and activated. A losing answer
	// must neither overwrite the receiver the ledger committed nor re-broadcast
	// a claim naming itself: every ringing admin sees exactly one claim, the
	// winner's.
	if found {
		claim := RingClaimedPayload{RecordID: recordID, AnsweredBy: answeringID}
		for _, admin := range s.reachableAdmins(ctx) {
			s.sendTo(admin, EventRingClaimed, claim)
		}

		s.active.Activate(active.Entry{
			RecordID:  rec.ID,
			Caller:    active.Party{Identity: rec.CallerID, Name: s.displayName(ctx, rec.CallerID)},
			Receiver:  active.Party{Identity: rec.ReceiverID, Name: s.displayName(ctx, rec.ReceiverID)},
			StartTime: s.clock().UTC(),
		})
	}

	// Re-resolve the caller: they may have reconnected since ringing.
	s.sendTo(req.To, EventAnswered, AnsweredPayload{Signal: req.Signal})
}

// Reject settles the caller's pending ring and notifies them.
func (s *Service) Reject(ctx context.Context, rejectingID string, req RejectRequest) {
	if _, _, err := s.ledger.MarkRejected(ctx, req.To); err != nil {
		s.log.Error("ledger reject failed", "caller", req.To, "rejected_by", rejectingID, "err", err)
	}
	s.sendTo(req.To, EventRejected, RejectedPayload{})
}

// Terminate is the hang-up path, reachable from either leg.
func (s *Service) Terminate(ctx context.Context, endingID string, req TerminateRequest) {
	s.teardown(ctx, endingID, req.To)
}

// DisconnectCleanup runs once per connection close. It is deliberately
// redundant with Terminate: sockets die without a clean end message, so every
// step here tolerates having nothing to do.
func (s *Service) DisconnectCleanup(ctx context.Context, identity string, h presence.Handle) {
	// Unconditional: covers rings in flight whose ledger record we may fail
	// to find below.
	s.presence.Broadcast(EventCancelled, CancelledPayload{CallerIdentity: identity})

	if rec, found, err := s.ledger.CancelRecentMissed(ctx, identity, s.cfg.DisconnectCancelWindow); err != nil {
		s.log.Error("ledger disconnect reconcile failed", "identity", identity, "err", err)
	} else if found {
		s.log.Info("ring cancelled on disconnect", "record_id", rec.ID, "caller", identity)
	}

	s.endActiveCall(ctx, identity)

	if s.presence.Unregister(identity, h) {
		if err := s.dir.SetLiveness(ctx, identity, false, s.clock().UTC()); err != nil {
			s.log.Warn("liveness write failed", "identity", identity, "err", err)
		}
	}
}

// SnapshotFor sends the one-time active-call snapshot to a fresh connection.
func (s *Service) SnapshotFor(h presence.Handle) {
	h.Send(active.EventActiveCalls, s.active.List())
}

func (s *Service) teardown(ctx context.Context, endingID, hint string) {
	// Step 1: surgical ledger reconciliation.
	rec, found, err := s.ledger.MarkTerminated(ctx, endingID, hint, s.cfg.RingCancelWindow, s.cfg.OngoingStaleWindow)
	if err != nil {
		s.log.Error("ledger terminate reconcile failed", "identity", endingID, "hint", hint, "err", err)
		found = false
	}

	// Step 2: tell ringing UIs to stand down. With a reconciled record the
	// broadcast carries its id; otherwise it is scoped to the identity most
	// likely to appear in a stale ring entry.
	switch {
	case found && rec.Status == ledger.StatusCancelled:
		s.presence.Broadcast(EventCancelled, CancelledPayload{RecordID: rec.ID, CallerIdentity: rec.CallerID})
	case !found:
		scope := endingID
		if hint != "" && s.isAdmin(ctx, endingID) {
			// An admin hanging up on an unanswered ring: the stale entry on
			// other screens is keyed by the customer who rang.
			scope = hint
		}
		s.presence.Broadcast(EventCancelled, CancelledPayload{CallerIdentity: scope})
	}

	// Step 3: active-call teardown, independent of the ledger outcome.
	s.endActiveCall(ctx, endingID)
}

func (s *Service) endActiveCall(ctx context.Context, identity string) {
	removed, found := s.active.Deactivate(identity)
	if !found {
		return
	}
	// Both legs, re-resolved now: either side may have reconnected mid-call.
	s.sendTo(removed.Caller.Identity, EventEnded, EndedPayload{})
	s.sendTo(removed.Receiver.Identity, EventEnded, EndedPayload{})
}

func (s *Service) sendTo(identity, event string, data any) {
	h, ok := s.presence.Resolve(identity)
	if !ok {
		return
	}
	h.Send(event, data)
}

func (s *Service) reachableAdmins(ctx context.Context) []string {
	ids := s.presence.Identities()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		admin, err := s.dir.IsAdmin(ctx, id)
		if err != nil {
			s.log.Warn("role lookup failed", "identity", id, "err", err)
			continue
		}
		if admin {
			out = append(out, id)
		}
	}
	return out
}

func (s *Service) isAdmin(ctx context.Context, identity string) bool {
	admin, err := s.dir.IsAdmin(ctx, identity)
	if err != nil {
		s.log.Warn("role lookup failed", "identity", identity, "err", err)
		return false
	}
	return admin
}

func (s *Service) displayName(ctx context.Context, identity string) string {
	name, err := s.dir.DisplayName(ctx, identity)
	if err != nil || name == "" {
		return identity
	}
	return name
}
