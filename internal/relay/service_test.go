package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"support-signaling/internal/active"
	"support-signaling/internal/config"
	"support-signaling/internal/directory"
	"support-signaling/internal/ledger"
	"support-signaling/internal/notify"
	"support-signaling/internal/presence"
	"support-signaling/internal/rbac"
)

type sentEvent struct {
	event string
	data  any
}

type fakeHandle struct {
	key string

	mu   sync.Mutex
	sent []sentEvent
}

func newFakeHandle(key string) *fakeHandle { return &fakeHandle{key: key} }

func (h *fakeHandle) Key() string { return h.key }

func (h *fakeHandle) Send(event string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, sentEvent{event: event, data: data})
}

func (h *fakeHandle) count(event string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.sent {
		if e.event == event {
			n++
		}
	}
	return n
}

func (h *fakeHandle) last(event string) (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.sent) - 1; i >= 0; i-- {
		if h.sent[i].event == event {
			return h.sent[i].data, true
		}
	}
	return nil, false
}

type fixture struct {
	pres  *presence.Registry
	act   *active.Registry
	repo  *ledger.MemoryRepo
	led   *ledger.Service
	dir   *directory.MemoryLookup
	notes *notify.MemoryNotifier
	svc   *Service
}

func newFixture() *fixture {
	f := &fixture{
		pres:  presence.NewRegistry(),
		repo:  ledger.NewMemoryRepo(),
		dir:   directory.NewMemoryLookup(),
		notes: notify.NewMemoryNotifier(),
	}
	f.led = ledger.NewService(f.repo)
	f.act = active.NewRegistry(f.pres.Broadcast, nil)
	f.svc = NewService(f.pres, f.act, f.led, f.dir, f.notes, config.SignalingConfig{
		RingCancelWindow:       2 * time.Minute,
		DisconnectCancelWindow: time.Minute,
		OngoingStaleWindow:     time.Hour,
	}, nil)
	return f
}

// connect seeds the directory and registers a live connection.
func (f *fixture) connect(identity, role string) *fakeHandle {
	f.dir.Put(identity, "Name of "+identity, role)
	h := newFakeHandle("conn-" + identity)
	f.pres.Register(identity, h)
	return h
}

func ringRecordID(t *testing.T, h *fakeHandle) string {
	t.Helper()
	data, ok := h.last(EventRinging)
	if !ok {
		t.Fatalf("expected a ringing event")
	}
	ring, ok := data.(RingingPayload)
	if !ok {
		t.Fatalf("unexpected ringing payload type %T", data)
	}
	return ring.RecordID
}

func TestInitiateSupport_FansOutToAllAdmins(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	caller := f.connect("cust-1", rbac.RoleCustomer)
	a1 := f.connect("admin-1", rbac.RoleAdmin)
	a2 := f.connect("admin-2", rbac.RoleAdmin)
	other := f.connect("cust-2", rbac.RoleCustomer)

	f.svc.Initiate(ctx, "cust-1", InitiateRequest{Target: TargetSupport})

	if a1.count(EventRinging) != 1 || a2.count(EventRinging) != 1 {
		t.Fatalf("every reachable admin must ring: a1=%d a2=%d", a1.count(EventRinging), a2.count(EventRinging))
	}
	if other.count(EventRinging) != 0 {
		t.Fatalf("non-admins must not ring")
	}
	if caller.count(EventNoTargetAvailable) != 0 {
		t.Fatalf("delivery succeeded, no fallback expected")
	}
	if ringRecordID(t, a1) != ringRecordID(t, a2) {
		t.Fatalf("all admins must ring with the same record id")
	}

	rec, found, _ := f.repo.FindByID(ctx, ringRecordID(t, a1))
	if !found || rec.Status != ledger.StatusMissed || rec.ReceiverID != "" {
		t.Fatalf("attempt must be durably recorded as missed, got %+v", rec)
	}
}

func TestInitiateSupport_NoAdminReachable(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	caller := f.connect("cust-1", rbac.RoleCustomer)

	f.svc.Initiate(ctx, "cust-1", InitiateRequest{Target: TargetSupport})

	if caller.count(EventNoTargetAvailable) != 1 {
		t.Fatalf("caller must learn nobody is available")
	}
	if sent := f.notes.Sent(); len(sent) != 1 || sent[0].Target != TargetSupport {
		t.Fatalf("expected one fallback notification to support, got %v", sent)
	}
}

func TestInitiateDirect_OfflineTarget(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	caller := f.connect("admin-1", rbac.RoleAdmin)
	f.dir.Put("cust-9", "Offline Customer", rbac.RoleCustomer)

	f.svc.Initiate(ctx, "admin-1", InitiateRequest{Target: "cust-9"})

	data, ok := caller.last(EventNoTargetAvailable)
	if !ok {
		t.Fatalf("expected noTargetAvailable")
	}
	if p := data.(NoTargetPayload); p.Reason != "offline" {
		t.Fatalf("reason: %q", p.Reason)
	}
	if sent := f.notes.Sent(); len(sent) != 1 || sent[0].Target != "cust-9" {
		t.Fatalf("expected one fallback notification to the target, got %v", sent)
	}

	// The attempt stays on the books as missed.
	recs, _ := f.repo.List(ctx, 10, 0)
	if len(recs) != 1 || recs[0].Status != ledger.StatusMissed {
		t.Fatalf("ledger: %+v", recs)
	}
}

func TestInitiateDirect_CustomerCallerDoesNotNotify(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.connect("cust-1", rbac.RoleCustomer)
	f.dir.Put("cust-9", "Offline Customer", rbac.RoleCustomer)

	f.svc.Initiate(ctx, "cust-1", InitiateRequest{Target: "cust-9"})

	if sent := f.notes.Sent(); len(sent) != 0 {
		t.Fatalf("customer-initiated direct ring must not notify, got %v", sent)
	}
}

func TestAnswer_ClaimsRecordAndNotifiesEveryone(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	caller := f.connect("cust-1", rbac.RoleCustomer)
	a1 := f.connect("admin-1", rbac.RoleAdmin)
	a2 := f.connect("admin-2", rbac.RoleAdmin)
	a3 := f.connect("admin-3", rbac.RoleAdmin)

	f.svc.Initiate(ctx, "cust-1", InitiateRequest{Target: TargetSupport})
	recID := ringRecordID(t, a1)

	f.svc.Answer(ctx, "admin-2", AnswerRequest{RecordID: recID, To: "cust-1"})

	rec, _, _ := f.repo.FindByID(ctx, recID)
	if rec.Status != ledger.StatusOngoing || rec.ReceiverID != "admin-2" {
		t.Fatalf("record must be ongoing and reassigned to the answerer, got %+v", rec)
	}

	for name, h := range map[string]*fakeHandle{"a1": a1, "a2": a2, "a3": a3} {
		if h.count(EventRingClaimed) != 1 {
			t.Fatalf("%s: expected exactly one claim broadcast, got %d", name, h.count(EventRingClaimed))
		}
	}
	if caller.count(EventAnswered) != 1 {
		t.Fatalf("caller must receive the answer payload")
	}

	list := f.act.List()
	if len(list) != 1 || list[0].RecordID != recID {
		t.Fatalf("exactly one active entry expected, got %+v", list)
	}
	if list[0].Receiver.Identity != "admin-2" || list[0].Receiver.Name != "Name of admin-2" {
		t.Fatalf("receiver display data: %+v", list[0].Receiver)
	}
}

func TestAnswer_BroadcastRace(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.connect("cust-1", rbac.RoleCustomer)
	a1 := f.connect("admin-1", rbac.RoleAdmin)
	a2 := f.connect("admin-2", rbac.RoleAdmin)

	f.svc.Initiate(ctx, "cust-1", InitiateRequest{Target: TargetSupport})
	recID := ringRecordID(t, a1)

	// Both admins answer the same record back to back.
	f.svc.Answer(ctx, "admin-1", AnswerRequest{RecordID: recID, To: "cust-1"})
	f.svc.Answer(ctx, "admin-2", AnswerRequest{RecordID: recID, To: "cust-1"})

	rec, _, _ := f.repo.FindByID(ctx, recID)
	if rec.Status != ledger.StatusOngoing || rec.ReceiverID != "admin-1" {
		t.Fatalf("first committed answer must win, got %+v", rec)
	}

	list := f.act.List()
	if len(list) != 1 {
		t.Fatalf("exactly one active entry expected, got %d", len(list))
	}
	if list[0].Receiver.Identity != "admin-1" {
		t.Fatalf("losing answer must not displace the winner, got %s", list[0].Receiver.Identity)
	}

	// Exactly one claim reaches each admin, and it names the winner; the losing
	// answer must not re-announce the record as its own.
	for name, h := range map[string]*fakeHandle{"a1": a1, "a2": a2} {
		if got := h.count(EventRingClaimed); got != 1 {
			t.Fatalf("%s: expected exactly one ringClaimed, got %d", name, got)
		}
		data, _ := h.last(EventRingClaimed)
		if p := data.(RingClaimedPayload); p.AnsweredBy != "admin-1" {
			t.Fatalf("%s: claim must name the winner, got %q", name, p.AnsweredBy)
		}
	}
}

func TestTerminate_FromEitherLegEndsBoth(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	caller := f.connect("cust-1", rbac.RoleCustomer)
	a1 := f.connect("admin-1", rbac.RoleAdmin)

	f.svc.Initiate(ctx, "cust-1", InitiateRequest{Target: TargetSupport})
	recID := ringRecordID(t, a1)
	f.svc.Answer(ctx, "admin-1", AnswerRequest{RecordID: recID, To: "cust-1"})

	// Receiver leg hangs up.
	f.svc.Terminate(ctx, "admin-1", TerminateRequest{To: "cust-1"})

	if caller.count(EventEnded) != 1 || a1.count(EventEnded) != 1 {
		t.Fatalf("both legs must get ended: caller=%d admin=%d", caller.count(EventEnded), a1.count(EventEnded))
	}
	if len(f.act.List()) != 0 {
		t.Fatalf("active entry must be removed")
	}

	rec, _, _ := f.repo.FindByID(ctx, recID)
	if rec.Status != ledger.StatusCompleted {
		t.Fatalf("record must complete, got %s", rec.Status)
	}

	// A duplicate terminate is a harmless refresh.
	f.svc.Terminate(ctx, "cust-1", TerminateRequest{})
	if caller.count(EventEnded) != 1 {
		t.Fatalf("duplicate terminate must not re-end the call")
	}
}

func TestTerminate_CancelsUnansweredRing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.connect("cust-1", rbac.RoleCustomer)
	a1 := f.connect("admin-1", rbac.RoleAdmin)

	f.svc.Initiate(ctx, "cust-1", InitiateRequest{Target: TargetSupport})
	recID := ringRecordID(t, a1)

	// Caller gives up before anyone answers.
	f.svc.Terminate(ctx, "cust-1", TerminateRequest{})

	rec, _, _ := f.repo.FindByID(ctx, recID)
	if rec.Status != ledger.StatusCancelled {
		t.Fatalf("ring must cancel, got %s", rec.Status)
	}

	data, ok := a1.last(EventCancelled)
	if !ok {
		t.Fatalf("ringing admin must see the cancellation")
	}
	if p := data.(CancelledPayload); p.RecordID != recID || p.CallerIdentity != "cust-1" {
		t.Fatalf("cancellation payload: %+v", p)
	}
}

func TestDisconnect_CancelsOnlyOwnRecentRing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	h1 := f.connect("cust-1", rbac.RoleCustomer)
	f.connect("cust-2", rbac.RoleCustomer)
	a1 := f.connect("admin-1", rbac.RoleAdmin)

	// Two concurrent unrelated rings.
	f.svc.Initiate(ctx, "cust-1", InitiateRequest{Target: TargetSupport})
	f.svc.Initiate(ctx, "cust-2", InitiateRequest{Target: TargetSupport})

	recs, _ := f.repo.List(ctx, 10, 0)
	if len(recs) != 2 {
		t.Fatalf("expected two attempts, got %d", len(recs))
	}

	f.svc.DisconnectCleanup(ctx, "cust-1", h1)

	var mine, theirs ledger.Record
	for _, r := range recs {
		cur, _, _ := f.repo.FindByID(ctx, r.ID)
		if cur.CallerID == "cust-1" {
			mine = cur
		} else {
			theirs = cur
		}
	}
	if mine.Status != ledger.StatusCancelled {
		t.Fatalf("disconnected caller's ring: %s", mine.Status)
	}
	if theirs.Status != ledger.StatusMissed {
		t.Fatalf("unrelated ring must be untouched: %s", theirs.Status)
	}

	if a1.count(EventCancelled) == 0 {
		t.Fatalf("admins must see the disconnect cancellation")
	}
	if _, ok := f.pres.Resolve("cust-1"); ok {
		t.Fatalf("presence entry must be gone")
	}
	if online, _ := f.dir.IsReachable(ctx, "cust-1"); online {
		t.Fatalf("durable liveness must be cleared")
	}
}

func TestDisconnect_StaleHandleKeepsFreshPresence(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	stale := f.connect("cust-1", rbac.RoleCustomer)
	fresh := newFakeHandle("conn-cust-1-new")
	f.pres.Register("cust-1", fresh)

	f.svc.DisconnectCleanup(ctx, "cust-1", stale)

	if _, ok := f.pres.Resolve("cust-1"); !ok {
		t.Fatalf("fresh reconnect must survive the stale disconnect")
	}
}

func TestReconnectMidCall_EndedReachesNewHandle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.connect("cust-1", rbac.RoleCustomer)
	a1 := f.connect("admin-1", rbac.RoleAdmin)

	f.svc.Initiate(ctx, "cust-1", InitiateRequest{Target: TargetSupport})
	recID := ringRecordID(t, a1)
	f.svc.Answer(ctx, "admin-1", AnswerRequest{RecordID: recID, To: "cust-1"})

	// Caller's connection drops and reconnects with a new handle.
	reconnected := newFakeHandle("conn-cust-1-new")
	f.pres.Register("cust-1", reconnected)

	f.svc.Terminate(ctx, "admin-1", TerminateRequest{To: "cust-1"})

	if reconnected.count(EventEnded) != 1 {
		t.Fatalf("ended must reach the caller's current handle, got %d", reconnected.count(EventEnded))
	}
}

func TestAnswer_WithNoMatchingRecordStillRelays(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	caller := f.connect("cust-1", rbac.RoleCustomer)
	f.connect("admin-1", rbac.RoleAdmin)

	// Answer an attempt that was never recorded (out-of-order delivery).
	f.svc.Answer(ctx, "admin-1", AnswerRequest{RecordID: "ghost", To: "cust-1"})

	if caller.count(EventAnswered) != 1 {
		t.Fatalf("real-time leg must still proceed")
	}
	if recs, _ := f.repo.List(ctx, 10, 0); len(recs) != 0 {
		t.Fatalf("no ledger record may be invented, got %v", recs)
	}
}

func TestReject_SettlesRingAndNotifiesCaller(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	caller := f.connect("cust-1", rbac.RoleCustomer)
	a1 := f.connect("admin-1", rbac.RoleAdmin)

	f.svc.Initiate(ctx, "cust-1", InitiateRequest{Target: TargetSupport})
	recID := ringRecordID(t, a1)

	f.svc.Reject(ctx, "admin-1", RejectRequest{To: "cust-1"})

	rec, _, _ := f.repo.FindByID(ctx, recID)
	if rec.Status != ledger.StatusRejected {
		t.Fatalf("expected rejected, got %s", rec.Status)
	}
	if caller.count(EventRejected) != 1 {
		t.Fatalf("caller must see the rejection")
	}
}
