package ledger

import (
	"context"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestService() (*Service, *MemoryRepo, time.Time) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	base := time.Unix(1700000000, 0).UTC()
	svc.clock = fixedClock(base)
	return svc, repo, base
}

func TestCreateAttempt_DefaultsToMissed(t *testing.T) {
	svc, _, base := newTestService()

	rec, err := svc.CreateAttempt(context.Background(), "caller-1", "", TypeSupport)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID == "" {
		t.Fatalf("expected generated id")
	}
	if rec.Status != StatusMissed {
		t.Fatalf("expected missed, got %s", rec.Status)
	}
	if rec.ReceiverID != "" {
		t.Fatalf("support attempt must have no receiver yet")
	}
	if !rec.StartTime.Equal(base) {
		t.Fatalf("start time: %v", rec.StartTime)
	}
}

func TestMarkAnswered_RewritesReceiverAndStartTime(t *testing.T) {
	svc, _, base := newTestService()
	ctx := context.Background()

	rec, _ := svc.CreateAttempt(ctx, "caller-1", "", TypeSupport)

	answerTime := base.Add(10 * time.Second)
	svc.clock = fixedClock(answerTime)

	got, found, err := svc.MarkAnswered(ctx, rec.ID, "caller-1", "admin-2")
	if err != nil || !found {
		t.Fatalf("answer: found=%v err=%v", found, err)
	}
	if got.Status != StatusOngoing {
		t.Fatalf("expected ongoing, got %s", got.Status)
	}
	if got.ReceiverID != "admin-2" {
		t.Fatalf("receiver must be whoever answered, got %q", got.ReceiverID)
	}
	if !got.StartTime.Equal(answerTime) {
		t.Fatalf("start time must reset to answer time, got %v", got.StartTime)
	}
}

func TestMarkAnswered_SecondAnswerLosesRace(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	rec, _ := svc.CreateAttempt(ctx, "caller-1", "", TypeSupport)

	if _, found, _ := svc.MarkAnswered(ctx, rec.ID, "caller-1", "admin-1"); !found {
		t.Fatalf("first answer must win")
	}
	if _, found, _ := svc.MarkAnswered(ctx, rec.ID, "caller-1", "admin-2"); found {
		t.Fatalf("second answer must not claim an ongoing record")
	}

	got, _, _ := svc.repo.FindByID(ctx, rec.ID)
	if got.ReceiverID != "admin-1" || got.Status != StatusOngoing {
		t.Fatalf("record clobbered by losing answer: %+v", got)
	}
}

func TestMarkAnswered_FallsBackToLatestMissed(t *testing.T) {
	svc, _, base := newTestService()
	ctx := context.Background()

	older, _ := svc.CreateAttempt(ctx, "caller-1", "", TypeSupport)
	svc.clock = fixedClock(base.Add(5 * time.Second))
	newer, _ := svc.CreateAttempt(ctx, "caller-1", "", TypeSupport)

	// Answer with a bogus record id; the newest missed ring gets claimed.
	got, found, err := svc.MarkAnswered(ctx, "no-such-record", "caller-1", "admin-1")
	if err != nil || !found {
		t.Fatalf("fallback answer: found=%v err=%v", found, err)
	}
	if got.ID != newer.ID {
		t.Fatalf("expected newest missed record %s, got %s", newer.ID, got.ID)
	}

	// The older ring stays permanently missed.
	o, _, _ := svc.repo.FindByID(ctx, older.ID)
	if o.Status != StatusMissed {
		t.Fatalf("older ring must stay missed, got %s", o.Status)
	}
}

func TestMarkAnswered_NothingToClaim(t *testing.T) {
	svc, _, _ := newTestService()

	_, found, err := svc.MarkAnswered(context.Background(), "", "caller-1", "admin-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected dropped answer")
	}
}

func TestMarkRejected_IsSilentWithoutMatch(t *testing.T) {
	svc, _, _ := newTestService()

	_, found, err := svc.MarkRejected(context.Background(), "caller-1")
	if err != nil || found {
		t.Fatalf("expected silent no-op, found=%v err=%v", found, err)
	}
}

func TestMarkRejected_DoesNotClobberOngoing(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	rec, _ := svc.CreateAttempt(ctx, "caller-1", "", TypeSupport)
	if _, found, _ := svc.MarkAnswered(ctx, rec.ID, "caller-1", "admin-1"); !found {
		t.Fatalf("answer failed")
	}

	if _, found, _ := svc.MarkRejected(ctx, "caller-1"); found {
		t.Fatalf("late reject must not touch an ongoing record")
	}
	got, _, _ := svc.repo.FindByID(ctx, rec.ID)
	if got.Status != StatusOngoing {
		t.Fatalf("status clobbered: %s", got.Status)
	}
}

func TestMarkTerminated_CancelsRecentRingFirst(t *testing.T) {
	svc, _, base := newTestService()
	ctx := context.Background()

	rec, _ := svc.CreateAttempt(ctx, "caller-1", "", TypeSupport)

	svc.clock = fixedClock(base.Add(30 * time.Second))
	got, found, err := svc.MarkTerminated(ctx, "caller-1", "", 2*time.Minute, time.Hour)
	if err != nil || !found {
		t.Fatalf("terminate: found=%v err=%v", found, err)
	}
	if got.ID != rec.ID || got.Status != StatusCancelled {
		t.Fatalf("expected ring cancelled, got %+v", got)
	}
}

func TestMarkTerminated_CompletesOngoingByEitherLeg(t *testing.T) {
	svc, _, base := newTestService()
	ctx := context.Background()

	rec, _ := svc.CreateAttempt(ctx, "caller-1", "", TypeSupport)
	answerTime := base.Add(10 * time.Second)
	svc.clock = fixedClock(answerTime)
	if _, found, _ := svc.MarkAnswered(ctx, rec.ID, "caller-1", "admin-1"); !found {
		t.Fatalf("answer failed")
	}

	// Terminated by the receiver leg, well past the ring window.
	endTime := answerTime.Add(5 * time.Minute)
	svc.clock = fixedClock(endTime)
	got, found, err := svc.MarkTerminated(ctx, "admin-1", "caller-1", 2*time.Minute, time.Hour)
	if err != nil || !found {
		t.Fatalf("terminate: found=%v err=%v", found, err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.DurationSeconds != 300 {
		t.Fatalf("duration anchored at answer time, got %d", got.DurationSeconds)
	}
}

func TestMarkTerminated_IgnoresRecordsOutsideWindows(t *testing.T) {
	svc, _, base := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateAttempt(ctx, "caller-1", "", TypeSupport); err != nil {
		t.Fatalf("create: %v", err)
	}

	svc.clock = fixedClock(base.Add(10 * time.Minute))
	if _, found, _ := svc.MarkTerminated(ctx, "caller-1", "", 2*time.Minute, time.Hour); found {
		t.Fatalf("ring outside the cancel window must not be touched")
	}
}

func TestCancelRecentMissed_LeavesOtherCallersAlone(t *testing.T) {
	svc, _, base := newTestService()
	ctx := context.Background()

	mine, _ := svc.CreateAttempt(ctx, "caller-1", "", TypeSupport)
	other, _ := svc.CreateAttempt(ctx, "caller-2", "", TypeSupport)

	svc.clock = fixedClock(base.Add(30 * time.Second))
	got, found, err := svc.CancelRecentMissed(ctx, "caller-1", time.Minute)
	if err != nil || !found {
		t.Fatalf("cancel: found=%v err=%v", found, err)
	}
	if got.ID != mine.ID {
		t.Fatalf("cancelled the wrong record: %s", got.ID)
	}

	o, _, _ := svc.repo.FindByID(ctx, other.ID)
	if o.Status != StatusMissed {
		t.Fatalf("unrelated caller's ring touched: %s", o.Status)
	}
}

func TestCancelRecentMissed_RespectsWindow(t *testing.T) {
	svc, _, base := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateAttempt(ctx, "caller-1", "", TypeSupport); err != nil {
		t.Fatalf("create: %v", err)
	}

	svc.clock = fixedClock(base.Add(5 * time.Minute))
	if _, found, _ := svc.CancelRecentMissed(ctx, "caller-1", time.Minute); found {
		t.Fatalf("old ring must be left as permanently missed")
	}
}

func TestSweepStale_SettlesNonTerminalRecords(t *testing.T) {
	svc, _, base := newTestService()
	ctx := context.Background()

	ringing, _ := svc.CreateAttempt(ctx, "caller-1", "", TypeSupport)
	live, _ := svc.CreateAttempt(ctx, "caller-2", "admin-1", TypeDirect)
	if _, found, _ := svc.MarkAnswered(ctx, live.ID, "caller-2", "admin-1"); !found {
		t.Fatalf("answer failed")
	}
	done, _ := svc.CreateAttempt(ctx, "caller-3", "", TypeSupport)
	if _, found, _ := svc.MarkRejected(ctx, "caller-3"); !found {
		t.Fatalf("reject failed")
	}

	svc.clock = fixedClock(base.Add(time.Hour))
	n, err := svc.SweepStale(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 swept, got %d", n)
	}

	r1, _, _ := svc.repo.FindByID(ctx, ringing.ID)
	if r1.Status != StatusCancelled {
		t.Fatalf("stale ring: %s", r1.Status)
	}
	r2, _, _ := svc.repo.FindByID(ctx, live.ID)
	if r2.Status != StatusCompleted {
		t.Fatalf("stale ongoing: %s", r2.Status)
	}
	r3, _, _ := svc.repo.FindByID(ctx, done.ID)
	if r3.Status != StatusRejected {
		t.Fatalf("terminal record must not move: %s", r3.Status)
	}
}
