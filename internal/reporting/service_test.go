package reporting

import (
	"context"
	"testing"
	"time"

	"support-signaling/internal/ledger"
)

func seed(t *testing.T, repo *ledger.MemoryRepo, rec ledger.Record) {
	t.Helper()
	if err := repo.Create(context.Background(), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestCallsSummary_AggregatesByStatus(t *testing.T) {
	repo := ledger.NewMemoryRepo()
	base := time.Unix(1700000000, 0).UTC()

	end := base.Add(5 * time.Minute)
	seed(t, repo, ledger.Record{ID: "r1", CallerID: "c-1", ReceiverID: "a-1", Status: ledger.StatusCompleted, Type: ledger.TypeSupport, DurationSeconds: 300, EndTime: &end, CreatedAt: base})
	seed(t, repo, ledger.Record{ID: "r2", CallerID: "c-2", Status: ledger.StatusMissed, Type: ledger.TypeSupport, CreatedAt: base.Add(time.Minute)})
	seed(t, repo, ledger.Record{ID: "r3", CallerID: "c-3", Status: ledger.StatusCancelled, Type: ledger.TypeDirect, CreatedAt: base.Add(2 * time.Minute)})
	seed(t, repo, ledger.Record{ID: "r4", CallerID: "c-4", ReceiverID: "a-1", Status: ledger.StatusCompleted, Type: ledger.TypeSupport, DurationSeconds: 100, CreatedAt: base.Add(3 * time.Minute)})
	// Outside the requested range.
	seed(t, repo, ledger.Record{ID: "r5", CallerID: "c-5", Status: ledger.StatusRejected, Type: ledger.TypeSupport, CreatedAt: base.Add(2 * time.Hour)})

	svc := NewService(repo)
	got, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{
		Range: TimeRange{From: base, To: base.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}

	if got.TotalCalls != 4 {
		t.Fatalf("total: %d", got.TotalCalls)
	}
	if got.CompletedCalls != 2 || got.MissedCalls != 1 || got.CancelledCalls != 1 || got.RejectedCalls != 0 {
		t.Fatalf("status counts: %+v", got)
	}
	if got.SupportCalls != 3 || got.DirectCalls != 1 {
		t.Fatalf("type counts: %+v", got)
	}
	if got.TotalDurationSeconds != 400 || got.AverageDurationSeconds != 200 {
		t.Fatalf("durations: %+v", got)
	}
}

func TestCallsSummary_RejectsInvalidRange(t *testing.T) {
	svc := NewService(ledger.NewMemoryRepo())

	_, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{})
	if err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	now := time.Now()
	_, err = svc.CallsSummary(context.Background(), CallsSummaryRequest{Range: TimeRange{From: now, To: now.Add(-time.Hour)}})
	if err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
