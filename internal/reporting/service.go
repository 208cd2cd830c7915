package reporting

import (
	"context"
	"errors"
	"time"

	"support-signaling/internal/ledger"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts read access to the ledger for reporting. The ledger
// repositories satisfy it directly.
type Repository interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]ledger.Record, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListBetween(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{}
	for _, r := range rows {
		out.TotalCalls++
		switch r.Status {
		case ledger.StatusCompleted:
			out.CompletedCalls++
			out.TotalDurationSeconds += r.DurationSeconds
		case ledger.StatusMissed:
			out.MissedCalls++
		case ledger.StatusRejected:
			out.RejectedCalls++
		case ledger.StatusCancelled:
			out.CancelledCalls++
		case ledger.StatusOngoing:
			out.OngoingCalls++
		}
		switch r.Type {
		case ledger.TypeSupport:
			out.SupportCalls++
		case ledger.TypeDirect:
			out.DirectCalls++
		}
	}
	if out.CompletedCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.CompletedCalls
	}
	return out, nil
}
