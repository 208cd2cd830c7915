package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type CallsSummaryRequest struct {
	Range TimeRange `json:"range"`
}

// CallsSummary aggregates final dispositions over a time range. Counts come
// straight off the ledger; in-flight statuses are included so a dashboard can
// show live load next to history.
type CallsSummary struct {
	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	MissedCalls    int `json:"missed_calls"`
	RejectedCalls  int `json:"rejected_calls"`
	CancelledCalls int `json:"cancelled_calls"`
	OngoingCalls   int `json:"ongoing_calls"`

	SupportCalls int `json:"support_calls"`
	DirectCalls  int `json:"direct_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
}
