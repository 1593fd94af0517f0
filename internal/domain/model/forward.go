package model

import "time"

// ForwardStatus is the terminal state of one message within a forward batch.
type ForwardStatus string

const (
	StatusForwarded ForwardStatus = "forwarded"
	StatusSkipped   ForwardStatus = "skipped"
	StatusFailed    ForwardStatus = "failed"
)

// ForwardOutcome records the terminal result for a single requested message id.
// Size, Duration and Retries are populated only for forwarded messages; Reason
// only for skipped and failed ones.
type ForwardOutcome struct {
	MessageID string
	Status    ForwardStatus
	Reason    string
	Size      int64
	Duration  time.Duration
	Retries   int
}

// ForwardSummary aggregates a batch. Forwarded+Skipped+Failed always equals Total.
type ForwardSummary struct {
	Total     int
	Forwarded int
	Skipped   int
	Failed    int
}

// ForwardResult is the full outcome of one forward batch: one outcome per
// requested message id (order follows completion, not submission), aggregate
// counts, and batch timing. LedgerWarning is set when delivery succeeded but
// recording the dedup marks failed; the affected messages may be re-attempted
// and re-skipped on a later submission, never lost.
type ForwardResult struct {
	Summary       ForwardSummary
	Details       []ForwardOutcome
	Duration      time.Duration
	LedgerWarning string
}

// Summarize recomputes the aggregate counts from Details.
func (r *ForwardResult) Summarize() {
	s := ForwardSummary{Total: len(r.Details)}
	for _, d := range r.Details {
		switch d.Status {
		case StatusForwarded:
			s.Forwarded++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}
	r.Summary = s
}
