package service

import (
	"time"

	"github.com/google/uuid"

	"breakout-radar/internal/domain"
	"breakout-radar/internal/storage"
)

// Outcome is the terminal state of one category within a run.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// CategoryResult records what happened to one category.
type CategoryResult struct {
	CategoryID string
	Outcome    Outcome
	Freshness  domain.Freshness
	Fetched    int
	Qualified  int
	Ranked     int
	Err        error
	Duration   time.Duration
}

// RunReport collects every category result of a run.
type RunReport struct {
	RunID      uuid.UUID
	Date       time.Time
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []CategoryResult
	Purged     int64
	PurgeErr   error
	Alerted    bool
}

// Count returns how many categories ended with outcome.
func (r RunReport) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Failed is the number of categories whose scoring or persistence failed.
func (r RunReport) Failed() int {
	return r.Count(OutcomeFailed)
}

// FailureRate is Failed over the number of categories in the run.
func (r RunReport) FailureRate() float64 {
	if len(r.Results) == 0 {
		return 0
	}
	return float64(r.Failed()) / float64(len(r.Results))
}

// Record converts the report into its persisted summary.
func (r RunReport) Record() storage.RunRecord {
	return storage.RunRecord{
		ID:         r.RunID,
		RunDate:    r.Date,
		Trigger:    r.Trigger,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Total:      len(r.Results),
		Succeeded:  r.Count(OutcomeSuccess),
		Skipped:    r.Count(OutcomeSkipped),
		Failed:     r.Failed(),
		Cancelled:  r.Count(OutcomeCancelled),
		Purged:     r.Purged,
		Alerted:    r.Alerted,
	}
}
