package storage

import (
	"time"

	"github.com/google/uuid"
)

// RunRecord summarises one orchestrator run for auditing.
type RunRecord struct {
	ID         uuid.UUID
	RunDate    time.Time
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Succeeded  int
	Skipped    int
	Failed     int
	Cancelled  int
	Purged     int64
	Alerted    bool
}

// TopNQuery selects ranked entries for one day across one or more categories.
type TopNQuery struct {
	CategoryIDs []string
	Date        time.Time
	Limit       int
}
