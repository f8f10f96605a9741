package ledger

import (
	"context"
	"time"
)

// Run is one finished job as recorded in the ledger
type Run struct {
	JobID      string
	WorkflowID string
	PromptID   string
	Status     string
	Error      string
	Checksum   string
	Location   string
	Duration   time.Duration
	FinishedAt time.Time
}

// Store persists finished runs
type Store interface {
	Record(ctx context.Context, run Run) error
	Close() error
}

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)
