package activities

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"headswap/internal/ledger"
)

type RecordRunActivityInput struct {
	JobID    string        `json:"job_id"`
	PromptID string        `json:"prompt_id"`
	Status   string        `json:"status"`
	Error    string        `json:"error"`
	Checksum string        `json:"checksum"`
	Location string        `json:"location"`
	Duration time.Duration `json:"duration"`
}

type RecordRunActivityOutput struct {
	Recorded bool `json:"recorded"`
}

func (a *Activities) RecordRunActivity(ctx context.Context, input RecordRunActivityInput) (*RecordRunActivityOutput, error) {
	logger := activity.GetLogger(ctx)

	if a.Ledger == nil {
		logger.Debug("Ledger disabled, skipping run record", "jobId", input.JobID)
		return &RecordRunActivityOutput{Recorded: false}, nil
	}

	info := activity.GetInfo(ctx)
	err := a.Ledger.Record(ctx, ledger.Run{
		JobID:      input.JobID,
		WorkflowID: info.WorkflowExecution.ID,
		PromptID:   input.PromptID,
		Status:     input.Status,
		Error:      input.Error,
		Checksum:   input.Checksum,
		Location:   input.Location,
		Duration:   input.Duration,
		FinishedAt: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	logger.Info("Run recorded", "jobId", input.JobID, "status", input.Status)
	return &RecordRunActivityOutput{Recorded: true}, nil
}
