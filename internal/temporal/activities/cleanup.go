package activities

import (
	"context"

	"go.temporal.io/sdk/activity"

	"headswap/internal/handler"
)

type CleanupJobActivityInput struct {
	JobID string   `json:"job_id"`
	Paths []string `json:"paths,omitempty"`
}

type CleanupJobActivityOutput struct{}

// CleanupJobActivity removes the input files of a job whose generation
// activity never returned, e.g. because the worker died mid-run
func (a *Activities) CleanupJobActivity(ctx context.Context, input CleanupJobActivityInput) (*CleanupJobActivityOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("CleanupJobActivity started", "jobId", input.JobID)

	paths := append([]string{}, input.Paths...)
	if input.JobID != "" && a.Handler != nil {
		paths = append(paths, a.Handler.InputPaths(input.JobID)...)
	}

	// Continue cleanup even if one path fails
	handler.RemoveFiles(a.Logger, paths)

	logger.Info("CleanupJobActivity completed", "jobId", input.JobID, "paths", len(paths))
	return &CleanupJobActivityOutput{}, nil
}
