package activities

import (
	"context"

	"go.temporal.io/sdk/activity"

	"headswap/internal/handler"
)

type GenerateActivityInput struct {
	JobID     string `json:"job_id"`
	HeadImage string `json:"head_image"`
	BodyImage string `json:"body_image"`
}

type GenerateActivityOutput struct {
	Outcome handler.Outcome `json:"outcome"`
}

// GenerateActivity runs one job through the handler, heartbeating before
// every blocking stage. Job failures are carried in the outcome, so Temporal
// never retries a job the engine rejected.
func (a *Activities) GenerateActivity(ctx context.Context, input GenerateActivityInput) (*GenerateActivityOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("GenerateActivity started", "jobId", input.JobID)

	outcome := a.Handler.Handle(ctx, handler.Input{
		JobID:     input.JobID,
		HeadImage: input.HeadImage,
		BodyImage: input.BodyImage,
	}, func(stage string, n int) {
		// Image fetches and submit retries block too, not just polling
		a.recordHeartbeat(ctx, stage, n)
	})

	if outcome.Result.OK() {
		logger.Info("GenerateActivity completed", "jobId", outcome.JobID, "promptId", outcome.PromptID, "duration", outcome.Duration)
	} else {
		logger.Warn("GenerateActivity finished with error", "jobId", outcome.JobID, "error", outcome.Result.Error)
	}

	return &GenerateActivityOutput{Outcome: outcome}, nil
}
