package workflows

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"headswap/internal"
	"headswap/internal/handler"
	"headswap/internal/ledger"
	"headswap/internal/temporal/activities"
)

// HeadSwapWorkflow runs one head/body job and returns {"result"} or {"error"}.
// Job failures are part of the result, the workflow itself only fails if
// Temporal cannot schedule it.
func HeadSwapWorkflow(ctx workflow.Context, input HeadSwapInput) (*handler.Result, error) {
	logger := workflow.GetLogger(ctx)

	jobID := input.JobID
	if jobID == "" {
		encoded := workflow.SideEffect(ctx, func(ctx workflow.Context) interface{} {
			return uuid.NewString()
		})
		if err := encoded.Get(&jobID); err != nil {
			return nil, err
		}
	}
	logger.Info("HeadSwapWorkflow started", "jobId", jobID)

	// Generation is never retried: the engine may already have run the prompt
	generateCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})
	infraCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    5 * time.Minute,
			MaximumAttempts:    3,
		},
	})

	var generateOutput activities.GenerateActivityOutput
	err := workflow.ExecuteActivity(generateCtx, internal.ActivityNameGenerate, activities.GenerateActivityInput{
		JobID:     jobID,
		HeadImage: input.HeadImage,
		BodyImage: input.BodyImage,
	}).Get(ctx, &generateOutput)
	if err != nil {
		logger.Error("Generate activity failed", "jobId", jobID, "error", err)

		// The handler never got to its own cleanup
		cleanupErr := workflow.ExecuteActivity(infraCtx, internal.ActivityNameCleanupJob,
			activities.CleanupJobActivityInput{JobID: jobID}).Get(ctx, nil)
		if cleanupErr != nil {
			logger.Warn("Cleanup activity failed", "jobId", jobID, "error", cleanupErr)
		}

		result := handler.Failure(fmt.Errorf("execution failed: %w", err))
		recordRun(infraCtx, handler.Outcome{Result: result, JobID: jobID})
		return &result, nil
	}

	recordRun(infraCtx, generateOutput.Outcome)
	return &generateOutput.Outcome.Result, nil
}

// recordRun writes the outcome to the ledger. Ledger failures are logged only.
func recordRun(ctx workflow.Context, outcome handler.Outcome) {
	status := ledger.StatusSucceeded
	if !outcome.Result.OK() {
		status = ledger.StatusFailed
	}

	err := workflow.ExecuteActivity(ctx, internal.ActivityNameRecordRun, activities.RecordRunActivityInput{
		JobID:    outcome.JobID,
		PromptID: outcome.PromptID,
		Status:   status,
		Error:    outcome.Result.Error,
		Checksum: outcome.Checksum,
		Location: outcome.Result.Location,
		Duration: outcome.Duration,
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("Failed to record run", "jobId", outcome.JobID, "error", err)
	}
}
