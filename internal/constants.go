package internal

const (
	WorkflowNameHeadSwap = "headswap"

	ActivityNameGenerate   = "GenerateActivity"
	ActivityNameRecordRun  = "RecordRunActivity"
	ActivityNameCleanupJob = "CleanupJobActivity"
)
