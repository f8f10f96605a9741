package workflows

// HeadSwapInput is the payload a client starts the headswap workflow with.
// Images are base64 (optionally a data URI) or URLs when the worker allows them.
type HeadSwapInput struct {
	JobID     string `json:"job_id,omitempty"`
	HeadImage string `json:"head_image"`
	BodyImage string `json:"body_image"`
}
