package handler

import "time"

// Input is the job payload
type Input struct {
	JobID     string `json:"job_id,omitempty"`
	HeadImage string `json:"head_image"`
	BodyImage string `json:"body_image"`
}

// Result is either a base64 image or an error message, never both
type Result struct {
	Image    string `json:"result,omitempty"`
	Location string `json:"location,omitempty"`
	Error    string `json:"error,omitempty"`
}

func Success(image, location string) Result {
	return Result{Image: image, Location: location}
}

func Failure(err error) Result {
	return Result{Error: err.Error()}
}

// OK reports whether the result carries an image
func (r Result) OK() bool {
	return r.Error == ""
}

// Outcome is the result plus what the worker records about the run
type Outcome struct {
	Result     Result        `json:"result"`
	JobID      string        `json:"job_id"`
	PromptID   string        `json:"prompt_id,omitempty"`
	OutputName string        `json:"output_name,omitempty"`
	Checksum   string        `json:"checksum,omitempty"`
	Duration   time.Duration `json:"duration"`
}
