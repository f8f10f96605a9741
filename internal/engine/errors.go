package engine

import "errors"

var (
	ErrUnreachable     = errors.New("could not reach engine")
	ErrRejected        = errors.New("engine rejected prompt")
	ErrNoPromptID      = errors.New("no prompt_id returned from engine")
	ErrTimeout         = errors.New("timeout")
	ErrNoImages        = errors.New("produced no images")
	ErrExecutionFailed = errors.New("engine reported execution error")
)

// transportError marks failures where the request never got a response
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }
