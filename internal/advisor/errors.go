package advisor

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse is returned when a gateway yields no result or a
// result without generations.
var ErrEmptyResponse = errors.New("empty response from model")

// ErrRoundLimitExceeded is returned when the model keeps requesting tools
// past the configured number of rounds.
var ErrRoundLimitExceeded = errors.New("tool round limit exceeded")

// ToolInvocationError reports a tool call that could not be completed.
// Unknown tools wrap *tools.ErrToolUnavailable.
type ToolInvocationError struct {
	Tool   string
	CallID string
	Err    error
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("tool %s (call %s): %v", e.Tool, e.CallID, e.Err)
}

func (e *ToolInvocationError) Unwrap() error {
	return e.Err
}
