package tools

import "fmt"

// ErrToolUnavailable reports a call to a tool the registry does not
// hold. The model asked for a name it was never offered; retrying the
// same call will not help.
type ErrToolUnavailable struct {
	ToolName string
}

func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}
