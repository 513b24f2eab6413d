package tools

import "fmt"

// ErrToolUnavailable reports a tool call that targets a tool not
// present in the registry. This is a capability mismatch (the model
// invented a name, or a dependency was never configured), not a
// transient execution failure; retrying the same call cannot succeed.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}
