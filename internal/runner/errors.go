package runner

import (
	"errors"
	"fmt"
)

// ErrEngineNotRunning reports an operation that needs a live engine
// process behind it.
var ErrEngineNotRunning = errors.New("engine is not running")

// PreconditionError reports an operation rejected before reaching the
// engine because tracked state forbids it.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Reason)
}

// EngineError reports a command the engine accepted on the wire but
// answered with success=false.
type EngineError struct {
	Op      string
	Message string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine rejected %s: %s", e.Op, e.Message)
}

// PollError reports a failed or timed-out status poll. The tracked
// session keeps its last reconciled state when one occurs.
type PollError struct {
	Timeout bool
	Err     error
}

func (e *PollError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("status poll timed out: %v", e.Err)
	}
	return fmt.Sprintf("status poll failed: %v", e.Err)
}

func (e *PollError) Unwrap() error {
	return e.Err
}
