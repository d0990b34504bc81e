package runtime

import (
	"errors"
	"fmt"
)

var (
	ErrNoSteps            = errors.New("experience has no steps")
	ErrUnknownStep        = errors.New("unknown step")
	ErrStepOutOfRange     = errors.New("step index out of range")
	ErrPreviewOnly        = errors.New("only available in preview sessions")
	ErrNotInitialized     = errors.New("runtime not initialized")
	ErrNotComplete        = errors.New("run is not complete")
	ErrCompletionInFlight = errors.New("completion already in progress")
	ErrNoRenderer         = errors.New("no renderer registered")

	errAlreadyDone = errors.New("run already done")
	errRunReset    = errors.New("run was reset during completion")
)

// msgCompletionInterrupted is shown when a resumed run was marked complete
// but its completion callback never succeeded.
const msgCompletionInterrupted = "We couldn't finish your session. Please try again."

// ValidationError reports a response that does not fit its step. It is a
// local, per-step concern and never reaches completionError.
type ValidationError struct {
	StepID  string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("step %s: %s", e.StepID, e.Message)
}

// CompletionError wraps the failure of one completion sub-step.
type CompletionError struct {
	Step string
	Err  error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion step %s: %v", e.Step, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// SyncError is returned by the Synchronizer when a session write fails.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("saving %s: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// UserMessage is the text shown to the guest.
func (e *SyncError) UserMessage() string {
	switch e.Op {
	case opResponses:
		return "We couldn't save your answers. Please try again."
	case opComplete:
		return "We couldn't finish your session. Please try again."
	}
	return "Something went wrong. Please try again."
}

// userMessage picks the guest-facing text for err.
func userMessage(err error) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Something went wrong. Please try again."
}
