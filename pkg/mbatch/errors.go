package mbatch

import (
	"errors"
	"fmt"
)

var (
	// ErrBatchNotFound means no outcome record exists for the batch id:
	// either the id is unknown or its submission phase has not finished.
	ErrBatchNotFound = errors.New("mbatch: batch not found")

	// ErrJobNotFound means the scheduler does not know the job id.
	ErrJobNotFound = errors.New("mbatch: job not found")
)

// ValidationError rejects a malformed request before anything is
// written or submitted. Message is safe to return to the caller.
type ValidationError struct {
	// JobIndex is the offending job's position in a batch request, or
	// -1 when the request as a whole is invalid.
	JobIndex int
	Message  string
}

func (e *ValidationError) Error() string { return e.Message }

// TerminalStateError refuses termination of a job that already finished.
type TerminalStateError struct {
	JobID  string
	Status string
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("Job %s is already in %s state and cannot be terminated", e.JobID, e.Status)
}
