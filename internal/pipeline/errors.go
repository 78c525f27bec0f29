package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for pipeline operations
var (
	// ErrRunInProgress indicates a scan is already running in this process
	ErrRunInProgress = errors.New("a run is already in progress")

	// ErrNoTargets indicates the routing sheet produced no enabled targets
	ErrNoTargets = errors.New("no enabled routing targets available")

	// ErrTargetNotFound indicates the requested target key matched no target
	ErrTargetNotFound = errors.New("target key not found")

	// ErrAmbiguousTarget indicates multiple targets are enabled and no key was given
	ErrAmbiguousTarget = errors.New("multiple targets enabled, a target key is required")

	// ErrDocumentNotFound indicates the requested document does not exist
	ErrDocumentNotFound = errors.New("document not found")

	// ErrMissingSelector indicates neither a document id nor an attachment id was given
	ErrMissingSelector = errors.New("either a document id or an attachment id is required")
)

// PipelineError provides structured error information for pipeline operations
type PipelineError struct {
	Op      string // Operation that failed (e.g., "pipeline.Run", "pipeline.processDocument")
	Err     error  // Underlying error
	Details string // Additional context
}

func (e *PipelineError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func (e *PipelineError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewPipelineError creates a new PipelineError
func NewPipelineError(op string, err error, details string) *PipelineError {
	return &PipelineError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}
