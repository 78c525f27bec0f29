package extract

import (
	"errors"
	"fmt"
)

// Common extraction errors
var (
	// ErrExtractionFailed is returned when the model could not produce a usable bill.
	ErrExtractionFailed = errors.New("bill extraction failed")

	// ErrEmptyResponse is returned when the model returned no candidates or no text.
	ErrEmptyResponse = errors.New("model returned an empty response")

	// ErrInvalidResponse is returned when the model output is not valid JSON for
	// the expected structure.
	ErrInvalidResponse = errors.New("model returned invalid JSON")

	// ErrMissingConfiguration is returned when a required setting such as the
	// project ID or API key is absent.
	ErrMissingConfiguration = errors.New("missing extraction configuration")

	// ErrDocumentTooLarge is returned when the attachment exceeds the processing limit.
	ErrDocumentTooLarge = errors.New("document exceeds the maximum size limit")
)

// ExtractError wraps errors with context about the extraction failure.
type ExtractError struct {
	// Op is the operation that failed (e.g., "extract.ExtractBill").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *ExtractError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("extract: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("extract: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ExtractError) Unwrap() error {
	return e.Err
}

// Is implements error matching against the wrapped error.
func (e *ExtractError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExtractError creates an ExtractError with the given operation and cause.
func NewExtractError(op string, err error, details string) *ExtractError {
	return &ExtractError{Op: op, Err: err, Details: details}
}
