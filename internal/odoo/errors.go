package odoo

import (
	"errors"
	"fmt"
)

// Common ledger RPC errors
var (
	// ErrAuthFailed is returned when the JSON-RPC authenticate call yields no uid.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRPC is returned when the server answers with a JSON-RPC error payload.
	ErrRPC = errors.New("rpc call failed")

	// ErrHTTP is returned when the endpoint answers with a non-success HTTP status
	// after retries are exhausted.
	ErrHTTP = errors.New("http request failed")

	// ErrNotFound is returned by typed lookups when no matching record exists.
	ErrNotFound = errors.New("record not found")

	// ErrNoJournal is returned when no purchase journal exists for the company.
	ErrNoJournal = errors.New("no purchase journal for company")

	// ErrNoFolder is returned when no AP folder can be resolved from the
	// default name candidates.
	ErrNoFolder = errors.New("no accounts payable folder found")
)

// RPCError wraps errors with context about the failing call.
type RPCError struct {
	// Op is the operation that failed (e.g., "SearchRead", "Authenticate").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("odoo: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("odoo: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *RPCError) Unwrap() error {
	return e.Err
}

// Is implements error matching for the wrapped error chain.
func (e *RPCError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRPCError creates a new RPCError with the specified operation and
// underlying error.
func NewRPCError(op string, err error, details string) *RPCError {
	return &RPCError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}
