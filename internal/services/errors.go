package services

import "errors"

// Sentinel errors mapped to HTTP statuses by the handlers
var (
	ErrNotFound  = errors.New("resource not found")
	ErrForbidden = errors.New("you do not have permission to access this resource")
)

// PreconditionError is a rejected operation with a caller-facing reason,
// e.g. mutating a request that is no longer a draft.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return e.Reason
}

func precondition(reason string) error {
	return &PreconditionError{Reason: reason}
}
