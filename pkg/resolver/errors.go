package resolver

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRecord wraps validation failures; the record will never succeed
	ErrInvalidRecord = errors.New("invalid candidate record")
	// ErrRetryable marks failures of a collaborator (storage, lock) that may
	// succeed on redelivery. Nothing is created when it is returned.
	ErrRetryable = errors.New("retryable resolution failure")
	// ErrNoTarget is returned when an accepted review has no entity to merge into
	ErrNoTarget = errors.New("review entry has no candidate to accept")
)

// RetryableError names the operation that failed
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Is(target error) bool {
	return target == ErrRetryable
}

func retryable(op string, err error) error {
	return &RetryableError{Op: op, Err: err}
}
