package store

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is returned when a vector's length disagrees with
	// the dimensionality the index was created with. This is fatal and never
	// coerced by padding or truncation.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrNotReady is returned when a store is used before EnsureIndex.
	ErrNotReady = errors.New("index not initialized")
)

// StoreError wraps backend failures with the failing operation so callers
// can tell read failures from write failures.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("store: %v", e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return errors.Is(e.Err, target) }

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
