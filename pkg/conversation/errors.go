package conversation

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrConflict         = errors.New("version conflict")
	ErrPersistence      = errors.New("persistence error")
)

// NotFoundError reports a referenced message, branch or conversation that is absent.
type NotFoundError struct {
	Resource string
	ID       ID
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return ErrNotFound.Error()
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidOperationError reports an operation that is not allowed on its target.
type InvalidOperationError struct {
	Op     string
	Reason string
}

func (e *InvalidOperationError) Error() string {
	if e == nil {
		return ErrInvalidOperation.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidOperation, e.Reason)
	}
	return fmt.Sprintf("%s (%s): %s", ErrInvalidOperation, e.Op, e.Reason)
}

func (e *InvalidOperationError) Is(target error) bool { return target == ErrInvalidOperation }

// VersionConflictError reports optimistic-locking failures on save.
type VersionConflictError struct {
	Resource string
	ID       ID
	Expected uint64
	Actual   uint64
}

func (e *VersionConflictError) Error() string {
	if e == nil {
		return ErrConflict.Error()
	}
	return fmt.Sprintf("%s %s version conflict: expected=%d actual=%d", e.Resource, e.ID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Is(target error) bool { return target == ErrConflict }

// PersistenceError wraps an adapter I/O failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e == nil {
		return ErrPersistence.Error()
	}
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func (e *PersistenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func notFound(resource string, id ID) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func invalidOp(op, format string, args ...interface{}) error {
	return &InvalidOperationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}
