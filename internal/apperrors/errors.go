// Package apperrors holds the error types shared by the call list packages.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinels carried by RowError.
var (
	ErrMissingName  = errors.New("missing name")
	ErrMissingPhone = errors.New("missing phone")
	ErrInvalidPhone = errors.New("invalid phone")
	ErrInvalidDate  = errors.New("invalid date format")
)

// RowError describes a spreadsheet row that could not be decoded. It is
// collected by the importer, never returned as the result of an operation.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// ValidationError is returned when the input of an operation is unusable as a whole.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidation creates a ValidationError.
func NewValidation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError is returned when a customer id is not part of the current set.
type NotFoundError struct {
	CustomerID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("customer with ID %q not found", e.CustomerID)
}

// NewNotFound creates a NotFoundError.
func NewNotFound(id string) error {
	return &NotFoundError{CustomerID: id}
}

// InvalidStateError is returned when an operation is not allowed in the
// current state of the queue.
type InvalidStateError struct {
	Message string
}

func (e *InvalidStateError) Error() string {
	return e.Message
}

// NewInvalidState creates an InvalidStateError.
func NewInvalidState(format string, args ...any) error {
	return &InvalidStateError{Message: fmt.Sprintf(format, args...)}
}

// BackendError wraps a failure of the persistence backend.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s failed: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackend wraps err as a BackendError for operation op.
func NewBackend(op string, err error) error {
	return &BackendError{Op: op, Err: err}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsInvalidState reports whether err is or wraps an InvalidStateError.
func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

// IsBackend reports whether err is or wraps a BackendError.
func IsBackend(err error) bool {
	var target *BackendError
	return errors.As(err, &target)
}
