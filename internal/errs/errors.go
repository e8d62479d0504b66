// Package errs defines the error taxonomy shared by the collection and
// detection pipelines. Only credential errors are fatal to a run; every
// other category is contained to the smallest unit of work.
package errs

import (
	"errors"
	"fmt"
)

// Category sentinel errors.
var (
	// ErrCredential indicates an authentication failure before any data
	// was fetched. Fatal: surfaced to the caller immediately.
	ErrCredential = errors.New("cloudscope: credential error")

	// ErrTransport indicates a network/API/object-storage failure
	// mid-run. The current unit of work is skipped.
	ErrTransport = errors.New("cloudscope: transport error")

	// ErrParse indicates malformed JSON/CSV or an unexpected schema.
	// The offending record or file is dropped.
	ErrParse = errors.New("cloudscope: parse error")

	// ErrValidation indicates an invalid field value. The field is
	// defaulted to null and the record is still produced.
	ErrValidation = errors.New("cloudscope: validation error")

	// ErrPersistence indicates a store or result write failure.
	ErrPersistence = errors.New("cloudscope: persistence error")

	// ErrNotSupported indicates a stubbed provider or operation.
	ErrNotSupported = errors.New("cloudscope: not supported")
)

// Error wraps a category error with operation context.
type Error struct {
	Op   string // Operation that failed (e.g. "s3.list", "detect.run")
	Unit string // Unit of work involved, if applicable (file key, page, day)
	Err  error  // Underlying error, wrapping a category sentinel
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Unit != "" {
		return fmt.Sprintf("%s(%s): %v", e.Op, e.Unit, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Credential wraps an error as a fatal credential error.
func Credential(op string, err error) error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrCredential, err)}
}

// Transport wraps an error as a transport error for the given unit.
func Transport(op, unit string, err error) error {
	return &Error{Op: op, Unit: unit, Err: fmt.Errorf("%w: %v", ErrTransport, err)}
}

// Parse wraps an error as a parse error for the given unit.
func Parse(op, unit string, err error) error {
	return &Error{Op: op, Unit: unit, Err: fmt.Errorf("%w: %v", ErrParse, err)}
}

// Validation wraps an error as a validation error.
func Validation(op string, err error) error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrValidation, err)}
}

// Persistence wraps an error as a persistence error for the given unit.
func Persistence(op, unit string, err error) error {
	return &Error{Op: op, Unit: unit, Err: fmt.Errorf("%w: %v", ErrPersistence, err)}
}

// IsCredential checks if the error is a credential error.
func IsCredential(err error) bool {
	return errors.Is(err, ErrCredential)
}

// IsTransport checks if the error is a transport error.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsParse checks if the error is a parse error.
func IsParse(err error) bool {
	return errors.Is(err, ErrParse)
}

// IsPersistence checks if the error is a persistence error.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsFatal reports whether the error must abort the run. Only
// credential errors qualify.
func IsFatal(err error) bool {
	return IsCredential(err)
}
