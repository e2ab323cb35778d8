package domain

import (
	"errors"
	"fmt"
)

// Application error codes.
// These are stable, machine-readable codes returned in per-item results
// and mapped to HTTP status codes at the edge.
const (
	EProductNotFound = "product_not_found"          // requested product does not exist
	EInventory       = "inventory_exceeded"         // quantity exceeds remaining inventory
	ECredential      = "credential_invalid"         // payment credential could not be resolved
	EDeclined        = "processor_declined"         // processor declined the charge (carries subcode)
	ENotRestartable  = "subscription_not_restartable"
	EChargeFailed    = "charge_failed"              // restart charge failed, rollback performed
	EValidation      = "validation_failed"          // malformed input (address, quantity, etc.)
	EConflict        = "conflict"                   // state conflict (e.g. attempt not confirmable)
	EUnexpected      = "unexpected"                 // catch-all; reported to error tracking, never surfaced verbatim
)

// genericMessage is shown to buyers in place of any unexpected error detail.
const genericMessage = "Sorry, something went wrong. Please try again."

// Error represents an application error with a code and message.
// It implements the error interface and supports error wrapping.
type Error struct {
	// Code is a machine-readable error code (e.g. EDeclined, EInventory).
	Code string

	// Message is a human-readable error message safe to show to buyers.
	Message string

	// Subcode carries a processor-specific decline code when Code is
	// EDeclined (e.g. "insufficient_funds").
	Subcode string

	// Op is the operation where the error occurred (e.g. "restart.charge").
	// Used for logging, not shown to buyers.
	Op string

	// Err is the underlying error, if any. Used for error wrapping.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode extracts the error code from an error.
// Returns EUnexpected for nil-wrapped or non-domain errors.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return EUnexpected
}

// ErrorMessage extracts a buyer-facing message from an error.
// Unexpected errors are replaced with a generic apology so internal
// detail never leaks into the response map.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Code == EUnexpected {
			return genericMessage
		}
		return e.Message
	}

	return genericMessage
}

// ErrorSubcode extracts the processor subcode, if any.
func ErrorSubcode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Subcode
	}
	return ""
}

// ErrorOp extracts the operation from an error (for logging).
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}

	return ""
}

// Errorf creates a new domain error with formatted message.
// Example: domain.Errorf(domain.EInventory, "attempt.validate", "only %d left", n)
func Errorf(code, op, format string, args ...interface{}) error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with a domain error code and operation.
// Preserves the underlying error for logging while providing structure.
// Returns nil if err is nil.
func WrapError(err error, code, op, message string) error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// Declined creates a processor-declined error carrying the processor's
// own decline code as the subcode.
func Declined(op, subcode, message string) error {
	return &Error{
		Code:    EDeclined,
		Op:      op,
		Subcode: subcode,
		Message: message,
	}
}

// Invalid creates a validation error for a single issue.
func Invalid(op, message string) error {
	return &Error{
		Code:    EValidation,
		Op:      op,
		Message: message,
	}
}

// NotFound creates a product-not-found error.
func NotFound(op, ref string) error {
	return &Error{
		Code:    EProductNotFound,
		Op:      op,
		Message: fmt.Sprintf("Product not found: %s", ref),
	}
}

// Unexpected creates a catch-all error (wraps underlying error).
// The message shown to buyers will be generic; the underlying error is
// for logging and error tracking.
func Unexpected(err error, op, message string) error {
	return &Error{
		Code:    EUnexpected,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// IsCode returns true if err has the given error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}
