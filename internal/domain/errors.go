package domain

import (
	"errors"
	"fmt"
)

// Code identifies a failure category.
type Code string

const (
	// Validation: operator input was rejected before any mutation.
	CodeInvalidQuantity Code = "INVALID_QUANTITY"
	CodeOverReturn      Code = "OVER_RETURN"
	CodeAmountMismatch  Code = "AMOUNT_MISMATCH"
	CodeMissingDebtInfo Code = "MISSING_DEBT_INFO"
	CodeInvalidTender   Code = "INVALID_TENDER"

	// State: a workflow precondition was not met.
	CodeTableNotFound    Code = "TABLE_NOT_FOUND"
	CodeItemNotFound     Code = "ITEM_NOT_FOUND"
	CodeProductNotFound  Code = "PRODUCT_NOT_FOUND"
	CodeCustomerNotFound Code = "CUSTOMER_NOT_FOUND"
	CodeShiftNotFound    Code = "SHIFT_NOT_FOUND"
	CodeNoOpenShift      Code = "NO_OPEN_SHIFT"
	CodeShiftAlreadyOpen Code = "SHIFT_ALREADY_OPEN"
	CodeTableNotFree     Code = "TABLE_NOT_FREE"
	CodeEmptyOrder       Code = "EMPTY_ORDER"

	// Conflict: a concurrent writer won the race.
	CodeConflict Code = "CONFLICT"
)

// Kind groups codes by how the caller should react.
type Kind string

const (
	KindValidation Kind = "validation" // operator must correct input
	KindState      Kind = "state"      // re-fetch state and re-present
	KindConflict   Kind = "conflict"   // another till won; re-fetch
)

// Kind returns the category of c.
func (c Code) Kind() Kind {
	switch c {
	case CodeInvalidQuantity, CodeOverReturn, CodeAmountMismatch, CodeMissingDebtInfo, CodeInvalidTender:
		return KindValidation
	case CodeConflict:
		return KindConflict
	default:
		return KindState
	}
}

// Error is an operational failure surfaced to the operator.
type Error struct {
	Code    Code
	Message string
	Details map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code, so errors.Is(err, ErrOverReturn)
// works for errors built with a specific message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Kind returns the error's category.
func (e *Error) Kind() Kind {
	return e.Code.Kind()
}

// Sentinels for errors.Is.
var (
	ErrInvalidQuantity  = &Error{Code: CodeInvalidQuantity}
	ErrOverReturn       = &Error{Code: CodeOverReturn}
	ErrAmountMismatch   = &Error{Code: CodeAmountMismatch}
	ErrMissingDebtInfo  = &Error{Code: CodeMissingDebtInfo}
	ErrInvalidTender    = &Error{Code: CodeInvalidTender}
	ErrTableNotFound    = &Error{Code: CodeTableNotFound}
	ErrItemNotFound     = &Error{Code: CodeItemNotFound}
	ErrProductNotFound  = &Error{Code: CodeProductNotFound}
	ErrCustomerNotFound = &Error{Code: CodeCustomerNotFound}
	ErrShiftNotFound    = &Error{Code: CodeShiftNotFound}
	ErrNoOpenShift      = &Error{Code: CodeNoOpenShift}
	ErrShiftAlreadyOpen = &Error{Code: CodeShiftAlreadyOpen}
	ErrTableNotFree     = &Error{Code: CodeTableNotFree}
	ErrEmptyOrder       = &Error{Code: CodeEmptyOrder}
	ErrConflict         = &Error{Code: CodeConflict}
)

// Errorf builds an *Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail returns e with key=value added to its details.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// CodeOf extracts the code from err, or "" if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
