package domain

import "github.com/cockroachdb/errors"

// Error classes. Every error returned by the reservation core belongs to
// exactly one of them so callers can tell "fix your input" from "pick
// different seats" from "try again later".
var (
	ErrValidation  = errors.New("validation failed")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("storage unavailable")
	ErrNotFound    = errors.New("not found")
)

var (
	ErrBadRequest       = classed(ErrValidation, "bad request")
	ErrBadItem          = classed(ErrValidation, "bad item")
	ErrAmountInvalid    = classed(ErrValidation, "amount invalid")
	ErrNoIdempotencyKey = classed(ErrValidation, "missing idempotency key")
)

var (
	ErrSeatTaken      = classed(ErrConflict, "seat taken")
	ErrHoldMismatch   = classed(ErrConflict, "seat held by another session")
	ErrDuplicateOrder = classed(ErrConflict, "duplicate order")
	ErrAlreadyPaid    = classed(ErrConflict, "order already paid")
	ErrNotPaid        = classed(ErrConflict, "order not paid")
)

// classError is a sentinel with its own identity that also matches its class
// under errors.Is.
type classError struct {
	msg   string
	class error
}

func classed(class error, msg string) error {
	return &classError{msg: msg, class: class}
}

func (e *classError) Error() string { return e.msg }

func (e *classError) Is(target error) bool { return target == e.class }

// unavailableError tags a storage failure without hiding its cause.
type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string { return e.cause.Error() }

func (e *unavailableError) Unwrap() error { return e.cause }

func (e *unavailableError) Is(target error) bool { return target == ErrUnavailable }

// Unavailable tags a storage failure so it maps to "try again later".
// Errors that already carry a class are returned unchanged.
func Unavailable(err error, msg string) error {
	if err == nil {
		return nil
	}
	if IsClassified(err) {
		return err
	}
	return &unavailableError{cause: errors.Wrap(err, msg)}
}

// IsClassified reports whether err already belongs to one of the classes.
func IsClassified(err error) bool {
	return errors.IsAny(err, ErrValidation, ErrConflict, ErrUnavailable, ErrNotFound)
}

// Code returns the stable, caller-facing code for err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateOrder):
		return "DUPLICATE_ORDER"
	case errors.Is(err, ErrSeatTaken):
		return "SEAT_TAKEN"
	case errors.Is(err, ErrHoldMismatch):
		return "HOLD_MISMATCH"
	case errors.Is(err, ErrAlreadyPaid):
		return "ALREADY_PAID"
	case errors.Is(err, ErrNotPaid):
		return "NOT_PAID"
	case errors.Is(err, ErrBadItem):
		return "BAD_ITEM"
	case errors.Is(err, ErrAmountInvalid):
		return "BAD_AMOUNT"
	case errors.Is(err, ErrNoIdempotencyKey):
		return "NO_IDEMPOTENCY_KEY"
	case errors.Is(err, ErrValidation):
		return "BAD_REQUEST"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrUnavailable):
		return "UNAVAILABLE"
	default:
		return "SERVER_ERROR"
	}
}
