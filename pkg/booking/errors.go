package booking

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the booking engine.
var (
	ErrUnknownSlot            = errors.New("unknown timeslot")
	ErrUnknownProduct         = errors.New("unknown product")
	ErrUnknownReservation     = errors.New("unknown reservation")
	ErrSlotExists             = errors.New("timeslot already exists")
	ErrProductExists          = errors.New("product already exists")
	ErrReservationExists      = errors.New("reservation already exists")
	ErrReservationNumberTaken = errors.New("reservation number already taken")
	ErrSlotFull               = errors.New("timeslot full")
	ErrSlotUnavailable        = errors.New("timeslot unavailable")
	ErrSlotInUse              = errors.New("timeslot has reservations")
	ErrLimitExceeded          = errors.New("limit exceeded")
	ErrProductInactive        = errors.New("product inactive")
	ErrImmutable              = errors.New("reservation immutable")
	ErrTooLate                = errors.New("reservation can no longer be rescheduled")
	ErrAlreadyCancelled       = errors.New("reservation already cancelled")
	ErrAlreadyCompleted       = errors.New("reservation already completed")
	ErrConflict               = errors.New("concurrent modification")
	ErrStoreUnavailable       = errors.New("store unavailable")

	ErrInvalidDate              = errors.New("invalid date")
	ErrInvalidTimeOfDay         = errors.New("invalid time of day")
	ErrInvalidSlotKey           = errors.New("invalid slot key")
	ErrInvalidCapacity          = errors.New("invalid capacity")
	ErrInvalidProductID         = errors.New("invalid product id")
	ErrInvalidProduct           = errors.New("invalid product")
	ErrInvalidReservationID     = errors.New("invalid reservation id")
	ErrInvalidReservationNumber = errors.New("invalid reservation number")
	ErrInvalidReservationStatus = errors.New("invalid reservation status")
	ErrInvalidEmail             = errors.New("invalid email")
	ErrInvalidCustomer          = errors.New("invalid customer")
	ErrInvalidQuantity          = errors.New("invalid quantity")
	ErrInvalidMonth             = errors.New("invalid month")
	ErrInvalidRange             = errors.New("invalid range")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
)

// LimitReason names the product rule a requested allocation violates.
type LimitReason string

// Limit reasons reported through LimitError.
const (
	LimitPerReservation LimitReason = "per_reservation"
	LimitOrderWindow    LimitReason = "order_window"
	LimitTotalOrders    LimitReason = "total_orders"
	LimitPerUser        LimitReason = "per_user"
)

// LimitError reports one violated product limit. It matches ErrLimitExceeded.
type LimitError struct {
	Reason    LimitReason
	ProductID ProductID
	Requested int
	Allowed   int
}

// Error returns the formatted error message.
func (limitError *LimitError) Error() string {
	return fmt.Sprintf("%v: %s for product %s (requested %d, allowed %d)", ErrLimitExceeded, limitError.Reason, limitError.ProductID, limitError.Requested, limitError.Allowed)
}

// Unwrap returns ErrLimitExceeded.
func (limitError *LimitError) Unwrap() error {
	return ErrLimitExceeded
}

// LimitReasons extracts every LimitError reason carried by err, in order.
func LimitReasons(err error) []LimitReason {
	var reasons []LimitReason
	collectLimitReasons(err, &reasons)
	return reasons
}

func collectLimitReasons(err error, reasons *[]LimitReason) {
	switch typed := err.(type) {
	case nil:
		return
	case *LimitError:
		*reasons = append(*reasons, typed.Reason)
	case interface{ Unwrap() []error }:
		for _, inner := range typed.Unwrap() {
			collectLimitReasons(inner, reasons)
		}
	case interface{ Unwrap() error }:
		collectLimitReasons(typed.Unwrap(), reasons)
	}
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// Unavailable marks a transport or driver failure as ErrStoreUnavailable while keeping the cause.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
