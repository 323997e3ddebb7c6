package models

import (
	"errors"
	"fmt"
)

// Validation errors: caller mistakes, never retried.
var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrInvalidCode            = errors.New("invalid redemption code")
	ErrInvalidCurrency        = errors.New("invalid currency")
	ErrInvalidExpiry          = errors.New("expiry must be in the future")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrInvalidSource          = errors.New("invalid transaction source")
	ErrMissingIdempotencyKey  = errors.New("idempotency key is required")
	ErrCreditCeiling          = errors.New("credit would exceed the initial credit")
	ErrRefundExceedsDebit     = errors.New("refund exceeds the amount debited for the order")
	ErrElementNotReservable   = errors.New("floor element is not reservable")
)

// Not-found errors.
var (
	ErrNotFound        = errors.New("not found")
	ErrCodeInvalid     = errors.New("code not found or not active")
	ErrElementNotFound = errors.New("floor element not found")
)

// Conflict errors. Reservation conflicts are returned wrapped in a *ConflictError.
var (
	ErrDuplicateCode           = errors.New("code already exists")
	ErrAlreadyBound            = errors.New("wallet already bound to another element")
	ErrCodeBoundToOtherElement = errors.New("code is bound to another element")
	ErrElementAlreadyReserved  = errors.New("element already reserved")
	ErrUserAlreadyReserved     = errors.New("user already holds a reservation for this event")
	ErrForbidden               = errors.New("forbidden")
)

// Transient errors: retried internally up to a bounded attempt count.
var (
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrContention             = errors.New("too much contention, please retry")
	ErrAlreadyApplied         = errors.New("idempotency key already applied")
)

// Business-rule errors.
var (
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrWalletNotActive    = errors.New("wallet is not active")
)

type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindForbidden  ErrorKind = "forbidden"
	KindTransient  ErrorKind = "transient"
	KindBusiness   ErrorKind = "business"
	KindInternal   ErrorKind = "internal"
)

var kinds = []struct {
	kind ErrorKind
	errs []error
}{
	{KindValidation, []error{ErrInvalidAmount, ErrInvalidTransition, ErrInvalidCode, ErrInvalidCurrency, ErrInvalidExpiry,
		ErrInvalidTransactionType, ErrInvalidSource, ErrMissingIdempotencyKey, ErrCreditCeiling, ErrRefundExceedsDebit,
		ErrElementNotReservable}},
	{KindNotFound, []error{ErrNotFound, ErrCodeInvalid, ErrElementNotFound}},
	{KindConflict, []error{ErrDuplicateCode, ErrAlreadyBound, ErrCodeBoundToOtherElement, ErrElementAlreadyReserved,
		ErrUserAlreadyReserved}},
	{KindForbidden, []error{ErrForbidden}},
	{KindTransient, []error{ErrConcurrentModification, ErrContention, ErrAlreadyApplied}},
	{KindBusiness, []error{ErrInsufficientCredit, ErrWalletNotActive}},
}

// KindOf classifies err so callers can map it without matching on text.
func KindOf(err error) ErrorKind {
	for _, k := range kinds {
		for _, e := range k.errs {
			if errors.Is(err, e) {
				return k.kind
			}
		}
	}
	return KindInternal
}

// ConflictError carries the detail a UI needs to explain a reservation conflict.
type ConflictError struct {
	Err            error  `json:"-"`
	EventID        string `json:"event_id,omitempty"`
	ElementID      string `json:"element_id,omitempty"`
	BoundElementID string `json:"bound_element_id,omitempty"`
	ReservationID  string `json:"reservation_id,omitempty"`
	ReservedByYou  bool   `json:"reserved_by_you"`
}

func (e *ConflictError) Error() string {
	switch {
	case errors.Is(e.Err, ErrCodeBoundToOtherElement):
		return fmt.Sprintf("%v: bound to element %s", e.Err, e.BoundElementID)
	case errors.Is(e.Err, ErrElementAlreadyReserved) && e.ReservedByYou:
		return fmt.Sprintf("%v: element %s is already reserved by you", e.Err, e.ElementID)
	case errors.Is(e.Err, ErrElementAlreadyReserved):
		return fmt.Sprintf("%v: element %s is reserved by someone else", e.Err, e.ElementID)
	case errors.Is(e.Err, ErrUserAlreadyReserved):
		return fmt.Sprintf("%v: you already hold element %s", e.Err, e.ElementID)
	}
	return e.Err.Error()
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}
