package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyProcessed  = errors.New("already processed")
	ErrDuplicateRequest  = errors.New("duplicate request")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrGateway           = errors.New("payment gateway error")
)

// InsufficientFundsError reports the balance observed when a debit was refused.
type InsufficientFundsError struct {
	OwnerID   ID
	Balance   int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %d, requested %d", e.Balance, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// DuplicateRequestError points at the request that blocked a new submission.
type DuplicateRequestError struct {
	ExistingID ID
}

func (e *DuplicateRequestError) Error() string {
	if e.ExistingID == "" {
		return "duplicate request"
	}
	return fmt.Sprintf("duplicate request: %s already submitted", e.ExistingID)
}

func (e *DuplicateRequestError) Unwrap() error { return ErrDuplicateRequest }

// Invalid wraps ErrValidation with a field-level message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
