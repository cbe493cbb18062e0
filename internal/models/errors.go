package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput                 = errors.New("invalid input")
	ErrInvalidAmount                = errors.New("amount must be positive")
	ErrInvalidLimit                 = errors.New("limit out of range")
	ErrUserNotFound                 = errors.New("user not found")
	ErrInsufficientCredits          = errors.New("insufficient credits")
	ErrTransactionNotFound          = errors.New("transaction not found")
	ErrTransactionOwnershipMismatch = errors.New("transaction belongs to a different user")
	ErrTransactionNotRefundable     = errors.New("transaction is not refundable")
	ErrAlreadyRefunded              = errors.New("transaction already refunded")
	ErrValidation                   = errors.New("validation failed")
	ErrLoggingFailed                = errors.New("generation logging failed")
	ErrUnauthenticated              = errors.New("unauthenticated")
	ErrPackageNotFound              = errors.New("credit package not found")
	ErrGenerationNotFound           = errors.New("generation not found")
)

// InsufficientCreditsError carries the numbers behind an ErrInsufficientCredits.
type InsufficientCreditsError struct {
	Needed int64
	Have   int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: needed %d, have %d", e.Needed, e.Have)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// ValidationError names the offending field of a rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsClientError reports errors caused by the caller's input rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidLimit) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrTransactionNotRefundable) ||
		errors.Is(err, ErrAlreadyRefunded) ||
		errors.Is(err, ErrTransactionOwnershipMismatch)
}

// IsNotFound reports errors for missing records.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrTransactionNotFound) || errors.Is(err, ErrPackageNotFound) ||
		errors.Is(err, ErrGenerationNotFound)
}
