package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// AppError is the base domain error type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Error codes surfaced to callers.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodeValidation          = "VALIDATION_ERROR"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeInvalidAmount       = "INVALID_AMOUNT"
	CodeBelowMinimum        = "BELOW_MINIMUM_THRESHOLD"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeStateConflict       = "STATE_CONFLICT"
	CodeRetryable           = "RETRYABLE"
	CodeIllegalTransition   = "ILLEGAL_TRANSITION"
	CodeReconciliationDrift = "RECONCILIATION_DRIFT"
	CodeAmbiguousSettlement = "AMBIGUOUS_SETTLEMENT"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInternal            = "INTERNAL_ERROR"
)

// Standard domain error constructors.

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Code: CodeConflict, Message: msg, Status: 409}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg, Status: 400}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: msg, Status: 401}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Code: CodeForbidden, Message: msg, Status: 403}
}

func ErrInvalidAmount(amount decimal.Decimal) *AppError {
	return &AppError{Code: CodeInvalidAmount, Message: fmt.Sprintf("amount must be positive, got %s", amount.StringFixed(2)), Status: 400}
}

func ErrBelowMinimum(tier Tier, minimum, requested decimal.Decimal) *AppError {
	return &AppError{
		Code:    CodeBelowMinimum,
		Message: fmt.Sprintf("requested %s is below the %s tier minimum of %s", requested.StringFixed(2), tier, minimum.StringFixed(2)),
		Status:  422,
	}
}

func ErrInsufficientBalance() *AppError {
	return &AppError{Code: CodeInsufficientBalance, Message: "insufficient available balance", Status: 400}
}

// ErrStateConflict reports a lost compare-and-swap on a commission entry.
// It is retried internally and normally surfaces as ErrRetryable.
func ErrStateConflict(msg string) *AppError {
	return &AppError{Code: CodeStateConflict, Message: msg, Status: 409}
}

func ErrRetryable(cause error) *AppError {
	return &AppError{Code: CodeRetryable, Message: "concurrent update, resubmit the identical request", Status: 503, Cause: cause}
}

func ErrIllegalTransition(from, to PayoutState) *AppError {
	return &AppError{Code: CodeIllegalTransition, Message: fmt.Sprintf("payout cannot move from %s to %s", from, to), Status: 409}
}

func ErrIllegalEntryTransition(from, to EntryState) *AppError {
	return &AppError{Code: CodeIllegalTransition, Message: fmt.Sprintf("commission entry cannot move from %s to %s", from, to), Status: 409}
}

func ErrReconciliationDrift(ownerID string) *AppError {
	return &AppError{Code: CodeReconciliationDrift, Message: fmt.Sprintf("cached balance for owner %s diverged from ledger", ownerID), Status: 500}
}

func ErrAmbiguousSettlement(status string) *AppError {
	return &AppError{Code: CodeAmbiguousSettlement, Message: fmt.Sprintf("settlement status %q is not terminal", status), Status: 502}
}

func ErrRateLimited(msg string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: msg, Status: 429}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Status: 500, Cause: cause}
}

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
