package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// MoneyScale is the number of fractional digits stored for every amount.
const MoneyScale = 2

// ValidateEmail checks if an email address is valid.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidatePositiveAmount rejects zero, negative, and sub-cent amounts.
func ValidatePositiveAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount(amount)
	}
	if !amount.Equal(amount.Truncate(MoneyScale)) {
		return ErrValidation(fmt.Sprintf("amount %s has more than %d decimal places", amount.String(), MoneyScale))
	}
	return nil
}

// ValidateCommissionAmount accepts zero (a booking may earn nothing) but not negatives.
func ValidateCommissionAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return &AppError{Code: CodeInvalidAmount, Message: fmt.Sprintf("commission amount must not be negative, got %s", amount.StringFixed(MoneyScale)), Status: 400}
	}
	if !amount.Equal(amount.Truncate(MoneyScale)) {
		return ErrValidation(fmt.Sprintf("amount %s has more than %d decimal places", amount.String(), MoneyScale))
	}
	return nil
}

// ValidateRequestToken bounds client idempotency tokens.
func ValidateRequestToken(token string) error {
	if len(token) > 128 {
		return ErrValidation("request token must be at most 128 characters")
	}
	if strings.TrimSpace(token) != token {
		return ErrValidation("request token must not have surrounding whitespace")
	}
	return nil
}
