package apperrors

import (
	"errors"
	"fmt"
)

// Standardized exchange error kinds
var (
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrNetwork              = errors.New("network error")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrOrderRejected        = errors.New("order rejected")
)

// ExchangeError carries the exchange's own error code and message alongside
// the standardized kind it maps to. Unwrap yields the kind so callers can
// match with errors.Is.
type ExchangeError struct {
	Code    int64
	Message string
	Kind    error
}

func (e *ExchangeError) Error() string {
	if e.Kind != nil {
		return fmt.Sprintf("exchange error %d: %s (%s)", e.Code, e.Message, e.Kind)
	}
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Message)
}

func (e *ExchangeError) Unwrap() error {
	return e.Kind
}

// IsRetryableRead reports whether a failed read-only call is worth retrying.
// Order placements are never retried regardless of this.
func IsRetryableRead(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded) || errors.Is(err, ErrNetwork)
}
