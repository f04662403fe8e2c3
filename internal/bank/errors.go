package bank

import (
	"errors"
	"fmt"
)

// TransferError is a failure reported by the funds-transfer backend.
type TransferError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("bank: %s: %s", e.Code, e.Message)
}

// Error codes reported by transfer backends.
const (
	CodeUnavailable  = "unavailable"
	CodeRateLimited  = "rateLimited"
	CodeBadRecipient = "badRecipient"
	CodeBadDenom     = "badDenom"
)

// IsRetryable returns true if the transfer can be attempted again.
func (e *TransferError) IsRetryable() bool {
	return e.Code == CodeUnavailable || e.Code == CodeRateLimited
}

// IsRetryable reports whether err is worth another attempt. Errors that are
// not TransferErrors are treated as transient.
func IsRetryable(err error) bool {
	var te *TransferError
	if errors.As(err, &te) {
		return te.IsRetryable()
	}
	return true
}
