package x402

import (
	"errors"
	"fmt"
)

// PaymentError represents a payment-specific error
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a PaymentError with the same code.
// This lets the sentinel values below be used with errors.Is.
func (e *PaymentError) Is(target error) bool {
	var t *PaymentError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Error codes
const (
	ErrCodeWalletUnavailable     = "wallet_unavailable"
	ErrCodeNoAccounts            = "no_accounts"
	ErrCodeWalletNotConnected    = "wallet_not_connected"
	ErrCodeNetworkSwitchRejected = "network_switch_rejected"
	ErrCodeNetworkAddRejected    = "network_add_rejected"
	ErrCodeSigningRejected       = "signing_rejected"
	ErrCodeMalformedChallenge    = "malformed_challenge"
	ErrCodeInvalidChallenge      = "invalid_challenge"
	ErrCodeUnsupportedNetwork    = "unsupported_network"
	ErrCodeUnsupportedScheme     = "unsupported_scheme"
	ErrCodePaymentRetryFailed    = "payment_retry_failed"
	ErrCodePaymentInProgress     = "payment_in_progress"
	ErrCodePaymentAborted        = "payment_aborted"
	ErrCodeRevocationTimeout     = "revocation_timeout"
	ErrCodeRevocationFailed      = "revocation_failed"
)

// Sentinel errors for use with errors.Is. Returned errors carry more detail
// but match these by code.
var (
	ErrWalletUnavailable     = &PaymentError{Code: ErrCodeWalletUnavailable, Message: "no wallet provider available"}
	ErrNoAccounts            = &PaymentError{Code: ErrCodeNoAccounts, Message: "wallet has no connected accounts"}
	ErrWalletNotConnected    = &PaymentError{Code: ErrCodeWalletNotConnected, Message: "wallet not connected"}
	ErrNetworkSwitchRejected = &PaymentError{Code: ErrCodeNetworkSwitchRejected, Message: "network switch rejected"}
	ErrNetworkAddRejected    = &PaymentError{Code: ErrCodeNetworkAddRejected, Message: "network registration rejected"}
	ErrSigningRejected       = &PaymentError{Code: ErrCodeSigningRejected, Message: "signature request rejected"}
	ErrMalformedChallenge    = &PaymentError{Code: ErrCodeMalformedChallenge, Message: "malformed payment challenge"}
	ErrInvalidChallenge      = &PaymentError{Code: ErrCodeInvalidChallenge, Message: "invalid payment challenge"}
	ErrUnsupportedNetwork    = &PaymentError{Code: ErrCodeUnsupportedNetwork, Message: "unsupported network"}
	ErrUnsupportedScheme     = &PaymentError{Code: ErrCodeUnsupportedScheme, Message: "unsupported payment scheme"}
	ErrPaymentRetryFailed    = &PaymentError{Code: ErrCodePaymentRetryFailed, Message: "paid request failed"}
	ErrPaymentInProgress     = &PaymentError{Code: ErrCodePaymentInProgress, Message: "another payment is awaiting the wallet"}
	ErrPaymentAborted        = &PaymentError{Code: ErrCodePaymentAborted, Message: "payment aborted"}
	ErrRevocationTimeout     = &PaymentError{Code: ErrCodeRevocationTimeout, Message: "revocation receipt not found in time"}
	ErrRevocationFailed      = &PaymentError{Code: ErrCodeRevocationFailed, Message: "revocation transaction failed"}
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WrapPaymentError creates a payment error with an underlying cause
func WrapPaymentError(code, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ErrorCode extracts the payment error code from err, or "" if err is not a PaymentError
func ErrorCode(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
