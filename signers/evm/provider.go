// Package evm adapts EIP-1193 style wallet providers to the signer used by
// the EVM payment mechanism.
package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// EIP-1193 provider error codes
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupported       = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
	CodeUnrecognizedChain = 4902
)

// Provider is the single boundary to a user's wallet.
// Request sends one JSON-RPC style request and returns the raw result.
type Provider interface {
	Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error)
}

// AccountsNotifier is implemented by providers that report account changes
type AccountsNotifier interface {
	OnAccountsChanged(fn func(accounts []string)) (unsubscribe func())
}

// ProviderError is an error returned by a wallet provider
type ProviderError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// ProviderErrorCode returns the EIP-1193 code of err, or 0
func ProviderErrorCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return 0
}

// IsUserRejection reports whether the user declined a wallet prompt
func IsUserRejection(err error) bool {
	return ProviderErrorCode(err) == CodeUserRejected
}
