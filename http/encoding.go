package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	x402 "github.com/brokerdash/x402pay"
)

// Header names
const (
	// PaymentHeader carries the base64 encoded signed payment on the paid retry
	PaymentHeader = "X-PAYMENT"

	// PaymentResponseHeader carries the base64 encoded settlement result, when the broker sends one
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
)

// EncodePaymentHeader encodes a signed payment as base64 of its JSON.
// The result is a bearer credential and must not be logged.
func EncodePaymentHeader(payment x402.SignedPayment) (string, error) {
	data, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentHeader decodes a payment header value
func DecodePaymentHeader(header string) (x402.SignedPayment, error) {
	data, err := decodeBase64(header)
	if err != nil {
		return x402.SignedPayment{}, err
	}

	var payment x402.SignedPayment
	if err := json.Unmarshal(data, &payment); err != nil {
		return x402.SignedPayment{}, fmt.Errorf("invalid payment JSON: %w", err)
	}
	return payment, nil
}

// EncodeSettleResponseHeader encodes a settlement result
func EncodeSettleResponseHeader(response x402.SettleResponse) (string, error) {
	data, err := json.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settle response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSettleResponseHeader decodes a settlement response header
func DecodeSettleResponseHeader(header string) (x402.SettleResponse, error) {
	data, err := decodeBase64(header)
	if err != nil {
		return x402.SettleResponse{}, err
	}

	var response x402.SettleResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return x402.SettleResponse{}, fmt.Errorf("invalid settle response JSON: %w", err)
	}
	return response, nil
}

// PaymentInfoFromHeader extracts the display summary of a payment header.
// The asset is not part of the payment and must be supplied by the caller.
func PaymentInfoFromHeader(header string, asset string) (x402.PaymentInfo, error) {
	payment, err := DecodePaymentHeader(header)
	if err != nil {
		return x402.PaymentInfo{}, err
	}
	return x402.NewPaymentInfo(payment, x402.PaymentOption{Asset: asset}), nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// some brokers send unpadded or URL-safe base64
		if raw, rawErr := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
			return raw, nil
		}
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	return data, nil
}
