package x402

import (
	"strings"
)

// ProtocolVersion is the x402 protocol version spoken by brokers.
// The challenge and payment shapes below are the v1 wire format.
const ProtocolVersion = 1

// Network represents a blockchain network label as sent by the broker.
// Either a legacy name ("base-sepolia") or CAIP-2 ("eip155:84532").
type Network string

// Match checks if this network matches a pattern (supports wildcards)
// e.g., "eip155:1" matches "eip155:*", and every network matches "*"
func (n Network) Match(pattern Network) bool {
	if n == pattern || pattern == "*" {
		return true
	}

	patternStr := string(pattern)
	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(string(n), prefix)
	}

	return false
}

// PaymentOption is one acceptable way to pay, as listed in a challenge
type PaymentOption struct {
	Scheme            string                 `json:"scheme"`
	Network           Network                `json:"network"`
	MaxAmountRequired string                 `json:"maxAmountRequired"`
	Resource          string                 `json:"resource,omitempty"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Asset             string                 `json:"asset"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PaymentChallenge is the 402 response body sent by the broker
type PaymentChallenge struct {
	X402Version int             `json:"x402Version"`
	Error       string          `json:"error,omitempty"`
	Accepts     []PaymentOption `json:"accepts"`
}

// TransferAuthorization is the EIP-3009 TransferWithAuthorization message.
// Created fresh for every payment attempt and never reused.
type TransferAuthorization struct {
	From        string `json:"from"`        // Ethereum address (hex)
	To          string `json:"to"`          // Ethereum address (hex)
	Value       string `json:"value"`       // Amount in smallest unit as decimal string
	ValidAfter  string `json:"validAfter"`  // Unix timestamp as string
	ValidBefore string `json:"validBefore"` // Unix timestamp as string
	Nonce       string `json:"nonce"`       // 32-byte nonce as hex string
}

// ExactPayload is a signed transfer authorization
type ExactPayload struct {
	Signature     string                `json:"signature"`
	Authorization TransferAuthorization `json:"authorization"`
}

// SignedPayment is the value carried, base64 encoded, in the payment header
type SignedPayment struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     Network      `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

// PaymentInfo summarizes a completed signing for display and revocation
type PaymentInfo struct {
	Network Network `json:"network"`
	Spender string  `json:"spender"`
	Asset   string  `json:"asset"`
	Payer   string  `json:"payer"`
}

// NewPaymentInfo derives the summary of a signed payment made against option
func NewPaymentInfo(signed SignedPayment, option PaymentOption) PaymentInfo {
	return PaymentInfo{
		Network: signed.Network,
		Spender: signed.Payload.Authorization.To,
		Asset:   option.Asset,
		Payer:   signed.Payload.Authorization.From,
	}
}

// SettleResponse is the settlement result some brokers return on the paid response
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Payer       string  `json:"payer,omitempty"`
	Transaction string  `json:"transaction"`
	Network     Network `json:"network"`
}
