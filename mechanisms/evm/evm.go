// Package evm provides EVM support for paying x402 challenges.
// It implements the exact payment scheme using EIP-3009 TransferWithAuthorization
// and the allowance revocation that may follow a payment.
package evm

import (
	x402 "github.com/brokerdash/x402pay"
)

// AnyNetwork matches every network label. Unknown labels are then handled by
// the builder's network policy.
const AnyNetwork x402.Network = "*"

// Register registers the exact scheme for every network with client
func Register(client *x402.X402Client, signer ClientEvmSigner, opts ...SchemeOption) *x402.X402Client {
	return client.Register(AnyNetwork, NewExactEvmScheme(signer, opts...))
}

// NewEvmClient creates an x402 client paying with signer
func NewEvmClient(signer ClientEvmSigner, opts ...SchemeOption) *x402.X402Client {
	return Register(x402.Newx402Client(), signer, opts...)
}
