package evm

import (
	"context"
	"math/big"

	x402 "github.com/brokerdash/x402pay"
)

// ClientEvmSigner is the wallet boundary used to pay.
// Every method may block on a user prompt; none imposes its own timeout.
type ClientEvmSigner interface {
	// Accounts returns the connected accounts, first one preferred.
	// Fails with x402.ErrWalletUnavailable or x402.ErrNoAccounts.
	Accounts(ctx context.Context) ([]string, error)

	// EnsureChain switches the wallet to chainID, registering the chain first if needed.
	// Fails with x402.ErrNetworkSwitchRejected or x402.ErrNetworkAddRejected.
	EnsureChain(ctx context.Context, chainID *big.Int) error

	// SignTypedData signs EIP-712 typed data as from.
	// Fails with x402.ErrSigningRejected.
	SignTypedData(ctx context.Context, from string, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error)
}

// PromptLocker is implemented by signers whose wallet shows one prompt at a time.
// A payment holds the lock from account discovery until the signature returns.
type PromptLocker interface {
	LockPrompts(ctx context.Context) (unlock func(), err error)
}

// TransactionSender submits transactions and reads their receipts
type TransactionSender interface {
	// SendTransaction submits a call with calldata from the given account and returns its hash
	SendTransaction(ctx context.Context, from string, to string, data []byte) (string, error)

	// TransactionReceipt returns the receipt, or nil while the transaction is pending
	TransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)
}

// TypedDataDomain represents the EIP-712 domain separator
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField represents a field in EIP-712 typed data
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TransactionReceipt represents the receipt of a mined transaction
type TransactionReceipt struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
}

// AssetInfo contains information about an ERC20 token
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// NativeCurrency describes a chain's gas token
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// ChainParams are the wallet_addEthereumChain parameters of a chain
type ChainParams struct {
	ChainName      string         `json:"chainName"`
	RPCURLs        []string       `json:"rpcUrls"`
	BlockExplorers []string       `json:"blockExplorerUrls,omitempty"`
	NativeCurrency NativeCurrency `json:"nativeCurrency"`
}

// AuthorizationRequest is a built, not yet signed, transfer authorization
type AuthorizationRequest struct {
	Authorization x402.TransferAuthorization
	Domain        TypedDataDomain
	// FellBack is true when the network label was unknown and the fallback chain was used
	FellBack bool
}

// Message returns the EIP-712 message of the authorization.
// Values are strings so the same map works for local hashing and for JSON-RPC wallets.
func (r *AuthorizationRequest) Message() map[string]interface{} {
	return map[string]interface{}{
		"from":        r.Authorization.From,
		"to":          r.Authorization.To,
		"value":       r.Authorization.Value,
		"validAfter":  r.Authorization.ValidAfter,
		"validBefore": r.Authorization.ValidBefore,
		"nonce":       r.Authorization.Nonce,
	}
}
