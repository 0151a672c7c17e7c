package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	x402 "github.com/brokerdash/x402pay"
	x402evm "github.com/brokerdash/x402pay/mechanisms/evm"
)

// PromptPolicy decides what happens when a payment starts while another one
// holds the wallet.
type PromptPolicy string

const (
	// PromptPolicyQueue waits for the wallet, honouring the caller's context
	PromptPolicyQueue PromptPolicy = "queue"
	// PromptPolicyReject fails with x402.ErrPaymentInProgress
	PromptPolicyReject PromptPolicy = "reject"
)

// ParsePromptPolicy parses a policy name, defaulting to queue
func ParsePromptPolicy(s string) (PromptPolicy, error) {
	switch PromptPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PromptPolicyQueue:
		return PromptPolicyQueue, nil
	case PromptPolicyReject:
		return PromptPolicyReject, nil
	default:
		return "", fmt.Errorf("unknown prompt policy %q", s)
	}
}

// SignerOption configures a ProviderSigner
type SignerOption func(*ProviderSigner)

// WithRejectOverlap fails overlapping payments instead of queueing them
func WithRejectOverlap() SignerOption {
	return func(s *ProviderSigner) {
		s.policy = PromptPolicyReject
	}
}

// WithPromptPolicy sets the overlap policy
func WithPromptPolicy(policy PromptPolicy) SignerOption {
	return func(s *ProviderSigner) {
		s.policy = policy
	}
}

// WithRequestAccounts asks the wallet to connect when no account is exposed yet
func WithRequestAccounts() SignerOption {
	return func(s *ProviderSigner) {
		s.requestAccounts = true
	}
}

// WithChainParams registers wallet_addEthereumChain parameters for a chain
func WithChainParams(chainID *big.Int, params x402evm.ChainParams) SignerOption {
	return func(s *ProviderSigner) {
		s.chains[chainID.String()] = params
	}
}

// WithSignerLogger sets the logger
func WithSignerLogger(logger zerolog.Logger) SignerOption {
	return func(s *ProviderSigner) {
		s.logger = logger
	}
}

// ProviderSigner implements x402evm.ClientEvmSigner and x402evm.TransactionSender
// on top of a Provider. It owns the wallet's single prompt slot.
type ProviderSigner struct {
	provider        Provider
	policy          PromptPolicy
	requestAccounts bool
	chains          map[string]x402evm.ChainParams
	slot            chan struct{}
	logger          zerolog.Logger

	// accounts is only trusted while watching, i.e. while the provider
	// reports account changes
	mu       sync.RWMutex
	accounts []string
	watching bool
	unsub    func()
}

// NewProviderSigner creates a signer over provider. A nil provider is allowed
// and reports x402.ErrWalletUnavailable on use.
func NewProviderSigner(provider Provider, opts ...SignerOption) *ProviderSigner {
	s := &ProviderSigner{
		provider: provider,
		policy:   PromptPolicyQueue,
		chains:   make(map[string]x402evm.ChainParams),
		slot:     make(chan struct{}, 1),
		logger:   zerolog.Nop(),
	}
	for id, params := range x402evm.KnownChains {
		s.chains[id] = params
	}
	for _, opt := range opts {
		opt(s)
	}

	if notifier, ok := provider.(AccountsNotifier); ok {
		s.watching = true
		s.unsub = notifier.OnAccountsChanged(func(accounts []string) {
			s.mu.Lock()
			s.accounts = append([]string(nil), accounts...)
			s.mu.Unlock()
			s.logger.Debug().Int("accounts", len(accounts)).Msg("wallet accounts changed")
		})
	}
	return s
}

// Close stops listening for account changes
func (s *ProviderSigner) Close() {
	s.mu.Lock()
	s.watching = false
	s.accounts = nil
	s.mu.Unlock()
	if s.unsub != nil {
		s.unsub()
	}
}

// LockPrompts takes the wallet's prompt slot
func (s *ProviderSigner) LockPrompts(ctx context.Context) (func(), error) {
	release := func() { <-s.slot }

	if s.policy == PromptPolicyReject {
		select {
		case s.slot <- struct{}{}:
			return release, nil
		default:
			return nil, x402.ErrPaymentInProgress
		}
	}

	select {
	case s.slot <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Accounts returns the connected accounts. Without account change
// notifications every call asks the wallet, so a disconnect is seen on the
// next payment.
func (s *ProviderSigner) Accounts(ctx context.Context) ([]string, error) {
	if s.provider == nil {
		return nil, x402.ErrWalletUnavailable
	}

	s.mu.RLock()
	var cached []string
	if s.watching {
		cached = append(cached, s.accounts...)
	}
	s.mu.RUnlock()
	if len(cached) > 0 {
		return cached, nil
	}

	accounts, err := s.requestStrings(ctx, "eth_accounts")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, x402.WrapPaymentError(x402.ErrCodeWalletUnavailable, "wallet did not answer eth_accounts", err)
	}

	if len(accounts) == 0 && s.requestAccounts {
		accounts, err = s.requestStrings(ctx, "eth_requestAccounts")
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, x402.WrapPaymentError(x402.ErrCodeNoAccounts, "wallet connection was not approved", err)
		}
	}

	if len(accounts) == 0 {
		return nil, x402.ErrNoAccounts
	}

	s.mu.Lock()
	if s.watching {
		s.accounts = append([]string(nil), accounts...)
	}
	s.mu.Unlock()
	return accounts, nil
}

// EnsureChain switches the wallet to chainID, adding the chain when the wallet
// does not know it.
func (s *ProviderSigner) EnsureChain(ctx context.Context, chainID *big.Int) error {
	if s.provider == nil {
		return x402.ErrWalletUnavailable
	}

	if current, err := s.chainID(ctx); err == nil && current.Cmp(chainID) == 0 {
		return nil
	}

	target := hexutil.EncodeBig(chainID)
	_, err := s.provider.Request(ctx, "wallet_switchEthereumChain", map[string]string{"chainId": target})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if ProviderErrorCode(err) != CodeUnrecognizedChain {
		return x402.WrapPaymentError(x402.ErrCodeNetworkSwitchRejected, fmt.Sprintf("wallet did not switch to chain %s", chainID), err)
	}

	params, ok := s.chains[chainID.String()]
	if !ok {
		return x402.NewPaymentError(x402.ErrCodeNetworkAddRejected, fmt.Sprintf("wallet does not know chain %s and no parameters are configured", chainID), nil)
	}

	s.logger.Info().Str("chain_id", chainID.String()).Str("chain", params.ChainName).Msg("adding chain to wallet")
	if _, err := s.provider.Request(ctx, "wallet_addEthereumChain", addChainRequest{ChainID: target, ChainParams: params}); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return x402.WrapPaymentError(x402.ErrCodeNetworkAddRejected, fmt.Sprintf("wallet did not add chain %s", chainID), err)
	}

	if _, err := s.provider.Request(ctx, "wallet_switchEthereumChain", map[string]string{"chainId": target}); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return x402.WrapPaymentError(x402.ErrCodeNetworkSwitchRejected, fmt.Sprintf("wallet did not switch to chain %s", chainID), err)
	}
	return nil
}

// SignTypedData signs with eth_signTypedData_v4
func (s *ProviderSigner) SignTypedData(
	ctx context.Context,
	from string,
	domain x402evm.TypedDataDomain,
	types map[string][]x402evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	if s.provider == nil {
		return nil, x402.ErrWalletUnavailable
	}

	typedData, err := json.Marshal(x402evm.ToAPITypedData(domain, types, primaryType, message))
	if err != nil {
		return nil, fmt.Errorf("failed to encode typed data: %w", err)
	}

	var signature string
	if err := s.call(ctx, &signature, "eth_signTypedData_v4", from, string(typedData)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, x402.WrapPaymentError(x402.ErrCodeSigningRejected, "wallet did not sign the payment", err)
	}

	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != 65 {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningRejected, fmt.Sprintf("wallet returned an invalid signature: %q", signature), nil)
	}
	return sig, nil
}

// SendTransaction submits a contract call with eth_sendTransaction
func (s *ProviderSigner) SendTransaction(ctx context.Context, from, to string, data []byte) (string, error) {
	if s.provider == nil {
		return "", x402.ErrWalletUnavailable
	}

	req := sendTransactionRequest{
		From:  from,
		To:    to,
		Data:  hexutil.Encode(data),
		Value: "0x0",
	}

	var hash string
	if err := s.call(ctx, &hash, "eth_sendTransaction", req); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", x402.WrapPaymentError(x402.ErrCodeSigningRejected, "wallet did not send the transaction", err)
	}
	return hash, nil
}

// TransactionReceipt returns the receipt of txHash, or nil while it is pending
func (s *ProviderSigner) TransactionReceipt(ctx context.Context, txHash string) (*x402evm.TransactionReceipt, error) {
	if s.provider == nil {
		return nil, x402.ErrWalletUnavailable
	}

	var receipt *rpcReceipt
	if err := s.call(ctx, &receipt, "eth_getTransactionReceipt", txHash); err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, nil
	}
	return &x402evm.TransactionReceipt{
		Status:      uint64(receipt.Status),
		BlockNumber: uint64(receipt.BlockNumber),
		TxHash:      receipt.TxHash,
	}, nil
}

func (s *ProviderSigner) chainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := s.call(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return id.ToInt(), nil
}

func (s *ProviderSigner) requestStrings(ctx context.Context, method string) ([]string, error) {
	var out []string
	if err := s.call(ctx, &out, method); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ProviderSigner) call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	raw, err := s.provider.Request(ctx, method, params...)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("invalid %s result: %w", method, err)
	}
	return nil
}

type addChainRequest struct {
	ChainID string `json:"chainId"`
	x402evm.ChainParams
}

type sendTransactionRequest struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

type rpcReceipt struct {
	Status      hexutil.Uint64 `json:"status"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	TxHash      string         `json:"transactionHash"`
}
