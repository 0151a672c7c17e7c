package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	x402 "github.com/brokerdash/x402pay"
)

// ErrInvalidPaymentInfo is returned when a payment summary has no usable addresses
var ErrInvalidPaymentInfo = errors.New("invalid payment info")

// RevocationSigner can switch chains and submit transactions
type RevocationSigner interface {
	EnsureChain(ctx context.Context, chainID *big.Int) error
	TransactionSender
}

// RevokerOption configures a Revoker
type RevokerOption func(*Revoker)

// WithPolling sets the receipt polling budget
func WithPolling(attempts int, interval time.Duration) RevokerOption {
	return func(r *Revoker) {
		r.attempts = attempts
		r.interval = interval
	}
}

// WithSleep replaces the wait between receipt polls
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RevokerOption {
	return func(r *Revoker) {
		r.sleep = sleep
	}
}

// WithResolver sets the chain resolver used for the payment network
func WithResolver(resolver *ChainResolver) RevokerOption {
	return func(r *Revoker) {
		r.resolver = resolver
	}
}

// WithRevokerLogger sets the logger
func WithRevokerLogger(logger zerolog.Logger) RevokerOption {
	return func(r *Revoker) {
		r.logger = logger
	}
}

// Revoker zeroes the allowance a payment granted its spender.
// It is never run as part of a payment.
type Revoker struct {
	signer   RevocationSigner
	resolver *ChainResolver
	attempts int
	interval time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	logger   zerolog.Logger
}

// NewRevoker creates a revoker polling 30 times at 2 second intervals
func NewRevoker(signer RevocationSigner, opts ...RevokerOption) *Revoker {
	r := &Revoker{
		signer:   signer,
		resolver: NewChainResolver(NetworkPolicyFallback, DefaultFallbackChainID, nil),
		attempts: RevocationAttempts,
		interval: RevocationInterval,
		sleep:    sleepContext,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ApproveCalldata encodes approve(spender, amount)
func ApproveCalldata(spender string, amount *big.Int) ([]byte, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(ERC20ApproveABI)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse approve ABI: %w", err)
	}
	calldata, err := contractABI.Pack("approve", common.HexToAddress(spender), amount)
	if err != nil {
		return nil, fmt.Errorf("failed to encode approve calldata: %w", err)
	}
	return calldata, nil
}

// Revoke submits approve(spender, 0) on the asset from the payer and waits for
// the receipt. Returns the transaction hash.
func (r *Revoker) Revoke(ctx context.Context, info x402.PaymentInfo) (string, error) {
	if !IsValidAddress(info.Asset) || !IsValidAddress(info.Spender) || !IsValidAddress(info.Payer) {
		return "", fmt.Errorf("%w: asset=%q spender=%q payer=%q", ErrInvalidPaymentInfo, info.Asset, info.Spender, info.Payer)
	}

	chainID, _, err := r.resolver.Resolve(info.Network)
	if err != nil {
		return "", err
	}

	calldata, err := ApproveCalldata(info.Spender, big.NewInt(0))
	if err != nil {
		return "", err
	}

	if locker, ok := r.signer.(PromptLocker); ok {
		unlock, err := locker.LockPrompts(ctx)
		if err != nil {
			return "", err
		}
		defer unlock()
	}

	if err := r.signer.EnsureChain(ctx, chainID); err != nil {
		return "", err
	}

	txHash, err := r.signer.SendTransaction(ctx, NormalizeAddress(info.Payer), NormalizeAddress(info.Asset), calldata)
	if err != nil {
		return "", err
	}

	log := r.logger.With().
		Str("tx", txHash).
		Str("asset", info.Asset).
		Str("spender", info.Spender).
		Logger()
	log.Info().Msg("revocation submitted")

	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.interval); err != nil {
				return txHash, err
			}
		}

		receipt, err := r.signer.TransactionReceipt(ctx, txHash)
		if err != nil {
			if ctx.Err() != nil {
				return txHash, ctx.Err()
			}
			log.Debug().Err(err).Int("attempt", attempt+1).Msg("receipt lookup failed")
			continue
		}
		if receipt == nil {
			continue
		}

		if receipt.Status != TxStatusSuccess {
			return txHash, x402.NewPaymentError(x402.ErrCodeRevocationFailed, "revocation transaction failed", map[string]interface{}{
				"transaction": txHash,
				"blockNumber": receipt.BlockNumber,
			})
		}

		log.Info().Uint64("block", receipt.BlockNumber).Msg("allowance revoked")
		return txHash, nil
	}

	return txHash, x402.NewPaymentError(x402.ErrCodeRevocationTimeout, "revocation receipt not found in time", map[string]interface{}{
		"transaction": txHash,
		"attempts":    r.attempts,
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
