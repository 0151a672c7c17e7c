package evm

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	x402 "github.com/brokerdash/x402pay"
)

// SchemeOption configures an ExactEvmScheme
type SchemeOption func(*ExactEvmScheme)

// WithBuilder sets the authorization builder
func WithBuilder(builder *AuthorizationBuilder) SchemeOption {
	return func(s *ExactEvmScheme) {
		s.builder = builder
	}
}

// WithSchemeLogger sets the logger
func WithSchemeLogger(logger zerolog.Logger) SchemeOption {
	return func(s *ExactEvmScheme) {
		s.logger = logger
	}
}

// WithSignatureCheck recovers the signer of every signature and rejects
// signatures made by an account other than the payer.
func WithSignatureCheck() SchemeOption {
	return func(s *ExactEvmScheme) {
		s.verify = true
	}
}

// ExactEvmScheme implements x402.SchemeNetworkClient for EIP-3009 exact payments
type ExactEvmScheme struct {
	signer  ClientEvmSigner
	builder *AuthorizationBuilder
	logger  zerolog.Logger
	verify  bool
}

// NewExactEvmScheme creates the exact scheme client. signer may be nil, in
// which case every payment fails with x402.ErrWalletNotConnected.
func NewExactEvmScheme(signer ClientEvmSigner, opts ...SchemeOption) *ExactEvmScheme {
	s := &ExactEvmScheme{
		signer: signer,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.builder == nil {
		s.builder = NewAuthorizationBuilder(WithLogger(s.logger))
	}
	return s
}

// Scheme returns the scheme identifier
func (s *ExactEvmScheme) Scheme() string {
	return SchemeExact
}

// CreatePayment signs a transfer authorization for option.
// The option is validated before the wallet is touched.
func (s *ExactEvmScheme) CreatePayment(ctx context.Context, version int, option x402.PaymentOption) (x402.SignedPayment, error) {
	if _, _, err := s.builder.Check(option); err != nil {
		return x402.SignedPayment{}, err
	}

	if locker, ok := s.signer.(PromptLocker); ok {
		unlock, err := locker.LockPrompts(ctx)
		if err != nil {
			return x402.SignedPayment{}, err
		}
		defer unlock()
	}

	payer, err := s.payer(ctx)
	if err != nil {
		return x402.SignedPayment{}, err
	}

	request, err := s.builder.Build(option, payer)
	if err != nil {
		return x402.SignedPayment{}, err
	}

	if err := ctx.Err(); err != nil {
		return x402.SignedPayment{}, err
	}
	if err := s.signer.EnsureChain(ctx, request.Domain.ChainID); err != nil {
		return x402.SignedPayment{}, err
	}

	signature, err := s.signer.SignTypedData(
		ctx,
		request.Authorization.From,
		request.Domain,
		TransferWithAuthorizationTypes(),
		PrimaryTypeTransferWithAuthorization,
		request.Message(),
	)
	if err != nil {
		return x402.SignedPayment{}, err
	}

	if s.verify {
		if err := verifySignedBy(request, signature, request.Authorization.From); err != nil {
			return x402.SignedPayment{}, err
		}
	}

	s.logger.Debug().
		Str("network", string(option.Network)).
		Str("chain_id", request.Domain.ChainID.String()).
		Str("payer", request.Authorization.From).
		Str("pay_to", request.Authorization.To).
		Str("value", request.Authorization.Value).
		Msg("signed transfer authorization")

	if version == 0 {
		version = x402.ProtocolVersion
	}

	return x402.SignedPayment{
		X402Version: version,
		Scheme:      SchemeExact,
		Network:     option.Network,
		Payload: x402.ExactPayload{
			Signature:     BytesToHex(signature),
			Authorization: request.Authorization,
		},
	}, nil
}

// payer returns the first connected account. Every way of not having one is
// reported as x402.ErrWalletNotConnected, keeping the cause.
func (s *ExactEvmScheme) payer(ctx context.Context) (string, error) {
	if s.signer == nil {
		return "", x402.WrapPaymentError(x402.ErrCodeWalletNotConnected, "no wallet connected", x402.ErrWalletUnavailable)
	}

	accounts, err := s.signer.Accounts(ctx)
	if err != nil {
		if errors.Is(err, x402.ErrWalletUnavailable) || errors.Is(err, x402.ErrNoAccounts) {
			return "", x402.WrapPaymentError(x402.ErrCodeWalletNotConnected, "no wallet connected", err)
		}
		return "", fmt.Errorf("failed to get accounts: %w", err)
	}
	if len(accounts) == 0 {
		return "", x402.WrapPaymentError(x402.ErrCodeWalletNotConnected, "no wallet connected", x402.ErrNoAccounts)
	}
	return accounts[0], nil
}
