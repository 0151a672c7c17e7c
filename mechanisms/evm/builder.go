package evm

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"

	x402 "github.com/brokerdash/x402pay"
)

// NetworkPolicy decides what happens to network labels missing from the chain table
type NetworkPolicy string

const (
	// NetworkPolicyFallback resolves unknown labels to the fallback chain.
	// Existing brokers advertise labels this client may not know yet.
	NetworkPolicyFallback NetworkPolicy = "fallback"

	// NetworkPolicyStrict fails unknown labels with x402.ErrUnsupportedNetwork
	NetworkPolicyStrict NetworkPolicy = "strict"
)

// ParseNetworkPolicy parses a policy name, defaulting to fallback
func ParseNetworkPolicy(s string) (NetworkPolicy, error) {
	switch NetworkPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", NetworkPolicyFallback:
		return NetworkPolicyFallback, nil
	case NetworkPolicyStrict:
		return NetworkPolicyStrict, nil
	default:
		return "", fmt.Errorf("unknown network policy %q", s)
	}
}

// ChainResolver maps network labels to chain IDs
type ChainResolver struct {
	policy    NetworkPolicy
	fallback  *big.Int
	overrides map[string]*big.Int
}

// NewChainResolver creates a resolver over NetworkChainIDs
func NewChainResolver(policy NetworkPolicy, fallback *big.Int, overrides map[string]*big.Int) *ChainResolver {
	if fallback == nil {
		fallback = DefaultFallbackChainID
	}
	return &ChainResolver{
		policy:    policy,
		fallback:  fallback,
		overrides: overrides,
	}
}

// Resolve returns the chain ID of network. fellBack reports that the label was
// unknown and the fallback chain was chosen.
func (r *ChainResolver) Resolve(network x402.Network) (chainID *big.Int, fellBack bool, err error) {
	label := strings.ToLower(string(network))

	if id, ok := r.overrides[label]; ok && id != nil {
		return new(big.Int).Set(id), false, nil
	}
	if id, ok := ParseCAIP2ChainID(label); ok {
		return id, false, nil
	}
	if id, ok := NetworkChainIDs[label]; ok {
		return new(big.Int).Set(id), false, nil
	}

	if r.policy == NetworkPolicyStrict {
		return nil, false, x402.NewPaymentError(x402.ErrCodeUnsupportedNetwork, fmt.Sprintf("unsupported network: %s", network), nil)
	}
	return new(big.Int).Set(r.fallback), true, nil
}

// BuilderOption configures an AuthorizationBuilder
type BuilderOption func(*AuthorizationBuilder)

// WithClock sets the time source of validity windows
func WithClock(now func() time.Time) BuilderOption {
	return func(b *AuthorizationBuilder) {
		b.now = now
	}
}

// WithNonceSource sets the reader nonces are drawn from
func WithNonceSource(r io.Reader) BuilderOption {
	return func(b *AuthorizationBuilder) {
		b.nonceSource = r
	}
}

// WithValidityWindow sets the width of the validity window
func WithValidityWindow(d time.Duration) BuilderOption {
	return func(b *AuthorizationBuilder) {
		b.window = d
	}
}

// WithNetworkPolicy sets how unknown network labels are handled
func WithNetworkPolicy(policy NetworkPolicy) BuilderOption {
	return func(b *AuthorizationBuilder) {
		b.policy = policy
	}
}

// WithFallbackChainID sets the chain used for unknown labels under NetworkPolicyFallback
func WithFallbackChainID(chainID *big.Int) BuilderOption {
	return func(b *AuthorizationBuilder) {
		b.fallback = chainID
	}
}

// WithChainOverride maps a network label to a chain ID, taking precedence over the built-in table.
// A nil chainID is ignored.
func WithChainOverride(network string, chainID *big.Int) BuilderOption {
	return func(b *AuthorizationBuilder) {
		if chainID == nil {
			return
		}
		b.overrides[strings.ToLower(network)] = new(big.Int).Set(chainID)
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) BuilderOption {
	return func(b *AuthorizationBuilder) {
		b.logger = logger
	}
}

// AuthorizationBuilder builds EIP-3009 transfer authorizations for payment options
type AuthorizationBuilder struct {
	now         func() time.Time
	nonceSource io.Reader
	window      time.Duration
	policy      NetworkPolicy
	fallback    *big.Int
	overrides   map[string]*big.Int
	resolver    *ChainResolver
	logger      zerolog.Logger
}

// NewAuthorizationBuilder creates a builder with a 15 minute window, crypto/rand
// nonces and the fallback network policy.
func NewAuthorizationBuilder(opts ...BuilderOption) *AuthorizationBuilder {
	b := &AuthorizationBuilder{
		now:         time.Now,
		nonceSource: rand.Reader,
		window:      DefaultValidityWindow,
		policy:      NetworkPolicyFallback,
		fallback:    DefaultFallbackChainID,
		overrides:   make(map[string]*big.Int),
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.resolver = NewChainResolver(b.policy, b.fallback, b.overrides)
	return b
}

// ResolveChain returns the chain ID payments on network are signed for
func (b *AuthorizationBuilder) ResolveChain(network x402.Network) (*big.Int, bool, error) {
	return b.resolver.Resolve(network)
}

// Check validates option and resolves its chain without building anything.
// Callers use it to fail before any wallet prompt.
func (b *AuthorizationBuilder) Check(option x402.PaymentOption) (chainID *big.Int, fellBack bool, err error) {
	if err := x402.ValidatePaymentOption(option); err != nil {
		return nil, false, err
	}
	if !IsValidAddress(option.PayTo) {
		return nil, false, x402.NewPaymentError(x402.ErrCodeInvalidChallenge, fmt.Sprintf("invalid payTo address: %s", option.PayTo), nil)
	}
	if !IsValidAddress(option.Asset) {
		return nil, false, x402.NewPaymentError(x402.ErrCodeInvalidChallenge, fmt.Sprintf("invalid asset address: %s", option.Asset), nil)
	}
	return b.resolver.Resolve(option.Network)
}

// Build creates an unsigned authorization paying option from payer.
// The amount and payee are copied from the option as is.
func (b *AuthorizationBuilder) Build(option x402.PaymentOption, payer string) (*AuthorizationRequest, error) {
	chainID, fellBack, err := b.Check(option)
	if err != nil {
		return nil, err
	}
	if !IsValidAddress(payer) {
		return nil, fmt.Errorf("invalid payer address: %s", payer)
	}
	if fellBack {
		b.logger.Warn().
			Str("network", string(option.Network)).
			Str("chain_id", chainID.String()).
			Msg("unknown network label, using fallback chain")
	}

	nonce, err := createNonceFrom(b.nonceSource)
	if err != nil {
		return nil, err
	}

	validAfter, validBefore := CreateValidityWindow(b.now(), b.window)

	return &AuthorizationRequest{
		Authorization: x402.TransferAuthorization{
			From:        NormalizeAddress(payer),
			To:          option.PayTo,
			Value:       option.MaxAmountRequired,
			ValidAfter:  validAfter.String(),
			ValidBefore: validBefore.String(),
			Nonce:       nonce,
		},
		Domain:   b.domain(option, chainID),
		FellBack: fellBack,
	}, nil
}

func (b *AuthorizationBuilder) domain(option x402.PaymentOption, chainID *big.Int) TypedDataDomain {
	name, version := DefaultTokenName, DefaultTokenVersion
	if info, ok := LookupAsset(chainID, option.Asset); ok {
		name, version = info.Name, info.Version
	}
	if option.Extra != nil {
		if n, ok := option.Extra["name"].(string); ok && n != "" {
			name = n
		}
		if v, ok := option.Extra["version"].(string); ok && v != "" {
			version = v
		}
	}

	return TypedDataDomain{
		Name:              name,
		Version:           version,
		ChainID:           chainID,
		VerifyingContract: NormalizeAddress(option.Asset),
	}
}

// BuildForChallenge builds an authorization for the first option of challenge
func (b *AuthorizationBuilder) BuildForChallenge(challenge x402.PaymentChallenge, payer string) (*AuthorizationRequest, error) {
	option, err := x402.FirstOption(challenge)
	if err != nil {
		return nil, err
	}
	return b.Build(option, payer)
}
