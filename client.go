package x402

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// X402Client creates signed payments for broker challenges.
// This is used by applications that need to make payments (have wallets/signers)
type X402Client struct {
	mu sync.RWMutex

	// network pattern -> scheme -> client implementation
	schemes map[Network]map[string]SchemeNetworkClient

	beforeHooks  []BeforePaymentHook
	afterHooks   []AfterPaymentHook
	failureHooks []PaymentFailureHook
}

// ClientOption configures the client
type ClientOption func(*X402Client)

// WithScheme registers a payment mechanism at creation time
func WithScheme(network Network, client SchemeNetworkClient) ClientOption {
	return func(c *X402Client) {
		c.Register(network, client)
	}
}

// Newx402Client creates a new x402 client
func Newx402Client(opts ...ClientOption) *X402Client {
	c := &X402Client{
		schemes: make(map[Network]map[string]SchemeNetworkClient),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Register registers a payment mechanism for a network pattern ("eip155:*", "*", or an exact label)
func (c *X402Client) Register(network Network, client SchemeNetworkClient) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schemes[network] == nil {
		c.schemes[network] = make(map[string]SchemeNetworkClient)
	}
	c.schemes[network][client.Scheme()] = client

	return c
}

// CanPay reports whether the first option of the challenge has a registered mechanism
func (c *X402Client) CanPay(challenge PaymentChallenge) bool {
	option, err := FirstOption(challenge)
	if err != nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return findByNetworkAndScheme(c.schemes, option.Scheme, option.Network) != nil
}

// CreatePayment signs a payment for the first option of the challenge.
// The remaining options are never considered.
func (c *X402Client) CreatePayment(ctx context.Context, challenge PaymentChallenge) (SignedPayment, PaymentInfo, error) {
	option, err := FirstOption(challenge)
	if err != nil {
		return SignedPayment{}, PaymentInfo{}, err
	}

	c.mu.RLock()
	client := findByNetworkAndScheme(c.schemes, option.Scheme, option.Network)
	before := append([]BeforePaymentHook(nil), c.beforeHooks...)
	after := append([]AfterPaymentHook(nil), c.afterHooks...)
	failure := append([]PaymentFailureHook(nil), c.failureHooks...)
	c.mu.RUnlock()

	if client == nil {
		return SignedPayment{}, PaymentInfo{}, NewPaymentError(
			ErrCodeUnsupportedScheme,
			fmt.Sprintf("no client registered for scheme %s on network %s", option.Scheme, option.Network),
			nil,
		)
	}

	hookCtx := PaymentContext{
		Ctx:       ctx,
		Option:    option,
		Version:   challenge.X402Version,
		Timestamp: time.Now(),
	}

	for _, hook := range before {
		result, err := hook(hookCtx)
		if err != nil {
			return SignedPayment{}, PaymentInfo{}, fmt.Errorf("before payment hook failed: %w", err)
		}
		if result != nil && result.Abort {
			return SignedPayment{}, PaymentInfo{}, NewPaymentError(ErrCodePaymentAborted, result.Reason, nil)
		}
	}

	signed, err := client.CreatePayment(ctx, challenge.X402Version, option)
	if err != nil {
		for _, hook := range failure {
			hook(PaymentFailureContext{PaymentContext: hookCtx, Error: err, Duration: time.Since(hookCtx.Timestamp)})
		}
		return SignedPayment{}, PaymentInfo{}, err
	}

	info := NewPaymentInfo(signed, option)
	for _, hook := range after {
		hook(PaymentResultContext{PaymentContext: hookCtx, Info: info, Duration: time.Since(hookCtx.Timestamp)})
	}

	return signed, info, nil
}
