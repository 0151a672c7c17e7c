package x402

import (
	"context"
	"time"
)

// ============================================================================
// Client Hook Context Types
// ============================================================================

// PaymentContext contains information passed to payment hooks
type PaymentContext struct {
	Ctx       context.Context
	Option    PaymentOption
	Version   int
	Timestamp time.Time
}

// PaymentResultContext contains the outcome of a successful signing
type PaymentResultContext struct {
	PaymentContext
	Info     PaymentInfo
	Duration time.Duration
}

// PaymentFailureContext contains a signing failure and its context
type PaymentFailureContext struct {
	PaymentContext
	Error    error
	Duration time.Duration
}

// BeforePaymentResult aborts payment creation when Abort is true
type BeforePaymentResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Hook Function Types
// ============================================================================

// BeforePaymentHook runs before the wallet is asked to sign and may abort
type BeforePaymentHook func(PaymentContext) (*BeforePaymentResult, error)

// AfterPaymentHook runs after a payment has been signed
type AfterPaymentHook func(PaymentResultContext)

// PaymentFailureHook runs when signing fails. It cannot recover the failure.
type PaymentFailureHook func(PaymentFailureContext)

// OnBeforePayment registers a hook executed before each payment is created
func (c *X402Client) OnBeforePayment(hook BeforePaymentHook) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforeHooks = append(c.beforeHooks, hook)
	return c
}

// OnAfterPayment registers a hook executed after each payment is created
func (c *X402Client) OnAfterPayment(hook AfterPaymentHook) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterHooks = append(c.afterHooks, hook)
	return c
}

// OnPaymentFailure registers a hook executed when payment creation fails
func (c *X402Client) OnPaymentFailure(hook PaymentFailureHook) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureHooks = append(c.failureHooks, hook)
	return c
}
