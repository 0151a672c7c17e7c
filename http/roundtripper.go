package http

import (
	"net/http"

	x402 "github.com/brokerdash/x402pay"
)

// PaymentRoundTripper implements http.RoundTripper with x402 payment handling
type PaymentRoundTripper struct {
	executor *Executor
}

// NewPaymentRoundTripper wraps transport. opts are applied after the transport is set.
func NewPaymentRoundTripper(transport http.RoundTripper, payer x402.PaymentCreator, opts ...ExecutorOption) *PaymentRoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &PaymentRoundTripper{
		executor: NewExecutor(payer, append([]ExecutorOption{WithTransport(transport)}, opts...)...),
	}
}

// RoundTrip implements http.RoundTripper
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.executor.Do(req.Context(), req)
}

// WrapClient returns a copy of client whose requests pay 402 challenges.
// The original client is not modified.
func WrapClient(client *http.Client, payer x402.PaymentCreator, opts ...ExecutorOption) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}
	wrapped := *client
	wrapped.Transport = NewPaymentRoundTripper(client.Transport, payer, opts...)
	return &wrapped
}
