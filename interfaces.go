package x402

import (
	"context"
)

// SchemeNetworkClient is implemented by client-side payment mechanisms.
// The mechanism signs a payment for exactly the option it is given.
type SchemeNetworkClient interface {
	Scheme() string
	CreatePayment(ctx context.Context, version int, option PaymentOption) (SignedPayment, error)
}

// PaymentCreator turns a payment challenge into a signed payment.
// The HTTP executor depends on this interface rather than on a concrete client.
type PaymentCreator interface {
	CreatePayment(ctx context.Context, challenge PaymentChallenge) (SignedPayment, PaymentInfo, error)
}
