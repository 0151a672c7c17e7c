// Package http runs HTTP requests against payment-gated endpoints.
// A 402 response is answered with one signed payment and one paid retry.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	x402 "github.com/brokerdash/x402pay"
)

// State is a step of a payment-gated call
type State string

const (
	StateInitial         State = "INITIAL"
	StateAwaitingPayment State = "AWAITING_PAYMENT"
	StatePaying          State = "PAYING"
	StateRetrying        State = "RETRYING"
	StateDone            State = "DONE"
	StateFailed          State = "FAILED"
)

// DefaultMaxChallengeBytes bounds how much of a 402 body is read
const DefaultMaxChallengeBytes = 1 << 20

// maxErrorBodyBytes bounds how much of a failed paid response is kept for the error
const maxErrorBodyBytes = 4 << 10

// StateObserver is told about every transition of a call
type StateObserver func(from, to State)

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithTransport sets the transport requests are sent with
func WithTransport(transport http.RoundTripper) ExecutorOption {
	return func(e *Executor) {
		e.transport = transport
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithStateObserver adds an observer of state transitions
func WithStateObserver(observer StateObserver) ExecutorOption {
	return func(e *Executor) {
		e.observers = append(e.observers, observer)
	}
}

// WithMaxChallengeBytes sets the 402 body limit
func WithMaxChallengeBytes(n int64) ExecutorOption {
	return func(e *Executor) {
		e.maxChallengeBytes = n
	}
}

// Executor sends requests and pays 402 challenges.
// Each call makes at most one payment.
type Executor struct {
	payer             x402.PaymentCreator
	transport         http.RoundTripper
	logger            zerolog.Logger
	observers         []StateObserver
	maxChallengeBytes int64
}

// NewExecutor creates an executor paying with payer. A nil payer makes every
// 402 fail with x402.ErrWalletNotConnected.
func NewExecutor(payer x402.PaymentCreator, opts ...ExecutorOption) *Executor {
	e := &Executor{
		payer:             payer,
		transport:         http.DefaultTransport,
		logger:            zerolog.Nop(),
		maxChallengeBytes: DefaultMaxChallengeBytes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of a call
type Result struct {
	Response *http.Response
	State    State
	// Payment is set when the call was paid
	Payment *x402.PaymentInfo
	// Settlement is set when the paid response carried a settlement header
	Settlement *x402.SettleResponse
}

// Paid reports whether a payment was attached
func (r *Result) Paid() bool {
	return r.Payment != nil
}

// Do performs req, paying once if the server asks for it.
// Non-402 responses are returned unmodified.
func (e *Executor) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	result, err := e.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return result.Response, nil
}

// Execute is Do, also returning what was paid
func (e *Executor) Execute(ctx context.Context, req *http.Request) (*Result, error) {
	call := &call{executor: e, state: StateInitial}
	start := time.Now()

	body, err := readRequestBody(req)
	if err != nil {
		return nil, call.fail(err)
	}

	resp, err := e.transport.RoundTrip(cloneRequest(ctx, req, body))
	if err != nil {
		return nil, call.fail(err)
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		if isSuccess(resp.StatusCode) {
			call.transition(StateDone)
		} else {
			call.transition(StateFailed)
		}
		return &Result{Response: resp, State: call.state}, nil
	}

	call.transition(StateAwaitingPayment)
	challenge, err := e.readChallenge(resp)
	if err != nil {
		return nil, call.fail(err)
	}

	call.transition(StatePaying)
	if e.payer == nil {
		return nil, call.fail(x402.NewPaymentError(x402.ErrCodeWalletNotConnected, "no wallet connected", nil))
	}
	signed, info, err := e.payer.CreatePayment(ctx, challenge)
	if err != nil {
		return nil, call.fail(err)
	}
	header, err := EncodePaymentHeader(signed)
	if err != nil {
		return nil, call.fail(err)
	}

	call.transition(StateRetrying)
	retry := cloneRequest(ctx, req, body)
	retry.Header.Set(PaymentHeader, header)

	log := e.logger.With().
		Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Str("network", string(info.Network)).
		Str("payer", info.Payer).
		Str("pay_to", info.Spender).
		Logger()
	log.Debug().Msg("sending paid request")

	paid, err := e.transport.RoundTrip(retry)
	if err != nil {
		// the authorization is signed and may have been settled
		log.Warn().Err(err).Msg("paid request not answered")
		return nil, call.fail(x402.WrapPaymentError(
			x402.ErrCodePaymentRetryFailed,
			"paid request was not answered; the payment may have been submitted, check before retrying",
			err,
		))
	}

	if !isSuccess(paid.StatusCode) {
		snippet, _ := io.ReadAll(io.LimitReader(paid.Body, maxErrorBodyBytes))
		paid.Body.Close()
		log.Warn().Int("status", paid.StatusCode).Msg("paid request rejected")
		return nil, call.fail(x402.NewPaymentError(
			x402.ErrCodePaymentRetryFailed,
			fmt.Sprintf("paid request returned %d", paid.StatusCode),
			map[string]interface{}{
				"status": paid.StatusCode,
				"body":   string(snippet),
			},
		))
	}

	result := &Result{Response: paid, Payment: &info}
	if h := paid.Header.Get(PaymentResponseHeader); h != "" {
		settlement, err := DecodeSettleResponseHeader(h)
		if err != nil {
			log.Warn().Err(err).Msg("ignoring unreadable settlement header")
		} else {
			result.Settlement = &settlement
		}
	}

	call.transition(StateDone)
	result.State = call.state
	log.Info().Int("status", paid.StatusCode).Dur("elapsed", time.Since(start)).Msg("paid request completed")
	return result, nil
}

func (e *Executor) readChallenge(resp *http.Response) (x402.PaymentChallenge, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxChallengeBytes+1))
	if err != nil {
		return x402.PaymentChallenge{}, x402.WrapPaymentError(x402.ErrCodeMalformedChallenge, "failed to read payment challenge", err)
	}
	if int64(len(body)) > e.maxChallengeBytes {
		return x402.PaymentChallenge{}, x402.NewPaymentError(x402.ErrCodeMalformedChallenge, "payment challenge too large", map[string]interface{}{
			"limit": e.maxChallengeBytes,
		})
	}
	return x402.ParseChallenge(body)
}

type call struct {
	executor *Executor
	state    State
}

func (c *call) transition(to State) {
	from := c.state
	c.state = to
	for _, observer := range c.executor.observers {
		observer(from, to)
	}
}

func (c *call) fail(err error) error {
	c.transition(StateFailed)
	c.executor.logger.Debug().Str("code", x402.ErrorCode(err)).Err(err).Msg("payment-gated call failed")
	return err
}

func readRequestBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return body, nil
}

// cloneRequest copies req with its original headers and a fresh body reader
func cloneRequest(ctx context.Context, req *http.Request, body []byte) *http.Request {
	clone := req.Clone(ctx)
	if body == nil {
		clone.Body = http.NoBody
		clone.GetBody = nil
		clone.ContentLength = 0
		return clone
	}
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	clone.ContentLength = int64(len(body))
	return clone
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

var _ x402.PaymentCreator = (*x402.X402Client)(nil)

// NewPayingExecutor creates an executor for an x402 client
func NewPayingExecutor(client *x402.X402Client, opts ...ExecutorOption) *Executor {
	if client == nil {
		return NewExecutor(nil, opts...)
	}
	return NewExecutor(client, opts...)
}
