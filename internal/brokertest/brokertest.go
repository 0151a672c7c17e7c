// Package brokertest provides a fake payment-gated broker and a fake
// payment scheme for tests.
package brokertest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	x402 "github.com/brokerdash/x402pay"
	x402http "github.com/brokerdash/x402pay/http"
)

// Fixed addresses used by the fake broker
const (
	PayTo = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	Asset = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	Payer = "0x857b06519E91e3A54538791bDbb0E22373e36b66"
)

// SchemeName is the scheme the fake broker asks for
const SchemeName = "exact"

// ============================================================================
// Fake scheme client
// ============================================================================

// SchemeClient signs nothing: it returns a well formed payment with a
// placeholder signature
type SchemeClient struct {
	calls int32
	err   error
}

// NewSchemeClient creates a scheme client. A non-nil err is returned from
// every payment attempt.
func NewSchemeClient(err error) *SchemeClient {
	return &SchemeClient{err: err}
}

// Scheme returns the payment scheme identifier
func (c *SchemeClient) Scheme() string {
	return SchemeName
}

// Calls returns how many payments were requested
func (c *SchemeClient) Calls() int {
	return int(atomic.LoadInt32(&c.calls))
}

// CreatePayment returns a payment for option, or the configured error
func (c *SchemeClient) CreatePayment(ctx context.Context, version int, option x402.PaymentOption) (x402.SignedPayment, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return x402.SignedPayment{}, c.err
	}
	return x402.SignedPayment{
		X402Version: version,
		Scheme:      SchemeName,
		Network:     option.Network,
		Payload: x402.ExactPayload{
			Signature: "0x" + strings.Repeat("00", 65),
			Authorization: x402.TransferAuthorization{
				From:        Payer,
				To:          option.PayTo,
				Value:       option.MaxAmountRequired,
				ValidAfter:  "0",
				ValidBefore: "9999999999",
				Nonce:       "0x" + strings.Repeat("01", 32),
			},
		},
	}, nil
}

// NewClient creates an x402 client paying on every network with scheme
func NewClient(scheme *SchemeClient) *x402.X402Client {
	return x402.Newx402Client(x402.WithScheme("*", scheme))
}

// ============================================================================
// Fake broker
// ============================================================================

// Broker is an in-process payment-gated broker
type Broker struct {
	*httptest.Server

	mu       sync.Mutex
	jobs     map[string]map[string]interface{}
	seq      int
	paid     int
	unpaid   int
	price    string
	failWith int
	settle   bool
}

// Option configures a Broker
type Option func(*Broker)

// WithPrice sets maxAmountRequired in the challenge
func WithPrice(atomicUnits string) Option {
	return func(b *Broker) {
		b.price = atomicUnits
	}
}

// WithPaidStatus makes paid submissions fail with status
func WithPaidStatus(status int) Option {
	return func(b *Broker) {
		b.failWith = status
	}
}

// WithSettlement adds an X-PAYMENT-RESPONSE header to paid responses
func WithSettlement() Option {
	return func(b *Broker) {
		b.settle = true
	}
}

// NewBroker starts a fake broker. Close it when done.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		jobs:  make(map[string]map[string]interface{}),
		price: "10000",
	}
	for _, opt := range opts {
		opt(b)
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	return b
}

// Paid returns how many paid submissions were received
func (b *Broker) Paid() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paid
}

// Challenged returns how many submissions were answered with 402
func (b *Broker) Challenged() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unpaid
}

// SetStatus changes the status the broker reports for a job
func (b *Broker) SetStatus(jobID, status string, result map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[jobID]
	if !ok {
		job = map[string]interface{}{"jobId": jobID}
		b.jobs[jobID] = job
	}
	job["status"] = status
	if result != nil {
		job["result"] = result
	}
}

// Challenge returns the 402 body for kind
func (b *Broker) Challenge(kind string) x402.PaymentChallenge {
	return x402.PaymentChallenge{
		X402Version: x402.ProtocolVersion,
		Error:       "X-PAYMENT header is required",
		Accepts: []x402.PaymentOption{{
			Scheme:            SchemeName,
			Network:           "base-sepolia",
			MaxAmountRequired: b.price,
			Resource:          b.URL + "/" + kind,
			Description:       kind,
			MimeType:          "application/json",
			PayTo:             PayTo,
			MaxTimeoutSeconds: 60,
			Asset:             Asset,
			Extra:             map[string]interface{}{"name": "USDC", "version": "2"},
		}},
	}
}

func (b *Broker) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")

	if r.Method == http.MethodGet && strings.HasPrefix(path, "jobs/") {
		b.status(w, strings.TrimPrefix(path, "jobs/"))
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch path {
	case "run", "store", "cache":
	default:
		http.NotFound(w, r)
		return
	}

	header := r.Header.Get(x402http.PaymentHeader)
	if header == "" {
		b.mu.Lock()
		b.unpaid++
		b.mu.Unlock()
		writeJSON(w, http.StatusPaymentRequired, b.Challenge(path))
		return
	}

	payment, err := x402http.DecodePaymentHeader(header)
	if err != nil || payment.Payload.Authorization.To != PayTo {
		writeJSON(w, http.StatusPaymentRequired, b.Challenge(path))
		return
	}

	var input map[string]interface{}
	body, _ := io.ReadAll(r.Body)
	if len(body) > 0 {
		if err := json.Unmarshal(body, &input); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
	}

	b.mu.Lock()
	b.paid++
	failWith := b.failWith
	if failWith != 0 {
		b.mu.Unlock()
		http.Error(w, "broker unavailable", failWith)
		return
	}
	b.seq++
	job := map[string]interface{}{
		"jobId":  fmt.Sprintf("job-%d", b.seq),
		"status": "completed",
		"result": resultFor(path, input),
	}
	b.jobs[job["jobId"].(string)] = job
	b.mu.Unlock()

	if b.settle {
		settlement, _ := x402http.EncodeSettleResponseHeader(x402.SettleResponse{
			Success:     true,
			Transaction: "0x" + strings.Repeat("ab", 32),
			Network:     payment.Network,
			Payer:       payment.Payload.Authorization.From,
		})
		w.Header().Set(x402http.PaymentResponseHeader, settlement)
	}
	writeJSON(w, http.StatusOK, job)
}

func (b *Broker) status(w http.ResponseWriter, id string) {
	b.mu.Lock()
	job, ok := b.jobs[id]
	b.mu.Unlock()
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func resultFor(kind string, input map[string]interface{}) map[string]interface{} {
	switch kind {
	case "run":
		return map[string]interface{}{"stdout": "hi", "exitCode": 0}
	case "store":
		return map[string]interface{}{"url": "https://storage.example/" + fmt.Sprint(input["filename"])}
	default:
		return map[string]interface{}{"key": input["key"], "stored": true}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
