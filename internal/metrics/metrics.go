// Package metrics holds the prometheus collectors of the payment path.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	x402 "github.com/brokerdash/x402pay"
	x402http "github.com/brokerdash/x402pay/http"
)

var (
	ExecutorTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "x402pay_executor_transitions_total",
			Help: "State transitions of payment-gated calls",
		},
		[]string{"from", "to"},
	)

	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "x402pay_payments_total",
			Help: "Payment signing attempts by outcome and error code",
		},
		[]string{"outcome", "code", "network"},
	)

	PaymentSigningDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "x402pay_payment_signing_duration_seconds",
			Help:    "Time from challenge to signed payment, wallet prompts included",
			Buckets: prometheus.DefBuckets,
		},
	)

	SubmissionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "x402pay_submission_duration_seconds",
			Help:    "Duration of broker submissions, payment included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "outcome"},
	)

	RevocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "x402pay_revocations_total",
			Help: "Allowance revocations by outcome",
		},
		[]string{"outcome"},
	)
)

// Registry holds every collector above plus the process collectors
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		ExecutorTransitionsTotal,
		PaymentsTotal,
		PaymentSigningDuration,
		SubmissionDuration,
		RevocationsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveTransition counts executor state transitions
func ObserveTransition(from, to x402http.State) {
	ExecutorTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

var _ x402http.StateObserver = ObserveTransition

// Instrument registers payment hooks on client
func Instrument(client *x402.X402Client) *x402.X402Client {
	return client.
		OnAfterPayment(func(ctx x402.PaymentResultContext) {
			PaymentsTotal.WithLabelValues("signed", "", string(ctx.Option.Network)).Inc()
			PaymentSigningDuration.Observe(ctx.Duration.Seconds())
		}).
		OnPaymentFailure(func(ctx x402.PaymentFailureContext) {
			code := x402.ErrorCode(ctx.Error)
			if code == "" {
				code = "unknown"
			}
			PaymentsTotal.WithLabelValues("failed", code, string(ctx.Option.Network)).Inc()
		})
}

// ObserveSubmission records a finished broker submission
func ObserveSubmission(kind string, start time.Time, err error) {
	SubmissionDuration.WithLabelValues(kind, outcome(err)).Observe(time.Since(start).Seconds())
}

// ObserveRevocation counts a revocation attempt
func ObserveRevocation(err error) {
	switch {
	case err == nil:
		RevocationsTotal.WithLabelValues("confirmed").Inc()
	case x402.ErrorCode(err) == x402.ErrCodeRevocationTimeout:
		RevocationsTotal.WithLabelValues("timeout").Inc()
	default:
		RevocationsTotal.WithLabelValues("failed").Inc()
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := x402.ErrorCode(err); code != "" {
		return code
	}
	return "error"
}
