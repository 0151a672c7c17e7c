package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	x402 "github.com/brokerdash/x402pay"
	x402http "github.com/brokerdash/x402pay/http"
	"github.com/brokerdash/x402pay/internal/brokertest"
)

func TestObserveTransition(t *testing.T) {
	before := testutil.ToFloat64(ExecutorTransitionsTotal.WithLabelValues("PAYING", "RETRYING"))
	ObserveTransition(x402http.StatePaying, x402http.StateRetrying)
	after := testutil.ToFloat64(ExecutorTransitionsTotal.WithLabelValues("PAYING", "RETRYING"))
	if after != before+1 {
		t.Errorf("counter went from %v to %v", before, after)
	}
}

func TestInstrumentCountsOutcomes(t *testing.T) {
	b := brokertest.NewBroker()
	defer b.Close()
	ctx := context.Background()

	signed := PaymentsTotal.WithLabelValues("signed", "", "base-sepolia")
	rejected := PaymentsTotal.WithLabelValues("failed", x402.ErrCodeSigningRejected, "base-sepolia")
	signedBefore := testutil.ToFloat64(signed)
	rejectedBefore := testutil.ToFloat64(rejected)

	ok := Instrument(brokertest.NewClient(brokertest.NewSchemeClient(nil)))
	if _, _, err := ok.CreatePayment(ctx, b.Challenge("run")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failing := Instrument(brokertest.NewClient(brokertest.NewSchemeClient(x402.ErrSigningRejected)))
	if _, _, err := failing.CreatePayment(ctx, b.Challenge("run")); !errors.Is(err, x402.ErrSigningRejected) {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := testutil.ToFloat64(signed) - signedBefore; got != 1 {
		t.Errorf("signed delta = %v", got)
	}
	if got := testutil.ToFloat64(rejected) - rejectedBefore; got != 1 {
		t.Errorf("rejected delta = %v", got)
	}
}

func TestObserveRevocation(t *testing.T) {
	cases := map[string]error{
		"confirmed": nil,
		"timeout":   x402.ErrRevocationTimeout,
		"failed":    x402.ErrRevocationFailed,
	}
	for label, err := range cases {
		before := testutil.ToFloat64(RevocationsTotal.WithLabelValues(label))
		ObserveRevocation(err)
		if got := testutil.ToFloat64(RevocationsTotal.WithLabelValues(label)) - before; got != 1 {
			t.Errorf("%s delta = %v", label, got)
		}
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveSubmission("run", time.Now(), nil)
	ObserveTransition(x402http.StateInitial, x402http.StateDone)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"x402pay_submission_duration_seconds", "x402pay_executor_transitions_total", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output is missing %s", name)
		}
	}
}
