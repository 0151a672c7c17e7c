package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/brokerdash/x402pay"
	"github.com/brokerdash/x402pay/broker"
	x402http "github.com/brokerdash/x402pay/http"
	"github.com/brokerdash/x402pay/internal/brokertest"
	"github.com/brokerdash/x402pay/jobs"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	broker *brokertest.Broker
	store  *jobs.MemoryStore
	server *Server
}

func newFixture(t *testing.T, schemeErr error, opts ...Option) *fixture {
	t.Helper()
	b := brokertest.NewBroker(brokertest.WithSettlement())
	t.Cleanup(b.Close)

	executor := x402http.NewPayingExecutor(brokertest.NewClient(brokertest.NewSchemeClient(schemeErr)))
	client, err := broker.NewClient(b.URL, executor)
	require.NoError(t, err)

	store := jobs.NewMemoryStore()
	return &fixture{broker: b, store: store, server: New(store, client, opts...)}
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil, WithAPIKey("secret"))
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code, "no key needed")
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAPIKey(t *testing.T) {
	f := newFixture(t, nil, WithAPIKey("secret"))

	rec := f.do(t, http.MethodGet, "/api/jobs", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized","code":"unauthorized"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/jobs", "", APIKeyHeader, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/jobs", "", APIKeyHeader, "secret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitRunRecordsJob(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/run", `{"language":"python","code":"print('hi')"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var record jobs.Record
	decodeBody(t, rec, &record)
	assert.Equal(t, broker.KindRun, record.Kind)
	assert.Equal(t, "job-1", record.BrokerJobID)
	assert.Equal(t, "completed", record.Status)
	assert.JSONEq(t, `{"stdout":"hi","exitCode":0}`, string(record.Result))
	assert.Equal(t, brokertest.Payer, record.Payer)
	assert.NotEmpty(t, record.Transaction)

	rec = f.do(t, http.MethodGet, "/api/jobs/"+record.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/jobs?kind=run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Jobs []jobs.Record `json:"jobs"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, record.ID, list.Jobs[0].ID)

	rec = f.do(t, http.MethodGet, "/api/jobs?kind=store", "")
	decodeBody(t, rec, &list)
	assert.Empty(t, list.Jobs)

	rec = f.do(t, http.MethodGet, "/api/jobs?kind=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitStoreAndCache(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/store", `{"filename":"a.txt","content":"aGk="}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/cache", `{"key":"k","value":"v"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	records, err := f.store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

// saveFailingStore accepts reads but refuses every write
type saveFailingStore struct {
	*jobs.MemoryStore
}

func (saveFailingStore) Save(ctx context.Context, record *jobs.Record) error {
	return errors.New("database unavailable")
}

func TestSubmitReturnsResultWhenRecordFails(t *testing.T) {
	b := brokertest.NewBroker(brokertest.WithSettlement())
	t.Cleanup(b.Close)
	client, err := broker.NewClient(b.URL, x402http.NewPayingExecutor(brokertest.NewClient(brokertest.NewSchemeClient(nil))))
	require.NoError(t, err)
	f := &fixture{broker: b, server: New(saveFailingStore{jobs.NewMemoryStore()}, client)}

	rec := f.do(t, http.MethodPost, "/api/run", `{"code":"print('hi')"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body unrecordedJob
	decodeBody(t, rec, &body)
	assert.Equal(t, "job-1", body.Job.JobID)
	assert.JSONEq(t, `{"stdout":"hi","exitCode":0}`, string(body.Job.Result))
	require.NotNil(t, body.Payment)
	assert.Equal(t, brokertest.PayTo, body.Payment.Spender)
	assert.NotEmpty(t, body.Warning)
	assert.Equal(t, 1, b.Paid())
}

func TestSubmitFailuresStoreNothing(t *testing.T) {
	cases := []struct {
		name      string
		schemeErr error
		body      string
		status    int
		code      string
	}{
		{"signing rejected", x402.ErrSigningRejected, `{"code":"1"}`, http.StatusConflict, x402.ErrCodeSigningRejected},
		{"wallet not connected", x402.ErrWalletNotConnected, `{"code":"1"}`, http.StatusServiceUnavailable, x402.ErrCodeWalletNotConnected},
		{"missing code", nil, `{"language":"python"}`, http.StatusBadRequest, CodeInvalidRequest},
		{"bad json", nil, `{"code":`, http.StatusBadRequest, CodeInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.schemeErr)
			rec := f.do(t, http.MethodPost, "/api/run", tc.body)
			assert.Equal(t, tc.status, rec.Code)

			var body errorBody
			decodeBody(t, rec, &body)
			assert.Equal(t, tc.code, body.Code)
			assert.NotEmpty(t, body.Error)

			records, err := f.store.List(context.Background(), "")
			require.NoError(t, err)
			assert.Empty(t, records)
		})
	}
}

func TestSigningRejectedMessageIsVerbatim(t *testing.T) {
	f := newFixture(t, x402.ErrSigningRejected)
	rec := f.do(t, http.MethodPost, "/api/run", `{"code":"1"}`)
	var body errorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, x402.ErrSigningRejected.Message, body.Error)
}

func TestRefreshJob(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/run", `{"code":"1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var record jobs.Record
	decodeBody(t, rec, &record)

	f.broker.SetStatus(record.BrokerJobID, "archived", map[string]interface{}{"stdout": "later"})

	rec = f.do(t, http.MethodPost, "/api/jobs/"+record.ID+"/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var refreshed jobs.Record
	decodeBody(t, rec, &refreshed)
	assert.Equal(t, "archived", refreshed.Status)
	assert.JSONEq(t, `{"stdout":"later"}`, string(refreshed.Result))

	rec = f.do(t, http.MethodPost, "/api/jobs/unknown/refresh", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// the broker no longer knows the job
	require.NoError(t, f.store.Save(context.Background(), &jobs.Record{ID: "orphan", BrokerJobID: "gone", Status: "running"}))
	rec = f.do(t, http.MethodPost, "/api/jobs/orphan/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body errorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, CodeBrokerError, body.Code)
}

func TestGetJobNotFound(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body errorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, CodeNotFound, body.Code)
}

func TestQuoteFee(t *testing.T) {
	f := newFixture(t, nil)

	cases := map[string]string{
		"0.01": `{"amount":"0.01","fee":"0.002","total":"0.012"}`,
		"1.00": `{"amount":"1","fee":"0.03","total":"1.03"}`,
		"-5":   `{"amount":"-5","fee":"0.002","total":"0.002"}`,
	}
	for amount, want := range cases {
		rec := f.do(t, http.MethodGet, "/api/fees?amount="+amount, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, want, rec.Body.String(), amount)
	}

	rec := f.do(t, http.MethodGet, "/api/fees", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/fees?amount=ten", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeRevoker struct {
	got  []x402.PaymentInfo
	hash string
	err  error
}

func (r *fakeRevoker) Revoke(ctx context.Context, info x402.PaymentInfo) (string, error) {
	r.got = append(r.got, info)
	return r.hash, r.err
}

func TestRevoke(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(t, http.MethodPost, "/api/revoke", `{}`)
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})

	t.Run("by job", func(t *testing.T) {
		revoker := &fakeRevoker{hash: "0x" + strings.Repeat("cd", 32)}
		f := newFixture(t, nil, WithRevoker(revoker))

		rec := f.do(t, http.MethodPost, "/api/run", `{"code":"1"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		var record jobs.Record
		decodeBody(t, rec, &record)

		rec = f.do(t, http.MethodPost, "/api/revoke", `{"jobId":"`+record.ID+`"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"transaction":"`+revoker.hash+`"}`, rec.Body.String())

		require.Len(t, revoker.got, 1)
		assert.Equal(t, x402.PaymentInfo{
			Network: "base-sepolia",
			Spender: brokertest.PayTo,
			Asset:   brokertest.Asset,
			Payer:   brokertest.Payer,
		}, revoker.got[0])
	})

	t.Run("explicit info", func(t *testing.T) {
		revoker := &fakeRevoker{hash: "0x1"}
		f := newFixture(t, nil, WithRevoker(revoker))
		rec := f.do(t, http.MethodPost, "/api/revoke",
			`{"network":"base","spender":"`+brokertest.PayTo+`","asset":"`+brokertest.Asset+`","payer":"`+brokertest.Payer+`"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, revoker.got, 1)
		assert.Equal(t, x402.Network("base"), revoker.got[0].Network)
	})

	t.Run("timeout", func(t *testing.T) {
		revoker := &fakeRevoker{err: x402.ErrRevocationTimeout}
		f := newFixture(t, nil, WithRevoker(revoker))
		rec := f.do(t, http.MethodPost, "/api/revoke", `{"spender":"0x1"}`)
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
		var body errorBody
		decodeBody(t, rec, &body)
		assert.Equal(t, x402.ErrCodeRevocationTimeout, body.Code)
	})

	t.Run("unknown job", func(t *testing.T) {
		f := newFixture(t, nil, WithRevoker(&fakeRevoker{}))
		rec := f.do(t, http.MethodPost, "/api/revoke", `{"jobId":"nope"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRunShutsDownOnCancel(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.server.Run(ctx, "127.0.0.1:0")
	}()
	cancel()
	assert.NoError(t, <-done)
}
