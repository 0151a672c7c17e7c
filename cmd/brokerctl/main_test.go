package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/brokerdash/x402pay"
	"github.com/brokerdash/x402pay/broker"
	x402http "github.com/brokerdash/x402pay/http"
	"github.com/brokerdash/x402pay/internal/brokertest"
)

type revokerFunc func(ctx context.Context, info x402.PaymentInfo) (string, error)

func (f revokerFunc) Revoke(ctx context.Context, info x402.PaymentInfo) (string, error) {
	return f(ctx, info)
}

func testFactory(t *testing.T, revoker Revoker) (envFactory, *brokertest.Broker) {
	t.Helper()
	b := brokertest.NewBroker(brokertest.WithSettlement())
	t.Cleanup(b.Close)
	client, err := broker.NewClient(b.URL, x402http.NewPayingExecutor(brokertest.NewClient(brokertest.NewSchemeClient(nil))))
	require.NoError(t, err)
	return func(ctx context.Context, stderr io.Writer) (*env, error) {
		return &env{broker: client, revoker: revoker}, nil
	}, b
}

func noEnv(ctx context.Context, stderr io.Writer) (*env, error) {
	return nil, errors.New("environment must not be built")
}

func TestFeeNeedsNoEnvironment(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"fee", "1.00"}, &out, io.Discard, noEnv))
	assert.JSONEq(t, `{"amount":"1","fee":"0.03","total":"1.03"}`, out.String())

	err := run(context.Background(), []string{"fee"}, &out, io.Discard, noEnv)
	assert.True(t, errors.Is(err, errUsage))

	err = run(context.Background(), []string{"fee", "many"}, &out, io.Discard, noEnv)
	assert.Error(t, err)
}

func TestUsageErrors(t *testing.T) {
	tests := [][]string{
		nil,
		{"launch"},
		{"run", "-bogus"},
		{"run", "extra"},
		{"store"},
	}
	for _, args := range tests {
		err := run(context.Background(), args, io.Discard, io.Discard, noEnv)
		assert.True(t, errors.Is(err, errUsage), "args %v: %v", args, err)
	}
}

func TestRunCommand(t *testing.T) {
	factory, b := testFactory(t, nil)
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"run", "-language", "python", "-code", "print('hi')"}, &out, io.Discard, factory))

	var got submissionOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "job-1", got.Job.JobID)
	require.NotNil(t, got.Payment)
	assert.Equal(t, brokertest.PayTo, got.Payment.Spender)
	require.NotNil(t, got.Settlement)
	assert.True(t, got.Settlement.Success)
	assert.Equal(t, 1, b.Paid())
}

func TestStoreCommandReadsFile(t *testing.T) {
	factory, b := testFactory(t, nil)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"store", "-file", path}, &out, io.Discard, factory))

	var got submissionOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.JSONEq(t, `{"url":"https://storage.example/notes.txt"}`, string(got.Job.Result))
	assert.Equal(t, 1, b.Paid())
}

func TestCacheCommand(t *testing.T) {
	factory, b := testFactory(t, nil)
	require.NoError(t, run(context.Background(), []string{"cache", "-key", "k", "-value", "v", "-ttl", "30"}, io.Discard, io.Discard, factory))
	assert.Equal(t, 1, b.Paid())
}

func TestRevokeCommand(t *testing.T) {
	var got x402.PaymentInfo
	factory, b := testFactory(t, revokerFunc(func(ctx context.Context, info x402.PaymentInfo) (string, error) {
		got = info
		return "0xabc", nil
	}))

	var out bytes.Buffer
	args := []string{"revoke", "-network", "base-sepolia", "-spender", brokertest.PayTo, "-asset", brokertest.Asset, "-payer", brokertest.Payer}
	require.NoError(t, run(context.Background(), args, &out, io.Discard, factory))

	assert.JSONEq(t, `{"transaction":"0xabc"}`, out.String())
	assert.Equal(t, x402.Network("base-sepolia"), got.Network)
	assert.Equal(t, brokertest.PayTo, got.Spender)
	assert.Equal(t, 0, b.Challenged(), "revocation does not touch the broker")
}

func TestRevokeWithoutWallet(t *testing.T) {
	factory, _ := testFactory(t, nil)
	err := run(context.Background(), []string{"revoke", "-spender", brokertest.PayTo}, io.Discard, io.Discard, factory)
	assert.True(t, errors.Is(err, x402.ErrWalletNotConnected))
}

func TestPaymentFailureIsReturned(t *testing.T) {
	b := brokertest.NewBroker()
	t.Cleanup(b.Close)
	client, err := broker.NewClient(b.URL, x402http.NewPayingExecutor(brokertest.NewClient(brokertest.NewSchemeClient(x402.ErrSigningRejected))))
	require.NoError(t, err)
	factory := func(ctx context.Context, stderr io.Writer) (*env, error) {
		return &env{broker: client}, nil
	}

	var out bytes.Buffer
	err = run(context.Background(), []string{"run", "-code", "1"}, &out, io.Discard, factory)
	assert.True(t, errors.Is(err, x402.ErrSigningRejected))
	assert.Empty(t, out.String())
}
