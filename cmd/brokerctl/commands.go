package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	x402 "github.com/brokerdash/x402pay"
	"github.com/brokerdash/x402pay/broker"
	"github.com/brokerdash/x402pay/internal/app"
	"github.com/brokerdash/x402pay/internal/config"
	"github.com/brokerdash/x402pay/internal/logger"
)

// Broker submits jobs
type Broker interface {
	Run(ctx context.Context, req broker.RunRequest) (*broker.Submission, error)
	Store(ctx context.Context, req broker.StoreRequest) (*broker.Submission, error)
	Cache(ctx context.Context, req broker.CacheRequest) (*broker.Submission, error)
}

// Revoker clears allowances
type Revoker interface {
	Revoke(ctx context.Context, info x402.PaymentInfo) (string, error)
}

type env struct {
	broker  Broker
	revoker Revoker
	close   func()
}

func (e *env) Close() {
	if e.close != nil {
		e.close()
	}
}

func newEnv(ctx context.Context, stderr io.Writer) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.App.Env, cfg.App.LogLevel, stderr)
	if err != nil {
		return nil, err
	}
	log = log.With().Str("service", "brokerctl").Logger()

	wallet, err := app.NewWallet(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	client, err := app.NewBroker(cfg, wallet, log)
	if err != nil {
		wallet.Close()
		return nil, err
	}

	e := &env{broker: client, close: wallet.Close}
	if wallet.Revoker != nil {
		e.revoker = wallet.Revoker
	}
	return e, nil
}

type request struct {
	kind   broker.Kind
	run    broker.RunRequest
	store  broker.StoreRequest
	cache  broker.CacheRequest
	revoke x402.PaymentInfo
}

func parseCommand(name string, args []string, stderr io.Writer) (*request, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	req := &request{}

	var file string
	switch name {
	case "run":
		req.kind = broker.KindRun
		fs.StringVar(&req.run.Language, "language", "", "source language")
		fs.StringVar(&req.run.Code, "code", "", "source code")
		fs.StringVar(&req.run.Stdin, "stdin", "", "standard input")
		fs.StringVar(&file, "file", "", "read code from file")
	case "store":
		req.kind = broker.KindStore
		fs.StringVar(&file, "file", "", "file to upload")
		fs.StringVar(&req.store.Filename, "name", "", "stored filename (default: base name of -file)")
		fs.StringVar(&req.store.ContentType, "content-type", "", "content type (default: from extension)")
	case "cache":
		req.kind = broker.KindCache
		fs.StringVar(&req.cache.Key, "key", "", "cache key")
		fs.StringVar(&req.cache.Value, "value", "", "cache value")
		fs.IntVar(&req.cache.TTLSeconds, "ttl", 0, "time to live in seconds")
	case "revoke":
		fs.StringVar((*string)(&req.revoke.Network), "network", "", "network label of the payment")
		fs.StringVar(&req.revoke.Spender, "spender", "", "payee address to revoke")
		fs.StringVar(&req.revoke.Asset, "asset", "", "token contract address")
		fs.StringVar(&req.revoke.Payer, "payer", "", "paying wallet address")
	}
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}

	switch name {
	case "run":
		if file != "" {
			if req.run.Code != "" {
				return nil, fmt.Errorf("%w: -code and -file are exclusive", errUsage)
			}
			code, err := os.ReadFile(file)
			if err != nil {
				return nil, err
			}
			req.run.Code = string(code)
		}
	case "store":
		if file == "" {
			return nil, fmt.Errorf("%w: -file is required", errUsage)
		}
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		req.store.Content = base64.StdEncoding.EncodeToString(content)
		if req.store.Filename == "" {
			req.store.Filename = filepath.Base(file)
		}
		if req.store.ContentType == "" {
			req.store.ContentType = mime.TypeByExtension(filepath.Ext(file))
		}
	}
	return req, nil
}

func (r *request) execute(ctx context.Context, e *env, stdout io.Writer) error {
	if r.kind == "" {
		if e.revoker == nil {
			return x402.ErrWalletNotConnected
		}
		hash, err := e.revoker.Revoke(ctx, r.revoke)
		if err != nil {
			return err
		}
		return writeJSON(stdout, map[string]string{"transaction": hash})
	}

	var (
		sub *broker.Submission
		err error
	)
	switch r.kind {
	case broker.KindRun:
		sub, err = e.broker.Run(ctx, r.run)
	case broker.KindStore:
		sub, err = e.broker.Store(ctx, r.store)
	case broker.KindCache:
		sub, err = e.broker.Cache(ctx, r.cache)
	}
	if err != nil {
		return err
	}
	return writeSubmission(stdout, sub)
}

type submissionOutput struct {
	Job        broker.JobResponse   `json:"job"`
	Payment    *x402.PaymentInfo    `json:"payment,omitempty"`
	Settlement *x402.SettleResponse `json:"settlement,omitempty"`
}

func writeSubmission(w io.Writer, sub *broker.Submission) error {
	return writeJSON(w, submissionOutput{Job: sub.Job, Payment: sub.Payment, Settlement: sub.Settlement})
}

func feeCommand(args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: fee takes one amount", errUsage)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(args[0]))
	if err != nil {
		return fmt.Errorf("amount must be a decimal number: %q", args[0])
	}
	return writeJSON(stdout, map[string]string{
		"amount": amount.String(),
		"fee":    x402.RelayFee(amount).String(),
		"total":  x402.TotalAmount(amount).String(),
	})
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
