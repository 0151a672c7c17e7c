// Package app wires configuration into the payment stack shared by the
// binaries.
package app

import (
	"context"
	"fmt"
	"math/big"

	_ "github.com/lib/pq" // postgres driver for jobs.OpenSQLStore
	"github.com/rs/zerolog"

	x402 "github.com/brokerdash/x402pay"
	"github.com/brokerdash/x402pay/broker"
	x402http "github.com/brokerdash/x402pay/http"
	"github.com/brokerdash/x402pay/internal/config"
	"github.com/brokerdash/x402pay/internal/metrics"
	"github.com/brokerdash/x402pay/jobs"
	"github.com/brokerdash/x402pay/mechanisms/evm"
	evmsigners "github.com/brokerdash/x402pay/signers/evm"
)

// Wallet is the configured signer and what is built on it. Client and
// Revoker are nil when no wallet is configured.
type Wallet struct {
	Address string
	Client  *x402.X402Client
	Revoker *evm.Revoker

	closers []func()
}

// Close releases the wallet's connections
func (w *Wallet) Close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
}

// NewWallet builds the signer chosen by cfg
func NewWallet(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Wallet, error) {
	w := &Wallet{}
	if !cfg.HasWallet() {
		logger.Warn().Msg("no wallet configured; paid calls will fail")
		return w, nil
	}

	networkPolicy, err := evm.ParseNetworkPolicy(cfg.Wallet.NetworkPolicy)
	if err != nil {
		return nil, err
	}
	promptPolicy, err := evmsigners.ParsePromptPolicy(cfg.Wallet.PromptPolicy)
	if err != nil {
		return nil, err
	}
	chainID := big.NewInt(cfg.Wallet.ChainID)

	var provider evmsigners.Provider
	switch {
	case cfg.Wallet.PrivateKey != "" && cfg.Wallet.EthRPCURL != "":
		key, err := evmsigners.DialKeyProvider(ctx, cfg.Wallet.PrivateKey, cfg.Wallet.EthRPCURL)
		if err != nil {
			return nil, err
		}
		w.Address = key.Address()
		provider = key
	case cfg.Wallet.PrivateKey != "":
		key, err := evmsigners.NewKeyProvider(cfg.Wallet.PrivateKey, chainID, nil)
		if err != nil {
			return nil, err
		}
		w.Address = key.Address()
		provider = key
	default:
		remote, err := evmsigners.DialRPCProvider(ctx, cfg.Wallet.WalletRPCURL)
		if err != nil {
			return nil, err
		}
		w.closers = append(w.closers, remote.Close)
		provider = remote
	}

	signer := evmsigners.NewProviderSigner(provider,
		evmsigners.WithPromptPolicy(promptPolicy),
		evmsigners.WithRequestAccounts(),
		evmsigners.WithSignerLogger(logger),
	)
	w.closers = append(w.closers, signer.Close)

	builder := evm.NewAuthorizationBuilder(
		evm.WithNetworkPolicy(networkPolicy),
		evm.WithFallbackChainID(chainID),
		evm.WithLogger(logger),
	)
	w.Client = metrics.Instrument(evm.NewEvmClient(signer,
		evm.WithBuilder(builder),
		evm.WithSchemeLogger(logger),
	))
	w.Revoker = evm.NewRevoker(signer,
		evm.WithResolver(evm.NewChainResolver(networkPolicy, chainID, nil)),
		evm.WithRevokerLogger(logger),
	)

	logger.Info().Str("address", w.Address).Str("network_policy", string(networkPolicy)).Str("prompt_policy", string(promptPolicy)).Msg("wallet ready")
	return w, nil
}

// NewBroker creates the broker client paying with w
func NewBroker(cfg *config.Config, w *Wallet, logger zerolog.Logger) (*broker.Client, error) {
	executor := x402http.NewPayingExecutor(w.Client,
		x402http.WithLogger(logger),
		x402http.WithStateObserver(metrics.ObserveTransition),
	)
	return broker.NewClient(cfg.Broker.URL, executor, broker.WithLogger(logger))
}

// OpenStore opens the SQL store when DATABASE_URL is set, the memory store
// otherwise. The returned func closes it.
func OpenStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (jobs.Store, func() error, error) {
	if cfg.Store.DatabaseURL == "" {
		logger.Info().Msg("using in-memory job store")
		return jobs.NewMemoryStore(), func() error { return nil }, nil
	}
	store, err := jobs.OpenSQLStore(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open job store: %w", err)
	}
	logger.Info().Msg("using postgres job store")
	return store, store.Close, nil
}
