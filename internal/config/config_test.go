package config

import (
	"strings"
	"testing"
)

func TestLoadSuccess(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("BROKER_URL", "https://broker.example/")
	t.Setenv("EVM_PRIVATE_KEY", "0xabc")
	t.Setenv("WALLET_RPC_URL", "")
	t.Setenv("ETH_RPC_URL", "https://sepolia.base.org")
	t.Setenv("CHAIN_ID", "8453")
	t.Setenv("NETWORK_POLICY", "STRICT")
	t.Setenv("PROMPT_POLICY", "reject")
	t.Setenv("DATABASE_URL", "postgres://localhost/jobs")
	t.Setenv("STATIC_API_KEY", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.App.Env != "production" || cfg.App.LogLevel != "warn" || cfg.App.HTTPAddr != ":9000" {
		t.Errorf("unexpected app config %+v", cfg.App)
	}
	if cfg.Broker.URL != "https://broker.example" {
		t.Errorf("trailing slash not trimmed: %s", cfg.Broker.URL)
	}
	if cfg.Wallet.ChainID != 8453 || cfg.Wallet.NetworkPolicy != "strict" || cfg.Wallet.PromptPolicy != "reject" {
		t.Errorf("unexpected wallet config %+v", cfg.Wallet)
	}
	if !cfg.HasWallet() {
		t.Error("expected a wallet")
	}
	if cfg.Store.DatabaseURL == "" || cfg.Auth.StaticAPIKey != "secret" {
		t.Errorf("unexpected store/auth config %+v %+v", cfg.Store, cfg.Auth)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BROKER_URL", "https://broker.example")
	for _, key := range []string{"APP_ENV", "LOG_LEVEL", "HTTP_ADDR", "EVM_PRIVATE_KEY", "WALLET_RPC_URL", "CHAIN_ID", "NETWORK_POLICY", "PROMPT_POLICY", "DATABASE_URL", "STATIC_API_KEY"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.App.Env != "development" || cfg.App.HTTPAddr != ":8080" {
		t.Errorf("unexpected defaults %+v", cfg.App)
	}
	if cfg.Wallet.ChainID != 84532 || cfg.Wallet.NetworkPolicy != "fallback" || cfg.Wallet.PromptPolicy != "queue" {
		t.Errorf("unexpected wallet defaults %+v", cfg.Wallet)
	}
	if cfg.HasWallet() {
		t.Error("no wallet expected")
	}
}

func TestLoadErrors(t *testing.T) {
	t.Setenv("BROKER_URL", "")
	t.Setenv("CHAIN_ID", "base")
	t.Setenv("NETWORK_POLICY", "maybe")
	t.Setenv("PROMPT_POLICY", "")
	t.Setenv("EVM_PRIVATE_KEY", "0xabc")
	t.Setenv("WALLET_RPC_URL", "http://localhost:8545")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"BROKER_URL is required", "CHAIN_ID must be an integer", "NETWORK_POLICY must be one of", "mutually exclusive"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}
