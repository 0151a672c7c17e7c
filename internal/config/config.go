// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config captures all runtime configuration
type Config struct {
	App    AppConfig
	Broker BrokerConfig
	Wallet WalletConfig
	Store  StoreConfig
	Auth   AuthConfig
}

// AppConfig contains process level settings
type AppConfig struct {
	Env      string
	LogLevel string
	HTTPAddr string
}

// BrokerConfig locates the broker
type BrokerConfig struct {
	URL string
}

// WalletConfig selects and tunes the signer. Exactly one of PrivateKey and
// WalletRPCURL is expected.
type WalletConfig struct {
	PrivateKey    string
	WalletRPCURL  string
	EthRPCURL     string
	ChainID       int64
	NetworkPolicy string
	PromptPolicy  string
}

// StoreConfig selects the job store. An empty DatabaseURL keeps jobs in memory.
type StoreConfig struct {
	DatabaseURL string
}

// AuthConfig protects the dashboard API. An empty key disables the check.
type AuthConfig struct {
	StaticAPIKey string
}

// Load reads .env, when present, then the process environment
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)
	cfg.App.HTTPAddr = ldr.getString("HTTP_ADDR", ":8080", false)

	cfg.Broker.URL = strings.TrimRight(ldr.getString("BROKER_URL", "", true), "/")

	cfg.Wallet.PrivateKey = ldr.getString("EVM_PRIVATE_KEY", "", false)
	cfg.Wallet.WalletRPCURL = ldr.getString("WALLET_RPC_URL", "", false)
	cfg.Wallet.EthRPCURL = ldr.getString("ETH_RPC_URL", "", false)
	cfg.Wallet.ChainID = int64(ldr.getInt("CHAIN_ID", 84532, false))
	cfg.Wallet.NetworkPolicy = ldr.getEnum("NETWORK_POLICY", "fallback", "fallback", "strict")
	cfg.Wallet.PromptPolicy = ldr.getEnum("PROMPT_POLICY", "queue", "queue", "reject")

	if cfg.Wallet.PrivateKey != "" && cfg.Wallet.WalletRPCURL != "" {
		ldr.addError("EVM_PRIVATE_KEY and WALLET_RPC_URL are mutually exclusive")
	}

	cfg.Store.DatabaseURL = ldr.getString("DATABASE_URL", "", false)
	cfg.Auth.StaticAPIKey = ldr.getString("STATIC_API_KEY", "", false)

	if err := ldr.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasWallet reports whether a signer is configured
func (c *Config) HasWallet() bool {
	return c.Wallet.PrivateKey != "" || c.Wallet.WalletRPCURL != ""
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) addError(msg string) {
	l.errs = append(l.errs, msg)
}

func (l *envLoader) lookup(key string) (string, bool) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	val = strings.TrimSpace(val)
	return val, val != ""
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := l.lookup(key); ok {
		return val
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	val, ok := l.lookup(key)
	if !ok {
		if required {
			l.addError(fmt.Sprintf("%s is required", key))
		}
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be an integer", key))
		return def
	}
	return n
}

func (l *envLoader) getEnum(key, def string, allowed ...string) string {
	val, ok := l.lookup(key)
	if !ok {
		return def
	}
	val = strings.ToLower(val)
	for _, a := range allowed {
		if val == a {
			return val
		}
	}
	l.addError(fmt.Sprintf("%s must be one of %s", key, strings.Join(allowed, ", ")))
	return def
}
