// Command brokermcp serves the broker tools over MCP on stdio.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/brokerdash/x402pay/internal/app"
	"github.com/brokerdash/x402pay/internal/config"
	"github.com/brokerdash/x402pay/internal/logger"
	"github.com/brokerdash/x402pay/mcp"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	// stdout carries the protocol; logs go to stderr
	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := baseLogger.With().Str("service", "brokermcp").Logger()

	wallet, err := app.NewWallet(ctx, cfg, log.With().Str("component", "wallet").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise wallet")
	}
	defer wallet.Close()

	client, err := app.NewBroker(cfg, wallet, log.With().Str("component", "broker").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create broker client")
	}

	store, closeStore, err := app.OpenStore(ctx, cfg, log.With().Str("component", "store").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open job store")
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error().Err(err).Msg("failed to close job store")
		}
	}()

	server := mcp.NewServer(client, mcp.Options{
		Version: version,
		Store:   store,
		Logger:  log.With().Str("component", "tools").Logger(),
	})
	log.Info().Str("broker", client.Endpoint()).Msg("serving MCP on stdio")
	if err := server.Run(ctx, &mcpsdk.StdioTransport{}); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("mcp server stopped with error")
	}
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("brokermcp init failed")
}
