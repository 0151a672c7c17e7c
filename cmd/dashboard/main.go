package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/brokerdash/x402pay/internal/app"
	"github.com/brokerdash/x402pay/internal/config"
	"github.com/brokerdash/x402pay/internal/logger"
	"github.com/brokerdash/x402pay/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := baseLogger.With().Str("service", "dashboard").Logger()

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

	opts := []server.Option{
		server.WithLogger(log.With().Str("component", "api").Logger()),
		server.WithAPIKey(cfg.Auth.StaticAPIKey),
	}
	if wallet.Revoker != nil {
		opts = append(opts, server.WithRevoker(wallet.Revoker))
	}

	log.Info().Str("addr", cfg.App.HTTPAddr).Str("broker", client.Endpoint()).Msg("dashboard starting")
	if err := server.New(store, client, opts...).Run(ctx, cfg.App.HTTPAddr); err != nil {
		log.Error().Err(err).Msg("dashboard stopped with error")
		return
	}
	log.Info().Msg("dashboard stopped")
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("dashboard init failed")
}
