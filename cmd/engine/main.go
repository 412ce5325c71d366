// Command engine is the entrypoint for the trade execution and lifecycle
// engine: it loads configuration, constructs the engine.Context wiring C1-C5
// together, starts the operator control surface, and runs until an
// interrupt triggers the graceful shutdown sequence.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/solexec/engine/internal/config"
	"github.com/solexec/engine/internal/engine"
	"github.com/solexec/engine/internal/execution"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wallet *execution.Wallet
	if !cfg.Trading.PaperTradingEnabled {
		wallet, err = execution.LoadWallet(cfg.Solana.WalletKeypairPath)
		if err != nil {
			log.Fatal().Err(err).Msg("load wallet keypair for live trading")
		}
	}

	selector := engine.StaticSelector{} // no active mint until an operator/config sets one

	eng, err := engine.New(ctx, cfg, wallet, selector, config.NewLogger("engine"))
	if err != nil {
		log.Fatal().Err(err).Msg("construct engine context")
	}

	api := engine.NewAPIServer(eng, config.NewLogger("api"))
	go func() {
		if err := api.Start(cfg.API.GetAPIAddr()); err != nil {
			log.Error().Err(err).Msg("control surface stopped")
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-runErr:
		if err != nil {
			log.Error().Err(err).Msg("engine run loop exited with error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := api.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("control surface shutdown")
	}

	log.Info().Msg("engine stopped")
}
