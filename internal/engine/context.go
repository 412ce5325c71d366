// Package engine wires the five core components (C1-C5) into one
// constructed object — no global mutable package state, everything hangs
// off a constructed context. cmd/engine is a thin entrypoint that loads
// configuration, builds a Context, and runs it.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/solexec/engine/internal/aggregator"
	"github.com/solexec/engine/internal/breaker"
	"github.com/solexec/engine/internal/config"
	"github.com/solexec/engine/internal/evaluator"
	"github.com/solexec/engine/internal/events"
	"github.com/solexec/engine/internal/execution"
	"github.com/solexec/engine/internal/queue"
	"github.com/solexec/engine/internal/solana"
	"github.com/solexec/engine/internal/store"
	"github.com/solexec/engine/internal/tracker"
	"github.com/solexec/engine/internal/validation"
)

// ActiveMintSelector is the external strategy-selector collaborator
// (grounded on original_source/strategies/strategy_selector.py): it elects
// the one token the Strategy Evaluator actively monitors. The full
// multi-token scanner is out of scope here; the engine only needs this
// narrow interface to drive SetActiveMint/ClearActiveMint.
type ActiveMintSelector interface {
	SelectActiveMint(ctx context.Context) (mint, pool, venueTag string, ok bool)
}

// StaticSelector satisfies ActiveMintSelector from fixed, config-driven
// values — enough for a single-token operator mode and for tests.
type StaticSelector struct {
	Mint, Pool, VenueTag string
}

func (s StaticSelector) SelectActiveMint(context.Context) (string, string, string, bool) {
	if s.Mint == "" {
		return "", "", "", false
	}
	return s.Mint, s.Pool, s.VenueTag, true
}

// Context owns every constructed collaborator. Apart from the process-wide
// Prometheus metric registrations (sync.Once singletons in internal/breaker,
// internal/queue and internal/infra), no package in this repo keeps its own
// global singleton state; everything a request handler or background loop
// needs is reached through this struct.
type Context struct {
	Config *config.Config

	Store     *store.Store
	Fabric    *breaker.Fabric
	Bus       *events.Bus
	Evaluator *evaluator.Evaluator
	Queue     *queue.Queue
	Manager   *execution.Manager
	Tracker   *tracker.Tracker
	Selector  ActiveMintSelector

	log zerolog.Logger
}

// New constructs every collaborator and wires them together. wallet may be
// nil when trading.paper_trading_enabled is true.
func New(ctx context.Context, cfg *config.Config, wallet *execution.Wallet, selector ActiveMintSelector, logger zerolog.Logger) (*Context, error) {
	st, err := store.Open(ctx, cfg.Database.GetDSN(), config.NewLogger("store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	fabric := breaker.NewFabric(breaker.BreakerConfig{
		ComponentMaxFailures: cfg.Breaker.ComponentMaxFailures,
		ComponentResetAfter:  cfg.Breaker.ComponentResetAfter,
		OperationMaxFailures: cfg.Breaker.OperationMaxFailures,
		OperationResetAfter:  cfg.Breaker.OperationResetAfter,
		TokenMaxFailures:     cfg.Breaker.TokenMaxFailures,
		TokenResetAfter:      cfg.Breaker.TokenResetAfter,
		PersistenceDir:       cfg.Breaker.PersistenceDir,
	})

	busOpts := events.Options{}
	if cfg.NATS.Enabled {
		busOpts.NATSURL = cfg.NATS.URL
	}
	bus, err := events.New(busOpts, config.NewLogger("events"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open event bus: %w", err)
	}

	agg := aggregator.New(aggregator.Options{
		BaseURL:            cfg.Aggregator.BaseURL,
		Timeout:            cfg.Aggregator.Timeout,
		RateLimitPerSecond: cfg.Aggregator.RateLimitPerSecond,
	}, config.NewLogger("aggregator"))

	rpc := solana.New(solana.Options{
		RPCURL:  cfg.Solana.RPCURL,
		Timeout: cfg.Solana.Timeout,
	}, config.NewLogger("solana"))

	defaultThresholds := cfg.Strategy.Default
	validator := validation.New(validation.Thresholds{
		MinLiquidity: cfg.Trading.MinLiquidity,
		MaxLiquidity: cfg.Trading.MaxLiquidity,
		MaxSlippage:  cfg.Trading.MaxSlippagePct,
		MinHolders:   cfg.Trading.MinHolders,
		MaxSpread:    cfg.Trading.MaxSpread,
	}, config.NewLogger("validation"))

	manager := execution.NewManager(fabric, st, validator, agg, rpc, wallet, nil, nil, execution.Options{
		PaperTrading:          cfg.Trading.PaperTradingEnabled,
		DefaultSlippageBps:    cfg.Trading.DefaultSlippageBps,
		ComputeUnitPriceMicro: cfg.Aggregator.ComputeUnitPriceMu,
		QuoteMints:            cfg.Trading.QuoteMints,
	}, config.NewLogger("order_manager"))

	tr := tracker.New(fabric, st, rpc, bus, tracker.Options{
		TickInterval:            2 * time.Second,
		MaxConfirmationAttempts: cfg.Solana.TxConfirmMaxRetries,
		WalletAddress:           walletAddress(wallet),
		QuoteMints:              cfg.Trading.QuoteMints,
	}, config.NewLogger("transaction_tracker"))

	q := queue.New(fabric, manager, queue.Options{
		InterTradeInterval: cfg.Trading.InterTradeInterval,
	}, config.NewLogger("trade_queue"))

	ev := evaluator.New(fabric, bus, evaluator.Options{
		MaxPriceHistoryLen: cfg.Trading.MaxPriceHistoryLen,
		Thresholds: evaluator.Thresholds{
			StopLossPct:          defaultThresholds.StopLossPct,
			TakeProfitPct:        defaultThresholds.TakeProfitPct,
			TrailingStopPct:      defaultThresholds.TrailingStopPct,
			VolumeSurgeMultiple:  defaultThresholds.VolumeSurgeMultiple,
			EntryConfidenceFloor: defaultThresholds.EntryConfidenceFloor,
		},
	}, config.NewLogger("strategy_evaluator"))

	return &Context{
		Config:    cfg,
		Store:     st,
		Fabric:    fabric,
		Bus:       bus,
		Evaluator: ev,
		Queue:     q,
		Manager:   manager,
		Tracker:   tr,
		Selector:  selector,
		log:       logger,
	}, nil
}

func walletAddress(w *execution.Wallet) string {
	if w == nil {
		return ""
	}
	return w.PublicKey()
}

// Run starts the background loops (trade queue worker, transaction tracker
// poll loop, active-mint selection) and blocks until ctx is cancelled.
func (c *Context) Run(ctx context.Context) error {
	if err := c.Manager.LoadPositions(ctx); err != nil {
		c.log.Warn().Err(err).Msg("load positions at startup")
	}

	c.Queue.Start(ctx)

	go func() {
		if err := c.Tracker.Run(ctx); err != nil && ctx.Err() == nil {
			c.log.Error().Err(err).Msg("transaction tracker loop exited")
		}
	}()

	if c.Selector != nil {
		if mint, pool, venue, ok := c.Selector.SelectActiveMint(ctx); ok {
			c.Evaluator.SetActiveMint(mint, pool, venue)
		}
	}

	<-ctx.Done()
	return c.Shutdown()
}

// Shutdown implements the graceful sequence: stop accepting new trades,
// let in-flight dispatches finish, then release the store.
func (c *Context) Shutdown() error {
	c.log.Info().Msg("engine shutting down")
	c.Queue.Close()
	c.Queue.Wait()
	c.Store.Close()
	return nil
}
