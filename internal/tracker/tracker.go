// Package tracker is the Transaction Tracker (C4): it drives every
// submitted trade to a terminal status and, on confirmation, performs the
// ordered position/trade-log side effects and emits the
// event the Strategy Evaluator (C1) subscribes to.
package tracker

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/solexec/engine/internal/breaker"
	"github.com/solexec/engine/internal/events"
	"github.com/solexec/engine/internal/retry"
	"github.com/solexec/engine/internal/solana"
	"github.com/solexec/engine/internal/store"
)

const componentName = "transaction_tracker"

// paperTradeSentinel marks a transaction hash the Order Manager fabricated
// for a paper trade: the tracker finalizes it without any RPC traffic.
const paperTradeSentinel = "PAPER_TRADE_SUCCESS_"

// Options configure a new Tracker.
type Options struct {
	TickInterval time.Duration
	// MaxConfirmationAttempts bounds the per-signature retry budget.
	// Defaults to 10.
	MaxConfirmationAttempts int
	// WalletAddress is the owner the pre/post token-balance delta is read
	// against when parsing the actual output amount.
	WalletAddress string
	// QuoteMints mirrors
	// execution.Manager's own QUOTE_MINTS configuration.
	QuoteMints []string
}

// Tracker polls the RPC client for submitted trades and drives them to a
// terminal status.
type Tracker struct {
	store  *store.Store
	rpc    *solana.Client
	bus    *events.Bus
	fabric *breaker.Fabric

	opts       Options
	quoteMints map[string]struct{}
	// confirmCfg holds the per-signature retry policy, split out from
	// retry.Confirmation(opts.MaxConfirmationAttempts) so tests can swap in
	// a faster backoff without changing the confirmation semantics.
	confirmCfg retry.Config

	log zerolog.Logger

	tradeLocks sync.Map // int64 trade id -> *sync.Mutex
}

// New constructs a Tracker.
func New(fabric *breaker.Fabric, st *store.Store, rpc *solana.Client, bus *events.Bus, opts Options, logger zerolog.Logger) *Tracker {
	quoteMints := make(map[string]struct{}, len(opts.QuoteMints))
	for _, m := range opts.QuoteMints {
		quoteMints[m] = struct{}{}
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 2 * time.Second
	}
	if opts.MaxConfirmationAttempts <= 0 {
		opts.MaxConfirmationAttempts = 10
	}

	return &Tracker{
		store:      st,
		rpc:        rpc,
		bus:        bus,
		fabric:     fabric,
		opts:       opts,
		quoteMints: quoteMints,
		confirmCfg: retry.Confirmation(opts.MaxConfirmationAttempts),
		log:        logger,
	}
}

// Run drives the poll loop until ctx is cancelled.
func (tr *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(tr.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := tr.PollOnce(ctx); err != nil {
				tr.log.Error().Err(err).Msg("tracker: poll cycle failed")
			}
		}
	}
}

// PollOnce runs a single poll cycle: one errgroup fan-out over every
// trade currently in status=submitted, each polled and resolved
// independently so one trade's RPC trouble never blocks another's.
func (tr *Tracker) PollOnce(ctx context.Context) error {
	pending, err := tr.store.GetPendingTrades(ctx)
	if err != nil {
		tr.fabric.Component(componentName).IncrementFailures()
		return fmt.Errorf("tracker: fetch pending trades: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	tr.fabric.Component(componentName).ResetFailures()

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range pending {
		t := t
		g.Go(func() error {
			tr.pollTrade(gctx, t)
			return nil
		})
	}
	return g.Wait()
}

func (tr *Tracker) lockFor(tradeID int64) *sync.Mutex {
	v, _ := tr.tradeLocks.LoadOrStore(tradeID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// pollTrade resolves one trade to a terminal status. A per-trade-id mutex
// prevents two overlapping poll cycles (a slow RPC holding up one tick
// while the next fires) from running confirmation handling for the same
// trade concurrently.
func (tr *Tracker) pollTrade(ctx context.Context, t *store.Trade) {
	mu := tr.lockFor(t.TradeID)
	mu.Lock()
	defer mu.Unlock()

	if strings.HasPrefix(t.TransactionHash, paperTradeSentinel) {
		if err := tr.store.UpdateTradeStatus(ctx, t.TradeID, store.StatusPaperCompleted, t.TransactionHash, "", nil); err != nil {
			tr.log.Error().Err(err).Int64("trade_id", t.TradeID).Msg("tracker: failed to finalize paper trade")
		}
		return
	}

	status, err := tr.confirmWithRetry(ctx, t)
	if err != nil {
		tr.fabric.Component(componentName).IncrementFailures()
		timeoutMsg := fmt.Sprintf("confirmation timed out: %v", err)
		if uerr := tr.store.UpdateTradeStatus(ctx, t.TradeID, store.StatusFailed, "", timeoutMsg, nil); uerr != nil {
			tr.log.Error().Err(uerr).Int64("trade_id", t.TradeID).Msg("tracker: failed to persist confirmation timeout")
			return
		}
		tr.publish(ctx, events.TradeFailed, t.OutputMint, map[string]any{"trade_id": t.TradeID, "strategy_id": t.StrategyID, "reason": timeoutMsg})
		return
	}

	if onChainErr(status) {
		tr.handleOnChainFailure(ctx, t, status)
		return
	}
	tr.handleConfirmed(ctx, t)
}

// errStillPropagating is a retryable sentinel: the signature has not yet
// reached a terminal confirmation status.
type errStillPropagating struct{}

func (errStillPropagating) Error() string { return "signature not yet finalized" }

// confirmWithRetry applies the per-signature retry budget
// (base 1s, factor 1.5, cap 30s, max attempts) over get_signature_statuses,
// treating "still pending" the same as a transient network failure: both
// earn another attempt, and exhaustion is reported identically.
func (tr *Tracker) confirmWithRetry(ctx context.Context, t *store.Trade) (*solana.SignatureStatus, error) {
	var terminal *solana.SignatureStatus

	err := retry.WithRetry(ctx, tr.confirmCfg, func(ctx context.Context, attempt int) error {
		statuses, err := tr.rpc.GetSignatureStatuses(ctx, []string{t.TransactionHash})
		if err != nil {
			return err
		}
		if len(statuses) == 0 || statuses[0] == nil {
			return errStillPropagating{}
		}
		status := statuses[0]
		if onChainErr(status) {
			terminal = status
			return nil
		}
		switch status.ConfirmationStatus {
		case string(solana.Confirmed), string(solana.Finalized):
			terminal = status
			return nil
		default:
			return errStillPropagating{}
		}
	})
	if err != nil {
		return nil, err
	}
	return terminal, nil
}

func onChainErr(status *solana.SignatureStatus) bool {
	if status == nil || len(status.Err) == 0 {
		return false
	}
	return !bytes.Equal(bytes.TrimSpace(status.Err), []byte("null"))
}

func (tr *Tracker) handleOnChainFailure(ctx context.Context, t *store.Trade, status *solana.SignatureStatus) {
	errMsg := fmt.Sprintf("transaction failed on-chain: %s", string(status.Err))
	if err := tr.store.UpdateTradeStatus(ctx, t.TradeID, store.StatusFailed, "", errMsg, nil); err != nil {
		tr.log.Error().Err(err).Int64("trade_id", t.TradeID).Msg("tracker: failed to persist on-chain failure")
		return
	}
	tr.log.Warn().Int64("trade_id", t.TradeID).Str("hash", t.TransactionHash).Msg("transaction failed on-chain")
	tr.publish(ctx, events.TradeFailed, t.OutputMint, map[string]any{"trade_id": t.TradeID, "strategy_id": t.StrategyID, "reason": errMsg})
}

// handleConfirmed runs the ordered post-confirmation side effects.
func (tr *Tracker) handleConfirmed(ctx context.Context, t *store.Trade) {
	// Step 1: best-effort actual output amount.
	var actualOutput *int64
	if tx, err := tr.rpc.GetTransaction(ctx, t.TransactionHash); err != nil {
		tr.log.Warn().Err(err).Int64("trade_id", t.TradeID).Msg("tracker: failed to fetch transaction for output parsing")
	} else if amt, perr := solana.ParseOutputAmount(tx, tr.opts.WalletAddress, t.OutputMint); perr != nil {
		tr.log.Warn().Err(perr).Int64("trade_id", t.TradeID).Msg("tracker: failed to parse actual output amount")
	} else {
		actualOutput = amt
	}

	// Step 2: persist confirmed status and actual output.
	if err := tr.store.UpdateTradeStatus(ctx, t.TradeID, store.StatusConfirmed, t.TransactionHash, "", actualOutput); err != nil {
		tr.log.Error().Err(err).Int64("trade_id", t.TradeID).Msg("tracker: failed to persist confirmed status")
		return
	}

	// Step 3: derive BUY/SELL kind; anything else is ignored for position
	// bookkeeping.
	_, inputIsQuote := tr.quoteMints[t.InputMint]
	_, outputIsQuote := tr.quoteMints[t.OutputMint]
	isBuy := inputIsQuote && !outputIsQuote
	isSell := outputIsQuote && !inputIsQuote

	if isBuy {
		tr.handleBuyConfirmed(ctx, t, actualOutput)
	} else if isSell {
		tr.handleSellConfirmed(ctx, t, actualOutput)
	} else {
		tr.log.Debug().Int64("trade_id", t.TradeID).Msg("tracker: confirmed trade is not a recognized buy/sell pair, skipping position bookkeeping")
	}

	// Step 6: notify subscribers regardless of position bookkeeping so C1
	// always observes the confirmation.
	tr.publish(ctx, events.TradeConfirmed, tr.tokenMint(t, isBuy, isSell), map[string]any{
		"trade_id":    t.TradeID,
		"strategy_id": t.StrategyID,
		"is_buy":      isBuy,
		"is_sell":     isSell,
	})
}

func (tr *Tracker) tokenMint(t *store.Trade, isBuy, isSell bool) string {
	switch {
	case isBuy:
		return t.OutputMint
	case isSell:
		return t.InputMint
	default:
		return t.OutputMint
	}
}

func atomicToUI(amount int64, decimals int) float64 {
	if decimals <= 0 {
		return float64(amount)
	}
	div := 1.0
	for i := 0; i < decimals; i++ {
		div *= 10
	}
	return float64(amount) / div
}

// handleBuyConfirmed appends a position-entry
// log, upsert the output mint's position. Token quantity is read from the
// actual fill when available; absent that (the parser's best-effort
// delta found nothing), the requested input amount stands in as an
// approximation, the same fallback paper trading uses.
func (tr *Tracker) handleBuyConfirmed(ctx context.Context, t *store.Trade, actualOutput *int64) {
	quoteSpent := atomicToUI(t.InputAmountAtomic, t.InputDecimals)
	tokenAcquired := quoteSpent
	if actualOutput != nil {
		tokenAcquired = atomicToUI(*actualOutput, t.OutputDecimals)
	}
	price := priceOf(quoteSpent, tokenAcquired)

	if err := tr.store.LogTradeEntry(ctx, t.TradeID, t.OutputMint, tokenAcquired, price, "strategy_entry"); err != nil {
		tr.log.Error().Err(err).Int64("trade_id", t.TradeID).Msg("tracker: failed to log trade entry")
	}
	if err := tr.store.UpdatePositionFromTrade(ctx, t, true, tokenAcquired, price); err != nil {
		tr.log.Error().Err(err).Int64("trade_id", t.TradeID).Msg("tracker: failed to upsert position from buy")
		return
	}
	tr.publish(ctx, events.PositionOpened, t.OutputMint, map[string]any{"trade_id": t.TradeID, "amount": tokenAcquired, "price_sol": price})
}

// handleSellConfirmed appends a position-exit
// log referencing the prior entry hash, then reduce or close the input
// mint's position.
func (tr *Tracker) handleSellConfirmed(ctx context.Context, t *store.Trade, actualOutput *int64) {
	tokenSold := atomicToUI(t.InputAmountAtomic, t.InputDecimals)
	quoteReceived := tokenSold
	if actualOutput != nil {
		quoteReceived = atomicToUI(*actualOutput, t.OutputDecimals)
	}
	price := priceOf(quoteReceived, tokenSold)

	existing, err := tr.store.GetPosition(ctx, t.InputMint)
	if err != nil {
		tr.log.Error().Err(err).Int64("trade_id", t.TradeID).Msg("tracker: failed to load position before sell reduction")
	}
	entryHash := ""
	if existing != nil {
		entryHash = existing.EntryTradeHash
	}

	if err := tr.store.LogTradeExit(ctx, t.TradeID, t.InputMint, tokenSold, price, "strategy_exit", entryHash); err != nil {
		tr.log.Error().Err(err).Int64("trade_id", t.TradeID).Msg("tracker: failed to log trade exit")
	}
	if err := tr.store.UpdatePositionFromTrade(ctx, t, false, tokenSold, price); err != nil {
		tr.log.Error().Err(err).Int64("trade_id", t.TradeID).Msg("tracker: failed to reduce position from sell")
		return
	}

	after, err := tr.store.GetPosition(ctx, t.InputMint)
	if err == nil && after == nil {
		tr.publish(ctx, events.PositionClosed, t.InputMint, map[string]any{"trade_id": t.TradeID, "amount": tokenSold, "price_sol": price})
	}
}

func priceOf(quoteAmount, tokenAmount float64) float64 {
	if tokenAmount == 0 {
		return 0
	}
	return quoteAmount / tokenAmount
}

func (tr *Tracker) publish(ctx context.Context, typ events.Type, topic string, payload map[string]any) {
	if tr.bus == nil {
		return
	}
	if err := tr.bus.Publish(ctx, typ, topic, payload); err != nil {
		tr.log.Warn().Err(err).Str("type", string(typ)).Msg("tracker: failed to publish event")
	}
}
