package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/solexec/engine/internal/evaluator"
	"github.com/solexec/engine/internal/queue"
	"github.com/solexec/engine/internal/store"
)

const defaultQuoteDecimals = 9 // native SOL decimals; QuoteMints are SOL/USDC-class assets

// IngestPriceEvent is the engine-level glue the (out-of-scope) price feed
// collaborator calls: it forwards the event to the Strategy Evaluator and,
// on a non-HOLD signal, turns it into a persisted Trade plus a queued
// TradeRequest. The Strategy Evaluator itself never writes persistent
// state — this is the boundary where a signal becomes a write.
func (c *Context) IngestPriceEvent(ctx context.Context, evt evaluator.PriceEvent) error {
	sig, err := c.Evaluator.OnPriceEvent(ctx, evt)
	if err != nil {
		return fmt.Errorf("evaluate price event: %w", err)
	}

	// Best-effort: persist the trailing-stop high-water mark for whatever
	// position is open on this mint. A no-op row-wise if nothing is open;
	// failures here must not block trade routing on the same tick.
	if err := c.Store.UpdateHighWaterMark(ctx, evt.TokenMint, evt.PriceSOL); err != nil {
		c.log.Warn().Err(err).Str("mint", evt.TokenMint).Msg("failed to persist high water mark")
	}

	if sig == nil || sig.Action == evaluator.ActionHold {
		return nil
	}
	return c.routeSignal(ctx, sig)
}

func (c *Context) routeSignal(ctx context.Context, sig *evaluator.Signal) error {
	quoteMint := c.primaryQuoteMint()

	var trade store.Trade
	var isBuy bool
	switch sig.Action {
	case evaluator.ActionBuy:
		isBuy = true
		trade = store.Trade{
			InputMint:      quoteMint,
			OutputMint:     sig.Mint,
			InputDecimals:  defaultQuoteDecimals,
			OutputDecimals: defaultQuoteDecimals,
			Status:         store.StatusPending,
			StrategyID:     "strategy_evaluator",
			Metadata: map[string]any{
				"reason":     sig.Reason,
				"confidence": sig.Confidence,
			},
		}
		trade.InputAmountAtomic = uiToAtomic(c.Config.Trading.TradeAmountUSD, defaultQuoteDecimals)
	case evaluator.ActionSell:
		pos := c.Manager.Position(sig.Mint)
		if pos == nil {
			return fmt.Errorf("sell signal for %s with no tracked position", sig.Mint)
		}
		trade = store.Trade{
			InputMint:      sig.Mint,
			OutputMint:     quoteMint,
			InputDecimals:  defaultQuoteDecimals,
			OutputDecimals: defaultQuoteDecimals,
			Status:         store.StatusPending,
			StrategyID:     "strategy_evaluator",
			Metadata: map[string]any{
				"reason":           sig.Reason,
				"confidence":       sig.Confidence,
				"entry_trade_hash": pos.EntryTradeHash,
			},
		}
		trade.InputAmountAtomic = uiToAtomic(pos.Amount, defaultQuoteDecimals)
	default:
		return nil
	}

	tradeID, err := c.Store.InsertTrade(ctx, &trade)
	if err != nil {
		return fmt.Errorf("persist trade: %w", err)
	}

	req := queue.TradeRequest{
		TradeID:           tradeID,
		StrategyID:        trade.StrategyID,
		TokenAddress:      sig.Mint,
		InputMint:         trade.InputMint,
		OutputMint:        trade.OutputMint,
		InputAmountAtomic: trade.InputAmountAtomic,
		InputDecimals:     trade.InputDecimals,
		OutputDecimals:    trade.OutputDecimals,
		SlippageBps:       c.Config.Trading.DefaultSlippageBps,
		Priority:          priorityFor(isBuy, sig),
	}

	if !c.Queue.AddTrade(req) {
		return fmt.Errorf("trade %d rejected at admission (breaker active)", tradeID)
	}
	return nil
}

func (c *Context) primaryQuoteMint() string {
	if len(c.Config.Trading.QuoteMints) == 0 {
		return "So11111111111111111111111111111111111111112"
	}
	return c.Config.Trading.QuoteMints[0]
}

// priorityFor maps a signal to the {CRITICAL, HIGH, MEDIUM, LOW} priority
// scale as an integer (higher = more urgent, matching queue.priorityHeap's
// ordering): a stop-loss exit (confidence forced to 1.0) is CRITICAL, any
// other SELL is HIGH, a BUY is MEDIUM.
func priorityFor(isBuy bool, sig *evaluator.Signal) int {
	const (
		critical = 3
		high     = 2
		medium   = 1
	)
	if !isBuy && sig.Confidence >= 1.0 {
		return critical
	}
	if !isBuy {
		return high
	}
	return medium
}

func uiToAtomic(amount float64, decimals int) int64 {
	return int64(math.Round(amount * math.Pow10(decimals)))
}
