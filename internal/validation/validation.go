// Package validation implements the live-trade validation gate: balance,
// liquidity bounds, slippage, spread, and holder-count checks run in that order
// before a trade is ever quoted. Grounded on
// original_source/wallet/trade_validator.py's threshold checks, reshaped
// into the accept-interface/return-struct idiom. A refusal fails the
// trade without bumping any circuit breaker.
package validation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Thresholds mirrors the MIN_LIQUIDITY/MAX_LIQUIDITY/MAX_SLIPPAGE_PCT/
// MIN_HOLDERS/MAX_SPREAD configuration keys.
type Thresholds struct {
	MinLiquidity float64
	MaxLiquidity float64
	MaxSlippage  float64 // fraction, e.g. 0.01 = 1%
	MinHolders   int
	MaxSpread    float64 // fraction
}

// TokenInfo is what a BalanceChecker/metadata collaborator supplies about
// the candidate pair. It is an external collaborator's contract, not
// something this package computes.
type TokenInfo struct {
	WalletBalance  float64
	RequiredAmount float64
	Liquidity      float64
	Holders        int
	BidPrice       float64
	AskPrice       float64
	ExpectedPrice  float64
	ActualPrice    float64
}

// Refusal is a Reason-tagged validation failure. A Refusal must
// fail the trade without incrementing any circuit breaker.
type Refusal struct {
	Reason string
	Detail string
}

func (r *Refusal) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

func refuse(reason, format string, args ...any) *Refusal {
	return &Refusal{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Validator runs the live-trade validation gate.
type Validator struct {
	thresholds Thresholds
	log        zerolog.Logger
}

// New constructs a Validator bound to one set of thresholds.
func New(thresholds Thresholds, logger zerolog.Logger) *Validator {
	return &Validator{thresholds: thresholds, log: logger}
}

// Validate runs every check in order, short-circuiting on the first
// refusal: balance, liquidity, slippage, spread, holder count.
func (v *Validator) Validate(ctx context.Context, info TokenInfo) error {
	if err := v.validateBalance(info); err != nil {
		return err
	}
	if err := v.validateLiquidity(info.Liquidity); err != nil {
		return err
	}
	if err := v.validateSlippage(info.ExpectedPrice, info.ActualPrice); err != nil {
		return err
	}
	if err := v.validateSpread(info.BidPrice, info.AskPrice); err != nil {
		return err
	}
	if err := v.validateHolders(info.Holders); err != nil {
		return err
	}
	return nil
}

func (v *Validator) validateBalance(info TokenInfo) error {
	if info.WalletBalance < info.RequiredAmount {
		v.log.Warn().
			Float64("balance", info.WalletBalance).
			Float64("required", info.RequiredAmount).
			Msg("insufficient wallet balance")
		return refuse("insufficient_balance", "have %.9f, need %.9f", info.WalletBalance, info.RequiredAmount)
	}
	return nil
}

func (v *Validator) validateLiquidity(liquidity float64) error {
	if liquidity < v.thresholds.MinLiquidity {
		v.log.Warn().Float64("liquidity", liquidity).Float64("min", v.thresholds.MinLiquidity).Msg("liquidity too low")
		return refuse("liquidity_too_low", "%.2f below floor %.2f", liquidity, v.thresholds.MinLiquidity)
	}
	if liquidity > v.thresholds.MaxLiquidity {
		v.log.Warn().Float64("liquidity", liquidity).Float64("max", v.thresholds.MaxLiquidity).Msg("liquidity too high")
		return refuse("liquidity_too_high", "%.2f above ceiling %.2f", liquidity, v.thresholds.MaxLiquidity)
	}
	return nil
}

func (v *Validator) validateSlippage(expectedPrice, actualPrice float64) error {
	if expectedPrice == 0 {
		return nil
	}
	slippage := abs(expectedPrice-actualPrice) / expectedPrice
	if slippage > v.thresholds.MaxSlippage {
		v.log.Warn().Float64("slippage", slippage).Float64("max", v.thresholds.MaxSlippage).Msg("slippage too high")
		return refuse("slippage_too_high", "%.4f exceeds bound %.4f", slippage, v.thresholds.MaxSlippage)
	}
	return nil
}

func (v *Validator) validateSpread(bidPrice, askPrice float64) error {
	if bidPrice == 0 {
		return nil
	}
	spread := (askPrice - bidPrice) / bidPrice
	if spread > v.thresholds.MaxSpread {
		v.log.Warn().Float64("spread", spread).Float64("max", v.thresholds.MaxSpread).Msg("spread too high")
		return refuse("spread_too_high", "%.4f exceeds bound %.4f", spread, v.thresholds.MaxSpread)
	}
	return nil
}

func (v *Validator) validateHolders(holders int) error {
	if holders < v.thresholds.MinHolders {
		v.log.Warn().Int("holders", holders).Int("min", v.thresholds.MinHolders).Msg("not enough token holders")
		return refuse("insufficient_holders", "%d below floor %d", holders, v.thresholds.MinHolders)
	}
	return nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
