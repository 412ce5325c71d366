// Package execution is the Order Manager (C3): paper/live swap dispatch
// behind one Executor interface, following a three-step live pipeline
// (quote, build, sign-and-submit) with a paper-trading short-circuit.
package execution

import (
	"context"

	"github.com/solexec/engine/internal/validation"
)

// MarketData supplies the liquidity/price/holder snapshot the validation
// gate needs for one candidate pair. It is an external collaborator's
// contract — token discovery/scanning lives elsewhere; this package only
// consumes it.
type MarketData interface {
	Snapshot(ctx context.Context, tokenMint string) (validation.TokenInfo, error)
}

// PriceProvider supplies a simulated fill price for paper trading, standing
// in for a live price feed from the price-monitor collaborator.
type PriceProvider interface {
	SimulatedPrice(ctx context.Context, tokenMint string) (float64, error)
}
