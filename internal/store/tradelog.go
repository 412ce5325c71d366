package store

import (
	"context"
	"fmt"
)

// LogTradeEntry appends an append-only
// row recording a BUY's position-entry side effect.
func (s *Store) LogTradeEntry(ctx context.Context, tradeID int64, tokenMint string, amount, priceSOL float64, reason string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trade_log (trade_id, token_mint, kind, amount, price_sol, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, tradeID, tokenMint, LogEntry, amount, priceSOL, reason)
	if err != nil {
		return fmt.Errorf("log trade entry: %w", err)
	}
	return nil
}

// LogTradeExit appends an append-only row
// recording a SELL's position-exit side effect,
// referencing the prior entry's transaction hash.
func (s *Store) LogTradeExit(ctx context.Context, tradeID int64, tokenMint string, amount, priceSOL float64, reason, entryHash string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trade_log (trade_id, token_mint, kind, amount, price_sol, reason, reference_hash)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, tradeID, tokenMint, LogExit, amount, priceSOL, reason, entryHash)
	if err != nil {
		return fmt.Errorf("log trade exit: %w", err)
	}
	return nil
}
