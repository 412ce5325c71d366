package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// FetchActivePositions returns every position with status = OPEN.
func (s *Store) FetchActivePositions(ctx context.Context) ([]*Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token_mint, amount, entry_price_sol, entry_timestamp, high_water_mark,
		       COALESCE(entry_trade_hash, ''), status, updated_at
		FROM positions
		WHERE status = $1
	`, PositionOpen)
	if err != nil {
		return nil, fmt.Errorf("query active positions: %w", err)
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.TokenMint, &p.Amount, &p.EntryPriceSOL, &p.EntryTimestamp,
			&p.HighWaterMark, &p.EntryTradeHash, &p.Status, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, &p)
	}
	return positions, rows.Err()
}

// GetPosition returns the open position for a mint, if any.
func (s *Store) GetPosition(ctx context.Context, tokenMint string) (*Position, error) {
	var p Position
	err := s.pool.QueryRow(ctx, `
		SELECT token_mint, amount, entry_price_sol, entry_timestamp, high_water_mark,
		       COALESCE(entry_trade_hash, ''), status, updated_at
		FROM positions WHERE token_mint = $1 AND status = $2
	`, tokenMint, PositionOpen).Scan(&p.TokenMint, &p.Amount, &p.EntryPriceSOL, &p.EntryTimestamp,
		&p.HighWaterMark, &p.EntryTradeHash, &p.Status, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return &p, nil
}

// UpdatePositionFromTrade applies BUY/SELL bookkeeping: a BUY upserts
// (opens or adds to) the output mint's position; a SELL reduces or closes
// the input mint's position. A SELL against a mint with no open position
// returns an error and writes nothing.
func (s *Store) UpdatePositionFromTrade(ctx context.Context, t *Trade, isBuy bool, fillAmount float64, priceSOL float64) error {
	if isBuy {
		return s.upsertBuyPosition(ctx, t, fillAmount, priceSOL)
	}
	return s.reduceSellPosition(ctx, t, fillAmount)
}

// upsertBuyPosition opens a new position row or adds to an existing open one.
// Re-entering a mint whose prior row was closed resets entry_price_sol,
// entry_timestamp, entry_trade_hash, and high_water_mark to the new fill's
// values instead of carrying over the closed position's baseline.
func (s *Store) upsertBuyPosition(ctx context.Context, t *Trade, fillAmount, priceSOL float64) error {
	now := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (token_mint, amount, entry_price_sol, entry_timestamp,
			high_water_mark, entry_trade_hash, status, updated_at)
		VALUES ($1, $2, $3, $4, $3, $5, $6, $4)
		ON CONFLICT (token_mint) DO UPDATE SET
			amount = positions.amount + EXCLUDED.amount,
			status = $6,
			updated_at = $4,
			entry_price_sol = CASE WHEN positions.status = $7 THEN EXCLUDED.entry_price_sol ELSE positions.entry_price_sol END,
			entry_timestamp = CASE WHEN positions.status = $7 THEN EXCLUDED.entry_timestamp ELSE positions.entry_timestamp END,
			entry_trade_hash = CASE WHEN positions.status = $7 THEN EXCLUDED.entry_trade_hash ELSE positions.entry_trade_hash END,
			high_water_mark = CASE WHEN positions.status = $7 THEN EXCLUDED.high_water_mark ELSE positions.high_water_mark END
	`, t.OutputMint, fillAmount, priceSOL, now, t.TransactionHash, PositionOpen, PositionClosed)
	if err != nil {
		return fmt.Errorf("upsert buy position: %w", err)
	}
	return nil
}

func (s *Store) reduceSellPosition(ctx context.Context, t *Trade, fillAmount float64) error {
	existing, err := s.GetPosition(ctx, t.InputMint)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("no open position for mint %s to reduce", t.InputMint)
	}

	remaining := existing.Amount - fillAmount
	now := time.Now()
	if remaining <= 0 {
		_, err = s.pool.Exec(ctx, `
			UPDATE positions SET amount = 0, status = $2, updated_at = $3 WHERE token_mint = $1
		`, t.InputMint, PositionClosed, now)
	} else {
		_, err = s.pool.Exec(ctx, `
			UPDATE positions SET amount = $2, updated_at = $3 WHERE token_mint = $1
		`, t.InputMint, remaining, now)
	}
	if err != nil {
		return fmt.Errorf("reduce sell position: %w", err)
	}
	return nil
}

// UpdateHighWaterMark advances the HWM used by the strategy's trailing-stop
// calculation; a no-op if price has not made a new high.
func (s *Store) UpdateHighWaterMark(ctx context.Context, tokenMint string, price float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE positions SET high_water_mark = GREATEST(high_water_mark, $2), updated_at = NOW()
		WHERE token_mint = $1 AND status = $3
	`, tokenMint, price, PositionOpen)
	if err != nil {
		return fmt.Errorf("update high water mark: %w", err)
	}
	return nil
}
