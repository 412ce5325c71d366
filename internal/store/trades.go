package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertTrade creates a new Trade row in the given status, returning its
// dense trade_id.
func (s *Store) InsertTrade(ctx context.Context, t *Trade) (int64, error) {
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return 0, fmt.Errorf("marshal metadata: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO trades (input_mint, output_mint, input_amount_atomic, input_decimals, output_decimals,
			status, transaction_hash, error_message, strategy_id, metadata, created_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12)
		RETURNING trade_id
	`,
		t.InputMint, t.OutputMint, t.InputAmountAtomic, t.InputDecimals, t.OutputDecimals,
		t.Status, t.TransactionHash, t.ErrorMessage, t.StrategyID, meta,
		nowOrZero(t.CreatedAt), t.ConfirmedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert trade: %w", err)
	}
	return id, nil
}

func nowOrZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// UpdateTradeStatus transitions a trade's status and records its
// transaction hash, error, and actual output amount where applicable.
func (s *Store) UpdateTradeStatus(ctx context.Context, tradeID int64, status TradeStatus, hash, errMsg string, actualOutput *int64) error {
	var confirmedAt *time.Time
	if status == StatusConfirmed {
		now := time.Now()
		confirmedAt = &now
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE trades
		SET status = $2,
		    transaction_hash = COALESCE(NULLIF($3, ''), transaction_hash),
		    error_message = COALESCE(NULLIF($4, ''), error_message),
		    actual_output_amount = COALESCE($5, actual_output_amount),
		    confirmed_at = COALESCE($6, confirmed_at)
		WHERE trade_id = $1
	`, tradeID, status, hash, errMsg, actualOutput, confirmedAt)
	if err != nil {
		return fmt.Errorf("update trade status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade not found: %d", tradeID)
	}
	return nil
}

// GetPendingTrades returns every trade the Transaction Tracker must poll:
// those in status=submitted.
func (s *Store) GetPendingTrades(ctx context.Context) ([]*Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trade_id, input_mint, output_mint, input_amount_atomic, input_decimals, output_decimals,
		       status, COALESCE(transaction_hash, ''), actual_output_amount,
		       COALESCE(error_message, ''), strategy_id, metadata, created_at, confirmed_at
		FROM trades
		WHERE status = $1
		ORDER BY created_at ASC
	`, StatusSubmitted)
	if err != nil {
		return nil, fmt.Errorf("query pending trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// GetTrade fetches a single trade by id.
func (s *Store) GetTrade(ctx context.Context, tradeID int64) (*Trade, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT trade_id, input_mint, output_mint, input_amount_atomic, input_decimals, output_decimals,
		       status, COALESCE(transaction_hash, ''), actual_output_amount,
		       COALESCE(error_message, ''), strategy_id, metadata, created_at, confirmed_at
		FROM trades WHERE trade_id = $1
	`, tradeID)

	t, err := scanTradeRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("trade not found: %d", tradeID)
		}
		return nil, fmt.Errorf("get trade: %w", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTradeRow(row rowScanner) (*Trade, error) {
	var t Trade
	var meta []byte
	if err := row.Scan(
		&t.TradeID, &t.InputMint, &t.OutputMint, &t.InputAmountAtomic, &t.InputDecimals, &t.OutputDecimals,
		&t.Status, &t.TransactionHash, &t.ActualOutputAmount,
		&t.ErrorMessage, &t.StrategyID, &meta, &t.CreatedAt, &t.ConfirmedAt,
	); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &t, nil
}

func scanTrades(rows pgx.Rows) ([]*Trade, error) {
	var trades []*Trade
	for rows.Next() {
		t, err := scanTradeRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
