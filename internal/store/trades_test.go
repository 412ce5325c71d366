package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertTradeReturnsID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewWithPool(mock, zerolog.Nop())

	mock.ExpectQuery("INSERT INTO trades").
		WillReturnRows(pgxmock.NewRows([]string{"trade_id"}).AddRow(int64(42)))

	id, err := s.InsertTrade(context.Background(), &Trade{
		InputMint: "So111", OutputMint: "TokenX", InputAmountAtomic: 1_000_000,
		InputDecimals: 9, Status: StatusPending, StrategyID: "momentum",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTradeStatusErrorsWhenMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewWithPool(mock, zerolog.Nop())

	mock.ExpectExec("UPDATE trades").WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = s.UpdateTradeStatus(context.Background(), 999, StatusFailed, "", "rpc timeout", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestGetPendingTradesScansRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewWithPool(mock, zerolog.Nop())

	rows := pgxmock.NewRows([]string{
		"trade_id", "input_mint", "output_mint", "input_amount_atomic", "input_decimals", "output_decimals",
		"status", "transaction_hash", "actual_output_amount", "error_message",
		"strategy_id", "metadata", "created_at", "confirmed_at",
	}).AddRow(int64(1), "So111", "TokenX", int64(1_000_000), 9, 6, StatusSubmitted,
		"sig123", (*int64)(nil), "", "momentum", []byte(`{}`), time.Now(), (*time.Time)(nil))

	mock.ExpectQuery("SELECT trade_id").WillReturnRows(rows)

	trades, err := s.GetPendingTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(1), trades[0].TradeID)
	assert.Equal(t, StatusSubmitted, trades[0].Status)
}
