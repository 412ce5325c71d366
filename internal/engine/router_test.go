package engine

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solexec/engine/internal/breaker"
	"github.com/solexec/engine/internal/config"
	"github.com/solexec/engine/internal/evaluator"
	"github.com/solexec/engine/internal/execution"
	"github.com/solexec/engine/internal/queue"
	"github.com/solexec/engine/internal/store"
	"github.com/solexec/engine/internal/validation"
)

func testFabric() *breaker.Fabric {
	return breaker.NewFabric(breaker.BreakerConfig{
		ComponentMaxFailures: 20,
		ComponentResetAfter:  2 * time.Minute,
		OperationMaxFailures: 10,
		OperationResetAfter:  5 * time.Minute,
		TokenMaxFailures:     10,
		TokenResetAfter:      5 * time.Minute,
	})
}

func permissiveValidator() *validation.Validator {
	return validation.New(validation.Thresholds{
		MinLiquidity: 0,
		MaxLiquidity: 1e18,
		MaxSlippage:  1,
		MinHolders:   0,
		MaxSpread:    1,
	}, zerolog.Nop())
}

type stubExecutor struct{}

func (stubExecutor) ExecuteSwap(context.Context, queue.TradeRequest) (string, error) {
	return "hash", nil
}

func newTestContext(t *testing.T, mock pgxmock.PgxPoolIface) *Context {
	t.Helper()
	st := store.NewWithPool(mock, zerolog.Nop())
	fabric := testFabric()
	manager := execution.NewManager(fabric, st, permissiveValidator(), nil, nil, nil, nil, nil, execution.Options{
		PaperTrading: true,
		QuoteMints:   []string{"So11111111111111111111111111111111111111112"},
	}, zerolog.Nop())

	return &Context{
		Config: &config.Config{
			Trading: config.TradingConfig{
				TradeAmountUSD:     0.5,
				DefaultSlippageBps: 100,
				QuoteMints:         []string{"So11111111111111111111111111111111111111112"},
			},
		},
		Store:   st,
		Fabric:  fabric,
		Manager: manager,
		Queue:   queue.New(fabric, stubExecutor{}, queue.Options{InterTradeInterval: time.Millisecond}, zerolog.Nop()),
		log:     zerolog.Nop(),
	}
}

func TestRouteSignalBuyPersistsTradeAndQueues(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	c := newTestContext(t, mock)

	mock.ExpectQuery("INSERT INTO trades").
		WillReturnRows(pgxmock.NewRows([]string{"trade_id"}).AddRow(int64(7)))

	sig := &evaluator.Signal{Mint: "TokenX", Action: evaluator.ActionBuy, Confidence: 0.8, Reason: "entry_regime"}
	err = c.routeSignal(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Queue.Len())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRouteSignalSellWithNoPositionErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	c := newTestContext(t, mock)

	sig := &evaluator.Signal{Mint: "TokenX", Action: evaluator.ActionSell, Confidence: 1.0, Reason: "stop_loss"}
	err = c.routeSignal(context.Background(), sig)
	assert.Error(t, err)
}

func TestRouteSignalSellUsesTrackedPositionAmount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	c := newTestContext(t, mock)

	now := time.Now()
	mock.ExpectQuery("SELECT token_mint, amount, entry_price_sol").
		WillReturnRows(pgxmock.NewRows([]string{
			"token_mint", "amount", "entry_price_sol", "entry_timestamp",
			"high_water_mark", "entry_trade_hash", "status", "updated_at",
		}).AddRow("TokenX", 12.5, 0.002, now, 0.0025, "hash123", store.PositionOpen, now))

	require.NoError(t, c.Manager.LoadPositions(context.Background()))

	mock.ExpectQuery("INSERT INTO trades").
		WillReturnRows(pgxmock.NewRows([]string{"trade_id"}).AddRow(int64(8)))

	sig := &evaluator.Signal{Mint: "TokenX", Action: evaluator.ActionSell, Confidence: 1.0, Reason: "stop_loss"}
	err = c.routeSignal(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Queue.Len())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRouteSignalHoldIsNotRouted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	c := newTestContext(t, mock)
	err = c.routeSignal(context.Background(), &evaluator.Signal{Mint: "TokenX", Action: evaluator.ActionHold})
	require.NoError(t, err)
	assert.Equal(t, 0, c.Queue.Len())
}

func TestIngestPriceEventPersistsHighWaterMarkBestEffort(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	c := newTestContext(t, mock)
	c.Evaluator = evaluator.New(testFabric(), nil, evaluator.Options{}, zerolog.Nop())
	c.Evaluator.SetActiveMint("TokenX", "pool1", "raydium")

	mock.ExpectExec("UPDATE positions SET high_water_mark").
		WithArgs("TokenX", 1.5, store.PositionOpen).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = c.IngestPriceEvent(context.Background(), evaluator.PriceEvent{TokenMint: "TokenX", PriceSOL: 1.5})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPriorityForStopLossSellIsCritical(t *testing.T) {
	sig := &evaluator.Signal{Confidence: 1.0}
	assert.Equal(t, 3, priorityFor(false, sig))
}

func TestPriorityForOrdinarySellIsHigh(t *testing.T) {
	sig := &evaluator.Signal{Confidence: 0.6}
	assert.Equal(t, 2, priorityFor(false, sig))
}

func TestPriorityForBuyIsMedium(t *testing.T) {
	sig := &evaluator.Signal{Confidence: 0.6}
	assert.Equal(t, 1, priorityFor(true, sig))
}

func TestUiToAtomicRoundsToNearestLamport(t *testing.T) {
	assert.Equal(t, int64(500_000_000), uiToAtomic(0.5, 9))
}

func TestPrimaryQuoteMintDefaultsToWrappedSol(t *testing.T) {
	c := &Context{Config: &config.Config{}}
	assert.Equal(t, "So11111111111111111111111111111111111111112", c.primaryQuoteMint())
}

func TestPrimaryQuoteMintUsesConfiguredFirstEntry(t *testing.T) {
	c := &Context{Config: &config.Config{Trading: config.TradingConfig{QuoteMints: []string{"USDCmint", "SOLmint"}}}}
	assert.Equal(t, "USDCmint", c.primaryQuoteMint())
}
