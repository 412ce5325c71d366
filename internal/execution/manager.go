package execution

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/solexec/engine/internal/aggregator"
	"github.com/solexec/engine/internal/breaker"
	"github.com/solexec/engine/internal/infra"
	"github.com/solexec/engine/internal/queue"
	"github.com/solexec/engine/internal/solana"
	"github.com/solexec/engine/internal/store"
	"github.com/solexec/engine/internal/validation"
)

const componentName = "order_manager"

// Options configure a new Manager.
type Options struct {
	PaperTrading          bool
	DefaultSlippageBps    int
	ComputeUnitPriceMicro int64
	// QuoteMints is the set of mints treated
	// as the quote (funding) asset, promoted from a hardcoded constant to
	// configuration. An InputMint in this set means the trade is a BUY.
	QuoteMints []string
}

// Manager is the Order Manager (C3): one Executor serving both the paper
// and live dispatch paths behind a shared paper-vs-live parity
// requirement.
type Manager struct {
	opts Options

	aggregator *aggregator.Client
	solana     *solana.Client
	store      *store.Store
	validator  *validation.Validator
	market     MarketData
	price      PriceProvider
	wallet     *Wallet
	fabric     *breaker.Fabric
	transport  *infra.TransportBreakers
	quoteMints map[string]struct{}

	log zerolog.Logger

	inflightMu sync.Mutex
	inflight   map[int64]struct{}

	positionsMu sync.RWMutex
	positions   map[string]*store.Position
}

// NewManager constructs a Manager. wallet and aggregator/solana clients may
// be nil in paper-trading-only configurations.
func NewManager(
	fabric *breaker.Fabric,
	st *store.Store,
	validator *validation.Validator,
	agg *aggregator.Client,
	rpc *solana.Client,
	wallet *Wallet,
	market MarketData,
	price PriceProvider,
	opts Options,
	logger zerolog.Logger,
) *Manager {
	quoteMints := make(map[string]struct{}, len(opts.QuoteMints))
	for _, m := range opts.QuoteMints {
		quoteMints[m] = struct{}{}
	}

	return &Manager{
		opts:       opts,
		aggregator: agg,
		solana:     rpc,
		store:      st,
		validator:  validator,
		market:     market,
		price:      price,
		wallet:     wallet,
		fabric:     fabric,
		transport:  infra.NewTransportBreakers(infra.DefaultAggregatorSettings, infra.DefaultRPCSettings),
		quoteMints: quoteMints,
		log:        logger,
		inflight:   make(map[int64]struct{}),
		positions:  make(map[string]*store.Position),
	}
}

// LoadPositions refreshes the in-memory position cache from the store: on
// startup and again after every confirmed trade.
func (m *Manager) LoadPositions(ctx context.Context) error {
	active, err := m.store.FetchActivePositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}

	m.positionsMu.Lock()
	m.positions = make(map[string]*store.Position, len(active))
	for _, p := range active {
		m.positions[p.TokenMint] = p
	}
	m.positionsMu.Unlock()
	return nil
}

// Position returns the cached open position for mint, or nil.
func (m *Manager) Position(mint string) *store.Position {
	m.positionsMu.RLock()
	defer m.positionsMu.RUnlock()
	return m.positions[mint]
}

func (m *Manager) refreshPosition(ctx context.Context, mint string) {
	p, err := m.store.GetPosition(ctx, mint)
	if err != nil {
		m.log.Warn().Err(err).Str("mint", mint).Msg("failed to refresh position cache")
		return
	}
	m.positionsMu.Lock()
	defer m.positionsMu.Unlock()
	if p == nil || p.Status != store.PositionOpen {
		delete(m.positions, mint)
		return
	}
	m.positions[mint] = p
}

// ExecuteSwap implements the queue.Executor contract. Its concurrency
// guard: a second call for an in-flight trade id returns immediately with
// no hash and no error.
func (m *Manager) ExecuteSwap(ctx context.Context, req queue.TradeRequest) (string, error) {
	if !m.tryLock(req.TradeID) {
		m.log.Debug().Int64("trade_id", req.TradeID).Msg("execute_swap already in flight, skipping")
		return "", nil
	}
	defer m.unlock(req.TradeID)

	if m.opts.PaperTrading {
		return m.executePaper(ctx, req)
	}
	return m.executeLive(ctx, req)
}

func (m *Manager) tryLock(tradeID int64) bool {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()
	if _, ok := m.inflight[tradeID]; ok {
		return false
	}
	m.inflight[tradeID] = struct{}{}
	return true
}

func (m *Manager) unlock(tradeID int64) {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()
	delete(m.inflight, tradeID)
}

// isBuy reports whether req spends the quote asset to acquire the token,
// per the QUOTE_MINTS configuration.
func (m *Manager) isBuy(req queue.TradeRequest) bool {
	_, ok := m.quoteMints[req.InputMint]
	return ok
}

// tokenMint returns the non-quote side of the pair.
func (m *Manager) tokenMint(req queue.TradeRequest) string {
	if m.isBuy(req) {
		return req.OutputMint
	}
	return req.InputMint
}

func atomicToUI(amount int64, decimals int) float64 {
	return float64(amount) / math.Pow(10, float64(decimals))
}

// viaBreaker runs fn through a transport-layer gobreaker instance, per
// internal/infra's separation of the transport breaker (protects against
// hammering a degraded upstream) from C5's domain-outcome breaker.
func viaBreaker[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	v, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	infra.RecordResult(cb.Name(), err)
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// executePaper is the paper-trading mode dispatch.
func (m *Manager) executePaper(ctx context.Context, req queue.TradeRequest) (string, error) {
	mint := m.tokenMint(req)

	price, err := m.price.SimulatedPrice(ctx, mint)
	if err != nil {
		m.log.Warn().Err(err).Str("mint", mint).Msg("paper trade: simulated price unavailable")
		_ = m.store.UpdateTradeStatus(ctx, req.TradeID, store.StatusFailed, "", err.Error(), nil)
		return "", err
	}

	quantity := atomicToUI(req.InputAmountAtomic, req.InputDecimals)
	hash := fmt.Sprintf("PAPER_TRADE_SUCCESS_%d", req.TradeID)

	trade := &store.Trade{
		TradeID:         req.TradeID,
		InputMint:       req.InputMint,
		OutputMint:      req.OutputMint,
		TransactionHash: hash,
		StrategyID:      req.StrategyID,
	}

	if err := m.store.UpdatePositionFromTrade(ctx, trade, m.isBuy(req), quantity, price); err != nil {
		m.log.Error().Err(err).Int64("trade_id", req.TradeID).Msg("paper trade: position update failed")
		_ = m.store.UpdateTradeStatus(ctx, req.TradeID, store.StatusFailed, "", err.Error(), nil)
		return "", err
	}

	actualOutput := req.InputAmountAtomic
	if err := m.store.UpdateTradeStatus(ctx, req.TradeID, store.StatusPaperCompleted, hash, "", &actualOutput); err != nil {
		return "", fmt.Errorf("paper trade: persist status: %w", err)
	}

	m.refreshPosition(ctx, mint)
	return hash, nil
}

// executeLive is the three-step live pipeline: quote, build, sign-and-submit.
func (m *Manager) executeLive(ctx context.Context, req queue.TradeRequest) (string, error) {
	info, err := m.market.Snapshot(ctx, m.tokenMint(req))
	if err != nil {
		m.log.Warn().Err(err).Int64("trade_id", req.TradeID).Msg("order manager: market snapshot unavailable")
		_ = m.store.UpdateTradeStatus(ctx, req.TradeID, store.StatusFailed, "", err.Error(), nil)
		return "", err
	}
	info.RequiredAmount = atomicToUI(req.InputAmountAtomic, req.InputDecimals)
	if m.solana != nil && m.wallet != nil {
		if lamports, err := viaBreaker(m.transport.RPC(), func() (int64, error) {
			return m.solana.GetBalance(ctx, m.wallet.PublicKey())
		}); err == nil {
			info.WalletBalance = float64(lamports) / 1e9
		}
	}

	if err := m.validator.Validate(ctx, info); err != nil {
		m.log.Warn().Err(err).Int64("trade_id", req.TradeID).Msg("validation gate refused trade")
		_ = m.store.UpdateTradeStatus(ctx, req.TradeID, store.StatusFailed, "", err.Error(), nil)
		return "", &queue.SilentFailure{Err: err}
	}

	slippage := req.SlippageBps
	if slippage <= 0 {
		slippage = m.opts.DefaultSlippageBps
	}

	quote, err := viaBreaker(m.transport.Aggregator(), func() (*aggregator.Quote, error) {
		return m.aggregator.GetQuote(ctx, aggregator.QuoteRequest{
			InputMint:             req.InputMint,
			OutputMint:            req.OutputMint,
			AtomicAmount:          req.InputAmountAtomic,
			SlippageBps:           slippage,
			ComputeUnitPriceMicro: m.opts.ComputeUnitPriceMicro,
		})
	})
	if err != nil {
		return m.abortStep(ctx, req.TradeID, "quote", err)
	}

	built, err := viaBreaker(m.transport.Aggregator(), func() (*aggregator.SwapTransaction, error) {
		return m.aggregator.BuildSwap(ctx, aggregator.BuildRequest{
			QuoteResponse:         quote.Raw,
			UserPublicKey:         m.wallet.PublicKey(),
			PriorityFeeLamports:   req.PriorityFeeLamports,
			ComputeUnitPriceMicro: m.opts.ComputeUnitPriceMicro,
		})
	})
	if err != nil {
		return m.abortStep(ctx, req.TradeID, "build", err)
	}

	signedTx, err := signVersionedTransaction(built.SwapTransaction, m.wallet)
	if err != nil {
		return m.abortStep(ctx, req.TradeID, "sign", err)
	}

	hash, err := viaBreaker(m.transport.RPC(), func() (string, error) {
		return m.solana.SendTransaction(ctx, signedTx)
	})
	if err != nil {
		return m.abortStep(ctx, req.TradeID, "submit", err)
	}

	if err := m.store.UpdateTradeStatus(ctx, req.TradeID, store.StatusSubmitted, hash, "", nil); err != nil {
		m.log.Error().Err(err).Int64("trade_id", req.TradeID).Msg("failed to persist submitted status")
		return "", err
	}

	m.fabric.Component(componentName).ResetFailures()
	return hash, nil
}

// abortStep implements the shared failure disposition for the quote/build/
// sign/submit steps: bump the component breaker, mark the trade failed,
// and return the error so the caller's queue records an unsuccessful
// outcome too.
func (m *Manager) abortStep(ctx context.Context, tradeID int64, step string, err error) (string, error) {
	m.log.Warn().Err(err).Str("step", step).Int64("trade_id", tradeID).Msg("order manager step failed")
	m.fabric.Component(componentName).IncrementFailures()
	_ = m.store.UpdateTradeStatus(ctx, tradeID, store.StatusFailed, "", err.Error(), nil)
	return "", fmt.Errorf("order manager %s step: %w", step, err)
}
