// Package evaluator is the Strategy Evaluator (C1): given one actively
// monitored token, it consumes a stream of PriceEvent values and emits at
// most one BUY/SELL/HOLD signal per event. It never mutates persistent
// state — it only reads cached price history and, via internal/events,
// reacts to confirmation events from the Transaction Tracker to drive its
// own position state machine.
package evaluator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/solexec/engine/internal/breaker"
	"github.com/solexec/engine/internal/events"
)

const componentName = "strategy_evaluator"

// State is the per-mint lifecycle.
type State string

const (
	Inactive         State = "INACTIVE"
	ActiveNoPosition State = "ACTIVE_NO_POSITION"
	ActiveInPosition State = "ACTIVE_IN_POSITION"
)

// Action is the emitted signal's direction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// PriceEvent is a single price observation for a mint.
type PriceEvent struct {
	TokenMint string
	PriceSOL  float64
	PriceUSD  float64
	Volume24h float64
	Timestamp time.Time
	SourceTag string
}

// Signal is the Evaluator's output, emitted at most once per PriceEvent.
type Signal struct {
	Mint             string
	Action           Action
	PriceSOL         float64
	Confidence       float64
	Reason           string
	SuggestedSLSOL   float64
	SuggestedTPSOL   float64
}

// Thresholds are the per-strategy signal parameters.
type Thresholds struct {
	StopLossPct          float64
	TakeProfitPct        float64
	TrailingStopPct      float64
	VolumeSurgeMultiple  float64
	EntryConfidenceFloor float64
}

// DefaultThresholds mirrors the donor config's documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StopLossPct:          0.05,
		TakeProfitPct:        0.10,
		TrailingStopPct:      0.05,
		VolumeSurgeMultiple:  2.0,
		EntryConfidenceFloor: 0.5,
	}
}

// Options configure a new Evaluator.
type Options struct {
	MaxPriceHistoryLen int // default 100
	Thresholds         Thresholds
}

// Evaluator drives the signal state machine for a single actively-monitored token at a
// time; SetActiveMint replaces the context, any event for a different mint
// is silently ignored.
type Evaluator struct {
	mu sync.Mutex

	fabric *breaker.Fabric
	bus    *events.Bus
	log    zerolog.Logger

	opts Options

	state      State
	activeMint string
	pool       string
	venueTag   string

	history       *priceHistory
	highWaterMark float64
	entryPriceSOL float64

	unsubscribeBuy  func()
	unsubscribeSell func()
}

// New constructs an Evaluator in state INACTIVE.
func New(fabric *breaker.Fabric, bus *events.Bus, opts Options, logger zerolog.Logger) *Evaluator {
	if opts.MaxPriceHistoryLen <= 0 {
		opts.MaxPriceHistoryLen = 100
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	return &Evaluator{
		fabric:  fabric,
		bus:     bus,
		log:     logger.With().Str("component", componentName).Logger(),
		opts:    opts,
		state:   Inactive,
		history: newPriceHistory(opts.MaxPriceHistoryLen),
	}
}

// State reports the evaluator's current lifecycle state.
func (e *Evaluator) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ActiveMint reports the currently monitored mint, or "" if INACTIVE.
func (e *Evaluator) ActiveMint() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeMint
}

// SetActiveMint transitions INACTIVE/any → ACTIVE_NO_POSITION for mint,
// resetting price history and subscribing to that mint's confirmation
// events on the bus.
func (e *Evaluator) SetActiveMint(mint, pool, venueTag string) {
	e.mu.Lock()
	e.unsubscribeLocked()
	e.activeMint = mint
	e.pool = pool
	e.venueTag = venueTag
	e.state = ActiveNoPosition
	e.history = newPriceHistory(e.opts.MaxPriceHistoryLen)
	e.highWaterMark = 0
	e.entryPriceSOL = 0
	e.mu.Unlock()

	e.subscribeConfirmations(mint)
	e.log.Info().Str("mint", mint).Str("pool", pool).Str("venue", venueTag).Msg("active mint set")
}

// ClearActiveMint transitions any state to INACTIVE, unconditionally.
func (e *Evaluator) ClearActiveMint() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unsubscribeLocked()
	e.activeMint = ""
	e.state = Inactive
	e.log.Info().Msg("active mint cleared")
}

func (e *Evaluator) unsubscribeLocked() {
	if e.unsubscribeBuy != nil {
		e.unsubscribeBuy()
		e.unsubscribeBuy = nil
	}
	if e.unsubscribeSell != nil {
		e.unsubscribeSell()
		e.unsubscribeSell = nil
	}
}

// subscribeConfirmations wires the externally-signaled BUY/SELL-confirmed
// transitions into the state machine, driven off
// internal/events rather than a direct call from the Transaction Tracker.
func (e *Evaluator) subscribeConfirmations(mint string) {
	if e.bus == nil {
		return
	}

	buyCh, unsubBuy := e.bus.Subscribe(events.PositionOpened)
	sellCh, unsubSell := e.bus.Subscribe(events.PositionClosed)

	e.mu.Lock()
	e.unsubscribeBuy = unsubBuy
	e.unsubscribeSell = unsubSell
	e.mu.Unlock()

	go func() {
		for {
			select {
			case evt, ok := <-buyCh:
				if !ok {
					return
				}
				if evt.Topic == mint {
					e.onBuyConfirmed(evt)
				}
			case evt, ok := <-sellCh:
				if !ok {
					return
				}
				if evt.Topic == mint {
					e.onSellConfirmed()
				}
			}
		}
	}()
}

func (e *Evaluator) onBuyConfirmed(evt events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != ActiveNoPosition {
		return
	}
	e.state = ActiveInPosition
	e.highWaterMark = 0 // trailing-stop high-water-mark resets on entering ACTIVE_IN_POSITION
	e.entryPriceSOL = priceSOLFromPayload(evt)
	e.log.Info().Str("mint", e.activeMint).Float64("entry_price_sol", e.entryPriceSOL).Msg("position opened, evaluator entering ACTIVE_IN_POSITION")
}

// priceSOLFromPayload reads the "price_sol" field internal/tracker publishes
// on a PositionOpened event. Missing or non-numeric payloads leave the
// stop-loss/take-profit checks disabled (entryPriceSOL stays 0) rather than
// panicking on a malformed event.
func priceSOLFromPayload(evt events.Event) float64 {
	v, ok := evt.Payload["price_sol"]
	if !ok {
		return 0
	}
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	return f
}

func (e *Evaluator) onSellConfirmed() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != ActiveInPosition {
		return
	}
	e.state = ActiveNoPosition
	e.log.Info().Str("mint", e.activeMint).Msg("position closed, evaluator returning to ACTIVE_NO_POSITION")
}

// OnPriceEvent is non-blocking: it returns within a bounded
// number of arithmetic operations on cached state. Events for a mint other
// than the active one are silently ignored (nil, nil). Calculation panics
// are recovered into a HOLD signal plus a component-breaker failure, per
// "calculation exceptions produce HOLD and increment a per-component
// breaker."
func (e *Evaluator) OnPriceEvent(ctx context.Context, evt PriceEvent) (sig *Signal, err error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("evaluator calculation panicked")
			e.fabric.Component(componentName).IncrementFailures()
			sig = &Signal{Mint: evt.TokenMint, Action: ActionHold, Reason: "calculation error"}
			err = nil
		}
	}()

	e.mu.Lock()
	if e.state == Inactive || evt.TokenMint != e.activeMint {
		e.mu.Unlock()
		return nil, nil
	}
	e.history.push(evt)
	if evt.PriceSOL > e.highWaterMark {
		e.highWaterMark = evt.PriceSOL
	}
	state := e.state
	hwm := e.highWaterMark
	entryPrice := e.entryPriceSOL
	samples := e.history.snapshot()
	thresholds := e.opts.Thresholds
	e.mu.Unlock()

	snap, ok := computeIndicators(samples)
	if !ok {
		return &Signal{Mint: evt.TokenMint, Action: ActionHold, Reason: "insufficient history"}, nil
	}

	var out Signal
	if state == ActiveInPosition {
		out = evaluateExit(evt, snap, hwm, entryPrice, thresholds)
	} else {
		out = evaluateEntry(evt, snap, thresholds)
	}
	e.fabric.Component(componentName).ResetFailures()
	return &out, nil
}

func evaluateEntry(evt PriceEvent, snap indicatorSnapshot, th Thresholds) Signal {
	var confidence float64
	var reasons []string

	if snap.RSI < 40 {
		confidence += 0.25
		reasons = append(reasons, "rsi_oversold")
	}
	if snap.MACDBullishCross {
		confidence += 0.25
		reasons = append(reasons, "macd_bullish_cross")
	}
	if snap.SMA20 > snap.SMA50 {
		confidence += 0.25
		reasons = append(reasons, "trend_sma_golden_cross")
	}
	if snap.VolumeAvg > 0 && evt.Volume24h > th.VolumeSurgeMultiple*snap.VolumeAvg {
		confidence += 0.25
		reasons = append(reasons, "volume_surge")
	}

	if confidence >= 0.5 {
		return Signal{
			Mint: evt.TokenMint, Action: ActionBuy, PriceSOL: evt.PriceSOL,
			Confidence:     confidence,
			Reason:         joinReasons(reasons),
			SuggestedSLSOL: evt.PriceSOL * (1 - th.StopLossPct),
			SuggestedTPSOL: evt.PriceSOL * (1 + th.TakeProfitPct),
		}
	}
	return Signal{Mint: evt.TokenMint, Action: ActionHold, PriceSOL: evt.PriceSOL, Confidence: confidence, Reason: "entry confidence below floor"}
}

// evaluateExit combines the oscillator/MACD exit signals with three
// price-level triggers: a trailing stop off the position's high-water
// mark, and stop-loss/take-profit anchored to the entry price (not the
// high-water mark — conflating the two made stop-loss fire at nearly the
// same point as the trailing stop for the default thresholds).
func evaluateExit(evt PriceEvent, snap indicatorSnapshot, hwm, entryPriceSOL float64, th Thresholds) Signal {
	trailingStop := hwm > 0 && evt.PriceSOL <= hwm*(1-th.TrailingStopPct)
	stopLoss := entryPriceSOL > 0 && evt.PriceSOL <= entryPriceSOL*(1-th.StopLossPct)
	takeProfit := entryPriceSOL > 0 && evt.PriceSOL >= entryPriceSOL*(1+th.TakeProfitPct)

	var confidence float64
	var reasons []string

	if snap.RSI > 70 {
		confidence += 0.34
		reasons = append(reasons, "rsi_overbought")
	}
	if snap.MACDBearishCross {
		confidence += 0.33
		reasons = append(reasons, "macd_bearish_cross")
	}
	if trailingStop {
		confidence += 0.33
		reasons = append(reasons, "trailing_stop")
	}

	// Stop-loss and take-profit force confidence to 1.0 regardless of other
	// signals: both are hard price-level exits, not confirming evidence.
	if stopLoss {
		confidence = 1.0
		reasons = append(reasons, "stop_loss")
	} else if takeProfit {
		confidence = 1.0
		reasons = append(reasons, "take_profit")
	}

	if confidence >= 0.5 {
		return Signal{
			Mint: evt.TokenMint, Action: ActionSell, PriceSOL: evt.PriceSOL,
			Confidence: confidence, Reason: joinReasons(reasons),
		}
	}
	return Signal{Mint: evt.TokenMint, Action: ActionHold, PriceSOL: evt.PriceSOL, Confidence: confidence, Reason: "exit confidence below floor"}
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return "none"
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "," + r
	}
	return out
}
