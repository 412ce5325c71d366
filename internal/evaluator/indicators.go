package evaluator

import (
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
)

// priceHistory is the bounded per-mint ring buffer: price history is kept
// to at most
// MAX_PRICE_HISTORY_LEN samples; oldest samples evicted."
type priceHistory struct {
	samples []PriceEvent
	max     int
}

func newPriceHistory(max int) *priceHistory {
	return &priceHistory{samples: make([]PriceEvent, 0, max), max: max}
}

func (h *priceHistory) push(evt PriceEvent) {
	h.samples = append(h.samples, evt)
	if len(h.samples) > h.max {
		h.samples = h.samples[len(h.samples)-h.max:]
	}
}

// snapshot returns a defensive copy so computeIndicators can run outside the
// Evaluator's lock.
func (h *priceHistory) snapshot() []PriceEvent {
	out := make([]PriceEvent, len(h.samples))
	copy(out, h.samples)
	return out
}

const (
	rsiPeriod   = 14
	macdFast    = 12
	macdSlow    = 26
	macdSignal  = 9
	smaFastLen  = 20
	smaSlowLen  = 50
	volumeTrail = 20
)

type indicatorSnapshot struct {
	RSI               float64
	MACDBullishCross  bool
	MACDBearishCross  bool
	SMA20             float64
	SMA50             float64
	VolumeAvg         float64
}

// computeIndicators runs the entry/exit regime's technical-analysis battery
// over the cached price history. Returns ok=false (HOLD, never an error) if
// history is too short for any of the configured periods. Insufficient
// history produces HOLD, never an error.
func computeIndicators(samples []PriceEvent) (indicatorSnapshot, bool) {
	if len(samples) < smaSlowLen+1 {
		return indicatorSnapshot{}, false
	}

	prices := make([]float64, len(samples))
	volumes := make([]float64, len(samples))
	for i, s := range samples {
		prices[i] = s.PriceSOL
		volumes[i] = s.Volume24h
	}

	rsi, ok := rsiOf(prices)
	if !ok {
		return indicatorSnapshot{}, false
	}

	bullish, bearish, ok := macdCrossOf(prices)
	if !ok {
		return indicatorSnapshot{}, false
	}

	sma20 := simpleMovingAverage(prices, smaFastLen)
	sma50 := simpleMovingAverage(prices, smaSlowLen)

	return indicatorSnapshot{
		RSI:              rsi,
		MACDBullishCross: bullish,
		MACDBearishCross: bearish,
		SMA20:            sma20,
		SMA50:            sma50,
		VolumeAvg:        trailingAverage(volumes, volumeTrail),
	}, true
}

func rsiOf(prices []float64) (float64, bool) {
	in := toChannel(prices)
	out := momentum.NewRsiWithPeriod[float64](rsiPeriod).Compute(in)
	values := drain(out)
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}

// macdCrossOf reports whether the most recent sample is a bullish
// (MACD crosses above signal) or bearish (crosses below) crossover, mirrored
// by a histogram sign-flip between the two most recent samples.
func macdCrossOf(prices []float64) (bullish, bearish, ok bool) {
	in := toChannel(prices)
	macdChan, signalChan := trend.NewMacdWithPeriod[float64](macdFast, macdSlow, macdSignal).Compute(in)

	var macdValues, signalValues []float64
	for {
		m, mok := <-macdChan
		sgn, sok := <-signalChan
		if !mok || !sok {
			break
		}
		macdValues = append(macdValues, m)
		signalValues = append(signalValues, sgn)
	}
	if len(macdValues) < 2 {
		return false, false, false
	}

	n := len(macdValues)
	prevHist := macdValues[n-2] - signalValues[n-2]
	currHist := macdValues[n-1] - signalValues[n-1]

	bullish = prevHist <= 0 && currHist > 0
	bearish = prevHist >= 0 && currHist < 0
	return bullish, bearish, true
}

// simpleMovingAverage implements the trend check's SMA directly: cinar's
// trend package exposes EMA and MACD but no plain SMA. A window average
// over the last period samples needs no library.
func simpleMovingAverage(prices []float64, period int) float64 {
	if len(prices) < period {
		return 0
	}
	window := prices[len(prices)-period:]
	var sum float64
	for _, p := range window {
		sum += p
	}
	return sum / float64(period)
}

func trailingAverage(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	if period > len(values) {
		period = len(values)
	}
	window := values[:len(values)-1] // exclude the current sample, it's the "surge" candidate
	if len(window) == 0 {
		return 0
	}
	if period > len(window) {
		period = len(window)
	}
	window = window[len(window)-period:]
	var sum float64
	for _, v := range window {
		sum += v
	}
	return sum / float64(period)
}

func toChannel(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

func drain(ch chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}
