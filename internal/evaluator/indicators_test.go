package evaluator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticUptrend(n int, start float64) []PriceEvent {
	out := make([]PriceEvent, n)
	price := start
	for i := 0; i < n; i++ {
		price *= 1.01
		out[i] = PriceEvent{
			TokenMint: "TokenX", PriceSOL: price, Volume24h: 1000 + float64(i)*10,
			Timestamp: time.Now().Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func TestComputeIndicatorsHoldsOnInsufficientHistory(t *testing.T) {
	samples := syntheticUptrend(10, 1.0)
	_, ok := computeIndicators(samples)
	assert.False(t, ok)
}

func TestComputeIndicatorsProducesSnapshotOnSufficientHistory(t *testing.T) {
	samples := syntheticUptrend(smaSlowLen+5, 1.0)
	snap, ok := computeIndicators(samples)
	require.True(t, ok)
	assert.False(t, math.IsNaN(snap.RSI))
	assert.Greater(t, snap.SMA20, 0.0)
	assert.Greater(t, snap.SMA50, 0.0)
	// A steady uptrend puts the most recent 20-sample average above the
	// most recent 50-sample average.
	assert.Greater(t, snap.SMA20, snap.SMA50)
}

func TestSimpleMovingAverageWindowsCorrectly(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 4.0, simpleMovingAverage(prices, 2)) // avg(4,5)
	assert.Equal(t, 0.0, simpleMovingAverage(prices, 10))
}

func TestPriceHistoryEvictsOldestBeyondBound(t *testing.T) {
	h := newPriceHistory(3)
	for i := 0; i < 5; i++ {
		h.push(PriceEvent{PriceSOL: float64(i)})
	}
	snap := h.snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, 2.0, snap[0].PriceSOL)
	assert.Equal(t, 4.0, snap[2].PriceSOL)
}
