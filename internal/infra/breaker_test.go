package infra

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() ServiceSettings {
	return ServiceSettings{
		MinRequests:     4,
		FailureRatio:    0.5,
		OpenTimeout:     50 * time.Millisecond,
		HalfOpenMaxReqs: 1,
		CountInterval:   time.Minute,
	}
}

func TestNewTransportBreakersStartsClosed(t *testing.T) {
	tb := NewTransportBreakers(testSettings(), testSettings())
	assert.Equal(t, gobreaker.StateClosed, tb.Aggregator().State())
	assert.Equal(t, gobreaker.StateClosed, tb.RPC().State())
}

func TestAggregatorBreakerTripsAfterFailureRatioExceeded(t *testing.T) {
	tb := NewTransportBreakers(testSettings(), testSettings())
	cb := tb.Aggregator()

	// gobreaker evaluates ReadyToTrip only on a failure, so the success comes
	// first: the third failure brings Requests to MinRequests (4) with a
	// FailureRatio of 0.75, above the 0.5 threshold.
	_, _ = cb.Execute(func() (interface{}, error) { return "ok", nil })
	boom := errors.New("upstream 500")
	for i := 0; i < 3; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, boom })
		require.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestRPCBreakerStaysClosedBelowMinRequests(t *testing.T) {
	tb := NewTransportBreakers(testSettings(), testSettings())
	cb := tb.RPC()

	boom := errors.New("timeout")
	_, _ = cb.Execute(func() (interface{}, error) { return nil, boom })
	_, _ = cb.Execute(func() (interface{}, error) { return nil, boom })

	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestOpenBreakerRejectsUntilTimeoutElapses(t *testing.T) {
	settings := testSettings()
	tb := NewTransportBreakers(settings, settings)
	cb := tb.Aggregator()

	boom := errors.New("upstream 500")
	for i := 0; i < 4; i++ {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, boom })
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	time.Sleep(settings.OpenTimeout + 10*time.Millisecond)
	_, err = cb.Execute(func() (interface{}, error) { return "ok", nil })
	assert.NoError(t, err)
}

func TestRecordResultDoesNotPanicOnRepeatedServiceNames(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordResult("aggregator", nil)
		RecordResult("aggregator", errors.New("boom"))
		RecordResult("solana_rpc", nil)
	})
}

func TestDefaultSettingsAreDistinctPerService(t *testing.T) {
	assert.NotEqual(t, DefaultAggregatorSettings.OpenTimeout, DefaultRPCSettings.OpenTimeout)
}
