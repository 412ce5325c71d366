// Package infra wraps the external HTTP/RPC clients (DEX aggregator,
// Solana RPC) with a gobreaker ratio-over-window circuit breaker. This
// is deliberately separate from internal/breaker's consecutive-failure
// fabric (C5): it protects the transport layer from hammering a degraded
// upstream, while C5 gates trading decisions on the domain outcome.
package infra

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// ServiceSettings configures one gobreaker instance.
type ServiceSettings struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxReqs uint32
	CountInterval   time.Duration
}

var (
	DefaultAggregatorSettings = ServiceSettings{
		MinRequests: 5, FailureRatio: 0.6,
		OpenTimeout: 30 * time.Second, HalfOpenMaxReqs: 3, CountInterval: 10 * time.Second,
	}
	DefaultRPCSettings = ServiceSettings{
		MinRequests: 5, FailureRatio: 0.6,
		OpenTimeout: 15 * time.Second, HalfOpenMaxReqs: 3, CountInterval: 10 * time.Second,
	}
)

type transportMetrics struct {
	state    *prometheus.GaugeVec
	requests *prometheus.CounterVec
}

var (
	globalTransportMetrics *transportMetrics
	transportMetricsOnce   sync.Once
)

func metrics() *transportMetrics {
	transportMetricsOnce.Do(func() {
		globalTransportMetrics = &transportMetrics{
			state: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "transport_circuit_breaker_state",
					Help: "Transport circuit breaker state (0=closed, 1=open, 2=half_open)",
				},
				[]string{"service"},
			),
			requests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "transport_circuit_breaker_requests_total",
					Help: "Total requests observed by a transport circuit breaker",
				},
				[]string{"service", "result"},
			),
		}
	})
	return globalTransportMetrics
}

// TransportBreakers holds the aggregator and RPC gobreaker instances shared
// by every outbound client in the process.
type TransportBreakers struct {
	aggregator *gobreaker.CircuitBreaker
	rpc        *gobreaker.CircuitBreaker
}

// NewTransportBreakers constructs both breakers with the given settings.
func NewTransportBreakers(aggregatorSettings, rpcSettings ServiceSettings) *TransportBreakers {
	m := metrics()

	tb := &TransportBreakers{}
	tb.aggregator = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "aggregator",
		MaxRequests: aggregatorSettings.HalfOpenMaxReqs,
		Interval:    aggregatorSettings.CountInterval,
		Timeout:     aggregatorSettings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < aggregatorSettings.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= aggregatorSettings.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.state.WithLabelValues(name).Set(stateValue(to))
		},
	})
	tb.rpc = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "solana_rpc",
		MaxRequests: rpcSettings.HalfOpenMaxReqs,
		Interval:    rpcSettings.CountInterval,
		Timeout:     rpcSettings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < rpcSettings.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= rpcSettings.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.state.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return tb
}

// Aggregator returns the breaker guarding the DEX aggregator HTTP client.
func (tb *TransportBreakers) Aggregator() *gobreaker.CircuitBreaker { return tb.aggregator }

// RPC returns the breaker guarding the Solana RPC client.
func (tb *TransportBreakers) RPC() *gobreaker.CircuitBreaker { return tb.rpc }

// RecordResult tallies one request's outcome against the named breaker's
// request counter. Callers pass cb.Name() so the label matches the series
// OnStateChange already reports under.
func RecordResult(service string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics().requests.WithLabelValues(service, result).Inc()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateOpen:
		return 1
	default:
		return 2
	}
}
