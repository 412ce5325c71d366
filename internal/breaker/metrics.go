package breaker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// promMetrics holds the Prometheus series shared by every CircuitBreaker in
// the process, behind a sync.Once singleton so repeated construction in
// tests never panics on duplicate registration.
type promMetrics struct {
	state      *prometheus.GaugeVec
	activations *prometheus.CounterVec
	resets      *prometheus.CounterVec
	failures    *prometheus.CounterVec
}

var (
	globalPromMetrics *promMetrics
	promMetricsOnce   sync.Once
)

func metrics() *promMetrics {
	promMetricsOnce.Do(func() {
		globalPromMetrics = &promMetrics{
			state: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "breaker_state",
					Help: "Circuit breaker state (0=inactive, 1=active)",
				},
				[]string{"type", "identifier"},
			),
			activations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "breaker_activations_total",
					Help: "Total number of circuit breaker activations",
				},
				[]string{"type", "identifier"},
			),
			resets: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "breaker_resets_total",
					Help: "Total number of circuit breaker resets",
				},
				[]string{"type", "identifier"},
			),
			failures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "breaker_failures_total",
					Help: "Total number of failures recorded by a circuit breaker",
				},
				[]string{"type", "identifier"},
			),
		}
	})
	return globalPromMetrics
}

func (cb *CircuitBreaker) recordActivation() {
	m := metrics()
	m.state.WithLabelValues(string(cb.breakerType), cb.identifier).Set(1)
	m.activations.WithLabelValues(string(cb.breakerType), cb.identifier).Inc()
}

func (cb *CircuitBreaker) recordReset() {
	m := metrics()
	m.state.WithLabelValues(string(cb.breakerType), cb.identifier).Set(0)
	m.resets.WithLabelValues(string(cb.breakerType), cb.identifier).Inc()
}

func (cb *CircuitBreaker) recordFailure() {
	metrics().failures.WithLabelValues(string(cb.breakerType), cb.identifier).Inc()
}
