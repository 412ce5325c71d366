package queue

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// queueMetrics holds the Prometheus series the queue exposes: total_trades,
// successful_trades, failed_trades, current queue length, cumulative
// processing time, and a rolling average, following the same sync.Once
// singleton idiom as internal/breaker/metrics.go.
type queueMetrics struct {
	mu sync.Mutex

	total          prometheus.Counter
	successful     prometheus.Counter
	failed         prometheus.Counter
	length         prometheus.Gauge
	cumulativeTime prometheus.Counter
	averageTime    prometheus.Gauge

	totalCount  int64
	cumulative  time.Duration
}

var (
	instance     *queueMetrics
	instanceOnce sync.Once
)

func queueMetricsInstance() *queueMetrics {
	instanceOnce.Do(func() {
		instance = &queueMetrics{
			total: promauto.NewCounter(prometheus.CounterOpts{
				Name: "trade_queue_total_trades",
				Help: "Total trades dispatched by the trade queue",
			}),
			successful: promauto.NewCounter(prometheus.CounterOpts{
				Name: "trade_queue_successful_trades_total",
				Help: "Trades dispatched successfully",
			}),
			failed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "trade_queue_failed_trades_total",
				Help: "Trades that failed dispatch",
			}),
			length: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "trade_queue_length",
				Help: "Current number of pending trades",
			}),
			cumulativeTime: promauto.NewCounter(prometheus.CounterOpts{
				Name: "trade_queue_processing_seconds_total",
				Help: "Cumulative wall-clock time spent dispatching trades",
			}),
			averageTime: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "trade_queue_average_processing_seconds",
				Help: "Rolling average dispatch duration",
			}),
		}
	})
	return instance
}

func (m *queueMetrics) recordOutcome(success bool, duration time.Duration) {
	m.total.Inc()
	if success {
		m.successful.Inc()
	} else {
		m.failed.Inc()
	}
	m.cumulativeTime.Add(duration.Seconds())

	m.mu.Lock()
	m.totalCount++
	m.cumulative += duration
	avg := m.cumulative.Seconds() / float64(m.totalCount)
	m.mu.Unlock()

	m.averageTime.Set(avg)
}
