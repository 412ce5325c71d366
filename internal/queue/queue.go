// Package queue is the Trade Queue (C2): a priority-ordered, single-worker
// funnel from strategy signals to the Order Manager. Admission control and
// per-trade outcome feedback both gate through the circuit-breaker fabric
// (internal/breaker), never the queue's own state.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/solexec/engine/internal/breaker"
)

// SilentFailure marks an Executor failure that must not move any circuit
// breaker: a validation refusal should fail the trade without bumping a
// breaker. The Order Manager wraps validation-gate refusals in
// this before returning them so the queue still records the outcome as
// unsuccessful without touching the strategy/token breakers.
type SilentFailure struct {
	Err error
}

func (s *SilentFailure) Error() string { return s.Err.Error() }
func (s *SilentFailure) Unwrap() error { return s.Err }

// TradeRequest is one admission candidate, carrying everything the Order
// Manager's ExecuteSwap needs plus the priority/ordering fields the queue
// itself consumes.
type TradeRequest struct {
	TradeID               int64
	StrategyID            string
	TokenAddress          string
	InputMint             string
	OutputMint            string
	InputAmountAtomic     int64
	InputDecimals         int
	OutputDecimals        int
	SlippageBps           int
	PriorityFeeLamports   string
	Priority              int
	Timestamp             time.Time
}

// Executor dispatches one admitted trade. internal/execution.Manager
// satisfies this.
type Executor interface {
	ExecuteSwap(ctx context.Context, req TradeRequest) (string, error)
}

// Callback is invoked after every dispatch attempt. A panic inside it is
// recovered and logged, never propagated to the worker loop.
type Callback func(req TradeRequest, success bool, transactionHash string)

// Options configure a new Queue.
type Options struct {
	// InterTradeInterval paces dispatches to avoid aggregator throttling.
	// Defaults to 1s.
	InterTradeInterval time.Duration
	Callback           Callback
}

type item struct {
	req TradeRequest
	seq uint64
}

// priorityHeap orders by (priority desc, timestamp asc, seq asc): higher
// priority first, ties broken by earlier timestamp, and admission order
// breaks ties between requests that share a wall-clock timestamp.
type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].req.Priority != h[j].req.Priority {
		return h[i].req.Priority > h[j].req.Priority
	}
	if !h[i].req.Timestamp.Equal(h[j].req.Timestamp) {
		return h[i].req.Timestamp.Before(h[j].req.Timestamp)
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is the single-worker priority trade funnel.
type Queue struct {
	mu      sync.Mutex
	pending priorityHeap
	nextSeq uint64
	closed  bool

	wake chan struct{}
	wg   sync.WaitGroup

	fabric             *breaker.Fabric
	executor           Executor
	interTradeInterval time.Duration
	callback           Callback

	log     zerolog.Logger
	metrics *queueMetrics
}

// New constructs a Queue. Start must be called to begin processing.
func New(fabric *breaker.Fabric, executor Executor, opts Options, logger zerolog.Logger) *Queue {
	interval := opts.InterTradeInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Queue{
		wake:               make(chan struct{}, 1),
		fabric:             fabric,
		executor:           executor,
		interTradeInterval: interval,
		callback:           opts.Callback,
		log:                logger,
		metrics:            queueMetricsInstance(),
	}
}

// Start launches the single worker goroutine and returns immediately. The
// worker exits once ctx is cancelled and the in-flight dispatch (if any) has
// completed; Wait blocks until then.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.run(ctx)
}

// Wait blocks until the worker goroutine has exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// AddTrade is the admission-control gate: it rejects
// without enqueuing if the global, per-strategy, or per-token breaker is
// active. On acceptance, the worker is woken if idle.
func (q *Queue) AddTrade(req TradeRequest) bool {
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	if q.fabric.Tripped(req.StrategyID, req.TokenAddress) {
		q.log.Warn().Str("strategy_id", req.StrategyID).Str("token", req.TokenAddress).Msg("trade rejected: breaker active")
		return false
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.nextSeq++
	heap.Push(&q.pending, &item{req: req, seq: q.nextSeq})
	length := len(q.pending)
	q.mu.Unlock()

	q.metrics.length.Set(float64(length))

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Clear empties the queue without invoking the callback for discarded
// entries.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
	q.metrics.length.Set(0)
}

// Close clears the queue and stops the worker from accepting further work.
// The worker goroutine itself exits when ctx passed to Start is cancelled.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.pending = nil
	q.mu.Unlock()
	q.metrics.length.Set(0)
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
		if !q.drain(ctx) {
			return
		}
	}
}

// drain processes the queue until empty, a gate rejects the remainder, or
// ctx is cancelled. If the loop itself panics, the panic is recovered, the
// global breaker is bumped and drain returns; processing stops until the
// next AddTrade re-wakes a fresh drain call.
func (q *Queue) drain(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Msg("trade queue worker loop panicked")
			q.fabric.Global().IncrementFailures()
			ok = true // the run loop keeps waiting on wake; next add_trade restarts processing
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return true
		default:
		}

		q.mu.Lock()
		if q.closed || len(q.pending) == 0 {
			q.mu.Unlock()
			return true
		}
		head := q.pending[0]
		q.mu.Unlock()

		if q.fabric.Tripped(head.req.StrategyID, head.req.TokenAddress) {
			q.popHead()
			continue
		}

		start := time.Now()
		hash, err := q.executor.ExecuteSwap(ctx, head.req)
		duration := time.Since(start)
		success := err == nil

		var silent *SilentFailure
		switch {
		case success:
			q.fabric.Operation(head.req.StrategyID).ResetFailures()
			q.fabric.Token(head.req.TokenAddress).ResetFailures()
		case errors.As(err, &silent):
			q.log.Warn().Err(err).Str("strategy_id", head.req.StrategyID).Str("token", head.req.TokenAddress).Msg("trade refused without breaker impact")
		default:
			q.fabric.Operation(head.req.StrategyID).IncrementFailures()
			q.fabric.Token(head.req.TokenAddress).IncrementFailures()
			q.log.Warn().Err(err).Str("strategy_id", head.req.StrategyID).Str("token", head.req.TokenAddress).Msg("trade dispatch failed")
		}

		q.metrics.recordOutcome(success, duration)
		q.invokeCallback(head.req, success, hash)
		q.popHead()

		select {
		case <-ctx.Done():
			return true
		case <-time.After(q.interTradeInterval):
		}
	}
}

func (q *Queue) popHead() {
	q.mu.Lock()
	if len(q.pending) > 0 {
		heap.Pop(&q.pending)
	}
	length := len(q.pending)
	q.mu.Unlock()
	q.metrics.length.Set(float64(length))
}

// invokeCallback recovers a panicking callback: exceptions are logged,
// never propagated.
func (q *Queue) invokeCallback(req TradeRequest, success bool, hash string) {
	if q.callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Msg("trade queue callback panicked")
		}
	}()
	q.callback(req, success, hash)
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
