package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solexec/engine/internal/breaker"
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

type stubExecutor struct {
	mu      sync.Mutex
	calls   []TradeRequest
	results func(req TradeRequest) (string, error)
}

func (s *stubExecutor) ExecuteSwap(ctx context.Context, req TradeRequest) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if s.results != nil {
		return s.results(req)
	}
	return "hash", nil
}

func (s *stubExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestAddTradeRejectsWhenGlobalBreakerActive(t *testing.T) {
	fabric := testFabric()
	fabric.Global().Activate()
	exec := &stubExecutor{}
	q := New(fabric, exec, Options{InterTradeInterval: time.Millisecond}, zerolog.Nop())

	accepted := q.AddTrade(TradeRequest{StrategyID: "s1", TokenAddress: "tokA"})
	assert.False(t, accepted)
}

func TestAddTradeRejectsWhenTokenBreakerActive(t *testing.T) {
	fabric := testFabric()
	fabric.Token("tokA").Activate()
	exec := &stubExecutor{}
	q := New(fabric, exec, Options{InterTradeInterval: time.Millisecond}, zerolog.Nop())

	accepted := q.AddTrade(TradeRequest{StrategyID: "s1", TokenAddress: "tokA"})
	assert.False(t, accepted)
}

func TestDispatchOrderIsPriorityThenFIFO(t *testing.T) {
	fabric := testFabric()
	exec := &stubExecutor{}
	q := New(fabric, exec, Options{InterTradeInterval: time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, q.AddTrade(TradeRequest{StrategyID: "s1", TokenAddress: "low-1", Priority: 1}))
	require.True(t, q.AddTrade(TradeRequest{StrategyID: "s1", TokenAddress: "high-1", Priority: 5}))
	require.True(t, q.AddTrade(TradeRequest{StrategyID: "s1", TokenAddress: "low-2", Priority: 1}))
	require.True(t, q.AddTrade(TradeRequest{StrategyID: "s1", TokenAddress: "high-2", Priority: 5}))

	q.Start(ctx)
	require.Eventually(t, func() bool { return exec.callCount() == 4 }, 2*time.Second, 5*time.Millisecond)

	order := make([]string, 4)
	exec.mu.Lock()
	for i, c := range exec.calls {
		order[i] = c.TokenAddress
	}
	exec.mu.Unlock()

	assert.Equal(t, []string{"high-1", "high-2", "low-1", "low-2"}, order)
}

func TestFailureIncrementsStrategyAndTokenBreakersNotGlobal(t *testing.T) {
	fabric := testFabric()
	exec := &stubExecutor{results: func(req TradeRequest) (string, error) {
		return "", errors.New("dispatch failed")
	}}
	q := New(fabric, exec, Options{InterTradeInterval: time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, q.AddTrade(TradeRequest{StrategyID: "s1", TokenAddress: "tokA"}))
	q.Start(ctx)
	require.Eventually(t, func() bool { return exec.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, fabric.Operation("s1").ConsecutiveFailures())
	assert.Equal(t, 1, fabric.Token("tokA").ConsecutiveFailures())
	assert.False(t, fabric.Global().IsActive())
}

func TestSilentFailureDoesNotIncrementBreakers(t *testing.T) {
	fabric := testFabric()
	exec := &stubExecutor{results: func(req TradeRequest) (string, error) {
		return "", &SilentFailure{Err: errors.New("insufficient_balance: have 0, need 1")}
	}}
	q := New(fabric, exec, Options{InterTradeInterval: time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, q.AddTrade(TradeRequest{StrategyID: "s1", TokenAddress: "tokA"}))
	q.Start(ctx)
	require.Eventually(t, func() bool { return exec.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, fabric.Operation("s1").ConsecutiveFailures())
	assert.Equal(t, 0, fabric.Token("tokA").ConsecutiveFailures())
}

func TestHeadReCheckedAgainstBreakerBeforeDispatch(t *testing.T) {
	fabric := testFabric()
	exec := &stubExecutor{}
	q := New(fabric, exec, Options{InterTradeInterval: time.Millisecond}, zerolog.Nop())

	require.True(t, q.AddTrade(TradeRequest{StrategyID: "s1", TokenAddress: "tokA"}))
	fabric.Token("tokA").Activate() // trips after enqueue, before dispatch

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, exec.callCount())
	assert.Equal(t, 0, q.Len())
}

func TestCallbackInvokedWithOutcome(t *testing.T) {
	fabric := testFabric()
	exec := &stubExecutor{}

	var mu sync.Mutex
	var gotSuccess bool
	var gotHash string
	done := make(chan struct{})

	q := New(fabric, exec, Options{
		InterTradeInterval: time.Millisecond,
		Callback: func(req TradeRequest, success bool, hash string) {
			mu.Lock()
			gotSuccess = success
			gotHash = hash
			mu.Unlock()
			close(done)
		},
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, q.AddTrade(TradeRequest{StrategyID: "s1", TokenAddress: "tokA"}))
	q.Start(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, gotSuccess)
	assert.Equal(t, "hash", gotHash)
}

func TestCallbackPanicDoesNotStopWorker(t *testing.T) {
	fabric := testFabric()
	exec := &stubExecutor{}
	q := New(fabric, exec, Options{
		InterTradeInterval: time.Millisecond,
		Callback: func(req TradeRequest, success bool, hash string) {
			panic("boom")
		},
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, q.AddTrade(TradeRequest{StrategyID: "s1", TokenAddress: "tokA"}))
	require.True(t, q.AddTrade(TradeRequest{StrategyID: "s1", TokenAddress: "tokB"}))
	q.Start(ctx)

	require.Eventually(t, func() bool { return exec.callCount() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestClearEmptiesQueueWithoutCallback(t *testing.T) {
	fabric := testFabric()
	exec := &stubExecutor{}
	called := false
	q := New(fabric, exec, Options{
		Callback: func(req TradeRequest, success bool, hash string) { called = true },
	}, zerolog.Nop())

	require.True(t, q.AddTrade(TradeRequest{StrategyID: "s1", TokenAddress: "tokA"}))
	q.Clear()
	assert.Equal(t, 0, q.Len())
	assert.False(t, called)
}

func TestCloseRejectsFurtherTrades(t *testing.T) {
	fabric := testFabric()
	exec := &stubExecutor{}
	q := New(fabric, exec, Options{}, zerolog.Nop())

	q.Close()
	accepted := q.AddTrade(TradeRequest{StrategyID: "s1", TokenAddress: "tokA"})
	assert.False(t, accepted)
}
