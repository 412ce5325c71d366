package events

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *server.Server {
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	return ns
}

func TestPublishDeliversToLocalSubscriber(t *testing.T) {
	bus, err := New(Options{}, zerolog.Nop())
	require.NoError(t, err)
	defer bus.Close()

	ch, unsubscribe := bus.Subscribe(BreakerTripped)
	defer unsubscribe()

	err = bus.Publish(context.Background(), BreakerTripped, "global", map[string]any{"reason": "consecutive_failures"})
	require.NoError(t, err)

	select {
	case evt := <-ch:
		assert.Equal(t, BreakerTripped, evt.Type)
		assert.Equal(t, "global", evt.Topic)
		assert.Equal(t, "consecutive_failures", evt.Payload["reason"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishOnlyReachesMatchingType(t *testing.T) {
	bus, err := New(Options{}, zerolog.Nop())
	require.NoError(t, err)
	defer bus.Close()

	tripped, unsubTripped := bus.Subscribe(BreakerTripped)
	defer unsubTripped()
	reset, unsubReset := bus.Subscribe(BreakerReset)
	defer unsubReset()

	require.NoError(t, bus.Publish(context.Background(), BreakerReset, "global", nil))

	select {
	case evt := <-reset:
		assert.Equal(t, BreakerReset, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reset event")
	}

	select {
	case evt := <-tripped:
		t.Fatalf("unexpected event on tripped channel: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus, err := New(Options{}, zerolog.Nop())
	require.NoError(t, err)
	defer bus.Close()

	ch, unsubscribe := bus.Subscribe(StrategySignal)
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus, err := New(Options{}, zerolog.Nop())
	require.NoError(t, err)
	defer bus.Close()

	_, unsubscribe := bus.Subscribe(TradeConfirmed)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			_ = bus.Publish(context.Background(), TradeConfirmed, "tok", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}

func TestPublishAlsoReachesNATS(t *testing.T) {
	ns := startTestNATSServer(t)
	defer ns.Shutdown()

	bus, err := New(Options{NATSURL: ns.ClientURL(), Prefix: "test.events."}, zerolog.Nop())
	require.NoError(t, err)
	defer bus.Close()

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	received := make(chan *nats.Msg, 1)
	sub, err := nc.Subscribe("test.events.breaker.tripped.global", func(m *nats.Msg) {
		received <- m
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	require.NoError(t, bus.Publish(context.Background(), BreakerTripped, "global", map[string]any{"reason": "rpc_failures"}))

	select {
	case msg := <-received:
		assert.Contains(t, string(msg.Data), "rpc_failures")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for NATS delivery")
	}
}

func TestPublishRespectsContextCancellation(t *testing.T) {
	bus, err := New(Options{}, zerolog.Nop())
	require.NoError(t, err)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = bus.Publish(ctx, BreakerTripped, "global", nil)
	require.Error(t, err)
}
