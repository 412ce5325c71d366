// Package events is the internal signal bus: the Transaction Tracker
// publishes trade-confirmation side effects here (trade confirmed/failed,
// position opened/closed) so the Strategy Evaluator's per-token state
// machine can subscribe to them
// without coupling to the Order Manager or Transaction Tracker directly. A
// local channel fan-out is always active; an optional NATS connection lets
// the same events reach an external notification sink.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Type identifies the kind of event flowing through the bus.
type Type string

const (
	BreakerTripped  Type = "breaker.tripped"
	BreakerReset    Type = "breaker.reset"
	TradeConfirmed  Type = "trade.confirmed"
	TradeFailed     Type = "trade.failed"
	PositionOpened  Type = "position.opened"
	PositionClosed  Type = "position.closed"
	StrategySignal  Type = "strategy.signal"
)

// Event is one message on the bus.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Type      Type           `json:"type"`
	Topic     string         `json:"topic"` // e.g. a token mint, "global", or a strategy ID
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// Options configure a new Bus.
type Options struct {
	// NATSURL, if non-empty, connects the bus to NATS and publishes every
	// event to "<Prefix><type>.<topic>" in addition to local delivery.
	NATSURL string
	Prefix  string // default "engine.events."
}

// Bus is an in-process pub/sub fan-out with an optional NATS side channel.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event

	nc     *nats.Conn
	prefix string
	log    zerolog.Logger
}

// New constructs a Bus. When opts.NATSURL is empty the bus runs local-only;
// this is the default for tests and for paper-trade runs with no external
// notification sink configured.
func New(opts Options, logger zerolog.Logger) (*Bus, error) {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "engine.events."
	}

	b := &Bus{
		subscribers: make(map[string][]chan Event),
		prefix:      prefix,
		log:         logger,
	}

	if opts.NATSURL != "" {
		nc, err := nats.Connect(
			opts.NATSURL,
			nats.Name("solexec-engine"),
			nats.ReconnectWait(2*time.Second),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn().Err(err).Msg("events: NATS disconnected")
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info().Str("url", nc.ConnectedUrl()).Msg("events: NATS reconnected")
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("events: connect NATS: %w", err)
		}
		b.nc = nc
	}

	return b, nil
}

// Close releases the NATS connection, if any, and closes every subscriber
// channel so readers ranging over them terminate cleanly.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, chans := range b.subscribers {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subscribers = make(map[string][]chan Event)

	if b.nc != nil {
		b.nc.Close()
	}
}

// Publish delivers evt to every local subscriber of typ and, when NATS is
// configured, to the "<prefix><type>.<topic>" subject. Local delivery is
// non-blocking: a subscriber whose channel is full misses the event rather
// than stalling the publisher, and a warning is logged.
func (b *Bus) Publish(ctx context.Context, typ Type, topic string, payload map[string]any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	evt := Event{
		ID:        uuid.New(),
		Type:      typ,
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	b.mu.RLock()
	chans := append([]chan Event(nil), b.subscribers[string(typ)]...)
	b.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- evt:
		default:
			b.log.Warn().Str("type", string(typ)).Str("topic", topic).Msg("events: subscriber channel full, dropping event")
		}
	}

	if b.nc == nil {
		return nil
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	subject := fmt.Sprintf("%s%s.%s", b.prefix, typ, topic)
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe returns a buffered channel delivering every future Event of typ,
// and an unsubscribe function that closes the channel and removes it from
// the bus. Callers must range over the channel until it closes, or call
// unsubscribe themselves.
func (b *Bus) Subscribe(typ Type) (<-chan Event, func()) {
	ch := make(chan Event, 32)

	b.mu.Lock()
	key := string(typ)
	b.subscribers[key] = append(b.subscribers[key], ch)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subscribers[key]
		for i, c := range chans {
			if c == ch {
				b.subscribers[key] = append(chans[:i], chans[i+1:]...)
				close(ch)
				return
			}
		}
	}

	return ch, unsubscribe
}
