package evaluator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// PriceCache optionally backs the price-history ring buffer with Redis lists
// so the evaluator can fan out across many actively-monitored mints without
// holding every sample in process memory. A nil client disables it; the
// in-memory priceHistory ring buffer in indicators.go remains the source of
// truth for OnPriceEvent either way: a nil client means the cache is
// optional, never required.
type PriceCache struct {
	client *redis.Client
	max    int
	log    zerolog.Logger
}

// NewPriceCache constructs a PriceCache. Returns nil if client is nil.
func NewPriceCache(client *redis.Client, maxLen int, logger zerolog.Logger) *PriceCache {
	if client == nil {
		return nil
	}
	if maxLen <= 0 {
		maxLen = 100
	}
	return &PriceCache{client: client, max: maxLen, log: logger}
}

func (c *PriceCache) key(mint string) string {
	return "evaluator:price_history:" + mint
}

// Push appends evt to mint's Redis-backed history and trims it to the
// configured bound, best-effort: errors are logged, never propagated, since
// the in-memory ring buffer already satisfies the durability contract
// on its own.
func (c *PriceCache) Push(ctx context.Context, mint string, evt PriceEvent) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(evt)
	if err != nil {
		c.log.Warn().Err(err).Msg("price cache: marshal event")
		return
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	pipe := c.client.TxPipeline()
	pipe.RPush(cacheCtx, c.key(mint), data)
	pipe.LTrim(cacheCtx, c.key(mint), int64(-c.max), -1)
	if _, err := pipe.Exec(cacheCtx); err != nil {
		c.log.Debug().Err(err).Str("mint", mint).Msg("price cache: push failed, in-memory history unaffected")
	}
}

// Range returns mint's cached history, oldest first. Returns nil, false on
// any error or cache miss — callers fall back to in-memory history.
func (c *PriceCache) Range(ctx context.Context, mint string) ([]PriceEvent, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	raw, err := c.client.LRange(cacheCtx, c.key(mint), 0, -1).Result()
	if err != nil || len(raw) == 0 {
		return nil, false
	}

	out := make([]PriceEvent, 0, len(raw))
	for _, r := range raw {
		var evt PriceEvent
		if err := json.Unmarshal([]byte(r), &evt); err != nil {
			c.log.Warn().Err(err).Msg("price cache: unmarshal event")
			continue
		}
		out = append(out, evt)
	}
	return out, true
}

// Clear drops mint's cached history. The Evaluator does not call it.
func (c *PriceCache) Clear(ctx context.Context, mint string) {
	if c == nil || c.client == nil {
		return
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := c.client.Del(cacheCtx, c.key(mint)).Err(); err != nil {
		c.log.Debug().Err(err).Str("mint", mint).Msg("price cache: clear failed")
	}
}
