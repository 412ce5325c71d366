// Package aggregator is the DEX-aggregator HTTP client: a quote endpoint
// and a swap-build endpoint. The aggregator service itself is an external
// collaborator, so this package only implements the consumer side —
// request shaping, decode, and the
// retry/rate-limit plumbing around it. The transport circuit breaker is
// applied by the caller (internal/execution), not in this package.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/solexec/engine/internal/retry"
)

// Quote is the decoded response from GET {base}/quote.
type Quote struct {
	InAmount  string          `json:"inAmount"`
	OutAmount string          `json:"outAmount"`
	Raw       json.RawMessage `json:"-"`
}

// SwapTransaction is the decoded response from POST {base}/swap.
type SwapTransaction struct {
	SwapTransaction string `json:"swapTransaction"` // base64 versioned transaction
}

// Client is the DEX aggregator HTTP client.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// Options configure a new Client.
type Options struct {
	BaseURL            string
	Timeout            time.Duration
	RateLimitPerSecond float64
}

// New constructs an aggregator Client rate-limited per Options.
func New(opts Options, logger zerolog.Logger) *Client {
	limit := opts.RateLimitPerSecond
	if limit <= 0 {
		limit = 5
	}
	return &Client{
		baseURL: opts.BaseURL,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(limit), 1),
		log:     logger,
	}
}

// QuoteRequest mirrors the aggregator's documented quote query parameters.
type QuoteRequest struct {
	InputMint              string
	OutputMint             string
	AtomicAmount           int64
	SlippageBps            int
	ComputeUnitPriceMicro  int64
}

// GetQuote fetches a swap quote, including its bounded retry policy.
// Network/5xx failures are retryable; a response missing outAmount is not.
func (c *Client) GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	var quote *Quote
	err := retry.WithRetry(ctx, retry.Quote(), func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		url := fmt.Sprintf(
			"%s/quote?inputMint=%s&outputMint=%s&amount=%d&slippageBps=%d&asLegacyTransaction=false",
			c.baseURL, req.InputMint, req.OutputMint, req.AtomicAmount, req.SlippageBps,
		)
		if req.ComputeUnitPriceMicro > 0 {
			url += fmt.Sprintf("&computeUnitPriceMicroLamports=%d", req.ComputeUnitPriceMicro)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Permanent(err)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("aggregator quote returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return retry.Permanent(fmt.Errorf("aggregator quote returned %d: %s", resp.StatusCode, body))
		}

		var q Quote
		if err := json.Unmarshal(body, &q); err != nil {
			return retry.Permanent(fmt.Errorf("decode quote: %w", err))
		}
		if q.OutAmount == "" {
			return retry.Permanent(fmt.Errorf("quote response missing outAmount"))
		}
		q.Raw = body
		quote = &q
		return nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("input_mint", req.InputMint).Str("output_mint", req.OutputMint).Msg("quote failed")
		return nil, err
	}
	return quote, nil
}

// BuildRequest mirrors the aggregator's documented swap-build POST body.
type BuildRequest struct {
	QuoteResponse          json.RawMessage
	UserPublicKey          string
	PriorityFeeLamports    string // may be the literal "auto", forwarded verbatim
	ComputeUnitPriceMicro  int64
}

// BuildSwap builds the unsigned swap transaction for a previously fetched quote.
func (c *Client) BuildSwap(ctx context.Context, req BuildRequest) (*SwapTransaction, error) {
	var tx *SwapTransaction
	err := retry.WithRetry(ctx, retry.Build(), func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		payload := map[string]any{
			"quoteResponse":         json.RawMessage(req.QuoteResponse),
			"userPublicKey":         req.UserPublicKey,
			"wrapAndUnwrapSol":      true,
			"asLegacyTransaction":   false,
		}
		if req.PriorityFeeLamports != "" {
			payload["prioritizationFeeLamports"] = req.PriorityFeeLamports
		}
		if req.ComputeUnitPriceMicro > 0 {
			payload["computeUnitPriceMicroLamports"] = req.ComputeUnitPriceMicro
		}

		body, err := json.Marshal(payload)
		if err != nil {
			return retry.Permanent(err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("aggregator swap build returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return retry.Permanent(fmt.Errorf("aggregator swap build returned %d: %s", resp.StatusCode, respBody))
		}

		var out SwapTransaction
		if err := json.Unmarshal(respBody, &out); err != nil {
			return retry.Permanent(fmt.Errorf("decode swap build response: %w", err))
		}
		if out.SwapTransaction == "" {
			return retry.Permanent(fmt.Errorf("swap build response missing swapTransaction"))
		}
		tx = &out
		return nil
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("swap build failed")
		return nil, err
	}
	return tx, nil
}
