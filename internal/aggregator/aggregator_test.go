package aggregator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetQuoteSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"inAmount":"1000000","outAmount":"2000000"}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Timeout: 2 * time.Second, RateLimitPerSecond: 100}, zerolog.Nop())
	q, err := c.GetQuote(context.Background(), QuoteRequest{InputMint: "A", OutputMint: "B", AtomicAmount: 1_000_000, SlippageBps: 50})
	require.NoError(t, err)
	assert.Equal(t, "2000000", q.OutAmount)
}

func TestGetQuoteRejectsMissingOutAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"inAmount":"1000000"}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Timeout: 2 * time.Second, RateLimitPerSecond: 100}, zerolog.Nop())
	_, err := c.GetQuote(context.Background(), QuoteRequest{InputMint: "A", OutputMint: "B", AtomicAmount: 1, SlippageBps: 50})
	require.Error(t, err)
}

func TestGetQuoteRetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"outAmount":"42"}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Timeout: 2 * time.Second, RateLimitPerSecond: 100}, zerolog.Nop())
	q, err := c.GetQuote(context.Background(), QuoteRequest{InputMint: "A", OutputMint: "B", AtomicAmount: 1, SlippageBps: 50})
	require.NoError(t, err)
	assert.Equal(t, "42", q.OutAmount)
	assert.Equal(t, 2, attempts)
}

func TestGetQuoteDoesNotRetryOn4xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Timeout: 2 * time.Second, RateLimitPerSecond: 100}, zerolog.Nop())
	_, err := c.GetQuote(context.Background(), QuoteRequest{InputMint: "A", OutputMint: "B", AtomicAmount: 1, SlippageBps: 50})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestBuildSwapSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"swapTransaction":"base64tx"}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Timeout: 2 * time.Second, RateLimitPerSecond: 100}, zerolog.Nop())
	tx, err := c.BuildSwap(context.Background(), BuildRequest{QuoteResponse: []byte(`{}`), UserPublicKey: "wallet"})
	require.NoError(t, err)
	assert.Equal(t, "base64tx", tx.SwapTransaction)
}
