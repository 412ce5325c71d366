// Package solana is the blockchain RPC client: get signature statuses,
// send a transaction, fetch a confirmed transaction. The validator node
// itself is an external collaborator; this package implements the
// JSON-RPC consumer side plus the best-effort output-amount parser the
// confirmation pipeline's first step requires.
package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/solexec/engine/internal/retry"
)

// Commitment is a confirmation level per the GLOSSARY: processed, confirmed,
// or finalized.
type Commitment string

const (
	Processed Commitment = "processed"
	Confirmed Commitment = "confirmed"
	Finalized Commitment = "finalized"
)

// SignatureStatus is one entry of get_signature_statuses's value array.
type SignatureStatus struct {
	Err               json.RawMessage `json:"err"`
	ConfirmationStatus string         `json:"confirmationStatus"`
}

// Client is the Solana RPC JSON-RPC client.
type Client struct {
	url  string
	http *http.Client
	log  zerolog.Logger
	id   int
}

// Options configure a new Client.
type Options struct {
	RPCURL  string
	Timeout time.Duration
}

// New constructs an RPC Client.
func New(opts Options, logger zerolog.Logger) *Client {
	return &Client{
		url:  opts.RPCURL,
		http: &http.Client{Timeout: opts.Timeout},
		log:  logger,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	c.id++
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.id, Method: method, Params: params})
	if err != nil {
		return retry.Permanent(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return retry.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		return fmt.Errorf("rpc %s returned %d", method, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return retry.Permanent(fmt.Errorf("rpc %s returned %d: %s", method, resp.StatusCode, body))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return retry.Permanent(fmt.Errorf("decode rpc response: %w", err))
	}
	if rpcResp.Error != nil {
		return retry.Permanent(fmt.Errorf("rpc %s error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message))
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return retry.Permanent(fmt.Errorf("decode rpc result: %w", err))
		}
	}
	return nil
}

// GetSignatureStatuses fetches confirmation status for a batch of
// signatures. A single transient-network failure is not retried here; the
// Transaction Tracker owns the poll cadence and its own retry budget.
func (c *Client) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error) {
	var result struct {
		Value []*SignatureStatus `json:"value"`
	}
	params := []any{
		signatures,
		map[string]any{"searchTransactionHistory": true},
	}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// SendTransaction submits a signed transaction: preflight enabled at
// processed commitment, client-side confirmation skipped.
func (c *Client) SendTransaction(ctx context.Context, base64Tx string) (string, error) {
	var signature string
	params := []any{
		base64Tx,
		map[string]any{
			"encoding":           "base64",
			"skipPreflight":      false,
			"preflightCommitment": string(Processed),
		},
	}
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// transactionMeta is the subset of get_transaction's meta this package reads.
type transactionMeta struct {
	Meta struct {
		PreTokenBalances  []tokenBalance `json:"preTokenBalances"`
		PostTokenBalances []tokenBalance `json:"postTokenBalances"`
	} `json:"meta"`
}

type tokenBalance struct {
	Owner     string `json:"owner"`
	Mint      string `json:"mint"`
	UITokenAmount struct {
		Amount string `json:"amount"`
	} `json:"uiTokenAmount"`
}

// GetBalance returns the wallet's lamport balance, used by the Order
// Manager's validation gate to populate TokenInfo.WalletBalance.
func (c *Client) GetBalance(ctx context.Context, owner string) (int64, error) {
	var result struct {
		Value int64 `json:"value"`
	}
	params := []any{
		owner,
		map[string]any{"commitment": string(Confirmed)},
	}
	if err := c.call(ctx, "getBalance", params, &result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

// GetTransaction fetches a confirmed transaction by signature.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*transactionMeta, error) {
	var tx transactionMeta
	params := []any{
		signature,
		map[string]any{"encoding": "jsonParsed", "maxSupportedTransactionVersion": 0},
	}
	if err := c.call(ctx, "getTransaction", params, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// ParseOutputAmount is a best-effort read of the
// actual output amount from the pre/post token-balance delta for the
// owner/mint pair. Absence of a matching balance entry is non-fatal: it
// returns (nil, nil), letting the caller proceed without a confirmed fill
// size.
func ParseOutputAmount(tx *transactionMeta, owner, outputMint string) (*int64, error) {
	pre := balanceFor(tx.Meta.PreTokenBalances, owner, outputMint)
	post := balanceFor(tx.Meta.PostTokenBalances, owner, outputMint)
	if post == nil {
		return nil, nil
	}
	delta := *post
	if pre != nil {
		delta -= *pre
	}
	return &delta, nil
}

func balanceFor(balances []tokenBalance, owner, mint string) *int64 {
	for _, b := range balances {
		if b.Owner != owner || b.Mint != mint {
			continue
		}
		var amount int64
		if _, err := fmt.Sscanf(b.UITokenAmount.Amount, "%d", &amount); err != nil {
			continue
		}
		return &amount
	}
	return nil
}
