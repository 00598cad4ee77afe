// Package chain talks to the external transaction-verification endpoint.
// The core treats it as a collaborator: given a transaction signature it
// answers whether the transfer confirmed and how each address's balance
// changed. On-chain settlement itself happens elsewhere.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// VerifyResult is the verifier's view of one confirmed transaction.
// Deltas maps address -> lamports gained (positive) or spent (negative).
type VerifyResult struct {
	Success bool
	Deltas  map[string]int64
}

// Verifier is the interface the entry gate consumes.
type Verifier interface {
	Verify(ctx context.Context, signature string) (*VerifyResult, error)
}

// Client is an HTTP Verifier against a JSON verification endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Verify(ctx context.Context, signature string) (*VerifyResult, error) {
	payload, err := json.Marshal(map[string]string{"signature": signature})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chain: verify request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("chain: read response: %w", err)
	}

	var data struct {
		Success       bool             `json:"success"`
		BalanceDeltas map[string]int64 `json:"balanceDeltas"`
		Error         string           `json:"error"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("chain: decode response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return &VerifyResult{Success: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chain: verifier status %d: %s", resp.StatusCode, data.Error)
	}

	return &VerifyResult{
		Success: data.Success,
		Deltas:  data.BalanceDeltas,
	}, nil
}

// MatchesFeeSplit reports whether the verified deltas pay exactly the
// entry fee to the pot address and the platform fee to the platform
// address. A single multi-party transfer and two separate transfers in
// one transaction both collapse to the same per-address deltas, so one
// check covers both accepted patterns. Any other amount fails closed.
func MatchesFeeSplit(r *VerifyResult, potAddr, platformAddr string, entryFee, platformFee int64) bool {
	if r == nil || !r.Success {
		return false
	}

	return r.Deltas[potAddr] == entryFee && r.Deltas[platformAddr] == platformFee
}
