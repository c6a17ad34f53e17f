// Package aggregator talks to the off-chain batch aggregator over
// HTTP. The aggregator numbers user-action batches and collects signed
// snapshot summaries from validators; this client is the only network
// dependency of the sync worker besides the chain feed.
package aggregator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"ObSync/internal/types"
)

const requestTimeout = 10 * time.Second

// rpcEnvelope is the JSON-RPC style body the aggregator wraps every
// payload in, both directions. Result carries the actual JSON payload.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	ID      uint64          `json:"id"`
}

func newEnvelope(content []byte) rpcEnvelope {
	return rpcEnvelope{JSONRPC: "2.0", Result: content, ID: 2}
}

// Client is a thin HTTP client for one aggregator endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		log:     log.With().Str("component", "aggregator").Logger(),
	}
}

// GetUserActionBatch fetches the batch numbered nonce. A batch the
// aggregator has not produced yet is not an error: the caller gets
// (nil, nil) and tries again next cycle.
func (c *Client) GetUserActionBatch(nonce uint64) (*types.UserActionBatch, error) {
	url := fmt.Sprintf("%s/snapshots/%d", c.baseURL, nonce)
	resp, err := c.http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch batch %d: %w", nonce, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch batch %d: unexpected status %s", nonce, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch batch %d: read body: %w", nonce, err)
	}
	var envelope rpcEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("fetch batch %d: decode envelope: %w", nonce, err)
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil, nil
	}
	var batch types.UserActionBatch
	if err := json.Unmarshal(envelope.Result, &batch); err != nil {
		return nil, fmt.Errorf("fetch batch %d: decode batch: %w", nonce, err)
	}
	return &batch, nil
}

// SubmitSnapshot posts one approved snapshot to the aggregator. The
// aggregator deduplicates by (snapshot id, signer index), so retried
// submissions are harmless.
func (c *Client) SubmitSnapshot(approved types.ApprovedSnapshot) error {
	payload, err := json.Marshal(approved)
	if err != nil {
		return fmt.Errorf("encode approved snapshot: %w", err)
	}
	return c.SendRequest("submit_snapshot", c.baseURL+"/submit_snapshot", payload)
}

// SendRequest posts an enveloped payload to url, retrying transient
// failures with exponential backoff. topic only names the request in
// logs and errors.
func (c *Client) SendRequest(topic, url string, payload []byte) error {
	body, err := json.Marshal(newEnvelope(payload))
	if err != nil {
		return fmt.Errorf("%s: encode envelope: %w", topic, err)
	}

	attempt := func() error {
		resp, err := c.http.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("status %s", resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("status %s", resp.Status))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(attempt, policy); err != nil {
		c.log.Error().Err(err).Str("topic", topic).Msg("aggregator request failed")
		return fmt.Errorf("%s: %w", topic, err)
	}
	return nil
}
