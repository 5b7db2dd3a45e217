// Package chain relays lifecycle transitions to the on-chain consent
// contract. The coordinator never signs transactions itself: it asks the
// page agent that holds the wallet to perform the call. Requests are fire
// and forget; a failed relay leaves the local record authoritative.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var relayFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "consentry_chain_relay_failures_total",
	Help: "On-chain relay requests that could not be delivered.",
}, []string{"action"})

// Requester asks a page agent to execute a contract call. tabID identifies
// the browsing context whose wallet performs it.
type Requester interface {
	RequestActivation(ctx context.Context, tabID int, tokenID string) error
	RequestAbandonment(ctx context.Context, tabID int, tokenID string) error
}

type relayRequest struct {
	Action  string `json:"action"`
	TokenID string `json:"tokenId"`
	TabID   int    `json:"tabId"`
}

// HTTPRequester posts contract-call requests to the agent relay endpoint.
type HTTPRequester struct {
	client  *http.Client
	baseURL string
	token   string
}

func NewHTTPRequester(client *http.Client, baseURL, token string) *HTTPRequester {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRequester{client: client, baseURL: baseURL, token: token}
}

func (r *HTTPRequester) RequestActivation(ctx context.Context, tabID int, tokenID string) error {
	return r.post(ctx, relayRequest{Action: "activate", TokenID: tokenID, TabID: tabID})
}

func (r *HTTPRequester) RequestAbandonment(ctx context.Context, tabID int, tokenID string) error {
	return r.post(ctx, relayRequest{Action: "abandon", TokenID: tokenID, TabID: tabID})
}

func (r *HTTPRequester) post(ctx context.Context, payload relayRequest) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/contract-calls", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		relayFailures.WithLabelValues(payload.Action).Inc()
		return fmt.Errorf("relaying %s for token %s: %w", payload.Action, payload.TokenID, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		relayFailures.WithLabelValues(payload.Action).Inc()
		return fmt.Errorf("relaying %s for token %s: agent returned %d", payload.Action, payload.TokenID, resp.StatusCode)
	}
	return nil
}

// NopRequester accepts every request without relaying. Used when no agent
// endpoint is configured.
type NopRequester struct{}

func (NopRequester) RequestActivation(context.Context, int, string) error { return nil }
func (NopRequester) RequestAbandonment(context.Context, int, string) error { return nil }
