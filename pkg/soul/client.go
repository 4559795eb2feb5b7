// Package soul is the Remote Enclave Client: a thin connection/retry
// layer to the sibling TEE service. It carries no business logic of its
// own.
package soul

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ghostpay/brain/pkg/util/resiliency"
)

// Response is the union of fields any Soul RPC method may return. Callers
// read only the fields relevant to the method they invoked.
type Response struct {
	Verified              bool      `json:"verified,omitempty"`
	Sufficient            bool      `json:"sufficient,omitempty"`
	Success               bool      `json:"success,omitempty"`
	AttestationQuote      []byte    `json:"attestation_quote,omitempty"`
	AttestationTimestamp  time.Time `json:"attestation_timestamp,omitempty"`
	DurationMS            int64     `json:"duration_ms,omitempty"`
	NewHandle             string    `json:"new_handle,omitempty"`
	NewEpoch              int64     `json:"new_epoch,omitempty"`
}

// AttestationResponse is the shape returned by get_attestation.
type AttestationResponse struct {
	Quote      []byte    `json:"quote"`
	MREnclave  string    `json:"mr_enclave"`
	MRSigner   string    `json:"mr_signer"`
	PublicKey  []byte    `json:"public_key"`
	Timestamp  time.Time `json:"timestamp"`
	ExpiresAt  time.Time `json:"expires_at"`
	Nonce      string    `json:"nonce"`
}

// HealthStatus is the shape returned by HealthCheck.
type HealthStatus struct {
	Healthy   bool  `json:"healthy"`
	LatencyMS int64 `json:"latency_ms"`
}

// Client is the Remote Enclave Client. It holds one logical connection
// (an HTTP base URL, since the transport is JSON over HTTP per the
// service's RPC-surface decision) and multiplexes concurrent calls over
// it via the shared resiliency client's retry/circuit-breaker policy.
type Client struct {
	baseURL         string
	http            *resiliency.EnhancedClient
	defaultDeadline time.Duration
	limiter         *rate.Limiter

	mu        sync.Mutex
	connected bool
}

// defaultRequestsPerSecond caps how often this process calls into the
// sibling enclave, independent of the orchestrator's own concurrency cap,
// so a runaway caller can't flood the enclave's RPC surface.
const defaultRequestsPerSecond = 50

func NewClient(grpcURL string, defaultDeadline time.Duration) *Client {
	if defaultDeadline <= 0 {
		defaultDeadline = 5 * time.Second
	}
	return &Client{
		baseURL:         normalizeBaseURL(grpcURL),
		http:            resiliency.NewEnhancedClient(),
		defaultDeadline: defaultDeadline,
		limiter:         rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultRequestsPerSecond),
	}
}

// WithRateLimit overrides the client's outbound request pacing.
func (c *Client) WithRateLimit(requestsPerSecond float64, burst int) *Client {
	c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	return c
}

func normalizeBaseURL(addr string) string {
	addr = strings.TrimSuffix(addr, "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}

// Connect marks the client as connected. There is no handshake for the
// HTTP transport; this exists so callers can follow an explicit
// connect/call/close lifecycle.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return nil
}

// Close marks the client as disconnected.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

// Call invokes method on the sibling enclave with a per-call deadline,
// defaulting to the client's configured default.
func (c *Client) Call(ctx context.Context, method string, request map[string]any) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.defaultDeadline)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("soul: rate limit wait for %s: %w", method, err)
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("soul: failed to encode request: %w", err)
	}

	url := c.baseURL + "/rpc/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("soul: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("soul: unreachable calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("soul: failed to read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("soul: %s returned status %d", method, resp.StatusCode)
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("soul: malformed response from %s: %w", method, err)
	}
	return &out, nil
}

// HealthCheck pings the sibling enclave and reports reachability and
// latency.
func (c *Client) HealthCheck(ctx context.Context) HealthStatus {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.defaultDeadline)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return HealthStatus{Healthy: false}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return HealthStatus{Healthy: false, LatencyMS: time.Since(start).Milliseconds()}
	}
	defer resp.Body.Close()

	return HealthStatus{
		Healthy:   resp.StatusCode < 400,
		LatencyMS: time.Since(start).Milliseconds(),
	}
}

// GetAttestation fetches the sibling enclave's attestation quote for the
// given nonce, bypassing any remote-side cache when refresh is true.
func (c *Client) GetAttestation(ctx context.Context, nonce string, refresh bool) (*AttestationResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.defaultDeadline)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("soul: rate limit wait for attestation: %w", err)
	}

	body, _ := json.Marshal(map[string]any{"nonce": nonce, "refresh": refresh})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/attestation", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("soul: failed to build attestation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("soul: unreachable fetching attestation: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("soul: failed to read attestation response: %w", err)
	}

	var out AttestationResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("soul: malformed attestation response: %w", err)
	}
	return &out, nil
}
