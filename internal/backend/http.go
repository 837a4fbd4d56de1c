package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/apibench/internal/api"
)

// HTTP drives a service over HTTP: endpoint name maps to METHOD /api/<name>
// with a JSON request body and a JSON response.
//
// There is no default per-request timeout. A call may block as long as the
// context allows; configure WithRequestTimeout when a stuck backend should
// fail the run instead of stalling it.
type HTTP struct {
	baseURL       string
	client        *http.Client
	startDeadline time.Duration
}

// HTTPOption configures an HTTP adapter.
type HTTPOption func(*HTTP)

// WithClient replaces the default HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithRequestTimeout bounds every request, readiness probes included.
func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) { h.client.Timeout = d }
}

// WithStartDeadline bounds how long Start waits for the service to come up.
func WithStartDeadline(d time.Duration) HTTPOption {
	return func(h *HTTP) { h.startDeadline = d }
}

// NewHTTP creates an adapter for a service reachable at baseURL.
func NewHTTP(baseURL string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		baseURL:       strings.TrimRight(baseURL, "/"),
		startDeadline: 30 * time.Second,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   16,
				IdleConnTimeout:       90 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// APIPrompt renders the endpoint list for an HTTP service implementer.
func (h *HTTP) APIPrompt(descs []api.Description) string {
	var b strings.Builder
	b.WriteString("Implement an HTTP service exposing these endpoints:\n\n")
	b.WriteString(api.Render(descs))
	b.WriteString("\nEvery endpoint accepts a JSON request body and returns a JSON response.\n")
	b.WriteString("Respond with HTTP 200 on success; any other status is treated as a failure.\n")
	return b.String()
}

// Description returns deployment notes for this flavor.
func (h *HTTP) Description() string {
	return fmt.Sprintf(
		"HTTP service at %s. Endpoints are called as METHOD %s/api/<name> with JSON bodies.",
		h.baseURL, h.baseURL)
}

// Start polls the service root until any HTTP response arrives. A response
// of any status counts as up; only transport errors (connection refused,
// reset) keep the poll going. Backoff doubles from 100ms to a 2s cap until
// the start deadline expires.
func (h *HTTP) Start(ctx context.Context) error {
	deadline := time.Now().Add(h.startDeadline)
	delay := 100 * time.Millisecond

	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/", nil)
		if err != nil {
			return fmt.Errorf("create readiness request: %w", err)
		}
		resp, err := h.client.Do(req)
		if err == nil {
			resp.Body.Close()
			slog.Debug("backend ready", "url", h.baseURL, "attempts", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("waiting for backend at %s: %w", h.baseURL, ctx.Err())
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("backend at %s not ready after %s: %w", h.baseURL, h.startDeadline, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for backend at %s: %w", h.baseURL, ctx.Err())
		case <-time.After(delay):
		}
		if delay < 2*time.Second {
			delay *= 2
		}
	}
}

// Deploy is a no-op: the adapter attaches to a service deployed out of band.
func (h *HTTP) Deploy(ctx context.Context) error { return nil }

// CallAPI issues one request to the named endpoint. Non-2xx statuses and
// transport errors return an error; the call is never retried.
func (h *HTTP) CallAPI(ctx context.Context, contract Contract, name string, input any) (any, error) {
	desc, err := endpoint(contract, name)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, string(desc.Method()), h.baseURL+desc.Path(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", desc.Method(), desc.Path(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: status %s: %s",
			desc.Method(), desc.Path(), resp.Status, bodySnippet(resp.Body))
	}

	var out any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", name, err)
	}
	return out, nil
}

// Stop drops idle connections. The service itself is managed out of band.
func (h *HTTP) Stop() error {
	h.client.CloseIdleConnections()
	return nil
}

// bodySnippet reads a bounded prefix of an error response for diagnostics.
func bodySnippet(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(data) == 0 {
		return "<no body>"
	}
	return strings.TrimSpace(string(data))
}
