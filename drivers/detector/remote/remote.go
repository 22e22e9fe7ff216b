// Package remote asks an external detection service for bot and shield
// verdicts over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Anas-Altaf/gatekeeper"
	"golang.org/x/time/rate"
)

// Client calls POST {endpoint}/bot and POST {endpoint}/shield. Every
// transport error or non-2xx answer is returned as an error so the engine
// fails closed.
type Client struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithRateLimit caps outbound calls. qps <= 0 disables the cap.
func WithRateLimit(qps float64, burst int) Option {
	return func(cl *Client) {
		if qps <= 0 {
			cl.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(qps), burst)
	}
}

// New creates a client for the service at endpoint.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ gatekeeper.Detector = (*Client)(nil)

// credentialHeaders never leave the process.
var credentialHeaders = map[string]bool{
	"Authorization":       true,
	"Cookie":              true,
	"Proxy-Authorization": true,
}

// forwardHeaders copies h without credential headers.
func forwardHeaders(h map[string][]string) map[string][]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string][]string, len(h))
	for name, values := range h {
		if credentialHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		out[name] = values
	}
	return out
}

// payload is the request body sent to the service.
type payload struct {
	IP        string              `json:"ip"`
	Method    string              `json:"method"`
	Path      string              `json:"path"`
	Query     string              `json:"query,omitempty"`
	UserAgent string              `json:"user_agent"`
	Headers   map[string][]string `json:"headers,omitempty"`
}

// verdict is the service's answer.
type verdict struct {
	Flagged bool   `json:"flagged"`
	Rule    string `json:"rule"`
}

// DetectBot implements gatekeeper.Detector.
func (c *Client) DetectBot(ctx context.Context, req *gatekeeper.Request) (gatekeeper.Verdict, error) {
	return c.call(ctx, "/bot", req)
}

// CheckShield implements gatekeeper.Detector.
func (c *Client) CheckShield(ctx context.Context, req *gatekeeper.Request) (gatekeeper.Verdict, error) {
	return c.call(ctx, "/shield", req)
}

func (c *Client) call(ctx context.Context, path string, req *gatekeeper.Request) (gatekeeper.Verdict, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return gatekeeper.Verdict{}, fmt.Errorf("detector rate limit: %w", err)
		}
	}

	body, err := json.Marshal(payload{
		IP:        req.IP,
		Method:    req.Method,
		Path:      req.Path,
		Query:     req.RawQuery,
		UserAgent: req.UserAgent,
		Headers:   forwardHeaders(req.Header),
	})
	if err != nil {
		return gatekeeper.Verdict{}, fmt.Errorf("encode detector request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return gatekeeper.Verdict{}, fmt.Errorf("build detector request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.ID != "" {
		httpReq.Header.Set("X-Request-ID", req.ID)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return gatekeeper.Verdict{}, fmt.Errorf("call detector %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return gatekeeper.Verdict{}, fmt.Errorf("detector %s returned status %d", path, resp.StatusCode)
	}

	var v verdict
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&v); err != nil {
		return gatekeeper.Verdict{}, fmt.Errorf("decode detector response: %w", err)
	}
	return gatekeeper.Verdict{Flagged: v.Flagged, Rule: v.Rule}, nil
}
