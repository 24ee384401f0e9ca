package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/topanga/clawrelay/internal/config"
	"github.com/topanga/clawrelay/internal/observability"
)

const (
	chatCompletionsPath    = "/v1/chat/completions"
	defaultCompleteTimeout = 60 * time.Second
	pingTimeout            = 5 * time.Second
	historyTimeout         = 30 * time.Second

	// PlaceholderReply is returned by Complete when the gateway answers 2xx
	// with a body that has no usable choices[0].message.content.
	PlaceholderReply = "(no reply)"
)

// Client relays requests to the OpenClaw gateway.
type Client struct {
	gw      config.GatewayConfig
	baseURL string

	// httpClient bounds non-streaming calls; streamClient has no overall
	// timeout because a stream may legitimately stay open indefinitely.
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a gateway client from explicit configuration.
func NewClient(gw config.GatewayConfig) *Client {
	return newClient(gw, defaultCompleteTimeout)
}

// newClient bounds non-streaming calls by timeout. Redirects are never
// followed: a 3xx is the gateway's answer to the one POST and is returned
// like any other non-2xx status.
func newClient(gw config.GatewayConfig, timeout time.Duration) *Client {
	return &Client{
		gw:           gw,
		baseURL:      strings.TrimRight(gw.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout, CheckRedirect: noRedirect},
		streamClient: &http.Client{CheckRedirect: noRedirect},
	}
}

func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// Complete sends a non-streaming completion request and returns the reply
// text. A malformed success body yields PlaceholderReply rather than an error.
func (c *Client) Complete(ctx context.Context, p Payload) (string, error) {
	if c.gw.Token == "" {
		observability.UpstreamRequestsTotal.WithLabelValues("complete", observability.OutcomeNoToken).Inc()
		return "", ErrMissingToken
	}

	p.Stream = false
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.UpstreamRequestsTotal.WithLabelValues("complete", observability.OutcomeUnreachable).Inc()
		return "", &UnreachableError{Err: err}
	}
	defer resp.Body.Close()
	observability.UpstreamLatency.WithLabelValues("complete").Observe(time.Since(start).Seconds())

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.UpstreamRequestsTotal.WithLabelValues("complete", observability.OutcomeUnreachable).Inc()
		return "", &UnreachableError{Err: fmt.Errorf("reading response: %w", err)}
	}

	if !isSuccess(resp.StatusCode) {
		observability.UpstreamRequestsTotal.WithLabelValues("complete", observability.OutcomeRejected).Inc()
		return "", &RejectedError{Status: resp.StatusCode, Body: string(raw)}
	}

	observability.UpstreamRequestsTotal.WithLabelValues("complete", observability.OutcomeOK).Inc()
	return extractReply(raw), nil
}

func extractReply(raw []byte) string {
	var c completion
	if err := json.Unmarshal(raw, &c); err != nil {
		slog.Warn("gateway returned malformed completion", "error", err)
		return PlaceholderReply
	}
	if len(c.Choices) == 0 {
		slog.Warn("gateway completion has no choices")
		return PlaceholderReply
	}
	var content string
	if err := json.Unmarshal(c.Choices[0].Message.Content, &content); err != nil || content == "" {
		return PlaceholderReply
	}
	return content
}

// SessionMessage is one entry of a gateway session transcript.
type SessionMessage struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// History fetches up to limit messages of a session from the gateway.
// Non-string content is rendered as its JSON text; missing timestamps
// default to the time of the call.
func (c *Client) History(ctx context.Context, sessionID string, limit int) ([]SessionMessage, error) {
	if c.gw.Token == "" {
		return nil, ErrMissingToken
	}

	ctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/v1/sessions/%s/history?limit=%d", c.baseURL, url.PathEscape(sessionID), limit)
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.UpstreamRequestsTotal.WithLabelValues("history", observability.OutcomeUnreachable).Inc()
		return nil, &UnreachableError{Err: err}
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		raw, _ := io.ReadAll(resp.Body)
		observability.UpstreamRequestsTotal.WithLabelValues("history", observability.OutcomeRejected).Inc()
		return nil, &RejectedError{Status: resp.StatusCode, Body: string(raw)}
	}

	var doc historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding session history: %w", err)
	}
	observability.UpstreamRequestsTotal.WithLabelValues("history", observability.OutcomeOK).Inc()

	now := time.Now().UTC()
	out := make([]SessionMessage, 0, len(doc.Messages))
	for _, m := range doc.Messages {
		out = append(out, SessionMessage{
			Role:      m.Role,
			Content:   contentText(m.Content),
			CreatedAt: parseTimestamp(m.Timestamp, now),
		})
	}
	return out, nil
}

func contentText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}

// parseTimestamp accepts epoch milliseconds or an RFC 3339 string.
func parseTimestamp(raw json.RawMessage, fallback time.Time) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return fallback
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil {
		if ms == 0 {
			return fallback
		}
		return time.UnixMilli(int64(ms)).UTC()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			return time.UnixMilli(n).UTC()
		}
	}
	return fallback
}

// Ping checks gateway reachability with a HEAD request to the base URL.
// Any HTTP response counts as reachable; the status is returned as-is.
func (c *Client) Ping(ctx context.Context) (int, error) {
	if c.gw.Token == "" {
		return 0, ErrMissingToken
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.gw.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.UpstreamRequestsTotal.WithLabelValues("ping", observability.OutcomeUnreachable).Inc()
		return 0, &UnreachableError{Err: err}
	}
	resp.Body.Close()
	observability.UpstreamRequestsTotal.WithLabelValues("ping", observability.OutcomeOK).Inc()
	return resp.StatusCode, nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	return req, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.gw.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-openclaw-agent-id", c.gw.AgentID)
	if c.gw.SessionKey != "" {
		req.Header.Set("x-openclaw-session-key", c.gw.SessionKey)
	}
	if c.gw.CFAccessClientID != "" && c.gw.CFAccessClientSecret != "" {
		req.Header.Set("CF-Access-Client-Id", c.gw.CFAccessClientID)
		req.Header.Set("CF-Access-Client-Secret", c.gw.CFAccessClientSecret)
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
