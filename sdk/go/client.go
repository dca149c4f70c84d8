package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"flinkly/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the Flinkly ops HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// Health probes /healthz and returns status + storage check. An unhealthy
// service is reported in the status, not as an error.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return HealthStatus{}, err
	}
	defer resp.Body.Close()

	var hs HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return HealthStatus{}, err
	}
	return hs, nil
}

// Levels returns the requirement table in ascending level order.
func (c *Client) Levels(ctx context.Context) ([]LevelRequirement, error) {
	var out []LevelRequirement
	if err := c.getJSON(ctx, "/levels", &out); err != nil {
		return out, err
	}
	return out, nil
}

// Evaluate asks which level the given stats would reach from current.
func (c *Client) Evaluate(ctx context.Context, current core.SellerLevel, stats core.SellerStats) (Evaluation, error) {
	payload, err := json.Marshal(map[string]any{"current_level": current, "stats": stats})
	if err != nil {
		return Evaluation{}, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/levels/evaluate", bytes.NewReader(payload))
	if err != nil {
		return Evaluation{}, err
	}
	defer resp.Body.Close()

	var ev Evaluation
	if err := decodeJSON(resp, &ev); err != nil {
		return Evaluation{}, err
	}
	return ev, nil
}

// Digest previews the weekly digest of a user without sending it.
func (c *Client) Digest(ctx context.Context, user core.UserID) (core.DigestData, error) {
	var d core.DigestData
	if err := c.getJSON(ctx, fmt.Sprintf("/users/%d/digest", user), &d); err != nil {
		return d, err
	}
	return d, nil
}

// Jobs lists the scheduled jobs.
func (c *Client) Jobs(ctx context.Context) ([]JobInfo, error) {
	var out []JobInfo
	if err := c.getJSON(ctx, "/jobs", &out); err != nil {
		return out, err
	}
	return out, nil
}

// RunJob triggers a job and waits for it to finish. A failed run returns
// the record together with an *APIError.
func (c *Client) RunJob(ctx context.Context, name string) (RunRecord, error) {
	if strings.TrimSpace(name) == "" {
		return RunRecord{}, ErrEmptyJobName
	}
	resp, err := c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(name)+"/run", nil)
	if err != nil {
		return RunRecord{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RunRecord{}, err
	}
	var rec RunRecord
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		_ = json.Unmarshal(body, &rec)
		return rec, apiErr
	}
	if err := json.Unmarshal(body, &rec); err != nil {
		return RunRecord{}, err
	}
	return rec, nil
}

// JobRuns returns up to limit recent runs of a job, newest first.
func (c *Client) JobRuns(ctx context.Context, name string, limit int) ([]RunRecord, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyJobName
	}
	path := "/jobs/" + url.PathEscape(name) + "/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []RunRecord
	if err := c.getJSON(ctx, path, &out); err != nil {
		return out, err
	}
	return out, nil
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event values.
// With types set only those event types are delivered.
// The returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, types ...core.EventType) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		target += "?types=" + url.QueryEscape(strings.Join(names, ","))
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, target)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)
	return c.httpClient.Do(req)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
