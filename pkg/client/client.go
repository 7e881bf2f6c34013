// Package client talks to a running scoutd daemon over its localhost API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/corescout/scoutd/internal/event"
)

// Client provides HTTP client functionality to communicate with the scoutd
// daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string        // e.g. http://127.0.0.1:7466/api/v1
	Timeout time.Duration // per-request timeout
	Logger  *slog.Logger  // optional logger for client operations
}

// DefaultConfig returns the client configuration matching the daemon's
// default listen address and base path.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:7466/api/v1",
		Timeout: 10 * time.Second,
	}
}

// New creates a scoutd API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and answering status requests.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		c.logger.Debug("reachability request build failed", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status fetches the daemon's status document.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	if err := c.getJSON(ctx, c.baseURL+"/status", &st); err != nil {
		return Status{}, err
	}
	return st, nil
}

// DataSource returns the daemon's current data-source selection, possibly
// empty.
func (c *Client) DataSource(ctx context.Context) (string, error) {
	var body struct {
		Path string `json:"path"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/datasource", &body); err != nil {
		return "", err
	}
	return body.Path, nil
}

// SetDataSource selects a new data source and restarts the worker with it.
// Relative paths are resolved against the client's working directory before
// sending, since the daemon resolves nothing. A validation rejection or an
// in-flight restart is returned as an error; the selection was not applied.
func (c *Client) SetDataSource(ctx context.Context, path string) (StartResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return StartResult{}, fmt.Errorf("resolve path: %w", err)
	}
	payload, err := json.Marshal(map[string]string{"path": abs})
	if err != nil {
		return StartResult{}, fmt.Errorf("marshal request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/datasource", payload)
	if err != nil {
		return StartResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		var res StartResult
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return StartResult{}, fmt.Errorf("decode response: %w", err)
		}
		return res, nil
	case http.StatusConflict:
		var res StartResult
		_ = json.NewDecoder(resp.Body).Decode(&res)
		return res, fmt.Errorf("restart already in progress")
	default:
		return StartResult{}, c.apiError(resp)
	}
}

// Start asks the daemon to start the worker. Every well-formed outcome,
// including no_data_source and restarting, is reported through the result
// rather than the error.
func (c *Client) Start(ctx context.Context, allowNoDataSource bool) (StartResult, error) {
	payload, err := json.Marshal(map[string]bool{"allow_no_data_source": allowNoDataSource})
	if err != nil {
		return StartResult{}, fmt.Errorf("marshal request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/start", payload)
	if err != nil {
		return StartResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusConflict:
		var res StartResult
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return StartResult{}, fmt.Errorf("decode response: %w", err)
		}
		return res, nil
	default:
		return StartResult{}, c.apiError(resp)
	}
}

// Stop asks the daemon to terminate the worker. A positive wait overrides
// the daemon's configured grace for this request.
func (c *Client) Stop(ctx context.Context, wait time.Duration) error {
	u := c.baseURL + "/stop"
	if wait > 0 {
		u += "?wait=" + url.QueryEscape(wait.String())
	}
	resp, err := c.do(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	return nil
}

// Events subscribes to the daemon's lifecycle event stream. The returned
// channel closes when ctx is cancelled, the daemon shuts down, or the
// connection drops.
func (c *Client) Events(ctx context.Context) (<-chan event.Event, error) {
	wsURL, err := c.eventsURL()
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe events: %w", err)
	}

	out := make(chan event.Event, 16)
	readerExit := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close() // unblocks the reader
		case <-readerExit:
		}
	}()
	go func() {
		defer close(readerExit)
		defer close(out)
		defer func() { _ = conn.Close() }()
		for {
			var ev event.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// eventsURL rewrites the base URL onto the WebSocket scheme.
func (c *Client) eventsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/events"
	return u.String(), nil
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var rdr *bytes.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "url", url, "error", err)
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

// apiError turns a non-OK response into an error, preferring the daemon's
// error body over the bare status code.
func (c *Client) apiError(resp *http.Response) error {
	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("API error: %s", body.Error)
}
