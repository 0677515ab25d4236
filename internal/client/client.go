// Package client talks to a running warden daemon over the management API.
package client

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

	"grimm.is/warden/internal/api"
	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/events"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/logging"
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (status %d)", e.Message, e.Details, e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == code
}

// HTTPClient is a management API client.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption configures the HTTPClient.
type ClientOption func(*HTTPClient)

// WithToken sets the bearer token.
func WithToken(token string) ClientOption {
	return func(c *HTTPClient) {
		c.token = token
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient.Timeout = d
	}
}

// NewHTTPClient creates a client for baseURL. A bare host:port is treated
// as http://host:port.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromEnv builds a client from WARDEN_API and WARDEN_TOKEN, falling back to
// the default listen address.
func FromEnv(opts ...ClientOption) *HTTPClient {
	addr := brand.Env("API")
	if addr == "" {
		addr = brand.Get().DefaultAPIListen
	}
	if tok := brand.Env("TOKEN"); tok != "" {
		opts = append([]ClientOption{WithToken(tok)}, opts...)
	}
	return NewHTTPClient(addr, opts...)
}

// doRequest performs an HTTP request and decodes the JSON response.
func (c *HTTPClient) doRequest(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", brand.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var er api.ErrorResponse
		if json.Unmarshal(respBody, &er) == nil && er.Error != "" {
			apiErr.Message = er.Error
			apiErr.Details = er.Details
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Status returns the firewall status.
func (c *HTTPClient) Status(ctx context.Context) (*firewall.Status, error) {
	var st firewall.Status
	if err := c.doRequest(ctx, http.MethodGet, "/api/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Rules returns the active rule set.
func (c *HTTPClient) Rules(ctx context.Context) (*api.RulesResponse, error) {
	var rr api.RulesResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/rules", nil, &rr); err != nil {
		return nil, err
	}
	return &rr, nil
}

// Reload asks the daemon to re-read its configuration file.
func (c *HTTPClient) Reload(ctx context.Context) (*api.RulesResponse, error) {
	var rr api.RulesResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/rules/reload", nil, &rr); err != nil {
		return nil, err
	}
	return &rr, nil
}

// Blocklist lists blocked addresses.
func (c *HTTPClient) Blocklist(ctx context.Context) ([]api.BlocklistEntry, error) {
	var entries []api.BlocklistEntry
	if err := c.doRequest(ctx, http.MethodGet, "/api/blocklist", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Block blocks ip for duration, or permanently when duration is empty.
func (c *HTTPClient) Block(ctx context.Context, ip, duration string) (*api.BlocklistEntry, error) {
	var e api.BlocklistEntry
	req := api.BlockRequest{IP: ip, Duration: duration}
	if err := c.doRequest(ctx, http.MethodPost, "/api/blocklist", req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Unblock removes ip from the blocklist.
func (c *HTTPClient) Unblock(ctx context.Context, ip string) error {
	return c.doRequest(ctx, http.MethodDelete, "/api/blocklist/"+url.PathEscape(ip), nil, nil)
}

// Geo returns the geo layer state.
func (c *HTTPClient) Geo(ctx context.Context) (*api.GeoResponse, error) {
	return c.geo(ctx, http.MethodGet, "/api/geo", nil)
}

// SetGeoEnabled turns the geo layer on or off.
func (c *HTTPClient) SetGeoEnabled(ctx context.Context, enabled bool) (*api.GeoResponse, error) {
	return c.geo(ctx, http.MethodPost, "/api/geo/enabled", api.GeoEnabledRequest{Enabled: enabled})
}

// BlockCountry adds a country code to the blocked set.
func (c *HTTPClient) BlockCountry(ctx context.Context, code string) (*api.GeoResponse, error) {
	return c.geo(ctx, http.MethodPost, "/api/geo/countries", api.CountryRequest{Code: code})
}

// UnblockCountry removes a country code from the blocked set.
func (c *HTTPClient) UnblockCountry(ctx context.Context, code string) (*api.GeoResponse, error) {
	return c.geo(ctx, http.MethodDelete, "/api/geo/countries/"+url.PathEscape(code), nil)
}

// EnableThreatProtection resets the blocked set to the baseline.
func (c *HTTPClient) EnableThreatProtection(ctx context.Context) (*api.GeoResponse, error) {
	return c.geo(ctx, http.MethodPost, "/api/geo/threat-protection", nil)
}

func (c *HTTPClient) geo(ctx context.Context, method, path string, body any) (*api.GeoResponse, error) {
	var g api.GeoResponse
	if err := c.doRequest(ctx, method, path, body, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Start starts packet capture.
func (c *HTTPClient) Start(ctx context.Context) (*firewall.Status, error) {
	var st firewall.Status
	if err := c.doRequest(ctx, http.MethodPost, "/api/firewall/start", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Stop stops packet capture.
func (c *HTTPClient) Stop(ctx context.Context) (*firewall.Status, error) {
	var st firewall.Status
	if err := c.doRequest(ctx, http.MethodPost, "/api/firewall/stop", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Logs returns up to limit recent log lines, optionally for one component.
func (c *HTTPClient) Logs(ctx context.Context, limit int, component string) ([]logging.Entry, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if component != "" {
		q.Set("component", component)
	}
	var entries []logging.Entry
	if err := c.doRequest(ctx, http.MethodGet, "/api/logs?"+q.Encode(), nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Watch streams events until ctx is done or the connection drops. An empty
// types list receives everything.
func (c *HTTPClient) Watch(ctx context.Context, types []string, fn func(events.Event, json.RawMessage)) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/events"
	if len(types) > 0 {
		wsURL += "?types=" + url.QueryEscape(strings.Join(types, ","))
	}

	headers := http.Header{}
	headers.Set("User-Agent", brand.UserAgent())
	if c.token != "" {
		headers.Set("Authorization", "Bearer "+c.token)
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 15 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return &APIError{StatusCode: resp.StatusCode, Message: "websocket handshake failed"}
		}
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg struct {
			events.Event
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		e := msg.Event
		e.Data = msg.Data
		fn(e, msg.Data)
	}
}
