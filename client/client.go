package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// Event is one transfer in an address's history.
type Event struct {
	Signature    string          `json:"signature"`
	Counterparty string          `json:"counterparty"`
	Amount       decimal.Decimal `json:"amount"`
	Timestamp    int64           `json:"timestamp"`
	Direction    string          `json:"direction"`
	Source       string          `json:"source"`
	ExplorerURL  string          `json:"explorer_url"`
}

// Skipped is a signature the server could not reconcile.
type Skipped struct {
	Signature string `json:"signature"`
	Reason    string `json:"reason"`
}

// History is a reconciled transfer history, newest first.
type History struct {
	Address      string    `json:"address"`
	Network      string    `json:"network"`
	ReconciledAt time.Time `json:"reconciled_at"`
	Events       []Event   `json:"events"`
	Skipped      []Skipped `json:"skipped"`
	DroppedLegs  int       `json:"dropped_legs"`
}

// Tracked is an address the server reconciles on a schedule.
type Tracked struct {
	Address      string        `json:"address"`
	Network      string        `json:"network"`
	PollInterval time.Duration `json:"poll_interval"`
	Status       string        `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Client is the HTTP client for the solhist service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new history service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		// Live reconciliation of a long history can take a while server side.
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// History asks the server to reconcile an address's history now.
// A limit of zero uses the server default.
func (c *Client) History(ctx context.Context, address string, limit int) (*History, error) {
	u := fmt.Sprintf("%s/api/v1/history/%s", c.baseURL, url.PathEscape(address))
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}

	var h History
	if err := c.do(ctx, http.MethodGet, u, nil, http.StatusOK, &h); err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "history fetched", "address", address, "events", len(h.Events))
	return &h, nil
}

// Snapshot retrieves the last history stored by a scheduled run.
// Returns ErrNotFound if no run has completed for the address.
func (c *Client) Snapshot(ctx context.Context, address string) (*History, error) {
	u := fmt.Sprintf("%s/api/v1/tracked/%s/snapshot", c.baseURL, url.PathEscape(address))

	var h History
	if err := c.do(ctx, http.MethodGet, u, nil, http.StatusOK, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Track tells the server to reconcile an address on a schedule.
// A zero interval uses the server default.
func (c *Client) Track(ctx context.Context, address string, pollInterval time.Duration) (*Tracked, error) {
	reqBody := map[string]string{"address": address}
	if pollInterval > 0 {
		reqBody["poll_interval"] = pollInterval.String()
	}

	var resp trackedResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/api/v1/tracked", reqBody, http.StatusCreated, &resp); err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "address tracked", "address", address, "poll_interval", resp.PollInterval)
	return responseToTracked(&resp)
}

// Untrack tells the server to stop reconciling an address.
func (c *Client) Untrack(ctx context.Context, address string) error {
	u := fmt.Sprintf("%s/api/v1/tracked/%s", c.baseURL, url.PathEscape(address))
	if err := c.do(ctx, http.MethodDelete, u, nil, http.StatusNoContent, nil); err != nil {
		return err
	}
	c.logger.DebugContext(ctx, "address untracked", "address", address)
	return nil
}

// ListTracked retrieves all tracked addresses.
func (c *Client) ListTracked(ctx context.Context) ([]*Tracked, error) {
	var response struct {
		Tracked []trackedResponse `json:"tracked"`
	}
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/api/v1/tracked", nil, http.StatusOK, &response); err != nil {
		return nil, err
	}

	tracked := make([]*Tracked, len(response.Tracked))
	for i := range response.Tracked {
		ta, err := responseToTracked(&response.Tracked[i])
		if err != nil {
			return nil, fmt.Errorf("failed to parse tracked address %s: %w", response.Tracked[i].Address, err)
		}
		tracked[i] = ta
	}
	return tracked, nil
}

// Health checks that the server and its database are reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.baseURL+"/health", nil, http.StatusOK, nil)
}

// do sends a request, checks the status code, and decodes the response into out if non-nil.
func (c *Client) do(ctx context.Context, method, u string, reqBody any, wantStatus int, out any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// trackedResponse is the API response format for a tracked address.
// The server returns poll_interval as a string (e.g. "30s").
type trackedResponse struct {
	Address      string    `json:"address"`
	Network      string    `json:"network"`
	PollInterval string    `json:"poll_interval"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func responseToTracked(resp *trackedResponse) (*Tracked, error) {
	pollInterval, err := time.ParseDuration(resp.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid poll_interval %q: %w", resp.PollInterval, err)
	}
	return &Tracked{
		Address:      resp.Address,
		Network:      resp.Network,
		PollInterval: pollInterval,
		Status:       resp.Status,
		CreatedAt:    resp.CreatedAt,
		UpdatedAt:    resp.UpdatedAt,
	}, nil
}

// parseErrorResponse attempts to parse an error response from the server.
func parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	msg := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg = errResp.Error
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, msg)
}
