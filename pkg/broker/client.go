package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// ErrUnauthorized marks a 401/403 from the broker. Callers treat it as "this
// resource does not belong to the authenticated account".
var ErrUnauthorized = errors.New("broker: unauthorized")

// Config holds broker REST connection parameters.
type Config struct {
	BaseURL string
	Token   string
	// RatePerSec caps outbound request rate. Zero means a conservative
	// default of 2 req/s.
	RatePerSec float64
}

// Client is the broker REST client. All calls are rate limited through a
// shared token bucket so burst lookups do not trip upstream throttling.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg Config) *Client {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
	}
}

// CreateOperation opens a bet and returns the operation ID. A missing ID or
// start time is filled in client side.
func (c *Client) CreateOperation(ctx context.Context, req CreateOperationRequest) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.StartTimeUTC == "" {
		req.StartTimeUTC = time.Now().UTC().Format(time.RFC3339)
	}

	var resp createOperationResponse
	if err := c.do(ctx, http.MethodPost, "/v1/operations", req, &resp); err != nil {
		return "", fmt.Errorf("create operation: %w", err)
	}
	if resp.ID != "" {
		return resp.ID, nil
	}
	return req.ID, nil
}

// GetOperation fetches the authoritative status of one operation.
func (c *Client) GetOperation(ctx context.Context, id string) (OperationStatus, error) {
	var st OperationStatus
	if err := c.do(ctx, http.MethodGet, "/v1/operations/"+id, nil, &st); err != nil {
		return OperationStatus{}, fmt.Errorf("get operation %s: %w", id, err)
	}
	return st, nil
}

// GetBalance fetches the current account balance.
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var resp balanceResponse
	if err := c.do(ctx, http.MethodGet, "/v1/balance", nil, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return decimal.NewFromFloat(resp.Balance), nil
}

// GetHistory fetches historical bars for a symbol over [start, end].
func (c *Client) GetHistory(ctx context.Context, symbol string, start, end time.Time, timespan string, multiple int) ([]Bar, error) {
	path := fmt.Sprintf("/v1/candles/%s?from=%d&to=%d&timespan=%s&multiple=%d",
		symbol, start.Unix(), end.Unix(), timespan, multiple)
	var resp historyResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("get history %s: %w", symbol, err)
	}
	return resp.Values, nil
}

// ListAssets fetches the tradable instrument catalog.
func (c *Client) ListAssets(ctx context.Context) ([]Asset, error) {
	var resp assetsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/assets", nil, &resp); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return resp.Results, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
