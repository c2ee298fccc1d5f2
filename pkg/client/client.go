// Package client is the Go SDK for the marketsim exchange API.
//
// The REST client talks to the daemon's HTTP surface:
//   - PlaceOrder:  POST   /api/v1/orders
//   - CancelOrder: DELETE /api/v1/orders/{id}
//   - Book:        GET    /api/v1/book/{ticker}
//   - User:        GET    /api/v1/users/{id}
//   - Register:    POST   /api/v1/users
//   - Tickers:     GET    /api/v1/tickers
//
// Requests are retried on 5xx responses. Stream (stream.go) subscribes to
// the WebSocket trade feed with automatic reconnection.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"marketsim/pkg/types"
)

// Client is the REST API client.
type Client struct {
	http *resty.Client
}

// New creates a client for the exchange at baseURL.
func New(baseURL string) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{http: httpClient}
}

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// OrderRequest describes one order placement.
type OrderRequest struct {
	UserID   string            `json:"user_id"`
	Ticker   string            `json:"ticker"`
	Side     types.Side        `json:"side"`
	Price    decimal.Decimal   `json:"price"`
	Quantity int64             `json:"quantity"`
	TIF      types.TimeInForce `json:"tif,omitempty"`
}

// OrderResult reports one completed placement.
type OrderResult struct {
	OrderID           string            `json:"order_id"`
	Status            types.OrderStatus `json:"status"`
	FilledQuantity    int64             `json:"filled_quantity"`
	RemainingQuantity int64             `json:"remaining_quantity"`
	Trades            []types.Trade     `json:"trades"`
}

// CancelResult reports one completed cancellation.
type CancelResult struct {
	OrderID      string            `json:"order_id"`
	Status       types.OrderStatus `json:"status"`
	RefundCash   decimal.Decimal   `json:"refund_cash"`
	RefundShares int64             `json:"refund_shares"`
}

// UserSnapshot is a user with the server-derived buying power.
type UserSnapshot struct {
	types.User
	BuyingPower decimal.Decimal `json:"buying_power"`
}

// TickerInfo is one entry of the ticker listing.
type TickerInfo struct {
	Ticker    string          `json:"ticker"`
	LastPrice decimal.Decimal `json:"last_price"`
}

// PlaceOrder submits a limit order.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	body := map[string]interface{}{
		"user_id":  req.UserID,
		"ticker":   req.Ticker,
		"side":     string(req.Side),
		"price":    req.Price.String(),
		"quantity": req.Quantity,
	}
	if req.TIF != "" {
		body["tif"] = string(req.TIF)
	}
	var out OrderResult
	if err := c.do(ctx, "POST", "/api/v1/orders", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID, userID string) (*CancelResult, error) {
	var out CancelResult
	path := fmt.Sprintf("/api/v1/orders/%s?user_id=%s", orderID, userID)
	if err := c.do(ctx, "DELETE", path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Book fetches the aggregated depth for ticker. depth <= 0 returns every
// level.
func (c *Client) Book(ctx context.Context, ticker string, depth int) (*types.BookSnapshot, error) {
	path := "/api/v1/book/" + ticker
	if depth > 0 {
		path = fmt.Sprintf("%s?depth=%d", path, depth)
	}
	var out types.BookSnapshot
	if err := c.do(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// User fetches one user's snapshot.
func (c *Client) User(ctx context.Context, userID string) (*UserSnapshot, error) {
	var out UserSnapshot
	if err := c.do(ctx, "GET", "/api/v1/users/"+userID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates a new user with starting cash.
func (c *Client) Register(ctx context.Context, userID, username string, cash decimal.Decimal) (*types.User, error) {
	body := map[string]interface{}{
		"user_id":  userID,
		"username": username,
		"cash":     cash.String(),
	}
	var out types.User
	if err := c.do(ctx, "POST", "/api/v1/users", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tickers lists the configured symbols and their last prices.
func (c *Client) Tickers(ctx context.Context) ([]TickerInfo, error) {
	var out []TickerInfo
	if err := c.do(ctx, "GET", "/api/v1/tickers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if err := json.Unmarshal(resp.Body(), &apiErr); err != nil {
			return &APIError{StatusCode: resp.StatusCode(), Code: "UNKNOWN", Message: string(resp.Body())}
		}
		return &APIError{StatusCode: resp.StatusCode(), Code: apiErr.Code, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
