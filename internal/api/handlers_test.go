package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsim/internal/config"
	"marketsim/internal/exchange"
	"marketsim/internal/journal"
	"marketsim/internal/metrics"
	"marketsim/pkg/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestMux(t *testing.T) (*http.ServeMux, *exchange.Exchange) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())

	ex := exchange.New(exchange.Config{
		Tickers: map[string]decimal.Decimal{"FOO": d("100.00")},
	}, m, logger)
	t.Cleanup(ex.Close)

	jrnl, err := journal.Open(t.TempDir(), false)
	require.NoError(t, err)
	t.Cleanup(func() { jrnl.Close() })

	hub := NewHub(m, logger)
	go hub.Run()
	h := NewHandlers(ex, jrnl, config.APIConfig{Port: 0}, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/orders", h.HandlePlaceOrder)
	mux.HandleFunc("DELETE /api/v1/orders/{id}", h.HandleCancelOrder)
	mux.HandleFunc("GET /api/v1/book/{ticker}", h.HandleGetBook)
	mux.HandleFunc("GET /api/v1/users/{id}", h.HandleGetUser)
	mux.HandleFunc("POST /api/v1/users", h.HandleRegisterUser)
	mux.HandleFunc("GET /api/v1/tickers", h.HandleGetTickers)
	mux.HandleFunc("GET /health", h.HandleHealth)
	return mux, ex
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func registerViaAPI(t *testing.T, mux *http.ServeMux, id, cash string) {
	t.Helper()
	w := doJSON(t, mux, "POST", "/api/v1/users",
		`{"user_id":"`+id+`","username":"`+id+`","cash":"`+cash+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestPlaceOrderEndToEnd(t *testing.T) {
	t.Parallel()
	mux, ex := newTestMux(t)
	registerViaAPI(t, mux, "alice", "10000")
	registerViaAPI(t, mux, "bob", "10000")

	// Seed carol with shares directly; share grants are an admin concern.
	require.NoError(t, ex.RegisterUser(&types.User{
		ID: "carol", Username: "carol", Cash: d("0"),
		Holdings: map[string]int64{"FOO": 10},
	}))

	w := doJSON(t, mux, "POST", "/api/v1/orders",
		`{"user_id":"carol","ticker":"FOO","side":"SELL","price":"100.00","quantity":10,"tif":"GTC"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, mux, "POST", "/api/v1/orders",
		`{"user_id":"alice","ticker":"FOO","side":"buy","price":"105.00","quantity":10}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res PlaceOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, types.StatusFilled, res.Status)
	assert.Equal(t, int64(10), res.FilledQuantity)
	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Price.Equal(d("100.00")))

	// Alice paid the resting price, not her limit.
	w = doJSON(t, mux, "GET", "/api/v1/users/alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	var user struct {
		Cash        decimal.Decimal `json:"cash"`
		BuyingPower decimal.Decimal `json:"buying_power"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.True(t, user.Cash.Equal(d("9000")), "got %s", user.Cash)
	assert.True(t, user.BuyingPower.Equal(d("9000")))
}

func TestCancelOrderEndToEnd(t *testing.T) {
	t.Parallel()
	mux, _ := newTestMux(t)
	registerViaAPI(t, mux, "alice", "10000")

	w := doJSON(t, mux, "POST", "/api/v1/orders",
		`{"user_id":"alice","ticker":"FOO","side":"BUY","price":"99.00","quantity":5}`)
	require.Equal(t, http.StatusOK, w.Code)
	var res PlaceOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))

	w = doJSON(t, mux, "DELETE", "/api/v1/orders/"+res.OrderID+"?user_id=alice", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cres CancelOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cres))
	assert.Equal(t, types.StatusCancelled, cres.Status)
	assert.True(t, cres.RefundCash.Equal(d("495")))

	// Second cancel is NOT_FOUND.
	w = doJSON(t, mux, "DELETE", "/api/v1/orders/"+res.OrderID+"?user_id=alice", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	mux, _ := newTestMux(t)
	registerViaAPI(t, mux, "alice", "100")

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"unknown ticker", `{"user_id":"alice","ticker":"NOPE","side":"BUY","price":"1.00","quantity":1}`,
			http.StatusNotFound, "UNKNOWN_TICKER"},
		{"unknown user", `{"user_id":"ghost","ticker":"FOO","side":"BUY","price":"1.00","quantity":1}`,
			http.StatusNotFound, "UNKNOWN_USER"},
		{"invalid side", `{"user_id":"alice","ticker":"FOO","side":"HOLD","price":"1.00","quantity":1}`,
			http.StatusBadRequest, "INVALID_ORDER"},
		{"sub-cent price", `{"user_id":"alice","ticker":"FOO","side":"BUY","price":"1.001","quantity":1}`,
			http.StatusBadRequest, "INVALID_ORDER"},
		{"insufficient funds", `{"user_id":"alice","ticker":"FOO","side":"BUY","price":"100.00","quantity":50}`,
			http.StatusPaymentRequired, "INSUFFICIENT_FUNDS"},
		{"insufficient shares", `{"user_id":"alice","ticker":"FOO","side":"SELL","price":"1.00","quantity":1}`,
			http.StatusPaymentRequired, "INSUFFICIENT_SHARES"},
		{"fok not fillable", `{"user_id":"alice","ticker":"FOO","side":"BUY","price":"1.00","quantity":1,"tif":"FOK"}`,
			http.StatusConflict, "NOT_FULLY_FILLABLE"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, mux, "POST", "/api/v1/orders", tc.body)
			assert.Equal(t, tc.status, w.Code)
			var er struct {
				Code string `json:"code"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &er))
			assert.Equal(t, tc.code, er.Code)
		})
	}
}

func TestGetBookSnapshot(t *testing.T) {
	t.Parallel()
	mux, _ := newTestMux(t)
	registerViaAPI(t, mux, "alice", "10000")

	doJSON(t, mux, "POST", "/api/v1/orders",
		`{"user_id":"alice","ticker":"FOO","side":"BUY","price":"99.00","quantity":5}`)
	doJSON(t, mux, "POST", "/api/v1/orders",
		`{"user_id":"alice","ticker":"FOO","side":"BUY","price":"98.00","quantity":5}`)

	w := doJSON(t, mux, "GET", "/api/v1/book/FOO?depth=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap types.BookSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "FOO", snap.Ticker)
	require.Len(t, snap.Bids, 1)
	assert.True(t, snap.Bids[0].Price.Equal(d("99.00")))

	w = doJSON(t, mux, "GET", "/api/v1/book/NOPE", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTickersAndHealth(t *testing.T) {
	t.Parallel()
	mux, _ := newTestMux(t)

	w := doJSON(t, mux, "GET", "/api/v1/tickers", "")
	require.Equal(t, http.StatusOK, w.Code)
	var tickers []struct {
		Ticker    string          `json:"ticker"`
		LastPrice decimal.Decimal `json:"last_price"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tickers))
	require.Len(t, tickers, 1)
	assert.Equal(t, "FOO", tickers[0].Ticker)
	assert.True(t, tickers[0].LastPrice.Equal(d("100.00")))

	w = doJSON(t, mux, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	mux, _ := newTestMux(t)

	w := doJSON(t, mux, "POST", "/api/v1/users", `{"username":"noid"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, mux, "POST", "/api/v1/users", `{"user_id":"x","cash":"-5"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	registerViaAPI(t, mux, "dup", "1")
	w = doJSON(t, mux, "POST", "/api/v1/users", `{"user_id":"dup"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}
