package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"marketsim/internal/config"
	"marketsim/internal/exchange"
	"marketsim/internal/journal"
	"marketsim/pkg/types"
)

// Handlers holds all HTTP handler dependencies. Every mutating handler
// follows the engine's persistence contract: call the exchange, then
// commit exactly one journal batch before responding.
type Handlers struct {
	ex     *exchange.Exchange
	jrnl   *journal.Journal
	cfg    config.APIConfig
	hub    *Hub
	logger *slog.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(ex *exchange.Exchange, jrnl *journal.Journal, cfg config.APIConfig, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		ex:     ex,
		jrnl:   jrnl,
		cfg:    cfg,
		hub:    hub,
		logger: logger.With("component", "api-handlers"),
	}
}

// PlaceOrderRequest is the body of POST /api/v1/orders.
type PlaceOrderRequest struct {
	UserID   string `json:"user_id"`
	Ticker   string `json:"ticker"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Quantity int64  `json:"quantity"`
	TIF      string `json:"tif,omitempty"`
}

// PlaceOrderResponse reports one completed placement.
type PlaceOrderResponse struct {
	OrderID           string            `json:"order_id"`
	Status            types.OrderStatus `json:"status"`
	FilledQuantity    int64             `json:"filled_quantity"`
	RemainingQuantity int64             `json:"remaining_quantity"`
	Trades            []types.Trade     `json:"trades"`
}

// CancelOrderResponse reports one completed cancellation.
type CancelOrderResponse struct {
	OrderID      string            `json:"order_id"`
	Status       types.OrderStatus `json:"status"`
	RefundCash   decimal.Decimal   `json:"refund_cash"`
	RefundShares int64             `json:"refund_shares"`
}

// RegisterUserRequest is the body of POST /api/v1/users.
type RegisterUserRequest struct {
	UserID   string           `json:"user_id"`
	Username string           `json:"username"`
	Cash     string           `json:"cash"`
	Holdings map[string]int64 `json:"holdings,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HandlePlaceOrder accepts an order, runs it through the engine, and
// commits the result to the journal in one batch.
func (h *Handlers) HandlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED_BODY", "invalid JSON body")
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ORDER", "price is not a decimal")
		return
	}

	res, err := h.ex.PlaceOrder(exchange.OrderRequest{
		UserID:   req.UserID,
		Ticker:   req.Ticker,
		Side:     types.Side(strings.ToUpper(req.Side)),
		Price:    price,
		Quantity: req.Quantity,
		TIF:      types.TimeInForce(strings.ToUpper(req.TIF)),
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	if err := h.jrnl.Commit(journal.PlaceBatch(res.Order, res.Trades, res.RestingChanged, res.Users)); err != nil {
		h.logger.Error("journal commit failed", "order_id", res.Order.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "PERSISTENCE", "failed to persist order")
		return
	}

	writeJSON(w, http.StatusOK, PlaceOrderResponse{
		OrderID:           res.Order.ID,
		Status:            res.Order.Status,
		FilledQuantity:    res.Order.FilledQuantity(),
		RemainingQuantity: res.Order.Quantity,
		Trades:            res.Trades,
	})
}

// HandleCancelOrder cancels a resting order for its owner.
func (h *Handlers) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "MALFORMED_REQUEST", "user_id query parameter is required")
		return
	}

	res, err := h.ex.CancelOrder(orderID, userID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	if err := h.jrnl.Commit(journal.CancelBatch(res.Order, res.User)); err != nil {
		h.logger.Error("journal commit failed", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "PERSISTENCE", "failed to persist cancel")
		return
	}

	writeJSON(w, http.StatusOK, CancelOrderResponse{
		OrderID:      res.Order.ID,
		Status:       res.Order.Status,
		RefundCash:   res.RefundCash,
		RefundShares: res.RefundShares,
	})
}

// HandleGetBook returns the aggregated depth of one ticker's book.
func (h *Handlers) HandleGetBook(w http.ResponseWriter, r *http.Request) {
	ticker := r.PathValue("ticker")
	limit := 0
	if raw := r.URL.Query().Get("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "MALFORMED_REQUEST", "depth must be a non-negative integer")
			return
		}
		limit = n
	}

	snap, err := h.ex.GetBook(ticker, limit)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleGetUser returns a user snapshot including derived buying power.
func (h *Handlers) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.ex.GetUser(r.PathValue("id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		*types.User
		BuyingPower decimal.Decimal `json:"buying_power"`
	}{user, user.BuyingPower()})
}

// HandleRegisterUser registers a new trading principal and journals it.
func (h *Handlers) HandleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED_BODY", "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "MALFORMED_REQUEST", "user_id is required")
		return
	}
	cash := decimal.Zero
	if req.Cash != "" {
		var err error
		cash, err = decimal.NewFromString(req.Cash)
		if err != nil || cash.IsNegative() {
			writeError(w, http.StatusBadRequest, "MALFORMED_REQUEST", "cash must be a non-negative decimal")
			return
		}
	}

	user := &types.User{
		ID:       req.UserID,
		Username: req.Username,
		Cash:     cash,
		Holdings: req.Holdings,
	}
	if err := h.ex.RegisterUser(user); err != nil {
		h.writeEngineError(w, err)
		return
	}

	snapshot, err := h.ex.GetUser(req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "registration readback failed")
		return
	}
	if err := h.jrnl.Commit(journal.RegisterBatch(snapshot)); err != nil {
		h.logger.Error("journal commit failed", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "PERSISTENCE", "failed to persist user")
		return
	}
	writeJSON(w, http.StatusCreated, snapshot)
}

// HandleGetTickers lists the configured tickers and their reference
// prices.
func (h *Handlers) HandleGetTickers(w http.ResponseWriter, r *http.Request) {
	prices := h.ex.Tickers()
	tickers := make([]string, 0, len(prices))
	for t := range prices {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	type entry struct {
		Ticker    string          `json:"ticker"`
		LastPrice decimal.Decimal `json:"last_price"`
	}
	out := make([]entry, 0, len(tickers))
	for _, t := range tickers {
		out = append(out, entry{Ticker: t, LastPrice: prices[t]})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleWebSocket upgrades the connection and subscribes it to the trade
// stream.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), h.cfg.AllowedOrigins)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{hub: h.hub, conn: conn, send: make(chan []byte, 64)}
	h.hub.register <- client

	go client.writePump()
	go client.readPump()

	tickers := make([]string, 0)
	for t := range h.ex.Tickers() {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	hello, err := json.Marshal(StreamEvent{Type: "hello", Data: HelloPayload{Tickers: tickers}})
	if err != nil {
		return
	}
	select {
	case client.send <- hello:
	default:
	}
}

// writeEngineError maps the exchange's failure kinds to HTTP statuses and
// machine-readable codes.
func (h *Handlers) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, exchange.ErrUnknownTicker):
		writeError(w, http.StatusNotFound, "UNKNOWN_TICKER", err.Error())
	case errors.Is(err, exchange.ErrUnknownUser):
		writeError(w, http.StatusNotFound, "UNKNOWN_USER", err.Error())
	case errors.Is(err, exchange.ErrInvalidOrder):
		writeError(w, http.StatusBadRequest, "INVALID_ORDER", err.Error())
	case errors.Is(err, exchange.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "INSUFFICIENT_FUNDS", err.Error())
	case errors.Is(err, exchange.ErrInsufficientShares):
		writeError(w, http.StatusPaymentRequired, "INSUFFICIENT_SHARES", err.Error())
	case errors.Is(err, exchange.ErrNotFullyFillable):
		writeError(w, http.StatusConflict, "NOT_FULLY_FILLABLE", err.Error())
	case errors.Is(err, exchange.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, exchange.ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, exchange.ErrDuplicateUser):
		writeError(w, http.StatusConflict, "DUPLICATE_USER", err.Error())
	default:
		h.logger.Error("unexpected engine error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func isOriginAllowed(origin string, allowed []string) bool {
	if origin == "" {
		// Non-browser clients often omit Origin; keep this path functional.
		return true
	}
	if len(allowed) == 0 {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		u, err := url.Parse(a)
		if err != nil {
			continue
		}
		if strings.EqualFold(u.Host, originURL.Host) && (u.Scheme == "" || u.Scheme == originURL.Scheme) {
			return true
		}
	}
	return false
}
