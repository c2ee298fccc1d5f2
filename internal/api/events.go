package api

import (
	"time"

	"marketsim/pkg/types"
)

// StreamEvent is the wrapper for all events sent over the WebSocket
// stream.
type StreamEvent struct {
	Type      string      `json:"type"` // "trades", "hello"
	Timestamp time.Time   `json:"timestamp"`
	Ticker    string      `json:"ticker,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// TradesPayload carries the fills of one completed placement, in fill
// order.
type TradesPayload struct {
	Trades []types.Trade `json:"trades"`
}

// HelloPayload is sent once when a client connects.
type HelloPayload struct {
	Tickers []string `json:"tickers"`
}
