package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"marketsim/pkg/types"
)

// TradeFunc receives each trade batch from the stream.
type TradeFunc func(ticker string, trades []types.Trade)

// Stream subscribes to the exchange's WebSocket trade feed and
// reconnects with backoff when the connection drops.
type Stream struct {
	url    string
	onData TradeFunc
	logger *slog.Logger
}

// streamEvent mirrors the server's wire format.
type streamEvent struct {
	Type   string `json:"type"`
	Ticker string `json:"ticker"`
	Data   struct {
		Trades []types.Trade `json:"trades"`
	} `json:"data"`
}

// NewStream creates a subscriber for the feed at url (ws://host:port/ws).
func NewStream(url string, onData TradeFunc, logger *slog.Logger) *Stream {
	return &Stream{
		url:    url,
		onData: onData,
		logger: logger.With("component", "trade-stream"),
	}
}

// Run connects and consumes until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.consume(ctx); err != nil {
			s.logger.Warn("stream disconnected", "error", err, "retry_in", backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *Stream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.logger.Info("stream connected", "url", s.url)

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var evt streamEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Warn("malformed stream event", "error", err)
			continue
		}
		if evt.Type == "trades" {
			s.onData(evt.Ticker, evt.Data.Trades)
		}
	}
}
