// Package metrics exposes Prometheus collectors for the exchange.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the exchange and api report into.
type Metrics struct {
	OrdersAccepted  *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec
	OrdersCancelled *prometheus.CounterVec
	TradesTotal     *prometheus.CounterVec
	TradeVolume     *prometheus.CounterVec
	RestingOrders   *prometheus.GaugeVec
	WSClients       prometheus.Gauge
}

// New creates and registers the collectors on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_orders_accepted_total",
			Help: "Orders accepted by the engine.",
		}, []string{"ticker", "side"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_orders_rejected_total",
			Help: "Orders rejected by the engine, by reason.",
		}, []string{"reason"}),
		OrdersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_orders_cancelled_total",
			Help: "Resting orders cancelled.",
		}, []string{"ticker"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_trades_total",
			Help: "Trades executed.",
		}, []string{"ticker"}),
		TradeVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_trade_volume_shares_total",
			Help: "Shares traded.",
		}, []string{"ticker"}),
		RestingOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketsim_resting_orders",
			Help: "Orders currently resting on the book.",
		}, []string{"ticker"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketsim_ws_clients",
			Help: "Connected websocket stream clients.",
		}),
	}
	reg.MustRegister(
		m.OrdersAccepted, m.OrdersRejected, m.OrdersCancelled,
		m.TradesTotal, m.TradeVolume, m.RestingOrders, m.WSClients,
	)
	return m
}

// OrderAccepted records one accepted placement.
func (m *Metrics) OrderAccepted(ticker, side string) {
	m.OrdersAccepted.WithLabelValues(ticker, side).Inc()
}

// OrderRejected records one rejected placement.
func (m *Metrics) OrderRejected(reason string) {
	m.OrdersRejected.WithLabelValues(reason).Inc()
}

// OrderCancelled records one cancellation.
func (m *Metrics) OrderCancelled(ticker string) {
	m.OrdersCancelled.WithLabelValues(ticker).Inc()
}

// TradeExecuted records one fill and its share volume.
func (m *Metrics) TradeExecuted(ticker string, qty int64) {
	m.TradesTotal.WithLabelValues(ticker).Inc()
	m.TradeVolume.WithLabelValues(ticker).Add(float64(qty))
}

// SetRestingOrders updates the resting-order gauge for ticker.
func (m *Metrics) SetRestingOrders(ticker string, n int) {
	m.RestingOrders.WithLabelValues(ticker).Set(float64(n))
}
