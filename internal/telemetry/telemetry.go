// Package telemetry registers the exchange's prometheus metrics, grounded
// on chidi150c-coinbase's metrics.go (package-level CounterVec/Gauge
// variables registered in init(), with small setter helpers called from the
// rest of the code).
package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bourse_orders_placed_total",
			Help: "Orders placed, by side and order type.",
		},
		[]string{"side", "order_type"},
	)

	tradesSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bourse_trades_settled_total",
			Help: "Trades settled.",
		},
		[]string{"currency"},
	)

	bookDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bourse_book_depth",
			Help: "Resting order count per (stock, currency, side).",
		},
		[]string{"stock_id", "currency", "side"},
	)

	aiDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bourse_ai_decisions_total",
			Help: "AI trading loop decisions, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(ordersPlaced, tradesSettled, bookDepth, aiDecisions)
}

func IncOrderPlaced(side, orderType string) { ordersPlaced.WithLabelValues(side, orderType).Inc() }

func IncTradeSettled(currency string) { tradesSettled.WithLabelValues(currency).Inc() }

func SetBookDepth(stockId, currency, side string, count int) {
	bookDepth.WithLabelValues(stockId, currency, side).Set(float64(count))
}

func IncAIDecision(outcome string) { aiDecisions.WithLabelValues(outcome).Inc() }
