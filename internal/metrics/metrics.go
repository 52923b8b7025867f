package metrics

import (
	"math"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "paperdesk"

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	priceUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "price_updates_total",
		Help:      "Accepted symbol price updates.",
	})

	ledgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_entries_total",
		Help:      "Ledger entries appended by type.",
	}, []string{"type"})

	positionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "positions_opened_total",
		Help:      "Positions opened by symbol.",
	}, []string{"symbol"})

	positionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "positions_closed_total",
		Help:      "Positions closed by reason.",
	}, []string{"reason"})

	stopOuts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stop_outs_total",
		Help:      "Forced liquidation runs that closed at least one position.",
	})

	ordersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_placed_total",
		Help:      "Orders accepted by type.",
	}, []string{"type"})

	ordersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_rejected_total",
		Help:      "Orders rejected at submission by reason.",
	}, []string{"reason"})

	ordersFilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_filled_total",
		Help:      "Orders filled by type.",
	}, []string{"type"})

	ordersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_cancelled_total",
		Help:      "Orders cancelled by reason.",
	}, []string{"reason"})

	marginLevel = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "margin_level_percent",
		Help:      "Observed margin levels of accounts with open margin.",
		Buckets:   []float64{20, 50, 75, 100, 150, 200, 300, 500, 1000, 5000},
	})

	marginCalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "margin_calls_total",
		Help:      "Accounts that entered margin call.",
	})
)

func ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

func PriceUpdates(n int) {
	if n > 0 {
		priceUpdates.Add(float64(n))
	}
}

func LedgerEntry(typ string) { ledgerEntries.WithLabelValues(typ).Inc() }

func PositionOpened(symbol string) { positionsOpened.WithLabelValues(symbol).Inc() }

func PositionClosed(reason string) { positionsClosed.WithLabelValues(reason).Inc() }

func StopOut() { stopOuts.Inc() }

func OrderPlaced(typ string) { ordersPlaced.WithLabelValues(typ).Inc() }

func OrderRejected(reason string) { ordersRejected.WithLabelValues(reason).Inc() }

func OrderFilled(typ string) { ordersFilled.WithLabelValues(typ).Inc() }

func OrderCancelled(reason string) { ordersCancelled.WithLabelValues(reason).Inc() }

// MarginLevel records a margin level percentage. Accounts without margin
// report +Inf and are skipped.
func MarginLevel(pct float64) {
	if math.IsInf(pct, 0) || math.IsNaN(pct) {
		return
	}
	marginLevel.Observe(pct)
}

func MarginCall() { marginCalls.Inc() }
