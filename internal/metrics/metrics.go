package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics for the quote feed service
var (
	// Quote metrics
	QuoteUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qf_quote_updates_total",
			Help: "Total number of quotes stored in the book",
		},
		[]string{"exchange", "symbol"},
	)

	QuoteLast = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qf_quote_last_price",
			Help: "Most recent last price",
		},
		[]string{"exchange", "symbol"},
	)

	QuoteBestBid = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qf_quote_best_bid",
			Help: "Most recent best bid price",
		},
		[]string{"exchange", "symbol"},
	)

	QuoteBestAsk = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qf_quote_best_ask",
			Help: "Most recent best ask price",
		},
		[]string{"exchange", "symbol"},
	)

	QuoteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qf_quote_latency_seconds",
			Help:    "Latency from exchange timestamp to local receipt",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		},
		[]string{"exchange"},
	)

	// Connection metrics
	ConnectionStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qf_connection_status",
			Help: "Feed connection status (1=live, 0=down)",
		},
		[]string{"exchange"},
	)

	ConnectionReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qf_reconnects_total",
			Help: "Total number of reconnection attempts",
		},
		[]string{"exchange"},
	)

	FeedsExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qf_feeds_exhausted_total",
			Help: "Total number of feeds that gave up reconnecting",
		},
		[]string{"exchange"},
	)

	SymbolsSubscribed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qf_symbols_subscribed",
			Help: "Number of tickers subscribed per exchange",
		},
		[]string{"exchange"},
	)

	// Book metrics
	BookEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qf_book_entries",
			Help: "Current number of (symbol, exchange) entries in the book",
		},
	)

	BookReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qf_book_reaped_total",
			Help: "Total number of stale entries evicted",
		},
	)

	// Arbitrage metrics
	ArbitrageOpportunities = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qf_arbitrage_opportunities_total",
			Help: "Total number of arbitrage alert emissions",
		},
		[]string{"symbol"},
	)

	ArbitrageTopSpread = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qf_arbitrage_top_spread_pct",
			Help: "Widest spread percentage in the latest alert",
		},
		[]string{"symbol"},
	)

	// Event bus metrics
	BusEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qf_bus_events_dropped_total",
			Help: "Total number of bus events dropped on full subscriber buffers",
		},
		[]string{"topic"},
	)

	// Redis metrics
	RedisPublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qf_redis_publish_duration_seconds",
			Help:    "Time to publish a message to Redis",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
		[]string{"channel"},
	)

	RedisPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qf_redis_publish_errors_total",
			Help: "Total number of Redis publish errors",
		},
		[]string{"channel"},
	)
)

// Timer is a helper for measuring operation duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram
func (t *Timer) ObserveDuration(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// RecordQuote records metrics for one stored quote
func RecordQuote(exchange, symbol string, last, bid, ask float64, exchangeTS, recvTS int64) {
	QuoteUpdates.WithLabelValues(exchange, symbol).Inc()
	QuoteLast.WithLabelValues(exchange, symbol).Set(last)
	if bid > 0 {
		QuoteBestBid.WithLabelValues(exchange, symbol).Set(bid)
	}
	if ask > 0 {
		QuoteBestAsk.WithLabelValues(exchange, symbol).Set(ask)
	}
	if exchangeTS > 0 && recvTS >= exchangeTS {
		QuoteLatency.WithLabelValues(exchange).Observe(float64(recvTS-exchangeTS) / 1000)
	}
}

// RecordConnectionStatus records a feed's liveness
func RecordConnectionStatus(exchange string, connected bool) {
	status := 0.0
	if connected {
		status = 1.0
	}
	ConnectionStatus.WithLabelValues(exchange).Set(status)
}

// RecordReconnect records a reconnection attempt
func RecordReconnect(exchange string) {
	ConnectionReconnects.WithLabelValues(exchange).Inc()
}

// RecordExhausted records a feed giving up
func RecordExhausted(exchange string) {
	FeedsExhausted.WithLabelValues(exchange).Inc()
	RecordConnectionStatus(exchange, false)
}

// RecordArbitrage records an emitted alert
func RecordArbitrage(symbol string, topSpreadPct float64) {
	ArbitrageOpportunities.WithLabelValues(symbol).Inc()
	ArbitrageTopSpread.WithLabelValues(symbol).Set(topSpreadPct)
}

// Server starts the Prometheus metrics HTTP server
type Server struct {
	addr   string
	server *http.Server
}

// NewServer creates a new metrics server
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start starts the metrics server
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("Starting metrics server")
	return s.server.ListenAndServe()
}

// Stop stops the metrics server gracefully
func (s *Server) Stop() error {
	return s.server.Close()
}
