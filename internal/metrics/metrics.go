package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the payment gateway.
type Metrics struct {
	// Request pipeline metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ChallengesTotal  prometheus.Counter
	PassthroughTotal prometheus.Counter

	// Verification metrics
	VerificationsTotal   *prometheus.CounterVec
	VerificationDuration prometheus.Histogram
	PaymentAmountTotal   prometheus.Counter

	// RPC call metrics
	RPCCallsTotal   *prometheus.CounterVec
	RPCCallDuration *prometheus.HistogramVec
	RPCErrorsTotal  *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHitsTotal          *prometheus.CounterVec
	RateLimitStoreFailuresTotal prometheus.Counter

	// Crawl log metrics
	CrawlLogsTotal       *prometheus.CounterVec
	CrawlLogRetriesTotal prometheus.Counter
	CrawlLogQueueDepth   prometheus.Gauge
	CrawlLogDuration     prometheus.Histogram

	// Origin proxy metrics
	ProxyErrorsTotal prometheus.Counter
	ProxyDuration    prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tachi_requests_total",
				Help: "Total requests by pipeline outcome",
			},
			[]string{"outcome"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tachi_request_duration_seconds",
				Help:    "End-to-end request handling duration",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"outcome"},
		),
		ChallengesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tachi_challenges_total",
				Help: "Total 402 payment challenges issued",
			},
		),
		PassthroughTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tachi_passthrough_total",
				Help: "Total non-crawler requests proxied without payment",
			},
		),

		VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tachi_verifications_total",
				Help: "Total payment verification attempts by result",
			},
			[]string{"result"},
		),
		VerificationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tachi_verification_duration_seconds",
				Help:    "Time taken to verify a payment proof against the chain",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		),
		PaymentAmountTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tachi_payment_amount_base_units_total",
				Help: "Total verified payment volume in USDC base units",
			},
		),

		RPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tachi_rpc_calls_total",
				Help: "Total JSON-RPC calls to the chain",
			},
			[]string{"method", "network"},
		),
		RPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tachi_rpc_call_duration_seconds",
				Help:    "Duration of JSON-RPC calls to the chain",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "network"},
		),
		RPCErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tachi_rpc_errors_total",
				Help: "Total failed JSON-RPC calls",
			},
			[]string{"method", "network"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tachi_ratelimit_hits_total",
				Help: "Total requests rejected by rate limiting",
			},
			[]string{"limiter"},
		),
		RateLimitStoreFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tachi_ratelimit_store_failures_total",
				Help: "KVS failures during rate limiting; the limiter fails open so operators must watch this",
			},
		),

		CrawlLogsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tachi_crawl_logs_total",
				Help: "Total on-chain crawl log submissions by result",
			},
			[]string{"result"},
		),
		CrawlLogRetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tachi_crawl_log_retries_total",
				Help: "Total crawl log submission retries",
			},
		),
		CrawlLogQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tachi_crawl_log_queue_depth",
				Help: "Crawl log jobs waiting for submission",
			},
		),
		CrawlLogDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tachi_crawl_log_duration_seconds",
				Help:    "Time from enqueue to successful crawl log submission",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
			},
		),

		ProxyErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tachi_proxy_errors_total",
				Help: "Total origin forwarding failures",
			},
		),
		ProxyDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tachi_proxy_duration_seconds",
				Help:    "Time to first byte from the origin",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
		),
	}
}

// ObserveRPCCall records a JSON-RPC call with its duration and error status.
func (m *Metrics) ObserveRPCCall(method, network string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.RPCCallsTotal.WithLabelValues(method, network).Inc()
	m.RPCCallDuration.WithLabelValues(method, network).Observe(duration.Seconds())
	if err != nil {
		m.RPCErrorsTotal.WithLabelValues(method, network).Inc()
	}
}

// ObserveRateLimit records a rate limit rejection.
func (m *Metrics) ObserveRateLimit(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(limiter).Inc()
}

// ObserveRequest records a completed request with its pipeline outcome.
func (m *Metrics) ObserveRequest(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
	m.RequestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}
