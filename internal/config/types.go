package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds gateway configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Chain          ChainConfig          `yaml:"chain"`
	Payment        PaymentConfig        `yaml:"payment"`
	Crawler        CrawlerConfig        `yaml:"crawler"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	KVS            KVSConfig            `yaml:"kvs"`
	Proxy          ProxyConfig          `yaml:"proxy"`
	CrawlLog       CrawlLogConfig       `yaml:"crawl_log"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	RequestTimeout     Duration `yaml:"request_timeout"`       // Verification budget per request (default: 10s); excludes origin streaming
	MaxRequestSize     int64    `yaml:"max_request_size"`      // Admission filter body limit in bytes
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// ChainConfig holds blockchain connectivity configuration.
type ChainConfig struct {
	RPCURL           string   `yaml:"rpc_url"`
	ChainID          int64    `yaml:"chain_id"`       // 8453 Base mainnet, 84532 Base Sepolia
	WorkerPrivateKey string   `yaml:"-"`              // Secret, env-only (WORKER_PRIVATE_KEY)
	VerifyTimeout    Duration `yaml:"verify_timeout"` // Verification sub-budget (default: 5s)
}

// Network returns a human-readable network name for the configured chain id.
func (c ChainConfig) Network() string {
	switch c.ChainID {
	case 8453:
		return "base"
	case 84532:
		return "base-sepolia"
	default:
		return fmt.Sprintf("chain-%d", c.ChainID)
	}
}

// PaymentConfig holds the publisher's pricing and contract addresses.
// Addresses are normalized to lowercase 0x form during finalize; comparisons
// elsewhere never rely on EIP-55 casing.
type PaymentConfig struct {
	PublisherAddress          string `yaml:"publisher_address"`
	PaymentProcessorAddress   string `yaml:"payment_processor_address"`
	ProofOfCrawlLedgerAddress string `yaml:"proof_of_crawl_ledger_address"`
	USDCAddress               string `yaml:"usdc_address"`
	CrawlNFTAddress           string `yaml:"crawl_nft_address"`
	CrawlTokenID              string `yaml:"crawl_token_id"`

	// PriceUSDC is the human decimal price (up to 6 fractional digits).
	// PriceBaseUnits is derived once during finalize; all comparisons use it.
	PriceUSDC      string `yaml:"price_usdc"`
	PriceBaseUnits int64  `yaml:"-"`
}

// CrawlerConfig holds the User-Agent classification patterns.
// The pattern list is replaceable via YAML or CRAWLER_PATTERNS without code changes.
type CrawlerConfig struct {
	Patterns []string `yaml:"patterns"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// Global in-process limit across all clients (flood guard ahead of the
	// per-IP limiter).
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	// Per-IP KVS-backed window (the protocol-mandated limiter).
	PerIPLimit  int      `yaml:"per_ip_limit"`
	PerIPWindow Duration `yaml:"per_ip_window"`
	CounterTTL  Duration `yaml:"counter_ttl"` // window + grace (default: 120s)
}

// KVSConfig holds shared key-value store configuration.
type KVSConfig struct {
	Backend         string `yaml:"backend"` // "memory" or "mongodb"
	MongoDBURL      string `yaml:"mongodb_url"`
	MongoDBDatabase string `yaml:"mongodb_database"`
}

// ProxyConfig holds origin forwarding configuration.
type ProxyConfig struct {
	OriginURL      string   `yaml:"origin_url"`      // Empty = built-in stub origin
	ForwardTimeout Duration `yaml:"forward_timeout"` // Response-header budget (default: 20s)
}

// CrawlLogConfig holds on-chain crawl logging configuration.
type CrawlLogConfig struct {
	Enabled        bool     `yaml:"enabled"`
	QueueSize      int      `yaml:"queue_size"`      // Bounded job queue (default: 1024)
	MaxRetries     int      `yaml:"max_retries"`     // Per-job retries (default: 3)
	AttemptTimeout Duration `yaml:"attempt_timeout"` // Per-attempt budget (default: 15s)
	GasLimit       uint64   `yaml:"gas_limit"`       // logCrawl gas limit (default: 150000)
}

// MonitoringConfig holds external observability configuration.
type MonitoringConfig struct {
	SentryDSN    string   `yaml:"sentry_dsn"`
	HeartbeatURL string   `yaml:"heartbeat_url"` // Better Uptime heartbeat
	PingInterval Duration `yaml:"ping_interval"` // Heartbeat interval (default: 60s)
	Timeout      Duration `yaml:"timeout"`       // Heartbeat request timeout (default: 5s)
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled   bool                 `yaml:"enabled"`
	ChainRPC  BreakerServiceConfig `yaml:"chain_rpc"`
	Origin    BreakerServiceConfig `yaml:"origin"`
	Heartbeat BreakerServiceConfig `yaml:"heartbeat"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}
