package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration. The names
// match the deployment surface the crawler SDK documentation references.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "SERVER_ADDRESS")
	setInt64IfEnv(&c.Server.MaxRequestSize, "MAX_REQUEST_SIZE")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "ADMIN_METRICS_API_KEY")

	// Logging config
	setIfEnv(&c.Logging.Level, "LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "ENVIRONMENT")

	// Chain config
	setIfEnv(&c.Chain.RPCURL, "BASE_RPC_URL")
	setInt64IfEnv(&c.Chain.ChainID, "CHAIN_ID")
	setIfEnv(&c.Chain.WorkerPrivateKey, "WORKER_PRIVATE_KEY")

	// Payment config
	setIfEnv(&c.Payment.PublisherAddress, "PUBLISHER_ADDRESS")
	setIfEnv(&c.Payment.PaymentProcessorAddress, "PAYMENT_PROCESSOR_ADDRESS")
	setIfEnv(&c.Payment.ProofOfCrawlLedgerAddress, "PROOF_OF_CRAWL_LEDGER_ADDRESS")
	setIfEnv(&c.Payment.USDCAddress, "USDC_ADDRESS")
	setIfEnv(&c.Payment.CrawlNFTAddress, "CRAWL_NFT_ADDRESS")
	setIfEnv(&c.Payment.CrawlTokenID, "CRAWL_TOKEN_ID")
	setIfEnv(&c.Payment.PriceUSDC, "PRICE_USDC")

	// Crawler patterns (comma-separated list replaces the full set)
	if v := os.Getenv("CRAWLER_PATTERNS"); v != "" {
		parts := strings.Split(v, ",")
		patterns := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				patterns = append(patterns, p)
			}
		}
		if len(patterns) > 0 {
			c.Crawler.Patterns = patterns
		}
	}

	// Rate limiting
	setIntIfEnv(&c.RateLimit.PerIPLimit, "RATE_LIMIT_REQUESTS")
	setBoolIfEnv(&c.RateLimit.GlobalEnabled, "RATE_LIMIT_GLOBAL_ENABLED")
	setIntIfEnv(&c.RateLimit.GlobalLimit, "RATE_LIMIT_GLOBAL_LIMIT")

	// KVS config
	setIfEnv(&c.KVS.Backend, "KVS_BACKEND")
	setIfEnv(&c.KVS.MongoDBURL, "KVS_MONGODB_URL")
	setIfEnv(&c.KVS.MongoDBDatabase, "KVS_MONGODB_DATABASE")

	// Proxy config
	setIfEnv(&c.Proxy.OriginURL, "ORIGIN_URL")
	setDurationIfEnv(&c.Proxy.ForwardTimeout, "ORIGIN_FORWARD_TIMEOUT")

	// Crawl logging
	setBoolIfEnv(&c.CrawlLog.Enabled, "ENABLE_LOGGING")
	setIntIfEnv(&c.CrawlLog.QueueSize, "CRAWL_LOG_QUEUE_SIZE")

	// Monitoring
	setIfEnv(&c.Monitoring.SentryDSN, "SENTRY_DSN")
	setIfEnv(&c.Monitoring.HeartbeatURL, "BETTER_UPTIME_HEARTBEAT_URL")
	setDurationIfEnv(&c.Monitoring.PingInterval, "HEARTBEAT_PING_INTERVAL")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setIntIfEnv sets an int pointer from an environment variable.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setInt64IfEnv sets an int64 pointer from an environment variable.
func setInt64IfEnv(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}
