package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultCrawlerPatterns is the closed set of known AI and indexing crawler
// User-Agent patterns. Matching is case-insensitive.
var DefaultCrawlerPatterns = []string{
	"GPTBot",
	"ChatGPT-User",
	"Claude-Web",
	"anthropic-ai",
	"Claude",
	"PerplexityBot",
	"CCBot",
	"Google-Extended",
	"Bingbot",
	"YandexBot",
	"Baiduspider",
	"Meta-ExternalAgent",
	"facebookexternalhit",
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        ":8080",
			ReadTimeout:    Duration{Duration: 15 * time.Second},
			WriteTimeout:   Duration{Duration: 30 * time.Second},
			IdleTimeout:    Duration{Duration: 60 * time.Second},
			RequestTimeout: Duration{Duration: 10 * time.Second},
			MaxRequestSize: 1 << 20, // 1 MiB
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "development",
		},
		Chain: ChainConfig{
			ChainID:       8453,
			VerifyTimeout: Duration{Duration: 5 * time.Second},
		},
		Crawler: CrawlerConfig{
			Patterns: append([]string(nil), DefaultCrawlerPatterns...),
		},
		RateLimit: RateLimitConfig{
			GlobalEnabled: true,
			GlobalLimit:   2000,
			GlobalWindow:  Duration{Duration: 1 * time.Minute},
			PerIPLimit:    100,
			PerIPWindow:   Duration{Duration: 1 * time.Minute},
			CounterTTL:    Duration{Duration: 2 * time.Minute},
		},
		KVS: KVSConfig{
			Backend:         "memory",
			MongoDBDatabase: "tachi",
		},
		Proxy: ProxyConfig{
			ForwardTimeout: Duration{Duration: 20 * time.Second},
		},
		CrawlLog: CrawlLogConfig{
			Enabled:        false,
			QueueSize:      1024,
			MaxRetries:     3,
			AttemptTimeout: Duration{Duration: 15 * time.Second},
			GasLimit:       150000,
		},
		Monitoring: MonitoringConfig{
			PingInterval: Duration{Duration: 60 * time.Second},
			Timeout:      Duration{Duration: 5 * time.Second},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			ChainRPC: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Origin: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 15 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
			Heartbeat: BreakerServiceConfig{
				MaxRequests:         1,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
