package config

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	tokenIDPattern = regexp.MustCompile(`^[0-9]+$`)
	keyPattern     = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)
)

// finalize validates required fields and derives computed values.
// Called once at startup; the resulting Config is frozen for the process lifetime.
func (c *Config) finalize() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("config: BASE_RPC_URL is required")
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("config: chain id must be positive, got %d", c.Chain.ChainID)
	}

	addresses := map[string]*string{
		"PUBLISHER_ADDRESS":             &c.Payment.PublisherAddress,
		"PAYMENT_PROCESSOR_ADDRESS":     &c.Payment.PaymentProcessorAddress,
		"PROOF_OF_CRAWL_LEDGER_ADDRESS": &c.Payment.ProofOfCrawlLedgerAddress,
		"USDC_ADDRESS":                  &c.Payment.USDCAddress,
		"CRAWL_NFT_ADDRESS":             &c.Payment.CrawlNFTAddress,
	}
	for name, addr := range addresses {
		if *addr == "" {
			return fmt.Errorf("config: %s is required", name)
		}
		if !addressPattern.MatchString(*addr) {
			return fmt.Errorf("config: %s is not a valid 0x address: %q", name, *addr)
		}
		// Normalized once here; comparisons never rely on EIP-55 casing.
		*addr = strings.ToLower(*addr)
	}

	if c.Payment.CrawlTokenID == "" {
		return fmt.Errorf("config: CRAWL_TOKEN_ID is required")
	}
	if !tokenIDPattern.MatchString(c.Payment.CrawlTokenID) {
		return fmt.Errorf("config: CRAWL_TOKEN_ID must be a decimal integer: %q", c.Payment.CrawlTokenID)
	}

	if c.Payment.PriceUSDC == "" {
		return fmt.Errorf("config: PRICE_USDC is required")
	}
	baseUnits, err := ParsePriceUSDC(c.Payment.PriceUSDC)
	if err != nil {
		return fmt.Errorf("config: PRICE_USDC: %w", err)
	}
	c.Payment.PriceBaseUnits = baseUnits

	if c.Chain.WorkerPrivateKey != "" && !keyPattern.MatchString(c.Chain.WorkerPrivateKey) {
		return fmt.Errorf("config: WORKER_PRIVATE_KEY must be a 32-byte hex key")
	}
	if c.CrawlLog.Enabled && c.Chain.WorkerPrivateKey == "" {
		return fmt.Errorf("config: WORKER_PRIVATE_KEY is required when crawl logging is enabled")
	}

	switch c.KVS.Backend {
	case "memory":
	case "mongodb":
		if c.KVS.MongoDBURL == "" {
			return fmt.Errorf("config: KVS_MONGODB_URL is required for the mongodb backend")
		}
	default:
		return fmt.Errorf("config: unknown kvs backend %q (expected memory or mongodb)", c.KVS.Backend)
	}

	if c.Server.MaxRequestSize <= 0 {
		return fmt.Errorf("config: max request size must be positive, got %d", c.Server.MaxRequestSize)
	}
	if c.RateLimit.PerIPLimit <= 0 {
		return fmt.Errorf("config: per-IP rate limit must be positive, got %d", c.RateLimit.PerIPLimit)
	}
	if len(c.Crawler.Patterns) == 0 {
		return fmt.Errorf("config: crawler pattern list must not be empty")
	}

	return nil
}

// ParsePriceUSDC converts a human decimal USDC amount (up to 6 fractional
// digits) into integer base units. "0.001" -> 1000, "1" -> 1000000.
func ParsePriceUSDC(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 6 {
		return 0, fmt.Errorf("amount %q has more than 6 fractional digits", s)
	}
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("amount %q is not a decimal number", s)
		}
	}

	// Right-pad the fraction to 6 digits and glue onto the whole part.
	frac = frac + strings.Repeat("0", 6-len(frac))
	var units int64
	for _, r := range whole + frac {
		d := int64(r - '0')
		if units > (1<<62)/10 {
			return 0, fmt.Errorf("amount %q overflows base units", s)
		}
		units = units*10 + d
	}
	if units <= 0 {
		return 0, fmt.Errorf("amount %q must be positive", s)
	}
	return units, nil
}
