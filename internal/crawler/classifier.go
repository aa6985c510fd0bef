// Package crawler classifies HTTP clients by User-Agent. Only traffic that
// matches the configured AI-crawler pattern set is subject to payment;
// everything else is proxied straight through.
package crawler

import (
	"fmt"
	"regexp"
	"strings"
)

// Classifier matches User-Agent strings against a closed pattern set.
// Immutable after construction; safe for concurrent use.
type Classifier struct {
	patterns []*regexp.Regexp
}

// New compiles the given patterns case-insensitively. Patterns come from
// configuration so publishers can extend the set without code changes.
func New(patterns []string) (*Classifier, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("crawler: pattern list must not be empty")
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("crawler: compile pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}

	return &Classifier{patterns: compiled}, nil
}

// IsAICrawler reports whether the User-Agent belongs to a known AI crawler.
func (c *Classifier) IsAICrawler(userAgent string) bool {
	ua := strings.TrimSpace(userAgent)
	if ua == "" {
		return false
	}
	for _, re := range c.patterns {
		if re.MatchString(ua) {
			return true
		}
	}
	return false
}
