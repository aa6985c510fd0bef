// Package ratelimit protects the gateway with two layers: an in-process
// global flood guard and a per-IP fixed window shared across instances
// through the KVS.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/tachi-protocol/gateway/internal/errors"
	"github.com/tachi-protocol/gateway/internal/kvs"
	"github.com/tachi-protocol/gateway/internal/logger"
	"github.com/tachi-protocol/gateway/internal/metrics"
)

// Limiter is the KVS-backed per-IP fixed window limiter. If the store is
// unreachable it fails open: availability beats strict limiting, and the
// failure counter makes degraded protection visible to operators.
type Limiter struct {
	store   kvs.Store
	limit   int
	window  time.Duration
	ttl     time.Duration
	metrics *metrics.Metrics
}

// New creates a per-IP limiter. ttl should exceed window so a bucket
// outlives its own window by a grace period.
func New(store kvs.Store, limit int, window, ttl time.Duration, m *metrics.Metrics) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	if ttl <= 0 {
		ttl = 2 * window
	}
	return &Limiter{
		store:   store,
		limit:   limit,
		window:  window,
		ttl:     ttl,
		metrics: m,
	}
}

// Middleware enforces the per-IP window. Counting is approximate across
// instances; the replay guard, not this limiter, carries the correctness
// burden.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := logger.RemoteAddr(r)
		now := time.Now()
		windowID := now.Unix() / int64(l.window.Seconds())
		key := fmt.Sprintf("rate:%s:%d", ip, windowID)

		count, err := l.store.Incr(ctx, key, l.ttl)
		if err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Str("ip", ip).Msg("ratelimit.store_failed_open")
			if l.metrics != nil {
				l.metrics.RateLimitStoreFailuresTotal.Inc()
			}
			next.ServeHTTP(w, r)
			return
		}

		remaining := int64(l.limit) - count
		if remaining < 0 {
			remaining = 0
		}
		header := w.Header()
		header.Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
		header.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(l.limit) {
			windowEnd := (windowID + 1) * int64(l.window.Seconds())
			retryAfter := windowEnd - now.Unix()
			if retryAfter < 1 {
				retryAfter = 1
			}
			header.Set("Retry-After", strconv.FormatInt(retryAfter, 10))

			if l.metrics != nil {
				l.metrics.ObserveRateLimit("per_ip")
			}
			log := logger.FromContext(ctx)
			log.Warn().
				Str("ip", ip).
				Int64("count", count).
				Int("limit", l.limit).
				Msg("ratelimit.rejected")
			errors.WriteError(w, errors.ErrCodeRateLimited, "Rate limit exceeded. Slow down and retry after the indicated delay.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Global returns the in-process flood guard that runs ahead of the KVS
// limiter. It needs no shared state, so it keeps working when the KVS is
// down.
func Global(limit int, window time.Duration, m *metrics.Metrics) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return "global", nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if m != nil {
				m.ObserveRateLimit("global")
			}
			errors.WriteError(w, errors.ErrCodeRateLimited, "The service is under heavy load. Retry shortly.")
		}),
	)
}
