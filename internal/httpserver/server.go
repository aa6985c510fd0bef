// Package httpserver assembles the chi router and owns the HTTP listener
// lifecycle.
package httpserver

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tachi-protocol/gateway/internal/config"
	"github.com/tachi-protocol/gateway/internal/errors"
	"github.com/tachi-protocol/gateway/internal/gateway"
	"github.com/tachi-protocol/gateway/internal/logger"
	"github.com/tachi-protocol/gateway/internal/metrics"
	"github.com/tachi-protocol/gateway/internal/ratelimit"
)

// Options bundles everything the router needs.
type Options struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	Pipeline *gateway.Handler
	Health   *gateway.Health
	PerIP    *ratelimit.Limiter
}

// Server wraps http.Server with graceful shutdown.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// New builds the router and server.
func New(opts Options) *Server {
	cfg := opts.Config

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(corsMiddleware())
	r.Use(plainOptions)

	// Unmetered operational surface.
	r.Get("/health", opts.Health.Liveness)
	r.Get("/health/detailed", opts.Health.Detailed)
	r.Method(http.MethodGet, "/metrics", adminOnly(cfg.Server.AdminMetricsAPIKey,
		promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))

	// Protected content: everything else goes through the payment pipeline.
	// The request budget lives inside the pipeline, scoped to admission and
	// verification; a router-level timeout would cancel the outgoing origin
	// request and truncate bodies still streaming.
	r.Group(func(r chi.Router) {
		if cfg.RateLimit.GlobalEnabled {
			r.Use(ratelimit.Global(cfg.RateLimit.GlobalLimit, cfg.RateLimit.GlobalWindow.Duration, opts.Metrics))
		}
		r.Use(opts.PerIP.Middleware)
		r.Use(allowMethods)
		r.Use(maxBody(cfg.Server.MaxRequestSize))
		r.Handle("/*", opts.Pipeline)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			Handler:      r,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
		},
		log: opts.Logger,
	}
}

// Start begins serving. Blocks until the listener stops.
func (s *Server) Start() error {
	s.log.Info().Str("address", s.httpServer.Addr).Msg("server.listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("server.shutting_down")
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware allows cross-origin crawler SDKs to read the x402 headers.
func corsMiddleware() func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "User-Agent", "X-402-Payment", "X-Request-ID", "X-Admin-API-Key"},
		ExposedHeaders: []string{
			"X-Request-ID",
			"x402-price", "x402-currency", "x402-chain-id", "x402-recipient",
			"x402-contract", "x402-crawl-nft", "x402-token-id",
		},
		MaxAge: 86400,
	}).Handler
}

// plainOptions answers non-preflight OPTIONS requests directly. Preflights
// carry Access-Control-Request-Method and are consumed by the CORS
// middleware before this runs; anything else would otherwise fall into the
// payment pipeline and could draw a 402 for a crawler User-Agent.
func plainOptions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, User-Agent, X-402-Payment")
		h.Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusOK)
	})
}

// securityHeaders sets the baseline response hardening headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// allowMethods admits only the verbs the payment pipeline understands.
func allowMethods(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions, http.MethodHead:
			next.ServeHTTP(w, r)
		default:
			errors.WriteError(w, errors.ErrCodeBadRequest, "Method not supported.")
		}
	})
}

// maxBody rejects oversized declared bodies up front and hard-caps reads for
// requests without a Content-Length.
func maxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				errors.WriteError(w, errors.ErrCodePayloadTooLarge,
					"Request body exceeds the maximum of "+strconv.FormatInt(limit, 10)+" bytes.")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// adminOnly gates a handler behind the X-Admin-API-Key header. An empty
// configured key leaves the handler open, which is acceptable only on
// private networks.
func adminOnly(key string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key != "" {
			presented := r.Header.Get("X-Admin-API-Key")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				errors.WriteError(w, errors.ErrCodeUnauthorized, "Missing or invalid admin API key.")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
