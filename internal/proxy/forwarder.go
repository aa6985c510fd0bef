// Package proxy forwards requests to the publisher's origin after the
// payment pipeline has cleared them.
package proxy

import (
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tachi-protocol/gateway/internal/circuitbreaker"
	"github.com/tachi-protocol/gateway/internal/errors"
	"github.com/tachi-protocol/gateway/internal/logger"
	"github.com/tachi-protocol/gateway/internal/metrics"
	"github.com/tachi-protocol/gateway/pkg/x402"
)

// hopByHopHeaders are connection-scoped and must not cross the proxy.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder relays cleared requests to the origin and streams the response
// back. Payment proof headers never reach the origin.
type Forwarder struct {
	origin   *url.URL
	client   *http.Client
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
}

// New creates a forwarder for the given origin URL. The timeout bounds the
// wait for the origin's response headers only; body streaming is paced by
// the client and may run longer.
func New(originURL string, timeout time.Duration, breakers *circuitbreaker.Manager, m *metrics.Metrics) (*Forwarder, error) {
	origin, err := url.Parse(originURL)
	if err != nil {
		return nil, err
	}
	return &Forwarder{
		origin: origin,
		// No Client.Timeout here: that would cover the full body read and
		// truncate slow streaming responses after headers are committed.
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: timeout,
			},
		},
		breakers: breakers,
		metrics:  m,
	}, nil
}

// ServeHTTP forwards the request to the origin. Any transport failure maps
// to 502; the origin's own status codes pass through untouched.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logger.FromContext(r.Context())

	outReq, err := f.buildRequest(r)
	if err != nil {
		log.Error().Err(err).Msg("proxy.build_request_failed")
		f.fail(w)
		return
	}

	result, err := f.breakers.Execute(circuitbreaker.ServiceOrigin, func() (interface{}, error) {
		return f.client.Do(outReq)
	})
	if f.metrics != nil {
		f.metrics.ProxyDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.Error().Err(err).Str("origin", f.origin.String()).Msg("proxy.origin_unreachable")
		f.fail(w)
		return
	}
	resp := result.(*http.Response)
	defer resp.Body.Close()

	header := w.Header()
	for name, values := range resp.Header {
		if isHopByHop(name) {
			continue
		}
		header[name] = values
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		// Headers are already committed; nothing to do but log.
		log.Warn().Err(err).Msg("proxy.stream_interrupted")
	}
}

// buildRequest clones the incoming request against the origin base URL with
// a sanitized header set.
func (f *Forwarder) buildRequest(r *http.Request) (*http.Request, error) {
	target := *f.origin
	target.Path = singleJoin(f.origin.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		return nil, err
	}
	outReq.ContentLength = r.ContentLength

	for name, values := range r.Header {
		if isHopByHop(name) {
			continue
		}
		outReq.Header[name] = values
	}

	// Payment proofs are gateway-internal credentials.
	outReq.Header.Del("Authorization")
	outReq.Header.Del(x402.HeaderPayment)

	appendForwardedFor(outReq, r)
	outReq.Header.Set("X-Forwarded-Host", r.Host)
	if r.TLS != nil {
		outReq.Header.Set("X-Forwarded-Proto", "https")
	} else if outReq.Header.Get("X-Forwarded-Proto") == "" {
		outReq.Header.Set("X-Forwarded-Proto", "http")
	}

	return outReq, nil
}

func (f *Forwarder) fail(w http.ResponseWriter) {
	if f.metrics != nil {
		f.metrics.ProxyErrorsTotal.Inc()
	}
	errors.WriteError(w, errors.ErrCodeProxyError, "The origin server could not be reached.")
}

// appendForwardedFor adds the direct peer's IP to any existing
// X-Forwarded-For chain instead of replacing it.
func appendForwardedFor(outReq *http.Request, r *http.Request) {
	clientIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		clientIP = host
	}
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		outReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

func singleJoin(a, b string) string {
	aSlash := strings.HasSuffix(a, "/")
	bSlash := strings.HasPrefix(b, "/")
	switch {
	case aSlash && bSlash:
		return a + b[1:]
	case !aSlash && !bSlash:
		return a + "/" + b
	default:
		return a + b
	}
}
