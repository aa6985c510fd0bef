package httputil

import (
	"net/http"
	"time"
)

// NewClient creates an HTTP client with a pooled transport and an overall
// request timeout. Suitable for small request/response exchanges such as
// heartbeat pings. Not used by the origin forwarder, whose streaming bodies
// must not inherit a whole-request deadline.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
