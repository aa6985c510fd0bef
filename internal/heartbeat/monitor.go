// Package heartbeat pings an external uptime monitor on an interval so a
// wedged process is noticed even when no traffic arrives.
package heartbeat

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tachi-protocol/gateway/internal/circuitbreaker"
	"github.com/tachi-protocol/gateway/internal/httputil"
)

// Monitor pings a heartbeat URL until stopped.
type Monitor struct {
	url      string
	interval time.Duration
	client   *http.Client
	breakers *circuitbreaker.Manager
	log      zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a heartbeat monitor. A missed ping is only logged; the monitor
// service decides when silence becomes an incident.
func New(url string, interval, timeout time.Duration, breakers *circuitbreaker.Manager, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		url:      url,
		interval: interval,
		client:   httputil.NewClient(timeout),
		breakers: breakers,
		log:      log.With().Str("component", "heartbeat").Logger(),
		done:     make(chan struct{}),
	}
}

// Start launches the ping loop.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.ping(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.ping(ctx)
			}
		}
	}()
}

// Close stops the loop. Implements the lifecycle closer contract.
func (m *Monitor) Close() error {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	return nil
}

func (m *Monitor) ping(ctx context.Context) {
	_, err := m.breakers.Execute(circuitbreaker.ServiceHeartbeat, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := m.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("heartbeat endpoint returned %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil && ctx.Err() == nil {
		m.log.Warn().Err(err).Msg("heartbeat.ping_failed")
	}
}
