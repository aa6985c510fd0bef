package circuitbreaker

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/tachi-protocol/gateway/internal/config"
)

// ServiceType identifies external services for circuit breaker isolation.
type ServiceType string

const (
	ServiceChainRPC  ServiceType = "chain_rpc"
	ServiceOrigin    ServiceType = "origin"
	ServiceHeartbeat ServiceType = "heartbeat"
)

// Manager manages circuit breakers for the gateway's external dependencies.
// Each service has its own breaker so a degraded RPC endpoint cannot take
// origin forwarding down with it.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	enabled  bool
}

// NewManagerFromConfig creates a circuit breaker manager from gateway config.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		enabled:  cfg.Enabled,
	}

	if !cfg.Enabled {
		return m
	}

	m.breakers[ServiceChainRPC] = gobreaker.NewCircuitBreaker(toSettings(string(ServiceChainRPC), cfg.ChainRPC))
	m.breakers[ServiceOrigin] = gobreaker.NewCircuitBreaker(toSettings(string(ServiceOrigin), cfg.Origin))
	m.breakers[ServiceHeartbeat] = gobreaker.NewCircuitBreaker(toSettings(string(ServiceHeartbeat), cfg.Heartbeat))

	return m
}

// Execute wraps a call with circuit breaker protection. Disabled or
// unconfigured services pass through.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if !m.enabled {
		return fn()
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}
	return breaker.Execute(fn)
}

// State returns the current state of a circuit breaker.
func (m *Manager) State(service ServiceType) string {
	if !m.enabled {
		return "disabled"
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}
	return breaker.State().String()
}

// toSettings converts gateway config to gobreaker.Settings.
func toSettings(name string, cfg config.BreakerServiceConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval.Duration,
		Timeout:     cfg.Timeout.Duration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				if failureRate >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit_breaker.state_change")
		},
	}
}

// ErrOpen reports whether err is a breaker-open rejection.
func ErrOpen(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}

// DefaultTimeout is the fallback open-state timeout when config omits one.
const DefaultTimeout = 30 * time.Second
