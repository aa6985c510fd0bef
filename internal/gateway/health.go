package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/tachi-protocol/gateway/internal/chain"
	"github.com/tachi-protocol/gateway/internal/circuitbreaker"
	"github.com/tachi-protocol/gateway/internal/kvs"
	"github.com/tachi-protocol/gateway/internal/version"
)

const probeTimeout = 3 * time.Second

// Health serves liveness and dependency probes.
type Health struct {
	chain       chain.Client
	store       kvs.Store
	breakers    *circuitbreaker.Manager
	network     string
	environment string
}

// NewHealth creates the health surface.
func NewHealth(chainClient chain.Client, store kvs.Store, breakers *circuitbreaker.Manager, network, environment string) *Health {
	return &Health{
		chain:       chainClient,
		store:       store,
		breakers:    breakers,
		network:     network,
		environment: environment,
	}
}

// Liveness always answers 200 while the process can serve requests.
func (h *Health) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"version":     version.Version,
		"environment": h.environment,
	})
}

// Detailed probes the chain endpoint and the KVS. Any failed probe turns the
// overall status to 503 so orchestrators can rotate the instance.
func (h *Health) Detailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	checks := map[string]interface{}{}
	healthy := true

	chainCheck := map[string]interface{}{"network": h.network}
	if block, err := h.chain.BlockNumber(ctx); err != nil {
		chainCheck["status"] = "unhealthy"
		chainCheck["error"] = err.Error()
		healthy = false
	} else {
		chainCheck["status"] = "healthy"
		chainCheck["block"] = block
	}
	checks["chain"] = chainCheck

	kvsCheck := map[string]interface{}{}
	if err := h.store.Ping(ctx); err != nil {
		kvsCheck["status"] = "unhealthy"
		kvsCheck["error"] = err.Error()
		healthy = false
	} else {
		kvsCheck["status"] = "healthy"
	}
	checks["kvs"] = kvsCheck

	checks["circuit_breakers"] = map[string]string{
		"chain_rpc": h.breakers.State(circuitbreaker.ServiceChainRPC),
		"origin":    h.breakers.State(circuitbreaker.ServiceOrigin),
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":      status,
		"version":     version.Version,
		"environment": h.environment,
		"checks":      checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
