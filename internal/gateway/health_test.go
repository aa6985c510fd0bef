package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/tachi-protocol/gateway/internal/circuitbreaker"
	"github.com/tachi-protocol/gateway/internal/config"
	"github.com/tachi-protocol/gateway/internal/kvs"
)

// probeChain fakes the chain client for health checks.
type probeChain struct {
	blockErr error
}

func (p *probeChain) TransactionReceipt(ctx context.Context, h common.Hash) (*ethtypes.Receipt, error) {
	return nil, nil
}
func (p *probeChain) BlockNumber(ctx context.Context) (uint64, error) {
	if p.blockErr != nil {
		return 0, p.blockErr
	}
	return 4242, nil
}
func (p *probeChain) HeaderByNumber(ctx context.Context, n *big.Int) (*ethtypes.Header, error) {
	return nil, nil
}
func (p *probeChain) PendingNonceAt(ctx context.Context, a common.Address) (uint64, error) {
	return 0, nil
}
func (p *probeChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) { return nil, nil }
func (p *probeChain) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	return nil
}
func (p *probeChain) Close() {}

func newHealth(t *testing.T, chainErr error) *Health {
	t.Helper()
	store := kvs.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	breakers := circuitbreaker.NewManagerFromConfig(config.CircuitBreakerConfig{Enabled: false})
	return NewHealth(&probeChain{blockErr: chainErr}, store, breakers, "base-sepolia", "test")
}

func TestLiveness(t *testing.T) {
	h := newHealth(t, nil)
	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestDetailedHealthy(t *testing.T) {
	h := newHealth(t, nil)
	rec := httptest.NewRecorder()
	h.Detailed(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rec.Code, rec.Body.String())
	}
}

func TestDetailedDegradedOnChainFailure(t *testing.T) {
	h := newHealth(t, errors.New("rpc down"))
	rec := httptest.NewRecorder()
	h.Detailed(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
}
