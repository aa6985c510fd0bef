package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tachi-protocol/gateway/internal/kvs"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// brokenStore fails every operation, simulating a KVS outage.
type brokenStore struct{}

func (brokenStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, errors.New("store unreachable")
}
func (brokenStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return false, errors.New("store unreachable")
}
func (brokenStore) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, errors.New("store unreachable")
}
func (brokenStore) Ping(ctx context.Context) error { return errors.New("store unreachable") }
func (brokenStore) Close() error                   { return nil }

func doRequest(handler http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":54321"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestLimiterAllowsUnderLimit(t *testing.T) {
	store := kvs.NewMemoryStore()
	defer store.Close()
	handler := New(store, 5, time.Minute, 2*time.Minute, nil).Middleware(okHandler)

	for i := 0; i < 5; i++ {
		rec := doRequest(handler, "10.0.0.1")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}
}

func TestLimiterRejectsOverLimit(t *testing.T) {
	store := kvs.NewMemoryStore()
	defer store.Close()
	handler := New(store, 3, time.Minute, 2*time.Minute, nil).Middleware(okHandler)

	for i := 0; i < 3; i++ {
		doRequest(handler, "10.0.0.2")
	}
	rec := doRequest(handler, "10.0.0.2")

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "3" {
		t.Errorf("X-RateLimit-Limit = %q", rec.Header().Get("X-RateLimit-Limit"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestLimiterIsolatesClients(t *testing.T) {
	store := kvs.NewMemoryStore()
	defer store.Close()
	handler := New(store, 1, time.Minute, 2*time.Minute, nil).Middleware(okHandler)

	doRequest(handler, "10.0.0.3")
	if rec := doRequest(handler, "10.0.0.3"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("same client should be limited, got %d", rec.Code)
	}
	if rec := doRequest(handler, "10.0.0.4"); rec.Code != http.StatusOK {
		t.Errorf("different client should pass, got %d", rec.Code)
	}
}

func TestLimiterFailsOpenOnStoreOutage(t *testing.T) {
	handler := New(brokenStore{}, 1, time.Minute, 2*time.Minute, nil).Middleware(okHandler)

	for i := 0; i < 10; i++ {
		rec := doRequest(handler, "10.0.0.5")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d; limiter must fail open", i+1, rec.Code)
		}
	}
}

func TestLimiterRemainingHeaderCountsDown(t *testing.T) {
	store := kvs.NewMemoryStore()
	defer store.Close()
	handler := New(store, 3, time.Minute, 2*time.Minute, nil).Middleware(okHandler)

	want := []string{"2", "1", "0"}
	for i, expected := range want {
		rec := doRequest(handler, "10.0.0.6")
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != expected {
			t.Errorf("request %d: remaining = %q, want %q", i+1, got, expected)
		}
	}
}

func TestGlobalLimiter(t *testing.T) {
	handler := Global(2, time.Minute, nil)(okHandler)

	for i := 0; i < 2; i++ {
		if rec := doRequest(handler, "10.0.0.7"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}
	// The global window counts all clients together.
	if rec := doRequest(handler, "10.0.0.8"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 across clients", rec.Code)
	}
}
