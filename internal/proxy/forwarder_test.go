package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tachi-protocol/gateway/internal/circuitbreaker"
	"github.com/tachi-protocol/gateway/internal/config"
)

func testBreakers() *circuitbreaker.Manager {
	return circuitbreaker.NewManagerFromConfig(config.CircuitBreakerConfig{Enabled: false})
}

func TestForwarderStripsPaymentHeaders(t *testing.T) {
	var seen http.Header
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()

	f, err := New(origin.URL, 5*time.Second, testBreakers(), nil)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/page", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	req.Header.Set("User-Agent", "GPTBot/1.0")
	req.Header.Set("Authorization", "Bearer 0xdeadbeef")
	req.Header.Set("X-402-Payment", "0xdeadbeef,100")
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if seen.Get("Authorization") != "" {
		t.Error("Authorization header leaked to the origin")
	}
	if seen.Get("X-402-Payment") != "" {
		t.Error("X-402-Payment header leaked to the origin")
	}
	if seen.Get("User-Agent") != "GPTBot/1.0" {
		t.Errorf("User-Agent = %q, must be preserved", seen.Get("User-Agent"))
	}
	if seen.Get("X-Forwarded-For") != "203.0.113.9" {
		t.Errorf("X-Forwarded-For = %q", seen.Get("X-Forwarded-For"))
	}
}

func TestForwarderAppendsToForwardedChain(t *testing.T) {
	var seen http.Header
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
	}))
	defer origin.Close()

	f, err := New(origin.URL, 5*time.Second, testBreakers(), nil)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, req)

	if got := seen.Get("X-Forwarded-For"); got != "198.51.100.1, 203.0.113.9" {
		t.Errorf("X-Forwarded-For = %q, want existing chain plus peer", got)
	}
}

func TestForwarderPreservesStatusAndBody(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Custom", "yes")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	defer origin.Close()

	f, err := New(origin.URL, 5*time.Second, testBreakers(), nil)
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want origin's 418", rec.Code)
	}
	if rec.Body.String() != "short and stout" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("X-Custom") != "yes" {
		t.Error("origin response header dropped")
	}
}

func TestForwarderForwardsPathAndQuery(t *testing.T) {
	var gotPath, gotQuery string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
	}))
	defer origin.Close()

	f, err := New(origin.URL, 5*time.Second, testBreakers(), nil)
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/a/b/c?page=2&sort=asc", nil))

	if gotPath != "/a/b/c" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "page=2&sort=asc" {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestForwarderForwardsBody(t *testing.T) {
	var gotBody string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
	}))
	defer origin.Close()

	f, err := New(origin.URL, 5*time.Second, testBreakers(), nil)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader("payload"))
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, req)

	if gotBody != "payload" {
		t.Errorf("body = %q, want payload", gotBody)
	}
}

func TestForwarderUnreachableOriginReturns502(t *testing.T) {
	// Reserved TEST-NET-1 address; nothing listens there.
	f, err := New("http://192.0.2.1:9", 500*time.Millisecond, testBreakers(), nil)
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestForwarderStreamsBodyBeyondHeaderTimeout(t *testing.T) {
	// Headers arrive immediately; the 60-byte body trickles out over well
	// over the forward timeout. Every byte must still reach the client.
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for i := 0; i < 6; i++ {
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte("0123456789"))
			flusher.Flush()
		}
	}))
	defer origin.Close()

	f, err := New(origin.URL, 500*time.Millisecond, testBreakers(), nil)
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slow", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.Len(); got != 60 {
		t.Errorf("body bytes = %d, want all 60; slow streams must outlive the header budget", got)
	}
}

func TestForwarderTimesOutAwaitingHeaders(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer origin.Close()

	f, err := New(origin.URL, 100*time.Millisecond, testBreakers(), nil)
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502 when the origin never sends headers", rec.Code)
	}
}

func TestStubOriginServesPlaceholder(t *testing.T) {
	stub := NewStub("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	rec := httptest.NewRecorder()
	stub.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/anything") {
		t.Error("stub response should echo the requested path")
	}
}
