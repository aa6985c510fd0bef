package gateway

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tachi-protocol/gateway/internal/crawler"
	"github.com/tachi-protocol/gateway/internal/crawllog"
	apierrors "github.com/tachi-protocol/gateway/internal/errors"
	"github.com/tachi-protocol/gateway/internal/kvs"
	"github.com/tachi-protocol/gateway/internal/replay"
	"github.com/tachi-protocol/gateway/pkg/x402"
)

const testTxHash = "0xab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"

// stubVerifier approves or rejects every proof.
type stubVerifier struct {
	err error
}

func (s stubVerifier) Verify(ctx context.Context, proof x402.PaymentProof) (x402.VerifiedPayment, error) {
	if s.err != nil {
		return x402.VerifiedPayment{}, s.err
	}
	return x402.VerifiedPayment{
		TxHash:          proof.TxHash,
		PayerAddress:    "0x9999999999999999999999999999999999999999",
		AmountBaseUnits: big.NewInt(1000),
		BlockNumber:     1,
	}, nil
}

// captureCrawlLog records enqueued jobs.
type captureCrawlLog struct {
	mu   sync.Mutex
	jobs []crawllog.Job
}

func (c *captureCrawlLog) Enqueue(job crawllog.Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, job)
}

func (c *captureCrawlLog) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

type fixture struct {
	handler  *Handler
	crawlLog *captureCrawlLog
	store    *kvs.MemoryStore
}

func newFixture(t *testing.T, verifier x402.Verifier) *fixture {
	t.Helper()

	classifier, err := crawler.New([]string{"GPTBot", "Claude"})
	if err != nil {
		t.Fatal(err)
	}
	store := kvs.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	origin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Origin", "hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("origin content"))
	})

	capture := &captureCrawlLog{}
	h := New(
		classifier,
		x402.Challenge{
			PriceUSDC:      "0.001",
			PriceBaseUnits: 1000,
			Network:        "base",
			ChainID:        8453,
			Recipient:      "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
			TokenAddress:   "0xdddddddddddddddddddddddddddddddddddddddd",
			TokenID:        "42",
		},
		verifier,
		replay.New(store, time.Hour),
		capture,
		origin,
		big.NewInt(42),
		5*time.Second,
		nil,
	)
	return &fixture{handler: h, crawlLog: capture, store: store}
}

func TestPassthroughForRegularBrowser(t *testing.T) {
	f := newFixture(t, stubVerifier{})

	req := httptest.NewRequest(http.MethodGet, "/article", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 Chrome/120.0")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Origin") != "hit" {
		t.Error("request did not reach the origin")
	}
	if f.crawlLog.count() != 0 {
		t.Error("passthrough traffic must not be logged on chain")
	}
}

func TestCrawlerWithoutProofGetsChallenge(t *testing.T) {
	f := newFixture(t, stubVerifier{})

	req := httptest.NewRequest(http.MethodGet, "/article", nil)
	req.Header.Set("User-Agent", "GPTBot/1.0")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	if got := rec.Header()["x402-price"]; len(got) != 1 || got[0] != "1000" {
		t.Errorf("x402-price = %v, want [1000]", got)
	}
	if rec.Header().Get("X-Origin") != "" {
		t.Error("unpaid crawler must not reach the origin")
	}
}

func TestCrawlerWithValidProofGetsContent(t *testing.T) {
	f := newFixture(t, stubVerifier{})

	req := httptest.NewRequest(http.MethodGet, "/article", nil)
	req.Header.Set("User-Agent", "GPTBot/1.0")
	req.Header.Set("Authorization", "Bearer "+testTxHash)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "origin content" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if f.crawlLog.count() != 1 {
		t.Fatalf("crawl log jobs = %d, want 1", f.crawlLog.count())
	}
	job := f.crawlLog.jobs[0]
	if job.TokenID.Cmp(big.NewInt(42)) != 0 {
		t.Errorf("token id = %v, want 42", job.TokenID)
	}
	if job.UserAgent != "GPTBot/1.0" {
		t.Errorf("user agent = %q", job.UserAgent)
	}
}

func TestReplayedProofIsRejected(t *testing.T) {
	f := newFixture(t, stubVerifier{})

	first := httptest.NewRequest(http.MethodGet, "/article", nil)
	first.Header.Set("User-Agent", "GPTBot/1.0")
	first.Header.Set("Authorization", "Bearer "+testTxHash)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", rec.Code)
	}

	second := httptest.NewRequest(http.MethodGet, "/other", nil)
	second.Header.Set("User-Agent", "GPTBot/1.0")
	second.Header.Set("Authorization", "Bearer "+testTxHash)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, second)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("replayed request: status = %d, want 402", rec.Code)
	}
	if f.crawlLog.count() != 1 {
		t.Errorf("crawl log jobs = %d; replay must not produce a second entry", f.crawlLog.count())
	}
}

func TestMalformedProofIsRejectedWithChallengeHeaders(t *testing.T) {
	f := newFixture(t, stubVerifier{})

	req := httptest.NewRequest(http.MethodGet, "/article", nil)
	req.Header.Set("User-Agent", "GPTBot/1.0")
	req.Header.Set("Authorization", "Bearer 0xnothex")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	if got := rec.Header()["x402-recipient"]; len(got) != 1 {
		t.Error("rejections should carry the challenge headers for SDK recovery")
	}
}

func TestVerifierOutageReturns503(t *testing.T) {
	outage := x402.NewVerificationError(apierrors.ErrCodeUpstreamUnavailable, context.DeadlineExceeded)
	f := newFixture(t, stubVerifier{err: outage})

	req := httptest.NewRequest(http.MethodGet, "/article", nil)
	req.Header.Set("User-Agent", "GPTBot/1.0")
	req.Header.Set("Authorization", "Bearer "+testTxHash)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if f.crawlLog.count() != 0 {
		t.Error("failed verification must not log a crawl")
	}
}

// deadlineVerifier records whether the verification context carried a deadline.
type deadlineVerifier struct {
	stubVerifier
	sawDeadline bool
}

func (d *deadlineVerifier) Verify(ctx context.Context, proof x402.PaymentProof) (x402.VerifiedPayment, error) {
	_, d.sawDeadline = ctx.Deadline()
	return d.stubVerifier.Verify(ctx, proof)
}

func TestBudgetBoundsVerificationButNotOrigin(t *testing.T) {
	classifier, err := crawler.New([]string{"GPTBot"})
	if err != nil {
		t.Fatal(err)
	}
	store := kvs.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	verifier := &deadlineVerifier{}
	var originSawDeadline bool
	origin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, originSawDeadline = r.Context().Deadline()
		w.WriteHeader(http.StatusOK)
	})

	h := New(
		classifier,
		x402.Challenge{PriceUSDC: "0.001", PriceBaseUnits: 1000, Network: "base", ChainID: 8453},
		verifier,
		replay.New(store, time.Hour),
		nil,
		origin,
		big.NewInt(1),
		2*time.Second,
		nil,
	)

	req := httptest.NewRequest(http.MethodGet, "/article", nil)
	req.Header.Set("User-Agent", "GPTBot/1.0")
	req.Header.Set("Authorization", "Bearer "+testTxHash)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !verifier.sawDeadline {
		t.Error("verification must run under the request budget")
	}
	if originSawDeadline {
		t.Error("the budget must not reach the origin request; it would cut streaming bodies")
	}
}

func TestPaymentHeaderAlternateForm(t *testing.T) {
	f := newFixture(t, stubVerifier{})

	req := httptest.NewRequest(http.MethodGet, "/article", nil)
	req.Header.Set("User-Agent", "Claude-Web/1.0")
	req.Header.Set("X-402-Payment", testTxHash+",1000")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
