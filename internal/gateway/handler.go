// Package gateway wires the payment pipeline: classify the client, challenge
// or verify payment, guard against replays, proxy to the origin, and record
// the crawl on chain.
package gateway

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tachi-protocol/gateway/internal/crawler"
	"github.com/tachi-protocol/gateway/internal/crawllog"
	apierrors "github.com/tachi-protocol/gateway/internal/errors"
	"github.com/tachi-protocol/gateway/internal/logger"
	"github.com/tachi-protocol/gateway/internal/metrics"
	"github.com/tachi-protocol/gateway/internal/replay"
	"github.com/tachi-protocol/gateway/pkg/x402"
)

// CrawlLogger is the async ledger sink. Nil-able via the noop implementation
// so the pipeline does not branch on configuration.
type CrawlLogger interface {
	Enqueue(job crawllog.Job)
}

// NoopCrawlLogger discards crawl records; used when on-chain logging is
// disabled.
type NoopCrawlLogger struct{}

func (NoopCrawlLogger) Enqueue(crawllog.Job) {}

// Handler is the per-request payment pipeline.
type Handler struct {
	classifier *crawler.Classifier
	challenge  x402.Challenge
	verifier   x402.Verifier
	guard      *replay.Guard
	crawlLog   CrawlLogger
	origin     http.Handler
	tokenID    *big.Int
	budget     time.Duration
	metrics    *metrics.Metrics
}

// New assembles the pipeline. tokenID is the publisher's license token id,
// already validated as a decimal string. budget bounds proof verification
// and replay claiming; zero disables the bound. Origin proxying runs on the
// request's own context so streaming bodies are never cut by the budget.
func New(
	classifier *crawler.Classifier,
	challenge x402.Challenge,
	verifier x402.Verifier,
	guard *replay.Guard,
	crawlLog CrawlLogger,
	origin http.Handler,
	tokenID *big.Int,
	budget time.Duration,
	m *metrics.Metrics,
) *Handler {
	if crawlLog == nil {
		crawlLog = NoopCrawlLogger{}
	}
	return &Handler{
		classifier: classifier,
		challenge:  challenge,
		verifier:   verifier,
		guard:      guard,
		crawlLog:   crawlLog,
		origin:     origin,
		tokenID:    tokenID,
		budget:     budget,
		metrics:    m,
	}
}

// ServeHTTP runs one request through the pipeline.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	if !h.classifier.IsAICrawler(r.UserAgent()) {
		if h.metrics != nil {
			h.metrics.PassthroughTotal.Inc()
		}
		h.origin.ServeHTTP(w, r)
		h.observe("passthrough", start)
		return
	}

	authorization := r.Header.Get("Authorization")
	payment := r.Header.Get(x402.HeaderPayment)

	if !x402.HasProof(authorization, payment) {
		log.Info().Str("user_agent", r.UserAgent()).Msg("gateway.challenge_issued")
		if h.metrics != nil {
			h.metrics.ChallengesTotal.Inc()
		}
		h.challenge.WriteResponse(w, "")
		h.observe("challenged", start)
		return
	}

	proof, err := x402.ParseProof(authorization, payment)
	if err != nil {
		h.reject(w, r, err)
		h.observe("rejected", start)
		return
	}

	// The budget covers verification and claiming only, not the proxied
	// response: origin streaming is bounded by the forwarder's own
	// response-header timeout and otherwise paced by the client.
	verifyCtx := ctx
	if h.budget > 0 {
		var cancel context.CancelFunc
		verifyCtx, cancel = context.WithTimeout(ctx, h.budget)
		defer cancel()
	}

	verified, err := h.verifier.Verify(verifyCtx, proof)
	if err != nil {
		h.reject(w, r, err)
		h.observe(outcomeFor(err), start)
		return
	}

	// A cancelled request must not consume the hash: the client never saw
	// a response, so the payment stays spendable.
	if ctx.Err() != nil {
		h.observe("cancelled", start)
		return
	}

	claimed, err := h.guard.Claim(verifyCtx, verified.TxHash)
	if err != nil {
		log.Error().Err(err).Msg("gateway.replay_claim_failed")
		apierrors.WriteError(w, apierrors.ErrCodeUpstreamUnavailable, "Payment verification is temporarily unavailable. Retry shortly.")
		h.observe("store_error", start)
		return
	}
	if !claimed {
		h.reject(w, r, x402.NewVerificationError(apierrors.ErrCodeReplay, errors.New("concurrent consumption of transaction hash")))
		h.observe("replay", start)
		return
	}

	if h.metrics != nil {
		h.metrics.PaymentAmountTotal.Add(float64(verified.AmountBaseUnits.Int64()))
	}
	log.Info().
		Str("tx_hash", logger.TruncateHash(verified.TxHash)).
		Str("payer", verified.PayerAddress).
		Msg("gateway.crawl_paid")

	h.origin.ServeHTTP(w, r)
	h.observe("paid", start)

	// Scheduled only after the response handler returns, so ledger latency
	// never reaches the client.
	h.crawlLog.Enqueue(crawllog.Job{
		TokenID:        h.tokenID,
		CrawlerAddress: common.HexToAddress(verified.PayerAddress),
		UserAgent:      r.UserAgent(),
		Timestamp:      time.Now().Unix(),
	})
}

// reject writes a verification failure. All 402 rejections carry the same
// x402 headers as a fresh challenge so crawler SDKs can recover in place.
func (h *Handler) reject(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	var verr x402.VerificationError
	if !errors.As(err, &verr) {
		log.Error().Err(err).Msg("gateway.verification_internal_error")
		apierrors.WriteError(w, apierrors.ErrCodeInternalError, "Internal error during payment verification.")
		return
	}

	log.Info().
		Str("code", string(verr.Code)).
		Err(verr.Err).
		Msg("gateway.payment_rejected")

	if verr.Code.HTTPStatus() == http.StatusPaymentRequired {
		h.challenge.SetHeaders(w.Header())
	}
	apierrors.WriteError(w, verr.Code, verr.Message)
}

func (h *Handler) observe(outcome string, start time.Time) {
	if h.metrics != nil {
		h.metrics.ObserveRequest(outcome, time.Since(start))
	}
}

func outcomeFor(err error) string {
	var verr x402.VerificationError
	if errors.As(err, &verr) && verr.Code == apierrors.ErrCodeUpstreamUnavailable {
		return "upstream_unavailable"
	}
	return "rejected"
}
