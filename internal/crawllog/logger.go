// Package crawllog records paid crawls on the ProofOfCrawlLedger contract.
// Submissions run strictly after the client response and never extend
// client-visible latency; failures are an observability problem, not a
// request outcome.
package crawllog

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/tachi-protocol/gateway/internal/chain"
	"github.com/tachi-protocol/gateway/internal/metrics"
	"github.com/tachi-protocol/gateway/internal/signer"
)

// ledgerABI covers the single method the gateway calls.
const ledgerABI = `[{"name":"logCrawl","type":"function","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"},{"name":"crawlerAddress","type":"address"},{"name":"userAgent","type":"string"},{"name":"timestamp","type":"uint256"}],"outputs":[]}]`

// maxUserAgentLen bounds calldata size; ledger entries do not need the full
// string to attribute a crawl.
const maxUserAgentLen = 256

// Job is one crawl to record on chain.
type Job struct {
	TokenID        *big.Int
	CrawlerAddress common.Address
	UserAgent      string
	Timestamp      int64

	enqueuedAt time.Time
}

// Config holds the submission parameters.
type Config struct {
	LedgerAddress  common.Address
	ChainID        int64
	QueueSize      int
	MaxRetries     int
	AttemptTimeout time.Duration
	GasLimit       uint64
}

// Logger owns a bounded queue and a single worker that signs and submits
// logCrawl transactions. One worker keeps nonce handling trivially serial.
type Logger struct {
	client  chain.Client
	signer  *signer.Signer
	cfg     Config
	parsed  abi.ABI
	metrics *metrics.Metrics
	log     zerolog.Logger

	queue chan Job
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// New creates a crawl logger and starts its worker.
func New(client chain.Client, s *signer.Signer, cfg Config, m *metrics.Metrics, log zerolog.Logger) (*Logger, error) {
	parsed, err := abi.JSON(strings.NewReader(ledgerABI))
	if err != nil {
		return nil, fmt.Errorf("crawllog: parse ledger abi: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 15 * time.Second
	}

	l := &Logger{
		client:  client,
		signer:  s,
		cfg:     cfg,
		parsed:  parsed,
		metrics: m,
		log:     log.With().Str("component", "crawllog").Logger(),
		queue:   make(chan Job, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Enqueue schedules a crawl for on-chain logging. It never blocks: when the
// queue is full the job is dropped and counted, because holding up request
// handlers for ledger writes would invert the latency contract. Handlers
// that outlive shutdown get the same treatment; a late job is dropped, not
// a panic.
func (l *Logger) Enqueue(job Job) {
	if len(job.UserAgent) > maxUserAgentLen {
		job.UserAgent = job.UserAgent[:maxUserAgentLen]
	}
	job.enqueuedAt = time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.drop(job, "crawllog.enqueue_after_close_dropped")
		return
	}

	select {
	case l.queue <- job:
		if l.metrics != nil {
			l.metrics.CrawlLogQueueDepth.Set(float64(len(l.queue)))
		}
	default:
		l.drop(job, "crawllog.queue_full_dropped")
	}
}

func (l *Logger) drop(job Job, msg string) {
	l.log.Warn().
		Str("crawler", job.CrawlerAddress.Hex()).
		Msg(msg)
	if l.metrics != nil {
		l.metrics.CrawlLogsTotal.WithLabelValues("dropped").Inc()
	}
}

// Close stops intake and drains queued jobs. Jobs still queued when ctx
// expires are dropped with a count. The intake flag flips under the same
// lock Enqueue holds while sending, so the channel close below can never
// race a send.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("crawllog: drain interrupted: %w", ctx.Err())
	}
}

func (l *Logger) run() {
	defer close(l.done)
	for job := range l.queue {
		if l.metrics != nil {
			l.metrics.CrawlLogQueueDepth.Set(float64(len(l.queue)))
		}
		l.submitWithRetries(job)
	}
}

// submitWithRetries tries a job up to MaxRetries+1 times with jittered
// backoff (1s, 3s, 9s). The nonce is refreshed from pending state before
// every attempt so a lost race with another submission self-heals.
func (l *Logger) submitWithRetries(job Job) {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if l.metrics != nil {
				l.metrics.CrawlLogRetriesTotal.Inc()
			}
			l.sleep(backoff(attempt))
		}

		txHash, err := l.submit(job)
		if err == nil {
			l.log.Info().
				Str("tx_hash", txHash).
				Str("crawler", job.CrawlerAddress.Hex()).
				Int("attempt", attempt+1).
				Dur("elapsed", time.Since(job.enqueuedAt)).
				Msg("crawllog.submitted")
			if l.metrics != nil {
				l.metrics.CrawlLogsTotal.WithLabelValues("submitted").Inc()
				l.metrics.CrawlLogDuration.Observe(time.Since(job.enqueuedAt).Seconds())
			}
			return
		}
		lastErr = err
		l.log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", l.cfg.MaxRetries+1).
			Msg("crawllog.attempt_failed")
	}

	l.log.Error().
		Err(lastErr).
		Str("crawler", job.CrawlerAddress.Hex()).
		Dur("elapsed", time.Since(start)).
		Msg("crawllog.abandoned")
	if l.metrics != nil {
		l.metrics.CrawlLogsTotal.WithLabelValues("failed").Inc()
	}
}

// submit builds, signs and broadcasts one logCrawl transaction.
func (l *Logger) submit(job Job) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.AttemptTimeout)
	defer cancel()

	data, err := l.parsed.Pack("logCrawl",
		job.TokenID,
		job.CrawlerAddress,
		job.UserAgent,
		big.NewInt(job.Timestamp),
	)
	if err != nil {
		return "", fmt.Errorf("pack logCrawl: %w", err)
	}

	nonce, err := l.client.PendingNonceAt(ctx, l.signer.Address())
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}

	tipCap, err := l.client.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch tip cap: %w", err)
	}
	head, err := l.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("fetch head: %w", err)
	}

	// feeCap = 2*baseFee + tip: survives one doubling of the base fee.
	feeCap := new(big.Int).Add(
		new(big.Int).Mul(head.BaseFee, big.NewInt(2)),
		tipCap,
	)

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   big.NewInt(l.cfg.ChainID),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       l.cfg.GasLimit,
		To:        &l.cfg.LedgerAddress,
		Data:      data,
	})

	signed, err := l.signer.SignTx(tx)
	if err != nil {
		return "", err
	}
	if err := l.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return signed.Hash().Hex(), nil
}

func (l *Logger) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	<-timer.C
}

// backoff returns 1s, 3s, 9s for attempts 1, 2, 3, with up to 20% jitter.
func backoff(attempt int) time.Duration {
	base := time.Second
	for i := 1; i < attempt; i++ {
		base *= 3
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 5))
	return base + jitter
}
