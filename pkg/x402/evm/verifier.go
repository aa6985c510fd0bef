// Package evm verifies x402 payment proofs against USDC transfers on Base.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/tachi-protocol/gateway/internal/chain"
	apierrors "github.com/tachi-protocol/gateway/internal/errors"
	"github.com/tachi-protocol/gateway/internal/logger"
	"github.com/tachi-protocol/gateway/internal/metrics"
	"github.com/tachi-protocol/gateway/internal/replay"
	"github.com/tachi-protocol/gateway/internal/rpcutil"
	"github.com/tachi-protocol/gateway/pkg/x402"
)

// Verifier validates payment proofs by inspecting transaction receipts for a
// qualifying USDC Transfer to the payment processor.
type Verifier struct {
	client         chain.Client
	guard          *replay.Guard
	usdc           common.Address
	processor      common.Address
	priceBaseUnits *big.Int
	transferTopic  common.Hash
	budget         time.Duration
	metrics        *metrics.Metrics
}

// Config carries the immutable verification parameters.
type Config struct {
	USDCAddress             string
	PaymentProcessorAddress string
	PriceBaseUnits          int64
	VerifyBudget            time.Duration
}

// New creates a verifier. Addresses are parsed once here; comparisons against
// receipt logs are 20-byte equality, never string casing.
func New(client chain.Client, guard *replay.Guard, cfg Config, m *metrics.Metrics) *Verifier {
	budget := cfg.VerifyBudget
	if budget <= 0 {
		budget = x402.VerifyBudget
	}
	return &Verifier{
		client:         client,
		guard:          guard,
		usdc:           common.HexToAddress(cfg.USDCAddress),
		processor:      common.HexToAddress(cfg.PaymentProcessorAddress),
		priceBaseUnits: big.NewInt(cfg.PriceBaseUnits),
		transferTopic:  common.HexToHash(x402.TransferEventTopic),
		budget:         budget,
		metrics:        m,
	}
}

// Verify checks a payment proof against the chain. The returned payment's
// payer and amount come from the receipt's Transfer log; nothing the client
// declared is trusted.
func (v *Verifier) Verify(ctx context.Context, proof x402.PaymentProof) (x402.VerifiedPayment, error) {
	start := time.Now()
	payment, err := v.verify(ctx, proof)
	v.observe(time.Since(start), err)
	return payment, err
}

func (v *Verifier) verify(ctx context.Context, proof x402.PaymentProof) (x402.VerifiedPayment, error) {
	ctx, cancel := context.WithTimeout(ctx, v.budget)
	defer cancel()

	log := logger.FromContext(ctx)

	// Cheap replay pre-check before spending any RPC budget. The
	// authoritative claim happens after verification succeeds.
	seen, err := v.guard.Seen(ctx, proof.TxHash)
	if err != nil {
		log.Warn().Err(err).Str("tx_hash", logger.TruncateHash(proof.TxHash)).Msg("verify.replay_precheck_failed")
	} else if seen {
		return x402.VerifiedPayment{}, x402.NewVerificationError(apierrors.ErrCodeReplay, fmt.Errorf("transaction %s already consumed", proof.TxHash))
	}

	receipt, err := rpcutil.WithRetry(ctx, func() (*ethtypes.Receipt, error) {
		return v.client.TransactionReceipt(ctx, common.HexToHash(proof.TxHash))
	})
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return x402.VerifiedPayment{}, x402.NewVerificationError(apierrors.ErrCodeTransactionNotFound, err)
		}
		return x402.VerifiedPayment{}, x402.NewVerificationError(apierrors.ErrCodeUpstreamUnavailable, err)
	}

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return x402.VerifiedPayment{}, x402.NewVerificationError(apierrors.ErrCodeTransactionFailed, fmt.Errorf("transaction %s reverted", proof.TxHash))
	}

	transfer := v.findQualifyingTransfer(receipt.Logs)
	if transfer == nil {
		return x402.VerifiedPayment{}, x402.NewVerificationError(
			apierrors.ErrCodeInsufficientOrWrongRecipient,
			fmt.Errorf("no USDC transfer of >= %s base units to %s in %s", v.priceBaseUnits, v.processor.Hex(), proof.TxHash),
		)
	}

	amount := new(big.Int).SetBytes(transfer.Data)
	payer := common.BytesToAddress(transfer.Topics[1].Bytes())

	if proof.DeclaredAmount != nil && proof.DeclaredAmount.Cmp(amount) != 0 {
		return x402.VerifiedPayment{}, x402.NewVerificationError(
			apierrors.ErrCodeMalformedProof,
			fmt.Errorf("declared amount %s does not match on-chain amount %s", proof.DeclaredAmount, amount),
		)
	}

	log.Info().
		Str("tx_hash", logger.TruncateHash(proof.TxHash)).
		Str("payer", payer.Hex()).
		Str("amount_base_units", amount.String()).
		Uint64("block", receipt.BlockNumber.Uint64()).
		Msg("verify.payment_confirmed")

	return x402.VerifiedPayment{
		TxHash:          proof.TxHash,
		PayerAddress:    "0x" + common.Bytes2Hex(payer.Bytes()),
		AmountBaseUnits: amount,
		BlockNumber:     receipt.BlockNumber.Uint64(),
	}, nil
}

// findQualifyingTransfer returns the first log that is a USDC Transfer to the
// payment processor of at least the configured price.
func (v *Verifier) findQualifyingTransfer(logs []*ethtypes.Log) *ethtypes.Log {
	for _, entry := range logs {
		if entry.Address != v.usdc {
			continue
		}
		if len(entry.Topics) != 3 || entry.Topics[0] != v.transferTopic {
			continue
		}
		to := common.BytesToAddress(entry.Topics[2].Bytes())
		if to != v.processor {
			continue
		}
		value := new(big.Int).SetBytes(entry.Data)
		if value.Cmp(v.priceBaseUnits) < 0 {
			continue
		}
		return entry
	}
	return nil
}

func (v *Verifier) observe(elapsed time.Duration, err error) {
	if v.metrics == nil {
		return
	}
	v.metrics.VerificationDuration.Observe(elapsed.Seconds())

	result := "verified"
	if err != nil {
		var verr x402.VerificationError
		if errors.As(err, &verr) {
			result = string(verr.Code)
		} else {
			result = "error"
		}
	}
	v.metrics.VerificationsTotal.WithLabelValues(result).Inc()
}
