// Package x402 implements the pay-per-crawl wire protocol: payment proof
// parsing, the 402 challenge surface, and verification outcome types.
package x402

import (
	"context"
	"errors"
	"math/big"
	"regexp"
	"strings"

	apierrors "github.com/tachi-protocol/gateway/internal/errors"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// PaymentProof is a client's claim to a prior on-chain payment.
// DeclaredAmount is advisory only: it may be cross-checked against the
// on-chain value, but never strengthens trust.
type PaymentProof struct {
	TxHash         string
	DeclaredAmount *big.Int // base units; nil when the Bearer form was used
}

// VerifiedPayment is the authoritative result of on-chain verification.
// Payer and amount come from the USDC Transfer log, never from the client.
type VerifiedPayment struct {
	TxHash          string
	PayerAddress    string // lowercase 0x form
	AmountBaseUnits *big.Int
	BlockNumber     uint64
}

// Verifier validates a payment proof against the blockchain.
type Verifier interface {
	Verify(ctx context.Context, proof PaymentProof) (VerifiedPayment, error)
}

// HasProof reports whether either proof header is present.
func HasProof(authorization, payment string) bool {
	return strings.TrimSpace(authorization) != "" || strings.TrimSpace(payment) != ""
}

// ParseProof extracts a PaymentProof from the Authorization and X-402-Payment
// header values. Authorization ("Bearer 0x<64hex>") is the primary form and
// wins when both are present; X-402-Payment ("0x<64hex>,<amount>") adds a
// declared amount. Any other shape fails with a malformed-proof error.
func ParseProof(authorization, payment string) (PaymentProof, error) {
	if auth := strings.TrimSpace(authorization); auth != "" {
		return parseBearer(auth)
	}
	if pay := strings.TrimSpace(payment); pay != "" {
		return parsePaymentHeader(pay)
	}
	return PaymentProof{}, NewVerificationError(apierrors.ErrCodeMissingPayment, errors.New("no payment proof supplied"))
}

func parseBearer(auth string) (PaymentProof, error) {
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return PaymentProof{}, malformed("authorization header is not a Bearer token")
	}
	hash := strings.TrimSpace(auth[len(prefix):])
	if !txHashPattern.MatchString(hash) {
		return PaymentProof{}, malformed("bearer token is not a 32-byte transaction hash")
	}
	return PaymentProof{TxHash: strings.ToLower(hash)}, nil
}

func parsePaymentHeader(pay string) (PaymentProof, error) {
	hash, amountStr, found := strings.Cut(pay, ",")
	hash = strings.TrimSpace(hash)
	if !txHashPattern.MatchString(hash) {
		return PaymentProof{}, malformed("payment header does not start with a 32-byte transaction hash")
	}

	proof := PaymentProof{TxHash: strings.ToLower(hash)}
	if !found {
		return proof, nil
	}

	amount, err := ParseAmount(strings.TrimSpace(amountStr))
	if err != nil {
		return PaymentProof{}, malformed("payment header amount is not a decimal number")
	}
	proof.DeclaredAmount = amount
	return proof, nil
}

// ParseAmount converts a declared amount into USDC base units. Integer
// strings are taken as base units directly; strings with a decimal point are
// taken as human USDC amounts with up to 6 fractional digits.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("empty amount")
	}

	whole, frac, hasPoint := strings.Cut(s, ".")
	if !hasPoint {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok || v.Sign() < 0 {
			return nil, errors.New("not a non-negative integer")
		}
		return v, nil
	}

	if whole == "" {
		whole = "0"
	}
	if len(frac) > USDCDecimals {
		return nil, errors.New("more than 6 fractional digits")
	}
	frac = frac + strings.Repeat("0", USDCDecimals-len(frac))

	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok || v.Sign() < 0 {
		return nil, errors.New("not a decimal number")
	}
	return v, nil
}

func malformed(msg string) error {
	return NewVerificationError(apierrors.ErrCodeMalformedProof, errors.New(msg))
}
