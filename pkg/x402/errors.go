package x402

import (
	"fmt"

	"github.com/tachi-protocol/gateway/internal/errors"
)

// VerificationError classifies failures encountered during payment validation.
type VerificationError struct {
	Code    errors.ErrorCode // Machine-readable error code
	Message string           // User-friendly message
	Err     error            // Technical error for logging
}

func (e VerificationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e VerificationError) Unwrap() error {
	return e.Err
}

// NewVerificationError creates a verification error with a user-friendly message.
func NewVerificationError(code errors.ErrorCode, err error) VerificationError {
	return VerificationError{
		Code:    code,
		Message: userFriendlyMessage(code),
		Err:     err,
	}
}

// userFriendlyMessage converts error codes to the messages crawler SDKs show
// to operators. Codes map mechanically so SDKs can recover without parsing prose.
func userFriendlyMessage(code errors.ErrorCode) string {
	switch code {
	case errors.ErrCodeMissingPayment:
		return "Payment required. Follow the instructions in this response to pay for crawl access."
	case errors.ErrCodeMalformedProof:
		return "Payment proof is malformed. Supply the transaction hash as 'Authorization: Bearer 0x<64 hex chars>'."
	case errors.ErrCodeTransactionNotFound:
		return "Payment transaction not found on chain. Wait for it to be mined and retry."
	case errors.ErrCodeTransactionFailed:
		return "Payment transaction reverted on chain. Send a new payment and retry."
	case errors.ErrCodeInsufficientOrWrongRecipient:
		return "No USDC transfer to the payment processor of at least the required amount was found in this transaction."
	case errors.ErrCodeReplay:
		return "This payment has already been used. Each transaction hash grants exactly one crawl."
	case errors.ErrCodeUpstreamUnavailable:
		return "Payment verification is temporarily unavailable. Retry shortly."
	default:
		return fmt.Sprintf("Payment verification failed: %s", code)
	}
}
