package errors

// ErrorCode represents a machine-readable error identifier for crawler SDK error handling.
type ErrorCode string

// Request admission errors
const (
	ErrCodeBadRequest      ErrorCode = "bad_request"
	ErrCodeUnauthorized    ErrorCode = "unauthorized"
	ErrCodePayloadTooLarge ErrorCode = "payload_too_large"
	ErrCodeRateLimited     ErrorCode = "rate_limited"
)

// Payment verification errors (x402 protocol)
const (
	// A crawler presented no payment proof at all.
	ErrCodeMissingPayment ErrorCode = "missing_payment"

	// Proof shape/format failures
	ErrCodeMalformedProof ErrorCode = "malformed_proof"

	// On-chain verification failures
	ErrCodeTransactionNotFound ErrorCode = "transaction_not_found"
	ErrCodeTransactionFailed   ErrorCode = "transaction_failed"

	// Transfer log scan found no qualifying USDC transfer.
	ErrCodeInsufficientOrWrongRecipient ErrorCode = "insufficient_or_wrong_recipient"

	// Replay protection
	ErrCodeReplay ErrorCode = "payment_replay"
)

// Upstream errors
const (
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeProxyError          ErrorCode = "proxy_error"
)

// Internal/system errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable condition.
// Verification failures are terminal for a given transaction hash; only
// infrastructure failures are worth retrying.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeUpstreamUnavailable,
		ErrCodeProxyError,
		ErrCodeRateLimited:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeBadRequest:
		return 400

	case ErrCodeUnauthorized:
		return 401

	case ErrCodePayloadTooLarge:
		return 413

	// 402 Payment Required - the x402 challenge/rejection surface
	case ErrCodeMissingPayment,
		ErrCodeMalformedProof,
		ErrCodeTransactionNotFound,
		ErrCodeTransactionFailed,
		ErrCodeInsufficientOrWrongRecipient,
		ErrCodeReplay:
		return 402

	case ErrCodeRateLimited:
		return 429

	case ErrCodeProxyError:
		return 502

	case ErrCodeUpstreamUnavailable:
		return 503

	default:
		return 500
	}
}
