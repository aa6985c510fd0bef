package errors

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeBadRequest, 400},
		{ErrCodeUnauthorized, 401},
		{ErrCodeMissingPayment, 402},
		{ErrCodeMalformedProof, 402},
		{ErrCodeTransactionNotFound, 402},
		{ErrCodeTransactionFailed, 402},
		{ErrCodeInsufficientOrWrongRecipient, 402},
		{ErrCodeReplay, 402},
		{ErrCodePayloadTooLarge, 413},
		{ErrCodeRateLimited, 429},
		{ErrCodeProxyError, 502},
		{ErrCodeUpstreamUnavailable, 503},
		{ErrCodeInternalError, 500},
		{ErrorCode("unknown"), 500},
	}
	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !ErrCodeUpstreamUnavailable.IsRetryable() {
		t.Error("upstream outages are retryable")
	}
	if !ErrCodeRateLimited.IsRetryable() {
		t.Error("rate limits are retryable")
	}
	if ErrCodeReplay.IsRetryable() {
		t.Error("a consumed hash can never succeed on retry")
	}
	if ErrCodeMalformedProof.IsRetryable() {
		t.Error("a malformed proof can never succeed on retry")
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, ErrCodeReplay, "already used")

	if rec.Code != 402 {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error != ErrCodeReplay {
		t.Errorf("error = %q", body.Error)
	}
	if body.Message != "already used" {
		t.Errorf("message = %q", body.Message)
	}
	if body.Retryable {
		t.Error("replay must be marked non-retryable")
	}
}
