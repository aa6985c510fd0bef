package x402

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testChallenge() Challenge {
	return Challenge{
		PriceUSDC:       "0.001",
		PriceBaseUnits:  1000,
		Network:         "base",
		ChainID:         8453,
		Recipient:       "0x1111111111111111111111111111111111111111",
		TokenAddress:    "0x2222222222222222222222222222222222222222",
		CrawlNFTAddress: "0x3333333333333333333333333333333333333333",
		TokenID:         "7",
	}
}

func TestChallengeHeadersAreLowercaseOnWire(t *testing.T) {
	rec := httptest.NewRecorder()
	testChallenge().WriteResponse(rec, "")

	// The protocol headers must reach the wire with lowercase names;
	// canonicalized variants must not exist.
	header := rec.Header()
	want := map[string]string{
		"x402-price":     "1000",
		"x402-currency":  "USDC",
		"x402-chain-id":  "8453",
		"x402-recipient": "0x1111111111111111111111111111111111111111",
		"x402-contract":  "0x2222222222222222222222222222222222222222",
		"x402-crawl-nft": "0x3333333333333333333333333333333333333333",
		"x402-token-id":  "7",
	}
	for name, value := range want {
		got, ok := header[name]
		if !ok {
			t.Errorf("header %q missing from raw header map", name)
			continue
		}
		if len(got) != 1 || got[0] != value {
			t.Errorf("header %q = %v, want %q", name, got, value)
		}
	}
}

func TestChallengeStatusAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	testChallenge().WriteResponse(rec, "")

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}

	var body struct {
		Error   string `json:"error"`
		Payment struct {
			Amount    string `json:"amount"`
			Currency  string `json:"currency"`
			ChainID   int64  `json:"chainId"`
			Recipient string `json:"recipient"`
		} `json:"payment"`
		Instructions []string `json:"instructions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "payment_required" {
		t.Errorf("error = %q, want payment_required", body.Error)
	}
	if body.Payment.Amount != "0.001" || body.Payment.Currency != "USDC" {
		t.Errorf("payment = %+v", body.Payment)
	}
	if body.Payment.ChainID != 8453 {
		t.Errorf("chainId = %d, want 8453", body.Payment.ChainID)
	}
	if len(body.Instructions) == 0 {
		t.Error("instructions missing")
	}
}
