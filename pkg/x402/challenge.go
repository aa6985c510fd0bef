package x402

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Challenge carries everything a crawler needs to pay for access. Built once
// at startup from gateway configuration and reused for every 402 response.
type Challenge struct {
	PriceUSDC       string // human decimal, e.g. "0.001"
	PriceBaseUnits  int64
	Network         string
	ChainID         int64
	Recipient       string // PaymentProcessor address
	TokenAddress    string // USDC address
	CrawlNFTAddress string
	TokenID         string
}

// challengeBody is the JSON payload of a 402 response. The structure is
// stable so crawler SDKs can recover mechanically.
type challengeBody struct {
	Error        string           `json:"error"`
	Message      string           `json:"message"`
	Payment      challengePayment `json:"payment"`
	Instructions []string         `json:"instructions"`
}

type challengePayment struct {
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	Network         string `json:"network"`
	ChainID         int64  `json:"chainId"`
	Recipient       string `json:"recipient"`
	TokenAddress    string `json:"tokenAddress"`
	CrawlNFTAddress string `json:"crawlNFTAddress"`
	TokenID         string `json:"tokenId"`
}

// WriteResponse writes the full 402 challenge: machine-readable x402-*
// headers plus the JSON body. Header names are set directly on the header
// map to keep them lowercase on the wire.
func (c Challenge) WriteResponse(w http.ResponseWriter, message string) {
	h := w.Header()
	c.SetHeaders(h)
	h["content-type"] = []string{"application/json"}
	w.WriteHeader(http.StatusPaymentRequired)

	if message == "" {
		message = "This content requires payment to access. Pay in USDC, then retry with the transaction hash."
	}

	body := challengeBody{
		Error:   "payment_required",
		Message: message,
		Payment: challengePayment{
			Amount:          c.PriceUSDC,
			Currency:        "USDC",
			Network:         c.Network,
			ChainID:         c.ChainID,
			Recipient:       c.Recipient,
			TokenAddress:    c.TokenAddress,
			CrawlNFTAddress: c.CrawlNFTAddress,
			TokenID:         c.TokenID,
		},
		Instructions: []string{
			"Send a USDC transfer of at least the amount in x402-price (base units) to the x402-recipient address on the chain in x402-chain-id.",
			"Wait for the transaction to be mined.",
			"Retry this request with the header 'Authorization: Bearer <transaction hash>'.",
			"Each transaction hash grants exactly one crawl; replays are rejected.",
		},
	}

	_ = json.NewEncoder(w).Encode(body)
}

// SetHeaders writes the x402 wire protocol headers onto h.
func (c Challenge) SetHeaders(h http.Header) {
	h[HeaderPrice] = []string{strconv.FormatInt(c.PriceBaseUnits, 10)}
	h[HeaderCurrency] = []string{"USDC"}
	h[HeaderChainID] = []string{strconv.FormatInt(c.ChainID, 10)}
	h[HeaderRecipient] = []string{c.Recipient}
	h[HeaderContract] = []string{c.TokenAddress}
	h[HeaderCrawlNFT] = []string{c.CrawlNFTAddress}
	h[HeaderTokenID] = []string{c.TokenID}
}
