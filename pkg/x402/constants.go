package x402

import "time"

// TransferEventTopic is the Keccak256 of Transfer(address,address,uint256),
// the ERC-20 event every USDC payment emits. Receipt logs whose first topic
// differs are not payment evidence.
const TransferEventTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// USDCDecimals is the USDC token precision: 1.000000 USDC = 1,000,000 base units.
const USDCDecimals = 6

const (
	// UsedTxTTL is how long a consumed transaction hash stays reserved.
	// A hash authorizes at most one response within this window.
	UsedTxTTL = 24 * time.Hour

	// VerifyBudget caps one request's on-chain verification, including retries.
	VerifyBudget = 5 * time.Second
)

// Wire protocol header names, lowercase as emitted on 402 responses.
const (
	HeaderPrice     = "x402-price"
	HeaderCurrency  = "x402-currency"
	HeaderChainID   = "x402-chain-id"
	HeaderRecipient = "x402-recipient"
	HeaderContract  = "x402-contract"
	HeaderCrawlNFT  = "x402-crawl-nft"
	HeaderTokenID   = "x402-token-id"

	// HeaderPayment is the alternate proof header: "0x<64hex>,<amount>".
	HeaderPayment = "X-402-Payment"
)
