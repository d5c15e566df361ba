package balance

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// DefaultTTL is how long a balance read is served from cache.
const DefaultTTL = 5 * time.Minute

// TokenPegUSD values one token unit; the token is a USD stablecoin.
var TokenPegUSD = decimal.NewFromInt(1)

// Asset describes one balance the reader tracks.
type Asset struct {
	Symbol   string
	Decimals int32
	// Contract is the ERC-20 address; zero for the native asset.
	Contract common.Address
}

type Config struct {
	ChainID int64
	TTL     time.Duration
	MaxTTL  time.Duration
	Native  Asset
	Token   Asset
}

// Balances of one address. Amounts are in whole units (ETH, USDC).
type Balances struct {
	Address      string          `json:"address"`
	NativeSymbol string          `json:"native_symbol"`
	TokenSymbol  string          `json:"token_symbol"`
	Native       decimal.Decimal `json:"native"`
	Token        decimal.Decimal `json:"token"`
	NativeUSD    decimal.Decimal `json:"native_usd"`
	TokenUSD     decimal.Decimal `json:"token_usd"`
	TotalUSD     decimal.Decimal `json:"total_usd"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	FetchedAt    time.Time       `json:"fetched_at"`
	// Unavailable lists assets whose read failed and that read as zero.
	Unavailable  []string        `json:"unavailable,omitempty"`
	Cached       bool            `json:"-"`
}

// IsUnavailable reports whether symbol could not be read.
func (b *Balances) IsUnavailable(symbol string) bool {
	for _, s := range b.Unavailable {
		if s == symbol {
			return true
		}
	}
	return false
}

// Of returns the balance held in symbol and whether symbol is tracked.
func (b *Balances) Of(symbol string) (decimal.Decimal, bool) {
	switch symbol {
	case b.NativeSymbol:
		return b.Native, true
	case b.TokenSymbol:
		return b.Token, true
	}
	return decimal.Zero, false
}

// ToDecimal converts base units into whole units.
func ToDecimal(units *big.Int, decimals int32) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -decimals)
}

// ToBaseUnits converts whole units into base units, truncating extra digits.
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}
