package transfer

import (
	"math/big"

	"github.com/shopspring/decimal"
	"github/chapool/go-custody/internal/wallet/balance"
)

const (
	// DefaultGasBufferPercent is added on top of every gas estimate.
	DefaultGasBufferPercent = 20

	defaultNativeGasLimit = 21000
	defaultTokenGasLimit  = 65000
)

type Config struct {
	ChainID          int64
	Native           balance.Asset
	Token            balance.Asset
	GasBufferPercent int64
}

// Asset returns the asset registered under symbol.
func (c Config) Asset(symbol string) (balance.Asset, bool) {
	switch {
	case symbol == "":
		return balance.Asset{}, false
	case symbol == c.Native.Symbol:
		return c.Native, true
	case symbol == c.Token.Symbol:
		return c.Token, true
	}
	return balance.Asset{}, false
}

// IsNative reports whether asset is the chain's native currency.
func (c Config) IsNative(asset balance.Asset) bool {
	return asset.Symbol == c.Native.Symbol
}

// Result of a broadcast transfer.
type Result struct {
	Hash     string
	From     string
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	// Uncertain is set when the node did not answer the broadcast. The
	// transaction may still be mined and must not be sent again.
	Uncertain bool
}

// Estimate of the network fee of a transfer.
type Estimate struct {
	GasLimit uint64
	GasPrice *big.Int
	// Fee is GasLimit * GasPrice in native units.
	Fee decimal.Decimal
}
