package test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/internal/audit"
	"github/chapool/go-custody/internal/cache"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/test/chainmock"
	"github/chapool/go-custody/internal/wallet"
	"github/chapool/go-custody/internal/wallet/balance"
	"github/chapool/go-custody/internal/wallet/intent"
	"github/chapool/go-custody/internal/wallet/keystore"
	"github/chapool/go-custody/internal/wallet/nonce"
	"github/chapool/go-custody/internal/wallet/reconcile"
	"github/chapool/go-custody/internal/wallet/signer"
	"github/chapool/go-custody/internal/wallet/transfer"
)

const (
	ChainID  = int64(1)
	PriceUSD = 2000
)

var (
	// USDC is the token contract the engine is configured with.
	USDC = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

	Native = balance.Asset{Symbol: "ETH", Decimals: 18}
	Token  = balance.Asset{Symbol: "USDC", Decimals: 6, Contract: USDC}

	// Ether is 1 ETH in wei.
	Ether = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// FixedPrice is a price oracle that always quotes the same value.
type FixedPrice float64

func (p FixedPrice) GetReferencePriceUSD(context.Context) float64 { return float64(p) }

// Engine is the custody engine wired against an in-memory store and a mocked
// chain.
type Engine struct {
	Store      *store.Memory
	Client     *chainmock.Client
	Clock      *clock.TestClock
	Keystore   keystore.Service
	Prices     FixedPrice
	Wallets    wallet.Service
	Balances   balance.Service
	Nonces     *nonce.Allocator
	Signer     signer.Service
	Executor   *transfer.Executor
	Intents    *intent.Service
	Reconciler *reconcile.Reconciler
}

// IntentConfig is the transfer policy engines are built with.
func IntentConfig() intent.Config {
	return intent.Config{
		ChainID:                   ChainID,
		ConfirmationTTL:           intent.DefaultConfirmationTTL,
		DailyLimitUSD:             decimal.NewFromInt(10_000),
		MonthlyLimitUSD:           decimal.NewFromInt(50_000),
		SecondaryAuthThresholdUSD: decimal.NewFromInt(1_000),
		Assets:                    []string{Native.Symbol, Token.Symbol},
	}
}

func NewEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngineWithConfig(t, IntentConfig())
}

func NewEngineWithConfig(t *testing.T, cfg intent.Config) *Engine {
	t.Helper()

	ctx := context.Background()
	clk := clock.NewTestClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))

	local, err := cache.NewLocal(ctx, time.Hour, clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	s := store.NewMemory()
	ks := NewKeystore(t)
	client := chainmock.New(ChainID)
	sink := audit.NewStoreSink(s, clk)
	prices := FixedPrice(PriceUSD)

	balances := balance.NewService(client, prices, cache.NewTwoTier(nil, local), balance.Config{
		ChainID: ChainID,
		TTL:     balance.DefaultTTL,
		Native:  Native,
		Token:   Token,
	}, clk, nil)
	nonces := nonce.NewAllocator(s, client, nil)
	sign := signer.NewService(s, ks, client, sink, ChainID, clk, nil)
	exec := transfer.NewExecutor(s, client, sign, nonces, balances, transfer.Config{
		ChainID:          ChainID,
		Native:           Native,
		Token:            Token,
		GasBufferPercent: transfer.DefaultGasBufferPercent,
	}, nil)

	intents := intent.NewService(s, exec, balances, prices, intent.NewWalletResolver(s, ChainID), sink, cfg, Native, clk, nil)

	return &Engine{
		Store:      s,
		Client:     client,
		Clock:      clk,
		Keystore:   ks,
		Prices:     prices,
		Wallets:    wallet.NewService(s, wallet.NewGenerator(ks), sink, ChainID, clk, nil),
		Balances:   balances,
		Nonces:     nonces,
		Signer:     sign,
		Executor:   exec,
		Intents:    intents,
		Reconciler: reconcile.NewReconciler(s, client, balances, intents, reconcile.Config{}, clk, nil),
	}
}

// Fund sets the on-chain balances of addr.
func (e *Engine) Fund(addr string, wei *big.Int, usdcUnits int64) {
	account := common.HexToAddress(addr)
	e.Client.SetBalance(account, wei)
	e.Client.SetTokenBalance(USDC, account, big.NewInt(usdcUnits))
}
