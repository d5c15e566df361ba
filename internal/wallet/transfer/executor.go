// Package transfer builds, signs and broadcasts value transfers out of
// custodial wallets.
package transfer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github/chapool/go-custody/internal/errs"
	"github/chapool/go-custody/internal/metrics"
	"github/chapool/go-custody/internal/models"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/util"
	"github/chapool/go-custody/internal/wallet/address"
	"github/chapool/go-custody/internal/wallet/balance"
	"github/chapool/go-custody/internal/wallet/chain"
	"github/chapool/go-custody/internal/wallet/signer"
)

// NonceAllocator hands out the next nonce of a wallet.
type NonceAllocator interface {
	NextNonce(ctx context.Context, userID string, chainID int64) (uint64, error)
}

// BalanceInvalidator drops cached balances after they changed.
type BalanceInvalidator interface {
	Invalidate(ctx context.Context, addr string) error
}

// Executor performs one transfer per call and never retries internally.
type Executor struct {
	wallets  store.WalletStore
	client   chain.Client
	signer   signer.Service
	nonces   NonceAllocator
	balances BalanceInvalidator
	cfg      Config
	metrics  *metrics.Service
}

func NewExecutor(
	wallets store.WalletStore,
	client chain.Client,
	signerService signer.Service,
	nonces NonceAllocator,
	balances BalanceInvalidator,
	cfg Config,
	m *metrics.Service,
) *Executor {
	if cfg.GasBufferPercent <= 0 {
		cfg.GasBufferPercent = DefaultGasBufferPercent
	}

	return &Executor{
		wallets:  wallets,
		client:   client,
		signer:   signerService,
		nonces:   nonces,
		balances: balances,
		cfg:      cfg,
		metrics:  m,
	}
}

func (e *Executor) wallet(ctx context.Context, userID string) (*models.Wallet, error) {
	w, err := e.wallets.GetWallet(ctx, userID, e.cfg.ChainID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.ErrWalletNotFound
		}
		return nil, errors.Wrap(err, "failed to load wallet")
	}
	return w, nil
}

// ValidateRequest checks recipient, amount and asset without touching the network.
func (e *Executor) ValidateRequest(to string, amount decimal.Decimal, symbol string) (balance.Asset, error) {
	if !address.IsValidAddress(to) {
		return balance.Asset{}, errors.Wrapf(errs.ErrInvalidRecipient, "%q is not an address", to)
	}
	if common.HexToAddress(to) == (common.Address{}) {
		return balance.Asset{}, errors.Wrap(errs.ErrInvalidRecipient, "zero address")
	}

	asset, ok := e.cfg.Asset(symbol)
	if !ok {
		return balance.Asset{}, errors.Wrapf(errs.ErrUnsupportedAsset, "%q", symbol)
	}

	if !amount.IsPositive() {
		return balance.Asset{}, errors.Wrap(errs.ErrInvalidAmount, "amount must be positive")
	}
	if !amount.Equal(amount.Truncate(asset.Decimals)) {
		return balance.Asset{}, errors.Wrapf(errs.ErrInvalidAmount, "%s supports %d decimals", asset.Symbol, asset.Decimals)
	}

	return asset, nil
}

// gasLimit applies the safety buffer to a raw estimate.
func (e *Executor) gasLimit(estimate uint64) uint64 {
	//nolint:gosec // percent is a small positive config value
	return estimate * uint64(100+e.cfg.GasBufferPercent) / 100
}

func (e *Executor) fee(gasLimit uint64, gasPrice *big.Int) decimal.Decimal {
	wei := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)
	return balance.ToDecimal(wei, e.cfg.Native.Decimals)
}

// EstimateFee estimates the network fee of a transfer for the user's wallet.
// An estimation failure falls back to a default gas limit; only a failing gas
// price lookup is an error.
func (e *Executor) EstimateFee(ctx context.Context, from string, to string, amount decimal.Decimal, asset balance.Asset) (*Estimate, error) {
	log := util.LogFromContext(ctx).With().Str("component", "transfer").Str("asset", asset.Symbol).Logger()

	p := e.cfg.payload(common.HexToAddress(to), balance.ToBaseUnits(amount, asset.Decimals), asset)

	gas, err := e.client.EstimateGas(ctx, p.callMsg(common.HexToAddress(from)))
	if err != nil {
		gas = defaultNativeGasLimit
		if !e.cfg.IsNative(asset) {
			gas = defaultTokenGasLimit
		}
		log.Warn().Err(err).Uint64("gas", gas).Msg("Gas estimation failed, using default limit")
	}
	gasLimit := e.gasLimit(gas)

	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get gas price")
	}

	return &Estimate{
		GasLimit: gasLimit,
		GasPrice: gasPrice,
		Fee:      e.fee(gasLimit, gasPrice),
	}, nil
}

// Transfer moves amount of asset from the user's wallet to to and returns the
// broadcast parameters. Insufficient funds are detected before gas estimation
// and broadcast.
func (e *Executor) Transfer(ctx context.Context, userID string, to string, amount decimal.Decimal, symbol string) (*Result, error) {
	result, err := e.transfer(ctx, userID, to, amount, symbol)
	if err != nil {
		e.metrics.TransferEvent("execute", "failed")
		return nil, err
	}

	e.metrics.TransferEvent("execute", "broadcast")
	return result, nil
}

func (e *Executor) transfer(ctx context.Context, userID string, to string, amount decimal.Decimal, symbol string) (*Result, error) {
	log := util.LogFromContext(ctx).With().Str("component", "transfer").Str("user_id", userID).Logger()

	w, err := e.wallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	asset, err := e.ValidateRequest(to, amount, symbol)
	if err != nil {
		return nil, err
	}

	from := common.HexToAddress(w.Address)
	units := balance.ToBaseUnits(amount, asset.Decimals)

	nativeWei, err := e.client.BalanceAt(ctx, from)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read native balance")
	}

	available := nativeWei
	if !e.cfg.IsNative(asset) {
		if available, err = e.client.TokenBalance(ctx, asset.Contract, from); err != nil {
			return nil, errors.Wrap(err, "failed to read token balance")
		}
	}
	if available.Cmp(units) < 0 {
		return nil, errors.Wrapf(errs.ErrInsufficientFunds, "balance %s %s, requested %s",
			balance.ToDecimal(available, asset.Decimals), asset.Symbol, amount)
	}

	p := e.cfg.payload(common.HexToAddress(to), units, asset)

	gas, err := e.client.EstimateGas(ctx, p.callMsg(from))
	if err != nil {
		return nil, errors.Wrap(err, "failed to estimate gas")
	}
	gasLimit := e.gasLimit(gas)

	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get gas price")
	}

	// the fee is always paid in the native asset
	cost := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)
	if e.cfg.IsNative(asset) {
		cost.Add(cost, units)
	}
	if nativeWei.Cmp(cost) < 0 {
		return nil, errors.Wrapf(errs.ErrInsufficientFunds, "native balance %s %s does not cover %s",
			balance.ToDecimal(nativeWei, e.cfg.Native.Decimals), e.cfg.Native.Symbol, balance.ToDecimal(cost, e.cfg.Native.Decimals))
	}

	nonce, err := e.nonces.NextNonce(ctx, userID, e.cfg.ChainID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate nonce")
	}

	res, err := e.signer.SignAndSend(ctx, userID, &signer.Request{
		To:       p.to,
		Value:    p.value,
		Data:     p.data,
		Nonce:    nonce,
		GasLimit: gasLimit,
		GasPrice: gasPrice,
	})
	uncertain := false
	if err != nil {
		if res == nil || !errors.Is(err, errs.ErrBroadcastUncertain) {
			// the allocated nonce is now a gap until the next manual reset
			log.Error().Err(err).Uint64("nonce", nonce).Msg("Transfer failed after nonce allocation")
			return nil, err
		}
		uncertain = true
	}

	if err := e.balances.Invalidate(ctx, w.Address); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate balance cache")
	}

	log.Info().
		Str("tx_hash", res.Hash.Hex()).
		Uint64("nonce", nonce).
		Str("asset", asset.Symbol).
		Str("amount", amount.String()).
		Bool("uncertain", uncertain).
		Msg("Transfer broadcast")

	return &Result{
		Hash:      res.Hash.Hex(),
		From:      w.Address,
		Nonce:     nonce,
		GasPrice:  gasPrice,
		GasLimit:  gasLimit,
		Uncertain: uncertain,
	}, nil
}
