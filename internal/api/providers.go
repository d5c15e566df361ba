package api

import (
	"context"
	"database/sql"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github/chapool/go-custody/internal/audit"
	"github/chapool/go-custody/internal/cache"
	"github/chapool/go-custody/internal/config"
	"github/chapool/go-custody/internal/errs"
	"github/chapool/go-custody/internal/metrics"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/wallet"
	"github/chapool/go-custody/internal/wallet/balance"
	"github/chapool/go-custody/internal/wallet/chain"
	"github/chapool/go-custody/internal/wallet/intent"
	"github/chapool/go-custody/internal/wallet/keystore"
	"github/chapool/go-custody/internal/wallet/nonce"
	"github/chapool/go-custody/internal/wallet/price"
	"github/chapool/go-custody/internal/wallet/reconcile"
	"github/chapool/go-custody/internal/wallet/signer"
	"github/chapool/go-custody/internal/wallet/transfer"

	// Import postgres driver for database/sql package
	_ "github.com/lib/pq"
)

func NewClock() clock.Clock {
	return clock.NewDefaultClock()
}

func NewDB(cfg config.Server) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}

	return db, nil
}

//nolint:ireturn
func NewPostgresStore(db *sql.DB) store.Store {
	return store.NewPostgres(db)
}

//nolint:ireturn
func NewChainClient(cfg config.Server) (chain.Client, error) {
	return chain.NewRPCClient(cfg.Chain.RPCURLs, cfg.Chain.RequestTimeout)
}

// NewCache builds the two-tier cache. Without REDIS_ADDR only the local tier
// is used.
func NewCache(cfg config.Server, clk clock.Clock) (*cache.TwoTier, error) {
	life := cfg.Balance.MaxTTL
	if cfg.Price.MaxTTL > life {
		life = cfg.Price.MaxTTL
	}

	local, err := cache.NewLocal(context.Background(), life, clk)
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Addr == "" {
		return cache.NewTwoTier(nil, local), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})

	return cache.NewTwoTier(cache.NewRedis(client, cfg.Redis.KeyPrefix), local), nil
}

//nolint:ireturn
func NewKMS(cfg config.Server) (keystore.KMS, error) {
	switch cfg.Wallet.KMSProvider {
	case "gcp":
		return keystore.NewGoogleKMS(context.Background())
	case "local":
		master, err := hex.DecodeString(strings.TrimPrefix(cfg.Wallet.LocalKMSKey, "0x"))
		if err != nil {
			return nil, errors.Wrap(errs.ErrConfiguration, "WALLET_LOCAL_KMS_KEY is not hex")
		}
		return keystore.NewLocalKMS(master)
	default:
		return nil, errors.Wrapf(errs.ErrConfiguration, "unknown WALLET_KMS_PROVIDER %q", cfg.Wallet.KMSProvider)
	}
}

//nolint:ireturn
func NewKeystore(cfg config.Server, kms keystore.KMS) (keystore.Service, error) {
	return keystore.NewService(cfg.Wallet.EncryptionKey, cfg.Wallet.KMSKeyReference, kms, cfg.Wallet.KMSTimeout)
}

//nolint:ireturn
func NewAuditSink(s store.Store, clk clock.Clock) audit.Sink {
	return audit.NewStoreSink(s, clk)
}

// Assets returns the native and token asset of the configured chain.
func Assets(cfg config.Server) (balance.Asset, balance.Asset) {
	native := balance.Asset{Symbol: cfg.Chain.NativeSymbol, Decimals: cfg.Chain.NativeDecimals}
	token := balance.Asset{
		Symbol:   cfg.Chain.TokenSymbol,
		Decimals: cfg.Chain.TokenDecimals,
		Contract: common.HexToAddress(cfg.Chain.TokenContract),
	}
	return native, token
}

func NewPriceOracle(cfg config.Server, c *cache.TwoTier, clk clock.Clock, m *metrics.Service) *price.Oracle {
	source := price.NewCoinGecko(cfg.Price.SourceURL, cfg.Price.AssetID, cfg.Price.APIKey)

	return price.NewOracle(source, c, price.Config{
		Asset:          cfg.Chain.NativeSymbol,
		TTL:            cfg.Price.TTL,
		MaxTTL:         cfg.Price.MaxTTL,
		AttemptTimeout: cfg.Price.AttemptTimeout,
		RetryDelay:     cfg.Price.RetryDelay,
		FallbackUSD:    cfg.Price.FallbackUSD,
	}, clk, m)
}

//nolint:ireturn
func NewBalanceService(cfg config.Server, client chain.Client, prices *price.Oracle, c *cache.TwoTier, clk clock.Clock, m *metrics.Service) BalanceService {
	native, token := Assets(cfg)

	return balance.NewService(client, prices, c, balance.Config{
		ChainID: cfg.Chain.ChainID,
		TTL:     cfg.Balance.TTL,
		MaxTTL:  cfg.Balance.MaxTTL,
		Native:  native,
		Token:   token,
	}, clk, m)
}

func NewNonceAllocator(s store.Store, client chain.Client, m *metrics.Service) *nonce.Allocator {
	return nonce.NewAllocator(s, client, m)
}

//nolint:ireturn
func NewSignerService(cfg config.Server, s store.Store, ks keystore.Service, client chain.Client, sink audit.Sink, clk clock.Clock, m *metrics.Service) SignerService {
	return signer.NewService(s, ks, client, sink, cfg.Chain.ChainID, clk, m)
}

//nolint:ireturn
func NewWalletService(cfg config.Server, s store.Store, generator *wallet.Generator, sink audit.Sink, clk clock.Clock, m *metrics.Service) WalletService {
	return wallet.NewService(s, generator, sink, cfg.Chain.ChainID, clk, m)
}

func NewExecutor(
	cfg config.Server,
	s store.Store,
	client chain.Client,
	signerService SignerService,
	nonces *nonce.Allocator,
	balances BalanceService,
	m *metrics.Service,
) *transfer.Executor {
	native, token := Assets(cfg)

	return transfer.NewExecutor(s, client, signerService, nonces, balances, transfer.Config{
		ChainID:          cfg.Chain.ChainID,
		Native:           native,
		Token:            token,
		GasBufferPercent: cfg.Transfer.GasBufferPercent,
	}, m)
}

func NewIntentService(
	cfg config.Server,
	s store.Store,
	executor *transfer.Executor,
	balances BalanceService,
	prices *price.Oracle,
	sink audit.Sink,
	clk clock.Clock,
	m *metrics.Service,
) *intent.Service {
	native, token := Assets(cfg)

	return intent.NewService(s, executor, balances, prices, intent.NewWalletResolver(s, cfg.Chain.ChainID), sink, intent.Config{
		ChainID:                   cfg.Chain.ChainID,
		ConfirmationTTL:           cfg.Transfer.ConfirmationTTL,
		DailyLimitUSD:             decimal.NewFromFloat(cfg.Transfer.DailyLimitUSD),
		MonthlyLimitUSD:           decimal.NewFromFloat(cfg.Transfer.MonthlyLimitUSD),
		SecondaryAuthThresholdUSD: decimal.NewFromFloat(cfg.Transfer.SecondaryAuthThresholdUSD),
		Assets:                    []string{native.Symbol, token.Symbol},
	}, native, clk, m)
}

func NewReconciler(
	cfg config.Server,
	s store.Store,
	client chain.Client,
	balances BalanceService,
	intents *intent.Service,
	clk clock.Clock,
	m *metrics.Service,
) *reconcile.Reconciler {
	return reconcile.NewReconciler(s, client, balances, intents, reconcile.Config{
		BatchSize:   cfg.Reconcile.BatchSize,
		Parallelism: cfg.Reconcile.Parallelism,
	}, clk, m)
}
