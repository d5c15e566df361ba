package balance

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github/chapool/go-custody/internal/cache"
	"github/chapool/go-custody/internal/errs"
	"github/chapool/go-custody/internal/metrics"
	"github/chapool/go-custody/internal/util"
	"github/chapool/go-custody/internal/wallet/address"
	"github/chapool/go-custody/internal/wallet/chain"
	"golang.org/x/sync/errgroup"
)

// Service reads on-chain balances and values them in USD.
type Service interface {
	// GetBalances serves from cache within the TTL, reading the chain otherwise.
	GetBalances(ctx context.Context, addr string) (*Balances, error)
	// GetFreshBalances always reads the chain and refreshes the cache.
	GetFreshBalances(ctx context.Context, addr string) (*Balances, error)
	// Invalidate drops the cached balances of addr.
	Invalidate(ctx context.Context, addr string) error
}

// PriceOracle yields the native asset's USD price; it never fails.
type PriceOracle interface {
	GetReferencePriceUSD(ctx context.Context) float64
}

type service struct {
	client  chain.Client
	prices  PriceOracle
	cache   cache.Cache
	cfg     Config
	clock   clock.Clock
	metrics *metrics.Service

	mu       sync.Mutex
	failures int
}

// NewService wires the balance reader. c and m may be nil.
//
//nolint:ireturn
func NewService(client chain.Client, prices PriceOracle, c cache.Cache, cfg Config, clk clock.Clock, m *metrics.Service) Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxTTL < cfg.TTL {
		cfg.MaxTTL = cfg.TTL
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &service{
		client:  client,
		prices:  prices,
		cache:   c,
		cfg:     cfg,
		clock:   clk,
		metrics: m,
	}
}

func (s *service) cacheKey(addr string) string {
	return fmt.Sprintf("balance:%d:%s", s.cfg.ChainID, address.Normalize(addr))
}

// lastKey holds the last complete read, used to patch failed assets.
func (s *service) lastKey(addr string) string {
	return fmt.Sprintf("balance:last:%d:%s", s.cfg.ChainID, address.Normalize(addr))
}

func (s *service) GetBalances(ctx context.Context, addr string) (*Balances, error) {
	if !address.IsValidAddress(addr) {
		return nil, errors.Wrapf(errs.ErrInvalidRecipient, "invalid address %q", addr)
	}

	if cached := s.readCache(ctx, addr); cached != nil {
		s.metrics.BalanceRead("hit")
		return cached, nil
	}

	s.metrics.BalanceRead("miss")
	return s.GetFreshBalances(ctx, addr)
}

func (s *service) readCache(ctx context.Context, addr string) *Balances {
	b := s.readKey(ctx, s.cacheKey(addr))
	if b != nil {
		b.Cached = true
	}
	return b
}

func (s *service) readKey(ctx context.Context, key string) *Balances {
	if s.cache == nil {
		return nil
	}

	raw, found, err := s.cache.Get(ctx, key)
	if err != nil {
		util.LogFromContext(ctx).Warn().Err(err).Str("key", key).Msg("Failed to read balance cache")
		return nil
	}
	if !found {
		return nil
	}

	var b Balances
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil
	}

	return &b
}

func (s *service) GetFreshBalances(ctx context.Context, addr string) (*Balances, error) {
	if !address.IsValidAddress(addr) {
		return nil, errors.Wrapf(errs.ErrInvalidRecipient, "invalid address %q", addr)
	}

	log := util.LogFromContext(ctx).With().Str("component", "balance").Str("address", address.Normalize(addr)).Logger()
	account := common.HexToAddress(addr)

	var (
		nativeWei, tokenUnits *big.Int
		nativeErr, tokenErr   error
		g                     errgroup.Group
	)

	g.Go(func() error {
		nativeWei, nativeErr = s.client.BalanceAt(ctx, account)
		return nil
	})
	if s.cfg.Token.Symbol != "" {
		g.Go(func() error {
			tokenUnits, tokenErr = s.client.TokenBalance(ctx, s.cfg.Token.Contract, account)
			return nil
		})
	}
	_ = g.Wait()

	b := &Balances{
		Address:      address.Normalize(addr),
		NativeSymbol: s.cfg.Native.Symbol,
		TokenSymbol:  s.cfg.Token.Symbol,
		Native:       decimal.Zero,
		Token:        decimal.Zero,
		FetchedAt:    s.clock.Now().UTC(),
	}

	// a failed asset reads as zero instead of failing the whole read
	if nativeErr != nil {
		log.Warn().Err(nativeErr).Msg("Failed to read native balance")
		s.metrics.BalanceRead("asset_error")
		b.Unavailable = append(b.Unavailable, s.cfg.Native.Symbol)
	} else {
		b.Native = ToDecimal(nativeWei, s.cfg.Native.Decimals)
	}
	if tokenErr != nil {
		log.Warn().Err(tokenErr).Str("token", s.cfg.Token.Symbol).Msg("Failed to read token balance")
		s.metrics.BalanceRead("asset_error")
		b.Unavailable = append(b.Unavailable, s.cfg.Token.Symbol)
	} else if tokenUnits != nil {
		b.Token = ToDecimal(tokenUnits, s.cfg.Token.Decimals)
	}

	if len(b.Unavailable) > 0 {
		s.patch(ctx, b)
	}

	b.PriceUSD = decimal.NewFromFloat(s.prices.GetReferencePriceUSD(ctx))
	b.NativeUSD = b.Native.Mul(b.PriceUSD)
	b.TokenUSD = b.Token.Mul(TokenPegUSD)
	b.TotalUSD = b.NativeUSD.Add(b.TokenUSD)

	s.store(ctx, b, nativeErr == nil && tokenErr == nil)

	return b, nil
}

// patch fills failed assets from the last complete read of the address.
// Assets with no earlier read stay zero and unavailable.
func (s *service) patch(ctx context.Context, b *Balances) {
	last := s.readKey(ctx, s.lastKey(b.Address))
	if last == nil {
		return
	}

	if b.IsUnavailable(s.cfg.Native.Symbol) {
		b.Native = last.Native
	}
	if b.IsUnavailable(s.cfg.Token.Symbol) {
		b.Token = last.Token
	}
	b.FetchedAt = last.FetchedAt
	b.Unavailable = nil
}

// store caches b. A complete read is kept for the base TTL and remembered as
// the last complete read. A patched read is served for the TTL stretched by
// the consecutive failures; a read with unavailable assets is not cached.
func (s *service) store(ctx context.Context, b *Balances, complete bool) {
	s.mu.Lock()
	ttl := s.cfg.TTL
	if complete {
		s.failures = 0
	} else {
		s.failures++
		ttl = s.ttlLocked()
	}
	s.mu.Unlock()

	if s.cache == nil || len(b.Unavailable) > 0 {
		return
	}

	raw, err := json.Marshal(b)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, s.cacheKey(b.Address), raw, ttl); err != nil {
		util.LogFromContext(ctx).Warn().Err(err).Str("address", b.Address).Msg("Failed to write balance cache")
	}
	if complete {
		if err := s.cache.Set(ctx, s.lastKey(b.Address), raw, s.cfg.MaxTTL); err != nil {
			util.LogFromContext(ctx).Warn().Err(err).Str("address", b.Address).Msg("Failed to write balance cache")
		}
	}
}

func (s *service) ttlLocked() time.Duration {
	ttl := s.cfg.TTL * time.Duration(1+s.failures)
	if ttl > s.cfg.MaxTTL {
		return s.cfg.MaxTTL
	}
	return ttl
}

func (s *service) Invalidate(ctx context.Context, addr string) error {
	if s.cache == nil {
		return nil
	}

	for _, key := range []string{s.cacheKey(addr), s.lastKey(addr)} {
		if err := s.cache.Delete(ctx, key); err != nil {
			return errors.Wrap(err, "failed to invalidate balance cache")
		}
	}
	return nil
}
