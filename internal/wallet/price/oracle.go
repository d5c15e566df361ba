package price

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"github/chapool/go-custody/internal/cache"
	"github/chapool/go-custody/internal/metrics"
	"github/chapool/go-custody/internal/util"
	"golang.org/x/sync/singleflight"
)

const (
	// MaxValidUSD bounds plausible quotes; anything above is a bad feed.
	MaxValidUSD = 100_000

	defaultMaxAttempts = 2
	// sharedRetention keeps the last quote in the shared cache long enough to
	// serve as a stale fallback for other instances.
	sharedRetention = 24 * time.Hour
)

var errOutOfRange = errors.New("price out of range")

// Entry is one cached quote.
type Entry struct {
	Asset     string    `json:"asset"`
	USD       float64   `json:"usd"`
	FetchedAt time.Time `json:"fetched_at"`
}

type Config struct {
	Asset          string
	TTL            time.Duration
	MaxTTL         time.Duration
	AttemptTimeout time.Duration
	RetryDelay     time.Duration
	FallbackUSD    float64
	MaxAttempts    int
}

// Oracle serves the reference asset's USD price. It never fails: a fresh
// quote beats a stale one, which beats the configured constant.
type Oracle struct {
	source  Source
	shared  cache.Cache
	cfg     Config
	clock   clock.Clock
	metrics *metrics.Service
	group   singleflight.Group

	mu       sync.Mutex
	last     *Entry
	failures int
}

// NewOracle wires a price source. shared and m may be nil.
func NewOracle(source Source, shared cache.Cache, cfg Config, clk clock.Clock, m *metrics.Service) *Oracle {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if cfg.MaxTTL < cfg.TTL {
		cfg.MaxTTL = cfg.TTL
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 5 * time.Second
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &Oracle{
		source:  source,
		shared:  shared,
		cfg:     cfg,
		clock:   clk,
		metrics: m,
	}
}

// TTL is the current cache lifetime: the base TTL stretched by consecutive
// upstream failures, capped at MaxTTL.
func (o *Oracle) TTL() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ttlLocked()
}

func (o *Oracle) ttlLocked() time.Duration {
	ttl := o.cfg.TTL * time.Duration(1+o.failures)
	if ttl > o.cfg.MaxTTL {
		return o.cfg.MaxTTL
	}
	return ttl
}

func (o *Oracle) cacheKey() string {
	return "price:" + o.cfg.Asset
}

func (o *Oracle) fresh(e *Entry) bool {
	if e == nil {
		return false
	}
	o.mu.Lock()
	ttl := o.ttlLocked()
	o.mu.Unlock()
	return o.clock.Now().Sub(e.FetchedAt) < ttl
}

func (o *Oracle) readShared(ctx context.Context) *Entry {
	if o.shared == nil {
		return nil
	}

	raw, found, err := o.shared.Get(ctx, o.cacheKey())
	if err != nil || !found {
		return nil
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil || !valid(e.USD) {
		return nil
	}
	return &e
}

func (o *Oracle) remember(ctx context.Context, e *Entry) {
	o.mu.Lock()
	o.last = e
	o.failures = 0
	o.mu.Unlock()

	if o.shared == nil {
		return
	}
	if raw, err := json.Marshal(e); err == nil {
		if err := o.shared.Set(ctx, o.cacheKey(), raw, sharedRetention); err != nil {
			util.LogFromContext(ctx).Warn().Err(err).Msg("Failed to share price quote")
		}
	}
}

// GetReferencePriceUSD returns the cached quote if still within TTL, otherwise
// fetches with bounded retries and falls back as documented on Oracle.
func (o *Oracle) GetReferencePriceUSD(ctx context.Context) float64 {
	o.mu.Lock()
	last := o.last
	o.mu.Unlock()

	if o.fresh(last) {
		o.metrics.PriceFetch("hit")
		return last.USD
	}

	if shared := o.readShared(ctx); o.fresh(shared) {
		o.mu.Lock()
		o.last = shared
		o.mu.Unlock()
		o.metrics.PriceFetch("hit")
		return shared.USD
	}

	// the refresh is shared by every waiting caller, so it outlives the first one
	refreshCtx := context.WithoutCancel(ctx)
	v, _, _ := o.group.Do(o.cfg.Asset, func() (any, error) {
		return o.refresh(refreshCtx), nil
	})

	//nolint:forcetypeassert // refresh always returns float64
	return v.(float64)
}

func (o *Oracle) refresh(ctx context.Context) float64 {
	log := util.LogFromContext(ctx).With().Str("component", "price").Str("asset", o.cfg.Asset).Logger()

	usd, err := o.fetch(ctx)
	if err == nil {
		o.remember(ctx, &Entry{Asset: o.cfg.Asset, USD: usd, FetchedAt: o.clock.Now()})
		o.metrics.PriceFetch("fetched")
		return usd
	}

	o.mu.Lock()
	o.failures++
	failures := o.failures
	stale := o.last
	o.mu.Unlock()

	o.metrics.PriceFetch("failure")

	if stale == nil {
		stale = o.readShared(ctx)
	}
	if stale != nil {
		log.Warn().Err(err).Int("failures", failures).Float64("usd", stale.USD).Msg("Price fetch failed, serving stale quote")
		o.metrics.PriceFetch("stale")
		return stale.USD
	}

	log.Error().Err(err).Int("failures", failures).Float64("usd", o.cfg.FallbackUSD).Msg("Price fetch failed, serving fallback constant")
	o.metrics.PriceFetch("fallback")
	return o.cfg.FallbackUSD
}

func (o *Oracle) fetch(ctx context.Context) (float64, error) {
	var lastErr error

	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		if attempt > 1 && o.cfg.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-o.clock.TickAfter(o.cfg.RetryDelay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
		usd, err := o.source.FetchUSD(attemptCtx)
		cancel()

		if err == nil && !valid(usd) {
			err = errors.Wrapf(errOutOfRange, "%v", usd)
		}
		if err == nil {
			return usd, nil
		}

		lastErr = err
	}

	return 0, lastErr
}

func valid(usd float64) bool {
	return usd > 0 && usd <= MaxValidUSD
}
