// Package cache provides the two-tier cache used for balances and prices:
// Redis as the shared primary tier and an in-process bigcache as fallback.
// The local tier is per process and never shared across instances, so it is
// only suitable for best-effort caching, never for nonce allocation.
package cache

import (
	"context"
	"encoding/binary"
	"io"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github/chapool/go-custody/internal/util"
)

const expiryHeaderSize = 8

// Cache stores opaque values with a per-entry TTL.
type Cache interface {
	// Get reports found=false on a miss or an expired entry.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Local wraps bigcache. bigcache only knows a global life window, so every
// entry carries its own expiry in an 8 byte header.
type Local struct {
	cache *bigcache.BigCache
	clock clock.Clock
}

// NewLocal creates the in-process tier. lifeWindow is the hard upper bound for
// any entry.
func NewLocal(ctx context.Context, lifeWindow time.Duration, clk clock.Clock) (*Local, error) {
	cfg := bigcache.DefaultConfig(lifeWindow)
	cfg.Shards = 64
	cfg.CleanWindow = time.Minute
	cfg.MaxEntriesInWindow = 10_000
	cfg.MaxEntrySize = 512
	cfg.Verbose = false

	c, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create local cache")
	}

	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &Local{cache: c, clock: clk}, nil
}

func (l *Local) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, err := l.cache.Get(key)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "local cache get")
	}

	if len(entry) < expiryHeaderSize {
		_ = l.cache.Delete(key)
		return nil, false, nil
	}

	//nolint:gosec // unix nanos round-trip through uint64
	expiresAt := int64(binary.BigEndian.Uint64(entry[:expiryHeaderSize]))
	if expiresAt != 0 && l.clock.Now().UnixNano() >= expiresAt {
		_ = l.cache.Delete(key)
		return nil, false, nil
	}

	value := make([]byte, len(entry)-expiryHeaderSize)
	copy(value, entry[expiryHeaderSize:])
	return value, true, nil
}

func (l *Local) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := make([]byte, expiryHeaderSize+len(value))
	if ttl > 0 {
		//nolint:gosec
		binary.BigEndian.PutUint64(entry, uint64(l.clock.Now().Add(ttl).UnixNano()))
	}
	copy(entry[expiryHeaderSize:], value)

	if err := l.cache.Set(key, entry); err != nil {
		return errors.Wrap(err, "local cache set")
	}
	return nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	if err := l.cache.Delete(key); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return errors.Wrap(err, "local cache delete")
	}
	return nil
}

func (l *Local) Ping(context.Context) error {
	return nil
}

func (l *Local) Close() error {
	return l.cache.Close()
}

// Redis is the shared tier.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "redis get")
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// TwoTier reads from the primary while it is reachable and falls back to the
// local tier on primary errors. Writes go to both; a failing primary write is
// logged and absorbed.
type TwoTier struct {
	primary Cache
	local   Cache
}

// NewTwoTier accepts a nil primary, in which case only the local tier is used.
func NewTwoTier(primary Cache, local Cache) *TwoTier {
	return &TwoTier{primary: primary, local: local}
}

func (t *TwoTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if t.primary != nil {
		value, found, err := t.primary.Get(ctx, key)
		if err == nil {
			return value, found, nil
		}
		util.LogFromContext(ctx).Warn().Err(err).Str("key", key).Msg("Primary cache unavailable, using local tier")
	}

	return t.local.Get(ctx, key)
}

func (t *TwoTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if t.primary != nil {
		if err := t.primary.Set(ctx, key, value, ttl); err != nil {
			util.LogFromContext(ctx).Warn().Err(err).Str("key", key).Msg("Failed to write primary cache")
		}
	}

	return t.local.Set(ctx, key, value, ttl)
}

func (t *TwoTier) Delete(ctx context.Context, key string) error {
	var primaryErr error
	if t.primary != nil {
		primaryErr = t.primary.Delete(ctx, key)
	}

	if err := t.local.Delete(ctx, key); err != nil {
		return err
	}

	return primaryErr
}

// Ping reports the primary's health; a local-only cache is always healthy.
func (t *TwoTier) Ping(ctx context.Context) error {
	if t.primary == nil {
		return nil
	}
	return t.primary.Ping(ctx)
}

// Close releases both tiers.
func (t *TwoTier) Close() error {
	var firstErr error
	for _, c := range []Cache{t.primary, t.local} {
		closer, ok := c.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
