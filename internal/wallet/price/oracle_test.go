package price_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/internal/cache"
	"github/chapool/go-custody/internal/wallet/price"
)

type feed struct {
	srv   *httptest.Server
	calls atomic.Int32
	usd   atomic.Value
	fail  atomic.Bool
}

func newFeed(t *testing.T, usd string) *feed {
	t.Helper()

	f := &feed{}
	f.usd.Store(usd)
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		if r.URL.Path != "/simple/price" || r.URL.Query().Get("ids") != "ethereum" || r.URL.Query().Get("vs_currencies") != "usd" {
			http.NotFound(w, r)
			return
		}
		if f.fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"ethereum":{"usd":%s}}`, f.usd.Load())
	}))
	t.Cleanup(f.srv.Close)

	return f
}

func testConfig() price.Config {
	return price.Config{
		Asset:          "ethereum",
		TTL:            time.Minute,
		MaxTTL:         5 * time.Minute,
		AttemptTimeout: time.Second,
		FallbackUSD:    2000,
	}
}

func TestCoinGeckoFetchUSD(t *testing.T) {
	f := newFeed(t, "3150.25")

	usd, err := price.NewCoinGecko(f.srv.URL, "ethereum", "").FetchUSD(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 3150.25, usd, 1e-9)

	f.fail.Store(true)
	_, err = price.NewCoinGecko(f.srv.URL, "ethereum", "").FetchUSD(context.Background())
	require.Error(t, err)

	_, err = price.NewCoinGecko(f.srv.URL, "bitcoin", "").FetchUSD(context.Background())
	require.Error(t, err)
}

func TestOracleCachesWithinTTL(t *testing.T) {
	f := newFeed(t, "3000")
	clk := clock.NewTestClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	o := price.NewOracle(price.NewCoinGecko(f.srv.URL, "ethereum", ""), nil, testConfig(), clk, nil)

	ctx := context.Background()
	assert.InDelta(t, 3000, o.GetReferencePriceUSD(ctx), 1e-9)
	assert.InDelta(t, 3000, o.GetReferencePriceUSD(ctx), 1e-9)
	assert.Equal(t, int32(1), f.calls.Load())

	f.usd.Store("3100")
	clk.SetTime(clk.Now().Add(2 * time.Minute))
	assert.InDelta(t, 3100, o.GetReferencePriceUSD(ctx), 1e-9)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestOracleOutOfRangeFallsBackToConstant(t *testing.T) {
	for _, bad := range []string{"0", "-5", "100001"} {
		t.Run(bad, func(t *testing.T) {
			f := newFeed(t, bad)
			o := price.NewOracle(price.NewCoinGecko(f.srv.URL, "ethereum", ""), nil, testConfig(), clock.NewTestClock(time.Now()), nil)

			assert.InDelta(t, 2000, o.GetReferencePriceUSD(context.Background()), 1e-9)
			// two attempts
			assert.Equal(t, int32(2), f.calls.Load())
		})
	}
}

func TestOracleServesStaleAndStretchesTTL(t *testing.T) {
	f := newFeed(t, "2500")
	clk := clock.NewTestClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	o := price.NewOracle(price.NewCoinGecko(f.srv.URL, "ethereum", ""), nil, testConfig(), clk, nil)

	ctx := context.Background()
	require.InDelta(t, 2500, o.GetReferencePriceUSD(ctx), 1e-9)
	assert.Equal(t, time.Minute, o.TTL())

	f.usd.Store("100001")
	clk.SetTime(clk.Now().Add(90 * time.Second))
	assert.InDelta(t, 2500, o.GetReferencePriceUSD(ctx), 1e-9)
	assert.Equal(t, 2*time.Minute, o.TTL())

	// the stretched TTL keeps the stale quote fresh for a while
	calls := f.calls.Load()
	clk.SetTime(clk.Now().Add(10 * time.Second))
	assert.InDelta(t, 2500, o.GetReferencePriceUSD(ctx), 1e-9)
	assert.Equal(t, calls, f.calls.Load())

	f.fail.Store(true)
	for range 10 {
		clk.SetTime(clk.Now().Add(10 * time.Minute))
		o.GetReferencePriceUSD(ctx)
	}
	assert.Equal(t, 5*time.Minute, o.TTL())

	f.fail.Store(false)
	f.usd.Store("2600")
	clk.SetTime(clk.Now().Add(10 * time.Minute))
	assert.InDelta(t, 2600, o.GetReferencePriceUSD(ctx), 1e-9)
	assert.Equal(t, time.Minute, o.TTL())
}

func TestOracleSharesQuoteThroughCache(t *testing.T) {
	f := newFeed(t, "1800")
	clk := clock.NewTestClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	local, err := cache.NewLocal(ctx, time.Hour, clk)
	require.NoError(t, err)
	defer local.Close()
	shared := cache.NewTwoTier(nil, local)

	first := price.NewOracle(price.NewCoinGecko(f.srv.URL, "ethereum", ""), shared, testConfig(), clk, nil)
	require.InDelta(t, 1800, first.GetReferencePriceUSD(ctx), 1e-9)

	f.fail.Store(true)
	second := price.NewOracle(price.NewCoinGecko(f.srv.URL, "ethereum", ""), shared, testConfig(), clk, nil)
	assert.InDelta(t, 1800, second.GetReferencePriceUSD(ctx), 1e-9)
	assert.Equal(t, int32(1), f.calls.Load())

	// past TTL with the source down: stale shared quote instead of the constant
	clk.SetTime(clk.Now().Add(time.Hour / 2))
	assert.InDelta(t, 1800, second.GetReferencePriceUSD(ctx), 1e-9)
}

func TestOracleRetryWaitsOnClockAndOutlivesCaller(t *testing.T) {
	f := newFeed(t, "2700")
	f.fail.Store(true)

	ticks := make(chan time.Duration, 1)
	clk := clock.NewTestClockWithTickSignal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), ticks)
	cfg := testConfig()
	cfg.RetryDelay = time.Minute
	o := price.NewOracle(price.NewCoinGecko(f.srv.URL, "ethereum", ""), nil, cfg, clk, nil)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan float64, 1)
	go func() { got <- o.GetReferencePriceUSD(ctx) }()

	select {
	case d := <-ticks:
		require.Equal(t, time.Minute, d)
	case <-time.After(5 * time.Second):
		t.Fatal("retry delay did not wait on the clock")
	}

	// the caller leaves while the shared refresh is still running
	cancel()
	f.fail.Store(false)
	clk.SetTime(clk.Now().Add(time.Minute))

	select {
	case usd := <-got:
		assert.InDelta(t, 2700, usd, 1e-9)
	case <-time.After(5 * time.Second):
		t.Fatal("refresh did not finish")
	}
	assert.Equal(t, int32(2), f.calls.Load())
	assert.Equal(t, time.Minute, o.TTL())
}
