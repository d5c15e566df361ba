package test

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/api/middleware"
	"github/chapool/go-custody/internal/api/router"
	"github/chapool/go-custody/internal/config"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/test/chainmock"
)

const AdminToken = "test-admin-token"

func randomHexKey(t *testing.T) string {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	return hex.EncodeToString(key)
}

// NewPriceFeed serves a CoinGecko style quote of PriceUSD.
func NewPriceFeed(t *testing.T) *httptest.Server {
	t.Helper()

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]map[string]float64{"ethereum": {"usd": PriceUSD}})
	}))
	t.Cleanup(feed.Close)

	return feed
}

// TestConfig returns the env defaults with fresh keys, a local KMS and no
// shared cache.
func TestConfig(t *testing.T) config.Server {
	t.Helper()

	cfg := config.DefaultServiceConfigFromEnv()
	cfg.Logger.PrettyPrintConsole = false
	cfg.Echo.AdminToken = AdminToken
	cfg.Redis.Addr = ""
	cfg.Chain.ChainID = ChainID
	cfg.Chain.TokenContract = USDC.Hex()
	cfg.Wallet.KMSProvider = "local"
	cfg.Wallet.KMSKeyReference = KeyReference
	cfg.Wallet.EncryptionKey = randomHexKey(t)
	cfg.Wallet.LocalKMSKey = randomHexKey(t)
	cfg.Price.AssetID = "ethereum"
	cfg.Price.SourceURL = NewPriceFeed(t).URL

	require.NoError(t, cfg.Validate())

	return cfg
}

// WithTestServer runs closure against a fully wired server on the in-memory
// store and a mocked chain.
func WithTestServer(t *testing.T, closure func(s *api.Server)) {
	t.Helper()

	WithTestServerConfigurable(t, TestConfig(t), closure)
}

func WithTestServerConfigurable(t *testing.T, cfg config.Server, closure func(s *api.Server)) {
	t.Helper()

	s, err := api.InitNewServerWithDeps(cfg, nil, store.NewMemory(), chainmock.New(cfg.Chain.ChainID))
	require.NoError(t, err)

	require.NoError(t, router.Init(s))

	closure(s)

	for _, err := range s.Shutdown(context.Background()) {
		require.NoError(t, err)
	}
}

// Chain returns the mocked chain client of a test server.
func Chain(t *testing.T, s *api.Server) *chainmock.Client {
	t.Helper()

	client, ok := s.Chain.(*chainmock.Client)
	require.True(t, ok, "server does not run on a mocked chain")

	return client
}

// UserHeader identifies requests as coming from userID.
func UserHeader(s *api.Server, userID string) http.Header {
	h := http.Header{}
	h.Set(s.Config.Echo.UserIDHeader, userID)
	return h
}

func AdminHeader() http.Header {
	h := http.Header{}
	h.Set(middleware.AdminTokenHeader, AdminToken)
	return h
}

// PerformRequest sends body as JSON to s and records the response.
func PerformRequest(t *testing.T, s *api.Server, method string, path string, body any, headers http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	for k, v := range headers {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}

	res := httptest.NewRecorder()
	s.Echo.ServeHTTP(res, req)

	return res
}

// ParseResponseAndValidate decodes the JSON body of res into v.
func ParseResponseAndValidate(t *testing.T, res *httptest.ResponseRecorder, v any) {
	t.Helper()

	require.NoError(t, json.NewDecoder(res.Body).Decode(v), "failed to decode %q", res.Body.String())
}
