package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github/chapool/go-custody/internal/audit"
	"github/chapool/go-custody/internal/cache"
	"github/chapool/go-custody/internal/config"
	"github/chapool/go-custody/internal/metrics"
	"github/chapool/go-custody/internal/models"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/util"
	"github/chapool/go-custody/internal/wallet"
	"github/chapool/go-custody/internal/wallet/balance"
	"github/chapool/go-custody/internal/wallet/chain"
	"github/chapool/go-custody/internal/wallet/intent"
	"github/chapool/go-custody/internal/wallet/keystore"
	"github/chapool/go-custody/internal/wallet/reconcile"
	"github/chapool/go-custody/internal/wallet/signer"
	"github/chapool/go-custody/internal/wallet/transfer"
)

// WalletService is the wallet lifecycle as seen by the API.
type WalletService = wallet.Service

// BalanceService reads cached balances.
type BalanceService = balance.Service

// SignerService signs with custodial keys.
type SignerService = signer.Service

// PriceOracle quotes the native asset in USD.
type PriceOracle interface {
	GetReferencePriceUSD(ctx context.Context) float64
}

// IntentService drives transfers from intent to broadcast.
type IntentService interface {
	Initiate(ctx context.Context, req intent.InitiateRequest) (*intent.Confirmation, error)
	Execute(ctx context.Context, req intent.ExecuteRequest) (*models.Transaction, error)
	Cancel(ctx context.Context, userID string, id string) (*models.Transaction, error)
	GetByID(ctx context.Context, userID string, id string) (*models.Transaction, error)
	GetByToken(ctx context.Context, userID string, token string) (*models.Transaction, error)
	List(ctx context.Context, userID string, limit int) ([]*models.Transaction, error)
	Usage(ctx context.Context, userID string, assets []string) (*intent.Usage, error)
	ExpireStale(ctx context.Context, limit int) (int, error)
}

// ReconcileService settles broadcast transactions.
type ReconcileService interface {
	Reconcile(ctx context.Context) (*reconcile.Summary, error)
	ReconcileOne(ctx context.Context, id string) (*models.Transaction, error)
	Run(ctx context.Context, interval time.Duration)
}

// NonceService hands out and repairs per-wallet nonces.
type NonceService interface {
	NextNonce(ctx context.Context, userID string, chainID int64) (uint64, error)
	ResetNonce(ctx context.Context, userID string, chainID int64) (uint64, error)
}

// TransferExecutor is exposed for fee estimates of the balance view.
type TransferExecutor interface {
	ValidateRequest(to string, amount decimal.Decimal, symbol string) (balance.Asset, error)
	EstimateFee(ctx context.Context, from string, to string, amount decimal.Decimal, asset balance.Asset) (*transfer.Estimate, error)
}

type Router struct {
	Routes         []*echo.Route
	Root           *echo.Group
	Management     *echo.Group
	APIV1Wallets   *echo.Group
	APIV1Transfers *echo.Group
	APIV1Admin     *echo.Group
}

// Server is a central struct keeping all the dependencies.
// It is initialized with wire, which handles making the new instances of the components
// in the right order. To add a new component, 3 steps are required:
// - declaring it in this struct
// - adding a provider function in providers.go
// - adding the provider's function name to the arguments of wire.Build() in wire.go
//
// Components labeled as `wire:"-"` will be skipped and have to be initialized after the InitNewServer* call.
// For more information about wire refer to https://pkg.go.dev/github.com/google/wire
type Server struct {
	// skip wire:
	// -> initialized with router.Init(s) function
	Echo   *echo.Echo `wire:"-"`
	Router *Router    `wire:"-"`
	// DB is nil when the server runs on the in-memory store,
	// readiness is checked through Store instead
	DB *sql.DB `wire:"-"`

	Config     config.Server
	Store      store.Store
	Cache      *cache.TwoTier
	Chain      chain.Client
	Clock      clock.Clock
	Metrics    *metrics.Service
	Audit      audit.Sink
	Keystore   keystore.Service
	Prices     PriceOracle
	Wallet     WalletService
	Balance    BalanceService
	Signer     SignerService
	Nonces     NonceService
	Executor   TransferExecutor
	Intents    IntentService
	Reconciler ReconcileService
}

// newServerWithComponents is used by wire to initialize the server components.
// Components not listed here won't be handled by wire and should be initialized separately.
// Components which shouldn't be handled must be labeled `wire:"-"` in Server struct.
func newServerWithComponents(
	cfg config.Server,
	db *sql.DB,
	s store.Store,
	c *cache.TwoTier,
	client chain.Client,
	clk clock.Clock,
	m *metrics.Service,
	sink audit.Sink,
	ks keystore.Service,
	prices PriceOracle,
	walletService WalletService,
	balanceService BalanceService,
	signerService SignerService,
	nonces NonceService,
	executor TransferExecutor,
	intents IntentService,
	reconciler ReconcileService,
) *Server {
	return &Server{
		Config:     cfg,
		DB:         db,
		Store:      s,
		Cache:      c,
		Chain:      client,
		Clock:      clk,
		Metrics:    m,
		Audit:      sink,
		Keystore:   ks,
		Prices:     prices,
		Wallet:     walletService,
		Balance:    balanceService,
		Signer:     signerService,
		Nonces:     nonces,
		Executor:   executor,
		Intents:    intents,
		Reconciler: reconciler,
	}
}

func NewServer(config config.Server) *Server {
	s := &Server{
		Config: config,
	}

	return s
}

func (s *Server) Ready() bool {
	if err := util.IsStructInitialized(s); err != nil {
		log.Debug().Err(err).Msg("Server is not fully initialized")
		return false
	}

	return true
}

func (s *Server) Start() error {
	if !s.Ready() {
		return errors.New("server is not ready")
	}

	if err := s.Echo.Start(s.Config.Echo.ListenAddress); err != nil {
		return fmt.Errorf("failed to start echo server: %w", err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) []error {
	log.Warn().Msg("Shutting down server")

	var errs []error

	if s.Echo != nil {
		log.Debug().Msg("Shutting down echo server")

		if err := s.Echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Failed to shutdown echo server")
			errs = append(errs, err)
		}
	}

	if s.Cache != nil {
		log.Debug().Msg("Closing caches")

		if err := s.Cache.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close caches")
			errs = append(errs, err)
		}
	}

	if s.DB != nil {
		log.Debug().Msg("Closing database connection")

		if err := s.DB.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			log.Error().Err(err).Msg("Failed to close database connection")
			errs = append(errs, err)
		}
	}

	return errs
}
