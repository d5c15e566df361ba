//go:build wireinject

package api

import (
	"database/sql"

	"github.com/google/wire"
	"github/chapool/go-custody/internal/config"
	"github/chapool/go-custody/internal/metrics"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/wallet"
	"github/chapool/go-custody/internal/wallet/chain"
	"github/chapool/go-custody/internal/wallet/intent"
	"github/chapool/go-custody/internal/wallet/nonce"
	"github/chapool/go-custody/internal/wallet/price"
	"github/chapool/go-custody/internal/wallet/reconcile"
	"github/chapool/go-custody/internal/wallet/transfer"
)

// INJECTORS - https://github.com/google/wire/blob/main/docs/guide.md#injectors

// serviceSet groups the default set of providers that are required for initing a server
var serviceSet = wire.NewSet(
	newServerWithComponents,
	NewClock,
	NewCache,
	NewKMS,
	NewKeystore,
	NewAuditSink,
	metrics.New,
	priceSet,
	NewBalanceService,
	nonceSet,
	NewSignerService,
	wallet.NewGenerator,
	NewWalletService,
	transferSet,
)

var priceSet = wire.NewSet(
	NewPriceOracle,
	wire.Bind(new(PriceOracle), new(*price.Oracle)),
)

var nonceSet = wire.NewSet(
	NewNonceAllocator,
	wire.Bind(new(NonceService), new(*nonce.Allocator)),
)

var transferSet = wire.NewSet(
	NewExecutor,
	wire.Bind(new(TransferExecutor), new(*transfer.Executor)),
	NewIntentService,
	wire.Bind(new(IntentService), new(*intent.Service)),
	NewReconciler,
	wire.Bind(new(ReconcileService), new(*reconcile.Reconciler)),
)

// InitNewServer returns a new Server instance backed by Postgres and the
// configured RPC nodes.
func InitNewServer(
	_ config.Server,
) (*Server, error) {
	wire.Build(serviceSet, NewDB, NewPostgresStore, NewChainClient)
	return new(Server), nil
}

// InitNewServerWithDeps returns a new Server instance with the given store and chain client.
// All the other components are initialized via go wire according to the configuration.
// db may be nil.
func InitNewServerWithDeps(
	_ config.Server,
	_ *sql.DB,
	_ store.Store,
	_ chain.Client,
) (*Server, error) {
	wire.Build(serviceSet)
	return new(Server), nil
}
