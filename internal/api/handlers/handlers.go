package handlers

import (
	"github.com/labstack/echo/v4"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/api/handlers/admin"
	"github/chapool/go-custody/internal/api/handlers/common"
	"github/chapool/go-custody/internal/api/handlers/transfers"
	"github/chapool/go-custody/internal/api/handlers/wallets"
)

func AttachAllRoutes(s *api.Server) {
	// attach our routes
	s.Router.Routes = []*echo.Route{
		admin.PostReconcileRoute(s),
		admin.PostReconcileTransactionRoute(s),
		admin.PostResetNonceRoute(s),
		common.GetHealthyRoute(s),
		common.GetReadyRoute(s),
		common.GetVersionRoute(s),
		transfers.GetTransferByTokenRoute(s),
		transfers.GetTransferRoute(s),
		transfers.GetTransfersRoute(s),
		transfers.PostCancelTransferRoute(s),
		transfers.PostExecuteTransferRoute(s),
		transfers.PostInitiateTransferRoute(s),
		wallets.GetBalanceRoute(s),
		wallets.GetWalletsRoute(s),
		wallets.PostCreateWalletRoute(s),
		wallets.PostSignMessageRoute(s),
	}
}
