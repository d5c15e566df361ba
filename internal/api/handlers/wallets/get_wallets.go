package wallets

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/api/httperrors"
	"github/chapool/go-custody/internal/auth"
	"github/chapool/go-custody/internal/wallet"
)

type walletsResponse struct {
	Wallets []*wallet.Wallet `json:"wallets"`
}

func GetWalletsRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Wallets.GET("", getWalletsHandler(s))
}

func getWalletsHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		user := auth.UserFromContext(ctx)
		if user == nil {
			return httperrors.ErrUnauthorized
		}

		wallets, err := s.Wallet.ListWallets(ctx, user.ID)
		if err != nil {
			return err
		}
		if wallets == nil {
			wallets = []*wallet.Wallet{}
		}

		return c.JSON(http.StatusOK, walletsResponse{Wallets: wallets})
	}
}
