package wallets

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/api/httperrors"
	"github/chapool/go-custody/internal/auth"
	"github/chapool/go-custody/internal/util"
)

func PostCreateWalletRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Wallets.POST("", postCreateWalletHandler(s))
}

// Creating twice returns the existing wallet.
func postCreateWalletHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		user := auth.UserFromContext(ctx)
		if user == nil {
			return httperrors.ErrUnauthorized
		}
		log := util.LogFromContext(ctx)

		wallet, err := s.Wallet.CreateWallet(ctx, user.ID)
		if err != nil {
			log.Debug().Err(err).Msg("Failed to create wallet")
			return err
		}

		return c.JSON(http.StatusOK, wallet)
	}
}
