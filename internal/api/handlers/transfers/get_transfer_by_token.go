package transfers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/api/httperrors"
	"github/chapool/go-custody/internal/auth"
)

func GetTransferByTokenRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Transfers.GET("/token/:token", getTransferByTokenHandler(s))
}

func getTransferByTokenHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		user := auth.UserFromContext(ctx)
		if user == nil {
			return httperrors.ErrUnauthorized
		}

		tx, err := s.Intents.GetByToken(ctx, user.ID, c.Param("token"))
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, toResponse(tx))
	}
}
