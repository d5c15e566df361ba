package transfers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/api/httperrors"
	"github/chapool/go-custody/internal/auth"
)

func PostCancelTransferRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Transfers.POST("/:id/cancel", postCancelTransferHandler(s))
}

// Only pending transfers can be cancelled.
func postCancelTransferHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		user := auth.UserFromContext(ctx)
		if user == nil {
			return httperrors.ErrUnauthorized
		}

		tx, err := s.Intents.Cancel(ctx, user.ID, c.Param("id"))
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, toResponse(tx))
	}
}
