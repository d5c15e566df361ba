package transfers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/api/httperrors"
	"github/chapool/go-custody/internal/auth"
	"github/chapool/go-custody/internal/util"
	"github/chapool/go-custody/internal/wallet/intent"
)

func PostExecuteTransferRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Transfers.POST("/execute", postExecuteTransferHandler(s))
}

// Consumes a confirmation token and broadcasts the transfer. The body must
// carry "confirm": true.
func postExecuteTransferHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		user := auth.UserFromContext(ctx)
		if user == nil {
			return httperrors.ErrUnauthorized
		}

		var body executePayload
		if err := c.Bind(&body); err != nil {
			return err
		}
		if body.Token == "" {
			return httperrors.NewHTTPError(http.StatusBadRequest, httperrors.TypeValidation, "confirmation_token is required")
		}

		tx, err := s.Intents.Execute(ctx, intent.ExecuteRequest{
			UserID:  user.ID,
			Token:   body.Token,
			Confirm: util.FalseIfNil(body.Confirm),
		})
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, toResponse(tx))
	}
}
