package transfers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/api/httperrors"
	"github/chapool/go-custody/internal/auth"
	"github/chapool/go-custody/internal/errs"
	"github/chapool/go-custody/internal/util"
	"github/chapool/go-custody/internal/wallet/intent"
)

func PostInitiateTransferRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Transfers.POST("", postInitiateTransferHandler(s))
}

// Records a pending transfer and returns the confirmation to present to
// /transfers/execute. Nothing is broadcast here.
func postInitiateTransferHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		user := auth.UserFromContext(ctx)
		if user == nil {
			return httperrors.ErrUnauthorized
		}
		log := util.LogFromContext(ctx)

		var body initiatePayload
		if err := c.Bind(&body); err != nil {
			return err
		}

		amount, err := decimal.NewFromString(strings.TrimSpace(body.Amount))
		if err != nil {
			return httperrors.NewFromErr(http.StatusBadRequest, httperrors.TypeValidation, "Invalid amount.", errs.ErrInvalidAmount)
		}

		confirmation, err := s.Intents.Initiate(ctx, intent.InitiateRequest{
			UserID:    user.ID,
			Recipient: body.Recipient,
			Amount:    amount,
			Currency:  strings.ToUpper(strings.TrimSpace(body.Currency)),
		})
		if err != nil {
			log.Debug().Err(err).Msg("Failed to initiate transfer")
			return err
		}

		return c.JSON(http.StatusCreated, confirmation)
	}
}
