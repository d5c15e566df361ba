package wallets

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/labstack/echo/v4"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/api/httperrors"
	"github/chapool/go-custody/internal/auth"
)

type signMessagePayload struct {
	Message string `json:"message"`
}

type signMessageResponse struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

func PostSignMessageRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Wallets.POST("/sign-message", postSignMessageHandler(s))
}

// Signs an EIP-191 personal message with the caller's wallet key.
func postSignMessageHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		user := auth.UserFromContext(ctx)
		if user == nil {
			return httperrors.ErrUnauthorized
		}

		var body signMessagePayload
		if err := c.Bind(&body); err != nil {
			return err
		}
		if body.Message == "" {
			return httperrors.NewHTTPError(http.StatusBadRequest, httperrors.TypeValidation, "message is required")
		}

		w, err := s.Wallet.GetWallet(ctx, user.ID)
		if err != nil {
			return err
		}

		sig, err := s.Signer.SignMessage(ctx, user.ID, []byte(body.Message))
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, signMessageResponse{
			Address:   w.Address,
			Message:   body.Message,
			Signature: hexutil.Encode(sig),
		})
	}
}
