package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/audit"
)

type resetNonceResponse struct {
	UserID string `json:"user_id"`
	Nonce  uint64 `json:"nonce"`
}

func PostResetNonceRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Admin.POST("/nonces/:user_id/reset", postResetNonceHandler(s))
}

// Re-syncs the stored nonce of a user's wallet with the chain's pending nonce,
// closing gaps left by failed broadcasts.
func postResetNonceHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID := c.Param("user_id")

		next, err := s.Nonces.ResetNonce(ctx, userID, s.Config.Chain.ChainID)
		if err != nil {
			return err
		}

		s.Audit.Record(ctx, userID, audit.ActionNonceReset, map[string]any{"nonce": next, "source": "api"})

		return c.JSON(http.StatusOK, resetNonceResponse{UserID: userID, Nonce: next})
	}
}
