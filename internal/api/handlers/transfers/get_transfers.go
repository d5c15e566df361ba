package transfers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/api/httperrors"
	"github/chapool/go-custody/internal/auth"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func GetTransfersRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Transfers.GET("", getTransfersHandler(s))
}

// Lists the caller's transfers, newest first. ?limit caps the result (max 100).
func getTransfersHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		user := auth.UserFromContext(ctx)
		if user == nil {
			return httperrors.ErrUnauthorized
		}

		limit := defaultListLimit
		if raw := c.QueryParam("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > maxListLimit {
				return httperrors.ErrBadRequestLimit
			}
			limit = n
		}

		txs, err := s.Intents.List(ctx, user.ID, limit)
		if err != nil {
			return err
		}

		response := transactionsResponse{Transactions: make([]*transactionResponse, 0, len(txs))}
		for _, tx := range txs {
			response.Transactions = append(response.Transactions, toResponse(tx))
		}

		return c.JSON(http.StatusOK, response)
	}
}
