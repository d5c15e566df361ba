package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/go-custody/internal/api"
)

type reconcileTransactionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func PostReconcileTransactionRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Admin.POST("/reconcile/:id", postReconcileTransactionHandler(s))
}

func postReconcileTransactionHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		tx, err := s.Reconciler.ReconcileOne(c.Request().Context(), c.Param("id"))
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, reconcileTransactionResponse{ID: tx.ID, Status: tx.Status.String()})
	}
}
