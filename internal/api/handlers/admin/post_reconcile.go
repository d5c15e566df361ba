package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/go-custody/internal/api"
)

func PostReconcileRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Admin.POST("/reconcile", postReconcileHandler(s))
}

// Runs one reconciliation pass and returns its summary.
func postReconcileHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		summary, err := s.Reconciler.Reconcile(c.Request().Context())
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, summary)
	}
}
