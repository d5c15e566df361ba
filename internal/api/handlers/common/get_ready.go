package common

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/util"
)

const probeTimeout = 5 * time.Second

func GetReadyRoute(s *api.Server) *echo.Route {
	return s.Router.Management.GET("/ready", getReadyHandler(s))
}

// Readiness probe
// Returns 521 when a component is missing or the store or cache is unreachable.
func getReadyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.Ready() {
			return c.String(521, "Not ready.")
		}

		ctx, cancel := context.WithTimeout(c.Request().Context(), probeTimeout)
		defer cancel()

		if err := s.Store.Ping(ctx); err != nil {
			util.LogFromContext(ctx).Warn().Err(err).Msg("Readiness probe failed on store")
			return c.String(521, "Not ready.")
		}
		if err := s.Cache.Ping(ctx); err != nil {
			util.LogFromContext(ctx).Warn().Err(err).Msg("Readiness probe failed on cache")
			return c.String(521, "Not ready.")
		}

		return c.String(http.StatusOK, "Ready.")
	}
}
