package common

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github/chapool/go-custody/internal/api"
)

func GetHealthyRoute(s *api.Server) *echo.Route {
	return s.Router.Management.GET("/healthy", getHealthyHandler(s))
}

// Health check
// Returns an overview of every dependency, 521 if any of them fails.
func getHealthyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.Ready() {
			return c.String(521, "Not ready.")
		}

		ctx, cancel := context.WithTimeout(c.Request().Context(), probeTimeout)
		defer cancel()

		var (
			b       strings.Builder
			healthy = true
		)
		check := func(name string, err error) {
			if err != nil {
				healthy = false
				fmt.Fprintf(&b, "%s: %v\n", name, err)
				return
			}
			fmt.Fprintf(&b, "%s: ok\n", name)
		}

		check("store", s.Store.Ping(ctx))
		check("cache", s.Cache.Ping(ctx))
		head, err := s.Chain.BlockNumber(ctx)
		check("chain", err)
		if err == nil {
			fmt.Fprintf(&b, "chain head: %d\n", head)
		}

		if !healthy {
			return c.String(521, b.String())
		}

		return c.String(http.StatusOK, b.String())
	}
}
