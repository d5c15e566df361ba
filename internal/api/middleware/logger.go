package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github/chapool/go-custody/internal/util"
)

type LoggerConfig struct {
	Skipper           middleware.Skipper
	Level             zerolog.Level
	LogRequestHeader  bool
	LogResponseHeader bool
}

// LoggerWithConfig attaches a request scoped logger carrying the request id to
// the request context and logs every finished request at cfg.Level.
func LoggerWithConfig(cfg LoggerConfig) echo.MiddlewareFunc {
	if cfg.Skipper == nil {
		cfg.Skipper = middleware.DefaultSkipper
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper(c) {
				return next(c)
			}

			req := c.Request()
			res := c.Response()
			start := time.Now()

			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = res.Header().Get(echo.HeaderXRequestID)
			}

			l := log.With().
				Str("id", id).
				Str("method", req.Method).
				Str("path", c.Path()).
				Logger()
			c.SetRequest(req.WithContext(util.WithLogger(req.Context(), l)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			event := l.WithLevel(cfg.Level).
				Str("uri", req.RequestURI).
				Str("remote_ip", c.RealIP()).
				Int("status", res.Status).
				Int64("bytes_out", res.Size).
				Dur("duration", time.Since(start))
			if cfg.LogRequestHeader {
				event = event.Interface("req_header", req.Header)
			}
			if cfg.LogResponseHeader {
				event = event.Interface("res_header", res.Header())
			}
			event.Msg("http_request")

			return nil
		}
	}
}
