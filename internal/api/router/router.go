package router

import (
	"strings"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/api/handlers"
	"github/chapool/go-custody/internal/api/httperrors"
	"github/chapool/go-custody/internal/api/middleware"
	"github/chapool/go-custody/internal/metrics"
)

func skipManagement(c echo.Context) bool {
	return strings.HasPrefix(c.Path(), "/-/") || c.Path() == "/metrics"
}

func Init(s *api.Server) error {
	s.Echo = echo.New()

	s.Echo.Debug = s.Config.Echo.Debug
	s.Echo.HideBanner = true
	s.Echo.Logger.SetOutput(&echoLogger{level: s.Config.Logger.RequestLevel, log: log.With().Str("component", "echo").Logger()})

	s.Echo.HTTPErrorHandler = httperrors.HTTPErrorHandler(s.Config.Echo.HideInternalServerErrorDetails)

	// ---
	// General middleware
	if s.Config.Echo.EnableTrailingSlashMiddleware {
		s.Echo.Pre(echoMiddleware.RemoveTrailingSlash())
	} else {
		log.Warn().Msg("Disabling trailing slash middleware due to environment config")
	}

	if s.Config.Echo.EnableRecoverMiddleware {
		s.Echo.Use(echoMiddleware.Recover())
	} else {
		log.Warn().Msg("Disabling recover middleware due to environment config")
	}

	if s.Config.Echo.EnableRequestIDMiddleware {
		s.Echo.Use(echoMiddleware.RequestID())
	} else {
		log.Warn().Msg("Disabling request ID middleware due to environment config")
	}

	if s.Config.Echo.EnableLoggerMiddleware {
		s.Echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Level:             s.Config.Logger.RequestLevel,
			LogRequestHeader:  s.Config.Logger.LogRequestHeader,
			LogResponseHeader: s.Config.Logger.LogResponseHeader,
			Skipper:           skipManagement,
		}))
	} else {
		log.Warn().Msg("Disabling logger middleware due to environment config")
	}

	if s.Config.Echo.EnableCORSMiddleware {
		s.Echo.Use(echoMiddleware.CORS())
	} else {
		log.Warn().Msg("Disabling CORS middleware due to environment config")
	}

	if s.Config.Echo.EnablePrometheusMiddleware {
		s.Echo.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
			Namespace:  metrics.Namespace,
			Subsystem:  "http",
			Registerer: s.Metrics.Registry,
			Skipper:    skipManagement,
		}))
	} else {
		log.Warn().Msg("Disabling prometheus middleware due to environment config")
	}

	s.Echo.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: s.Metrics.Registry,
	}))

	// ---
	// Initialize our general groups and set middleware to use above them
	s.Router = &api.Router{
		Routes: nil, // will be populated by handlers.AttachAllRoutes(s)

		// Unsecured base group available at /**
		Root: s.Echo.Group(""),

		// Management endpoints for probes, available at /-/**
		Management: s.Echo.Group("/-"),

		// Wallet endpoints of the calling user, available at /api/v1/wallets/**
		APIV1Wallets: s.Echo.Group("/api/v1/wallets", middleware.UserFromHeader(s.Config.Echo.UserIDHeader)),

		// Transfer endpoints of the calling user, available at /api/v1/transfers/**
		APIV1Transfers: s.Echo.Group("/api/v1/transfers", middleware.UserFromHeader(s.Config.Echo.UserIDHeader)),

		// Operator endpoints behind the admin token, available at /api/v1/admin/**
		APIV1Admin: s.Echo.Group("/api/v1/admin", middleware.AdminToken(s.Config.Echo.AdminToken)),
	}

	// ---
	// Finally attach our handlers
	handlers.AttachAllRoutes(s)

	return nil
}
