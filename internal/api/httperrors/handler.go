package httperrors

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github/chapool/go-custody/internal/errs"
	"github/chapool/go-custody/internal/util"
)

// HTTPErrorHandler renders every error as HTTPError JSON. Internal details
// of 5xx responses are hidden when hideInternal is set; client errors of the
// engine always carry their cause as detail.
func HTTPErrorHandler(hideInternal bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var body *HTTPError
		var echoErr *echo.HTTPError
		if errors.As(err, &echoErr) {
			body = NewHTTPError(echoErr.Code, TypeGeneric, http.StatusText(echoErr.Code))
			if msg, ok := echoErr.Message.(string); ok {
				body.Title = msg
			}
		} else {
			body = FromError(err)
		}

		response := *body
		if body.Internal != nil && (!hideInternal || body.Code < http.StatusInternalServerError) {
			response.Detail = body.Internal.Error()
		}

		var processed *errs.AlreadyProcessedError
		if errors.As(err, &processed) {
			c.Response().Header().Set("X-Transaction-Status", processed.Status)
		}

		log := util.LogFromContext(c.Request().Context())
		if body.Code >= http.StatusInternalServerError {
			log.Error().Err(err).Int("status", body.Code).Msg("Request failed")
		} else {
			log.Debug().Err(err).Int("status", body.Code).Msg("Request rejected")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(body.Code)
		} else {
			writeErr = c.JSON(body.Code, response)
		}
		if writeErr != nil {
			log.Error().Err(writeErr).Msg("Failed to write error response")
		}
	}
}
