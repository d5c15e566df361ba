package httperrors_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/internal/api/httperrors"
	"github/chapool/go-custody/internal/errs"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		err  error
		code int
		kind string
	}{
		{errors.Wrap(errs.ErrWalletNotFound, "user-1"), http.StatusNotFound, httperrors.TypeNotFound},
		{errs.ErrInvalidAmount, http.StatusBadRequest, httperrors.TypeValidation},
		{errors.Wrapf(errs.ErrInsufficientFunds, "balance 1"), http.StatusUnprocessableEntity, httperrors.TypeInsufficientFunds},
		{errs.ErrLimitExceeded, http.StatusForbidden, httperrors.TypeLimitExceeded},
		{errs.ErrTokenExpired, http.StatusGone, httperrors.TypeTokenExpired},
		{&errs.AlreadyProcessedError{Status: "confirmed"}, http.StatusConflict, httperrors.TypeAlreadyProcessed},
		{errs.ErrNetworkUnavailable, http.StatusServiceUnavailable, httperrors.TypeNetworkUnavailable},
		{errs.ErrBroadcastRejected, http.StatusBadGateway, httperrors.TypeBroadcastRejected},
		{errors.New("boom"), http.StatusInternalServerError, httperrors.TypeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			httpErr := httperrors.FromError(tt.err)
			assert.Equal(t, tt.code, httpErr.Code)
			assert.Equal(t, tt.kind, httpErr.Type)
			assert.ErrorIs(t, httpErr, tt.err)
		})
	}
}

func TestHTTPErrorHandlerHidesInternalDetails(t *testing.T) {
	e := echo.New()

	render := func(hide bool, err error) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		httperrors.HTTPErrorHandler(hide)(err, c)
		return rec
	}

	rec := render(true, errors.New("database password leaked"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "leaked")

	rec = render(false, errors.New("database password leaked"))
	assert.Contains(t, rec.Body.String(), "leaked")

	rec = render(true, errors.Wrap(errs.ErrInvalidRecipient, "cannot resolve \"bob\""))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "cannot resolve")

	rec = render(true, echo.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
