package httperrors

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"github/chapool/go-custody/internal/errs"
)

// Public error types returned in the "type" field of error responses.
const (
	TypeGeneric              = "generic"
	TypeValidation           = "validation"
	TypeNotFound             = "not_found"
	TypeUnauthorized         = "unauthorized"
	TypeForbidden            = "forbidden"
	TypeInsufficientFunds    = "insufficient_funds"
	TypeLimitExceeded        = "limit_exceeded"
	TypeConfirmationRequired = "confirmation_required"
	TypeTokenExpired         = "token_expired"
	TypeAlreadyProcessed     = "already_processed"
	TypeNonceConflict        = "nonce_conflict"
	TypeNetworkUnavailable   = "network_unavailable"
	TypeBroadcastRejected    = "broadcast_rejected"
)

// HTTPError is the JSON body of every error response.
type HTTPError struct {
	Code   int    `json:"status"`
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`

	Internal error `json:"-"`
}

func NewHTTPError(code int, errorType string, title string) *HTTPError {
	return &HTTPError{Code: code, Type: errorType, Title: title}
}

// NewFromErr keeps err as the internal cause; its message is only exposed as
// detail when internal details are not hidden.
func NewFromErr(code int, errorType string, title string, err error) *HTTPError {
	return &HTTPError{Code: code, Type: errorType, Title: title, Internal: err}
}

func (e *HTTPError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("HTTPError %d (%s): %s - %v", e.Code, e.Type, e.Title, e.Internal)
	}
	return fmt.Sprintf("HTTPError %d (%s): %s", e.Code, e.Type, e.Title)
}

func (e *HTTPError) Unwrap() error {
	return e.Internal
}

var (
	ErrUnauthorized    = NewHTTPError(http.StatusUnauthorized, TypeUnauthorized, "Missing user identity.")
	ErrForbiddenAdmin  = NewHTTPError(http.StatusForbidden, TypeForbidden, "Admin token required.")
	ErrBadRequestLimit = NewHTTPError(http.StatusBadRequest, TypeValidation, "Invalid limit.")
)

type mapping struct {
	target error
	code   int
	kind   string
	title  string
}

// mappings are checked in order; the first match wins.
var mappings = []mapping{
	{errs.ErrWalletNotFound, http.StatusNotFound, TypeNotFound, "Wallet not found."},
	{errs.ErrTransactionNotFound, http.StatusNotFound, TypeNotFound, "Transaction not found."},
	{errs.ErrInvalidRecipient, http.StatusBadRequest, TypeValidation, "Invalid recipient."},
	{errs.ErrInvalidAmount, http.StatusBadRequest, TypeValidation, "Invalid amount."},
	{errs.ErrUnsupportedAsset, http.StatusBadRequest, TypeValidation, "Unsupported asset."},
	{errs.ErrConfirmationRequired, http.StatusBadRequest, TypeConfirmationRequired, "Explicit confirmation required."},
	{errs.ErrInsufficientFunds, http.StatusUnprocessableEntity, TypeInsufficientFunds, "Insufficient funds."},
	{errs.ErrLimitExceeded, http.StatusForbidden, TypeLimitExceeded, "Transfer limit exceeded."},
	{errs.ErrTokenExpired, http.StatusGone, TypeTokenExpired, "Confirmation token expired."},
	{errs.ErrTokenAlreadyConsumed, http.StatusConflict, TypeAlreadyProcessed, "Transaction already processed."},
	{errs.ErrNonceConflict, http.StatusConflict, TypeNonceConflict, "Nonce conflict, the wallet nonce needs a reset."},
	{errs.ErrNetworkUnavailable, http.StatusServiceUnavailable, TypeNetworkUnavailable, "Blockchain network unavailable."},
	{errs.ErrBroadcastRejected, http.StatusBadGateway, TypeBroadcastRejected, "Transaction rejected by the network."},
	{errs.ErrBroadcastUncertain, http.StatusServiceUnavailable, TypeNetworkUnavailable, "Broadcast outcome unknown, check the transaction status."},
}

// FromError maps the error taxonomy of the engine onto HTTP errors. Errors
// outside the taxonomy become a 500.
func FromError(err error) *HTTPError {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return NewFromErr(m.code, m.kind, m.title, err)
		}
	}

	return NewFromErr(http.StatusInternalServerError, TypeGeneric, http.StatusText(http.StatusInternalServerError), err)
}
