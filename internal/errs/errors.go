// Package errs holds the error taxonomy shared by the wallet components.
// Components wrap these sentinels with github.com/pkg/errors; callers match
// them with errors.Is.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConfiguration signals missing or malformed keys and credentials. Fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	ErrEncryptionFailure = errors.New("encryption failure")
	ErrDecryptionFailure = errors.New("decryption failure")

	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidRecipient  = errors.New("invalid recipient")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrUnsupportedAsset  = errors.New("unsupported asset")
	ErrLimitExceeded     = errors.New("transfer limit exceeded")

	ErrConfirmationRequired = errors.New("explicit confirmation required")
	ErrTokenExpired         = errors.New("confirmation token expired")
	ErrTokenAlreadyConsumed = errors.New("confirmation token already consumed")

	// ErrNonceConflict means the chain already used the allocated nonce: the
	// stored counter is behind and needs a reset.
	ErrNonceConflict = errors.New("nonce conflict")

	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrBroadcastRejected  = errors.New("broadcast rejected")
	// ErrBroadcastUncertain means the node may or may not have accepted a
	// signed transaction. It must not be re-sent elsewhere.
	ErrBroadcastUncertain = errors.New("broadcast outcome unknown")
)

// AlreadyProcessedError is returned when a confirmation token is presented for
// a transaction that already left the pending state.
type AlreadyProcessedError struct {
	Status string
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("%s: transaction is %s", ErrTokenAlreadyConsumed, e.Status)
}

// Is lets errors.Is(err, ErrTokenAlreadyConsumed) match.
func (e *AlreadyProcessedError) Is(target error) bool {
	return target == ErrTokenAlreadyConsumed //nolint:errorlint,goerr113
}
