package db

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github/chapool/go-custody/internal/util"
)

// TxFn runs inside a database transaction.
type TxFn func(tx *sql.Tx) error

// WithTransaction runs fn inside a transaction, committing on success and
// rolling back on error or panic.
func WithTransaction(ctx context.Context, db *sql.DB, fn TxFn) error {
	return WithConfiguredTransaction(ctx, db, nil, fn)
}

// WithConfiguredTransaction is WithTransaction with explicit options.
func WithConfiguredTransaction(ctx context.Context, db *sql.DB, options *sql.TxOptions, fn TxFn) (err error) {
	tx, beginErr := db.BeginTx(ctx, options)
	if beginErr != nil {
		util.LogFromContext(ctx).Warn().Err(beginErr).Msg("Failed to start transaction")
		return errors.Wrap(beginErr, "failed to begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			util.LogFromContext(ctx).Error().Interface("p", p).Msg("Recovered from panic, rolling back transaction and panicking again")

			if txErr := tx.Rollback(); txErr != nil {
				util.LogFromContext(ctx).Warn().Err(txErr).Msg("Failed to roll back transaction after recovering from panic")
			}

			panic(p)
		} else if err != nil {
			if txErr := tx.Rollback(); txErr != nil && !errors.Is(txErr, sql.ErrTxDone) {
				util.LogFromContext(ctx).Warn().Err(txErr).AnErr("originalErr", err).Msg("Failed to roll back transaction after receiving error")
			}
		} else {
			if err = tx.Commit(); err != nil {
				util.LogFromContext(ctx).Warn().Err(err).Msg("Failed to commit transaction")
				err = errors.Wrap(err, "failed to commit transaction")
			}
		}
	}()

	err = fn(tx)

	return err
}
