package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/aarondl/null/v8"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github/chapool/go-custody/internal/models"
	"github/chapool/go-custody/internal/util/db"
)

const uniqueViolation = "23505"

// Postgres is the database/sql backed Store.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// DB exposes the underlying pool, e.g. for stats collectors.
func (s *Postgres) DB() *sql.DB {
	return s.db
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const walletColumns = `id, user_id, chain_id, address, derivation_path, encrypted_seed, key_reference, created_at, updated_at, last_accessed_at`

func scanWallet(row interface{ Scan(...any) error }) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.ChainID, &w.Address, &w.DerivationPath, &w.EncryptedSeed,
		&w.KeyReference, &w.CreatedAt, &w.UpdatedAt, &w.LastAccessedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to scan wallet")
	}

	return &w, nil
}

func (s *Postgres) InsertWallet(ctx context.Context, wallet *models.Wallet) error {
	if wallet.ID == "" {
		wallet.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	wallet.CreatedAt, wallet.UpdatedAt, wallet.LastAccessedAt = now, now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (`+walletColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, wallet.ID, wallet.UserID, wallet.ChainID, strings.ToLower(wallet.Address), wallet.DerivationPath,
		wallet.EncryptedSeed, wallet.KeyReference, wallet.CreatedAt, wallet.UpdatedAt, wallet.LastAccessedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrap(ErrConflict, "wallet")
		}
		return errors.Wrap(err, "failed to insert wallet")
	}

	return nil
}

func (s *Postgres) GetWallet(ctx context.Context, userID string, chainID int64) (*models.Wallet, error) {
	return scanWallet(s.db.QueryRowContext(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1 AND chain_id = $2
	`, userID, chainID))
}

func (s *Postgres) GetWalletByAddress(ctx context.Context, address string, chainID int64) (*models.Wallet, error) {
	return scanWallet(s.db.QueryRowContext(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE address = $1 AND chain_id = $2
	`, strings.ToLower(address), chainID))
}

func (s *Postgres) ListWallets(ctx context.Context, userID string) ([]*models.Wallet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1
		ORDER BY chain_id ASC
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list wallets")
	}
	defer rows.Close()

	var wallets []*models.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate wallets")
	}

	return wallets, nil
}

func (s *Postgres) TouchWallet(ctx context.Context, walletID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE wallets SET last_accessed_at = $2 WHERE id = $1`, walletID, at)
	if err != nil {
		return errors.Wrap(err, "failed to touch wallet")
	}

	return expectOneRow(res, ErrNotFound)
}

const transactionColumns = `id, user_id, chain_id, type, status, amount, currency, from_address, to_address,
	confirmation_token, tx_hash, created_at, updated_at, executed_at, confirmed_at, failed_at, metadata`

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	var (
		tx       models.Transaction
		metadata []byte
	)

	err := row.Scan(&tx.ID, &tx.UserID, &tx.ChainID, &tx.Type, &tx.Status, &tx.Amount, &tx.Currency,
		&tx.FromAddress, &tx.ToAddress, &tx.ConfirmationToken, &tx.TxHash, &tx.CreatedAt, &tx.UpdatedAt,
		&tx.ExecutedAt, &tx.ConfirmedAt, &tx.FailedAt, &metadata)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to scan transaction")
	}

	if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal transaction metadata")
	}

	return &tx, nil
}

func (s *Postgres) InsertTransaction(ctx context.Context, tx *models.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return errors.Wrap(err, "failed to marshal transaction metadata")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, tx.ID, tx.UserID, tx.ChainID, tx.Type, tx.Status, tx.Amount, tx.Currency, tx.FromAddress, tx.ToAddress,
		tx.ConfirmationToken, tx.TxHash, tx.CreatedAt, tx.UpdatedAt, tx.ExecutedAt, tx.ConfirmedAt, tx.FailedAt, metadata)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrap(ErrConflict, "confirmation token")
		}
		return errors.Wrap(err, "failed to insert transaction")
	}

	return nil
}

func (s *Postgres) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	return scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
	`, id))
}

func (s *Postgres) GetTransactionByToken(ctx context.Context, token string) (*models.Transaction, error) {
	return scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE confirmation_token = $1
	`, token))
}

func (s *Postgres) ListTransactions(ctx context.Context, userID string, limit int) ([]*models.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limitOrAll(limit))
}

func (s *Postgres) ListTransactionsByStatus(ctx context.Context, status models.TransactionStatus, limit int) ([]*models.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = $1
		ORDER BY updated_at ASC, created_at ASC
		LIMIT $2
	`, status, limitOrAll(limit))
}

func (s *Postgres) queryTransactions(ctx context.Context, query string, args ...any) ([]*models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query transactions")
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate transactions")
	}

	return txs, nil
}

func (s *Postgres) UpdateTransactionStatus(ctx context.Context, tx *models.Transaction, from models.TransactionStatus) error {
	if err := checkTransition(from, tx.Status); err != nil {
		return err
	}

	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return errors.Wrap(err, "failed to marshal transaction metadata")
	}

	tx.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $3, tx_hash = $4, executed_at = $5, confirmed_at = $6, failed_at = $7,
			metadata = $8, updated_at = $9
		WHERE id = $1 AND status = $2
	`, tx.ID, from, tx.Status, tx.TxHash, tx.ExecutedAt, tx.ConfirmedAt, tx.FailedAt, metadata, tx.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to update transaction")
	}

	return expectOneRow(res, errors.Wrapf(ErrStaleStatus, "expected %s", from))
}

func (s *Postgres) SumOutgoing(ctx context.Context, userID string, currency string, since time.Time) (decimal.Decimal, error) {
	statuses := make([]string, 0, len(executedStatuses))
	for _, st := range executedStatuses {
		statuses = append(statuses, st.String())
	}

	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE user_id = $1
			AND type = $2
			AND currency = $3
			AND created_at >= $4
			AND status = ANY($5)
	`, userID, models.TypeSend, currency, since, pq.Array(statuses)).Scan(&total)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to sum outgoing transactions")
	}

	return total, nil
}

func (s *Postgres) AllocateNonce(ctx context.Context, userID string, chainID int64, bootstrap BootstrapFn) (uint64, error) {
	var current int64

	err := db.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT next_nonce
			FROM wallet_nonces
			WHERE user_id = $1 AND chain_id = $2
			FOR UPDATE
		`, userID, chainID).Scan(&current)

		switch {
		case err == nil:
		case errors.Is(err, sql.ErrNoRows):
			start, err := bootstrap(ctx)
			if err != nil {
				return errors.Wrap(err, "failed to bootstrap nonce")
			}

			//nolint:gosec // nonces stay far below math.MaxInt64
			res, err := tx.ExecContext(ctx, `
				INSERT INTO wallet_nonces (user_id, chain_id, next_nonce, updated_at)
				VALUES ($1, $2, $3, now())
				ON CONFLICT (user_id, chain_id) DO NOTHING
			`, userID, chainID, int64(start))
			if err != nil {
				return errors.Wrap(err, "failed to insert wallet nonce")
			}

			inserted, err := res.RowsAffected()
			if err != nil {
				return errors.Wrap(err, "failed to read affected rows")
			}

			// a concurrent caller bootstrapped first, take its row lock instead
			if inserted == 0 {
				if err := tx.QueryRowContext(ctx, `
					SELECT next_nonce
					FROM wallet_nonces
					WHERE user_id = $1 AND chain_id = $2
					FOR UPDATE
				`, userID, chainID).Scan(&current); err != nil {
					return errors.Wrap(err, "failed to lock wallet nonce")
				}
			} else {
				//nolint:gosec
				current = int64(start)
			}
		default:
			return errors.Wrap(err, "failed to lock wallet nonce")
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE wallet_nonces
			SET next_nonce = $3, updated_at = now()
			WHERE user_id = $1 AND chain_id = $2
		`, userID, chainID, current+1); err != nil {
			return errors.Wrap(err, "failed to update wallet nonce")
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	//nolint:gosec // next_nonce has a CHECK (>= 0) constraint
	return uint64(current), nil
}

func (s *Postgres) SetNonce(ctx context.Context, userID string, chainID int64, next uint64) error {
	//nolint:gosec
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_nonces (user_id, chain_id, next_nonce, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, chain_id) DO UPDATE SET next_nonce = EXCLUDED.next_nonce, updated_at = now()
	`, userID, chainID, int64(next))
	if err != nil {
		return errors.Wrap(err, "failed to set wallet nonce")
	}

	return nil
}

func (s *Postgres) GetNonce(ctx context.Context, userID string, chainID int64) (*models.NonceRecord, error) {
	var (
		record models.NonceRecord
		next   int64
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, chain_id, next_nonce, updated_at
		FROM wallet_nonces
		WHERE user_id = $1 AND chain_id = $2
	`, userID, chainID).Scan(&record.UserID, &record.ChainID, &next, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get wallet nonce")
	}

	//nolint:gosec
	record.NextNonce = uint64(next)
	return &record, nil
}

func (s *Postgres) InsertAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	details, err := json.Marshal(event.Details)
	if err != nil {
		return errors.Wrap(err, "failed to marshal audit details")
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, user_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, event.ID, event.UserID, event.Action, details, event.CreatedAt); err != nil {
		return errors.Wrap(err, "failed to insert audit event")
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return notFound
	}

	return nil
}

func limitOrAll(limit int) null.Int {
	if limit <= 0 {
		return null.Int{}
	}

	return null.IntFrom(limit)
}
