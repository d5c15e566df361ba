// Package reconcile settles broadcast transactions against on-chain receipts.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/aarondl/null/v8"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"github/chapool/go-custody/internal/errs"
	"github/chapool/go-custody/internal/metrics"
	"github/chapool/go-custody/internal/models"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/util"
	"github/chapool/go-custody/internal/wallet/chain"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize   = 50
	DefaultParallelism = 5
	DefaultInterval    = 30 * time.Second

	revertedError = "execution reverted"
)

type Config struct {
	BatchSize   int
	Parallelism int
}

// Expirer cancels pending intents whose confirmation window passed.
type Expirer interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

// BalanceInvalidator drops cached balances after they changed.
type BalanceInvalidator interface {
	Invalidate(ctx context.Context, addr string) error
}

// Summary of one reconciliation pass.
type Summary struct {
	Checked   int `json:"checked"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Errors    int `json:"errors"`
	Expired   int `json:"expired"`
}

type Reconciler struct {
	store    store.TransactionStore
	client   chain.Client
	balances BalanceInvalidator
	expirer  Expirer
	cfg      Config
	clock    clock.Clock
	metrics  *metrics.Service
}

// NewReconciler returns a reconciler. balances and expirer may be nil.
func NewReconciler(
	s store.TransactionStore,
	client chain.Client,
	balances BalanceInvalidator,
	expirer Expirer,
	cfg Config,
	clk clock.Clock,
	m *metrics.Service,
) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &Reconciler{
		store:    s,
		client:   client,
		balances: balances,
		expirer:  expirer,
		cfg:      cfg,
		clock:    clk,
		metrics:  m,
	}
}

// Reconcile checks up to BatchSize broadcast-pending transactions, least
// recently checked first. Transactions without a receipt stay broadcast-pending. Errors on single
// transactions are counted and logged; only a failure to list the batch or
// read the chain head aborts the pass.
func (r *Reconciler) Reconcile(ctx context.Context) (*Summary, error) {
	log := util.LogFromContext(ctx).With().Str("component", "reconcile").Logger()

	summary := &Summary{}

	if r.expirer != nil {
		expired, err := r.expirer.ExpireStale(ctx, r.cfg.BatchSize)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to expire stale transfer intents")
		}
		summary.Expired = expired
	}

	txs, err := r.store.ListTransactionsByStatus(ctx, models.StatusBroadcastPending, r.cfg.BatchSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list broadcast transactions")
	}
	if len(txs) == 0 {
		return summary, nil
	}

	head, err := r.client.BlockNumber(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read chain head")
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)

	for _, tx := range txs {
		g.Go(func() error {
			status, err := r.settle(gctx, tx, head)

			mu.Lock()
			defer mu.Unlock()
			summary.Checked++
			if err != nil {
				summary.Errors++
				log.Warn().Err(err).Str("tx_id", tx.ID).Msg("Failed to reconcile transaction")
				return nil
			}
			switch status {
			case models.StatusConfirmed:
				summary.Confirmed++
			case models.StatusFailed:
				summary.Failed++
			default:
				summary.Pending++
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Debug().
		Int("checked", summary.Checked).
		Int("confirmed", summary.Confirmed).
		Int("failed", summary.Failed).
		Int("pending", summary.Pending).
		Int("errors", summary.Errors).
		Msg("Reconciliation pass finished")

	return summary, nil
}

// ReconcileOne settles a single transaction. Anything not broadcast-pending is
// returned as is.
func (r *Reconciler) ReconcileOne(ctx context.Context, id string) (*models.Transaction, error) {
	tx, err := r.store.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.ErrTransactionNotFound
		}
		return nil, errors.Wrap(err, "failed to load transaction")
	}
	if tx.Status != models.StatusBroadcastPending {
		return tx, nil
	}

	head, err := r.client.BlockNumber(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read chain head")
	}

	if _, err := r.settle(ctx, tx, head); err != nil {
		return nil, err
	}

	return tx, nil
}

// settle moves tx to confirmed or failed once its receipt exists and returns
// the resulting status.
func (r *Reconciler) settle(ctx context.Context, tx *models.Transaction, head uint64) (models.TransactionStatus, error) {
	if !tx.TxHash.Valid || tx.TxHash.String == "" {
		return tx.Status, errors.Errorf("transaction %s has no hash", tx.ID)
	}

	receipt, err := r.client.TransactionReceipt(ctx, common.HexToHash(tx.TxHash.String))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			r.metrics.Reconciled("pending")
			return tx.Status, r.checked(ctx, tx)
		}
		return tx.Status, errors.Wrap(err, "failed to fetch receipt")
	}

	now := r.clock.Now().UTC()
	block := receipt.BlockNumber.Uint64()

	tx.Metadata.BlockNumber = null.Uint64From(block)
	tx.Metadata.GasUsed = receipt.GasUsed
	if head >= block {
		tx.Metadata.Confirmations = head - block + 1
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		tx.Status = models.StatusConfirmed
		tx.ConfirmedAt = null.TimeFrom(now)
	} else {
		tx.Status = models.StatusFailed
		tx.FailedAt = null.TimeFrom(now)
		tx.Metadata.Error = revertedError
	}

	if err := r.store.UpdateTransactionStatus(ctx, tx, models.StatusBroadcastPending); err != nil {
		return models.StatusBroadcastPending, errors.Wrap(err, "failed to record receipt")
	}

	if r.balances != nil {
		if err := r.balances.Invalidate(ctx, tx.FromAddress); err != nil {
			util.LogFromContext(ctx).Debug().Err(err).Str("tx_id", tx.ID).Msg("Failed to invalidate balances")
		}
	}

	r.metrics.Reconciled(tx.Status.String())
	util.LogFromContext(ctx).Info().
		Str("tx_id", tx.ID).
		Str("tx_hash", tx.TxHash.String).
		Str("status", tx.Status.String()).
		Uint64("block", block).
		Msg("Transaction settled")

	return tx.Status, nil
}

// checked records a receipt lookup that found nothing. The write moves tx to
// the back of the broadcast-pending queue so later batches reach newer
// transactions.
func (r *Reconciler) checked(ctx context.Context, tx *models.Transaction) error {
	tx.Metadata.LastCheckedAt = null.TimeFrom(r.clock.Now().UTC())

	err := r.store.UpdateTransactionStatus(ctx, tx, models.StatusBroadcastPending)
	if err != nil && !errors.Is(err, store.ErrStaleStatus) {
		return errors.Wrap(err, "failed to record receipt check")
	}
	return nil
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	log := util.LogFromContext(ctx).With().Str("component", "reconcile").Logger()
	log.Info().Dur("interval", interval).Msg("Reconciler started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Reconciler stopped")
			return
		case <-r.clock.TickAfter(interval):
			if _, err := r.Reconcile(ctx); err != nil {
				log.Error().Err(err).Msg("Reconciliation pass failed")
			}
		}
	}
}
