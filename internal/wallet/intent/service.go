// Package intent drives a transfer from intent to broadcast: Initiate records
// a pending transaction with a one-time confirmation token, Execute consumes
// the token and broadcasts at most once.
package intent

import (
	"context"
	"time"

	"github.com/aarondl/null/v8"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github/chapool/go-custody/internal/audit"
	"github/chapool/go-custody/internal/errs"
	"github/chapool/go-custody/internal/metrics"
	"github/chapool/go-custody/internal/models"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/util"
	"github/chapool/go-custody/internal/wallet/balance"
	"github/chapool/go-custody/internal/wallet/transfer"
)

// Executor performs the transfer once an intent is confirmed.
type Executor interface {
	ValidateRequest(to string, amount decimal.Decimal, symbol string) (balance.Asset, error)
	EstimateFee(ctx context.Context, from string, to string, amount decimal.Decimal, asset balance.Asset) (*transfer.Estimate, error)
	Transfer(ctx context.Context, userID string, to string, amount decimal.Decimal, symbol string) (*transfer.Result, error)
}

type BalanceReader interface {
	GetBalances(ctx context.Context, addr string) (*balance.Balances, error)
}

type PriceOracle interface {
	GetReferencePriceUSD(ctx context.Context) float64
}

// finalizeTimeout bounds status writes that must land even if the request
// context is gone.
const finalizeTimeout = 10 * time.Second

type Service struct {
	store    store.Store
	executor Executor
	balances BalanceReader
	prices   PriceOracle
	resolver Resolver
	audit    audit.Sink
	cfg      Config
	native   balance.Asset
	clock    clock.Clock
	metrics  *metrics.Service
}

func NewService(
	s store.Store,
	executor Executor,
	balances BalanceReader,
	prices PriceOracle,
	resolver Resolver,
	sink audit.Sink,
	cfg Config,
	native balance.Asset,
	clk clock.Clock,
	m *metrics.Service,
) *Service {
	if cfg.ConfirmationTTL <= 0 {
		cfg.ConfirmationTTL = DefaultConfirmationTTL
	}
	if len(cfg.Assets) == 0 {
		cfg.Assets = []string{native.Symbol}
	}
	if sink == nil {
		sink = audit.LogSink{}
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &Service{
		store:    s,
		executor: executor,
		balances: balances,
		prices:   prices,
		resolver: resolver,
		audit:    sink,
		cfg:      cfg,
		native:   native,
		clock:    clk,
		metrics:  m,
	}
}

// usdPrice is the USD value of one unit of asset.
func (s *Service) usdPrice(ctx context.Context, asset string) decimal.Decimal {
	if asset == s.native.Symbol {
		return decimal.NewFromFloat(s.prices.GetReferencePriceUSD(ctx))
	}
	return balance.TokenPegUSD
}

// windows returns the start of the UTC day and month containing now.
func windows(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// assets lists the limit-counted symbols plus extra when it is missing.
func (s *Service) assets(extra string) []string {
	for _, a := range s.cfg.Assets {
		if a == extra {
			return s.cfg.Assets
		}
	}
	return append(append([]string(nil), s.cfg.Assets...), extra)
}

// Usage sums what the user sent in the current UTC day and month, in USD at
// today's prices.
func (s *Service) Usage(ctx context.Context, userID string, assets []string) (*Usage, error) {
	dayStart, monthStart := windows(s.clock.Now())

	usage := &Usage{DailyUSD: decimal.Zero, MonthlyUSD: decimal.Zero}
	for _, asset := range assets {
		monthly, err := s.store.SumOutgoing(ctx, userID, asset, monthStart)
		if err != nil {
			return nil, err
		}
		daily, err := s.store.SumOutgoing(ctx, userID, asset, dayStart)
		if err != nil {
			return nil, err
		}

		if monthly.IsZero() {
			continue
		}
		price := s.usdPrice(ctx, asset)
		usage.MonthlyUSD = usage.MonthlyUSD.Add(monthly.Mul(price))
		usage.DailyUSD = usage.DailyUSD.Add(daily.Mul(price))
	}

	return usage, nil
}

func exceeds(limit decimal.Decimal, used decimal.Decimal, amount decimal.Decimal) bool {
	return limit.IsPositive() && used.Add(amount).GreaterThan(limit)
}

// Initiate validates and prices a transfer and records it as pending. It never
// broadcasts.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*Confirmation, error) {
	log := util.LogFromContext(ctx).With().Str("component", "intent").Str("user_id", req.UserID).Logger()

	to, err := s.resolver.Resolve(ctx, req.Recipient)
	if err != nil {
		return nil, err
	}

	asset, err := s.executor.ValidateRequest(to, req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	w, err := s.store.GetWallet(ctx, req.UserID, s.cfg.ChainID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.ErrWalletNotFound
		}
		return nil, errors.Wrap(err, "failed to load wallet")
	}

	balances, err := s.balances.GetBalances(ctx, w.Address)
	if err != nil {
		return nil, err
	}
	if balances.IsUnavailable(asset.Symbol) {
		return nil, errors.Wrapf(errs.ErrNetworkUnavailable, "%s balance could not be read", asset.Symbol)
	}
	if held, _ := balances.Of(asset.Symbol); held.LessThan(req.Amount) {
		return nil, errors.Wrapf(errs.ErrInsufficientFunds, "balance %s %s, requested %s", held, asset.Symbol, req.Amount)
	}

	assetPrice := s.usdPrice(ctx, asset.Symbol)
	amountUSD := req.Amount.Mul(assetPrice)

	usage, err := s.Usage(ctx, req.UserID, s.assets(asset.Symbol))
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute usage")
	}
	if exceeds(s.cfg.DailyLimitUSD, usage.DailyUSD, amountUSD) {
		return nil, errors.Wrapf(errs.ErrLimitExceeded, "daily limit %s USD", s.cfg.DailyLimitUSD)
	}
	if exceeds(s.cfg.MonthlyLimitUSD, usage.MonthlyUSD, amountUSD) {
		return nil, errors.Wrapf(errs.ErrLimitExceeded, "monthly limit %s USD", s.cfg.MonthlyLimitUSD)
	}

	estimate, err := s.executor.EstimateFee(ctx, w.Address, to, req.Amount, asset)
	if err != nil {
		return nil, err
	}
	feeUSD := estimate.Fee.Mul(s.usdPrice(ctx, s.native.Symbol))

	requiresSecondaryAuth := s.cfg.SecondaryAuthThresholdUSD.IsPositive() &&
		amountUSD.GreaterThanOrEqual(s.cfg.SecondaryAuthThresholdUSD)

	now := s.clock.Now().UTC()
	expiresAt := now.Add(s.cfg.ConfirmationTTL)

	tx := &models.Transaction{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
		ChainID:           s.cfg.ChainID,
		Type:              models.TypeSend,
		Status:            models.StatusPending,
		Amount:            req.Amount,
		Currency:          asset.Symbol,
		FromAddress:       w.Address,
		ToAddress:         to,
		ConfirmationToken: uuid.NewString(),
		CreatedAt:         now,
		Metadata: models.TransactionMetadata{
			Recipient:             req.Recipient,
			ExpiresAt:             expiresAt,
			EstimatedFee:          estimate.Fee,
			EstimatedFeeUSD:       feeUSD.Round(2),
			AmountUSD:             amountUSD.Round(2),
			RequiresSecondaryAuth: requiresSecondaryAuth,
			GasPrice:              estimate.GasPrice.String(),
			GasLimit:              estimate.GasLimit,
		},
	}

	if err := s.store.InsertTransaction(ctx, tx); err != nil {
		return nil, errors.Wrap(err, "failed to store transaction intent")
	}

	s.audit.Record(ctx, req.UserID, audit.ActionTransferInitiated, map[string]any{
		"tx_id":      tx.ID,
		"to":         to,
		"amount":     req.Amount.String(),
		"currency":   asset.Symbol,
		"amount_usd": amountUSD.StringFixed(2),
	})
	s.metrics.TransferEvent("initiate", "pending")

	log.Info().
		Str("tx_id", tx.ID).
		Str("currency", asset.Symbol).
		Str("amount", req.Amount.String()).
		Bool("requires_secondary_auth", requiresSecondaryAuth).
		Msg("Transfer initiated")

	return &Confirmation{
		TransactionID:         tx.ID,
		Token:                 tx.ConfirmationToken,
		Recipient:             req.Recipient,
		ToAddress:             to,
		Amount:                req.Amount,
		Currency:              asset.Symbol,
		ExpiresAt:             expiresAt,
		ExpiresIn:             int64(s.cfg.ConfirmationTTL / time.Second),
		EstimatedFee:          estimate.Fee,
		EstimatedFeeUSD:       feeUSD.Round(2),
		AmountUSD:             amountUSD.Round(2),
		TotalUSD:              amountUSD.Add(feeUSD).Round(2),
		DailyUsedUSD:          usage.DailyUSD.Round(2),
		MonthlyUsedUSD:        usage.MonthlyUSD.Round(2),
		DailyLimitUSD:         s.cfg.DailyLimitUSD,
		MonthlyLimitUSD:       s.cfg.MonthlyLimitUSD,
		RequiresSecondaryAuth: requiresSecondaryAuth,
	}, nil
}

// alreadyProcessed re-reads tx after a lost compare-and-set.
func (s *Service) alreadyProcessed(ctx context.Context, id string) error {
	current, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return errors.Wrap(err, "failed to reload transaction")
	}
	return &errs.AlreadyProcessedError{Status: current.Status.String()}
}

func (s *Service) transition(ctx context.Context, tx *models.Transaction, to models.TransactionStatus) error {
	from := tx.Status
	tx.Status = to
	if err := s.store.UpdateTransactionStatus(ctx, tx, from); err != nil {
		tx.Status = from
		if errors.Is(err, store.ErrStaleStatus) {
			return s.alreadyProcessed(ctx, tx.ID)
		}
		return err
	}
	return nil
}

// checkLimits runs after tx won the broadcasting claim, so usage already holds
// tx and every transfer claimed before it.
func (s *Service) checkLimits(ctx context.Context, tx *models.Transaction) error {
	usage, err := s.Usage(ctx, tx.UserID, s.assets(tx.Currency))
	if err != nil {
		return errors.Wrap(err, "failed to compute usage")
	}

	amountUSD := tx.Amount.Mul(s.usdPrice(ctx, tx.Currency))
	dayStart, monthStart := windows(s.clock.Now())
	if tx.CreatedAt.Before(dayStart) {
		usage.DailyUSD = usage.DailyUSD.Add(amountUSD)
	}
	if tx.CreatedAt.Before(monthStart) {
		usage.MonthlyUSD = usage.MonthlyUSD.Add(amountUSD)
	}

	if exceeds(s.cfg.DailyLimitUSD, usage.DailyUSD, decimal.Zero) {
		return errors.Wrapf(errs.ErrLimitExceeded, "daily limit %s USD", s.cfg.DailyLimitUSD)
	}
	if exceeds(s.cfg.MonthlyLimitUSD, usage.MonthlyUSD, decimal.Zero) {
		return errors.Wrapf(errs.ErrLimitExceeded, "monthly limit %s USD", s.cfg.MonthlyLimitUSD)
	}
	return nil
}

// Execute consumes a confirmation token. The transfer is broadcast at most
// once per token: only the caller winning the pending -> broadcasting
// compare-and-set reaches the executor.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (*models.Transaction, error) {
	if !req.Confirm {
		return nil, errs.ErrConfirmationRequired
	}

	tx, err := s.store.GetTransactionByToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.ErrTransactionNotFound
		}
		return nil, errors.Wrap(err, "failed to load transaction")
	}
	if tx.UserID != req.UserID {
		return nil, errs.ErrTransactionNotFound
	}

	log := util.LogFromContext(ctx).With().Str("component", "intent").Str("user_id", tx.UserID).Str("tx_id", tx.ID).Logger()

	if tx.Status != models.StatusPending {
		return nil, &errs.AlreadyProcessedError{Status: tx.Status.String()}
	}

	now := s.clock.Now().UTC()
	if tx.IsExpired(now) {
		if err := s.transition(ctx, tx, models.StatusCancelled); err != nil {
			return nil, err
		}
		s.audit.Record(ctx, tx.UserID, audit.ActionTransferExpired, map[string]any{"tx_id": tx.ID})
		s.metrics.TransferEvent("execute", "expired")
		log.Info().Msg("Confirmation token expired, transfer cancelled")
		return nil, errs.ErrTokenExpired
	}

	tx.ExecutedAt = null.TimeFrom(now)
	if err := s.transition(ctx, tx, models.StatusBroadcasting); err != nil {
		return nil, err
	}

	var result *transfer.Result
	execErr := s.checkLimits(ctx, tx)
	if execErr == nil {
		result, execErr = s.executor.Transfer(ctx, tx.UserID, tx.ToAddress, tx.Amount, tx.Currency)
	}

	// the outcome must be recorded even if the caller went away meanwhile
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if execErr != nil {
		tx.FailedAt = null.TimeFrom(s.clock.Now().UTC())
		tx.Metadata.Error = execErr.Error()
		if err := s.transition(ctx, tx, models.StatusFailed); err != nil {
			log.Error().Err(err).Msg("Failed to record failed transfer")
		}

		s.audit.Record(ctx, tx.UserID, audit.ActionTransferFailed, map[string]any{
			"tx_id": tx.ID,
			"error": execErr.Error(),
		})
		log.Warn().Err(execErr).Msg("Transfer failed")

		return nil, execErr
	}

	tx.TxHash = null.StringFrom(result.Hash)
	tx.Metadata.Nonce = null.Uint64From(result.Nonce)
	tx.Metadata.GasPrice = result.GasPrice.String()
	tx.Metadata.GasLimit = result.GasLimit
	tx.Metadata.BroadcastUncertain = result.Uncertain
	if err := s.transition(ctx, tx, models.StatusBroadcastPending); err != nil {
		// broadcast happened; the record stays broadcasting for manual repair
		log.Error().Err(err).Str("tx_hash", result.Hash).Msg("Failed to record broadcast transfer")
		return nil, errors.Wrap(err, "transfer broadcast but not recorded")
	}

	s.audit.Record(ctx, tx.UserID, audit.ActionTransferExecuted, map[string]any{
		"tx_id":     tx.ID,
		"tx_hash":   result.Hash,
		"nonce":     result.Nonce,
		"uncertain": result.Uncertain,
	})
	log.Info().Str("tx_hash", result.Hash).Uint64("nonce", result.Nonce).Bool("uncertain", result.Uncertain).Msg("Transfer executed")

	return tx, nil
}

// Cancel terminates a still pending intent of the user.
func (s *Service) Cancel(ctx context.Context, userID string, id string) (*models.Transaction, error) {
	tx, err := s.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if tx.Status != models.StatusPending {
		return nil, &errs.AlreadyProcessedError{Status: tx.Status.String()}
	}

	if err := s.transition(ctx, tx, models.StatusCancelled); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, userID, audit.ActionTransferCancelled, map[string]any{"tx_id": tx.ID})
	s.metrics.TransferEvent("cancel", "cancelled")

	return tx, nil
}

// ExpireStale cancels up to limit pending intents whose token expired. It
// returns how many were cancelled.
func (s *Service) ExpireStale(ctx context.Context, limit int) (int, error) {
	pending, err := s.store.ListTransactionsByStatus(ctx, models.StatusPending, limit)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list pending transactions")
	}

	now := s.clock.Now().UTC()
	expired := 0
	for _, tx := range pending {
		if !tx.IsExpired(now) {
			continue
		}

		if err := s.transition(ctx, tx, models.StatusCancelled); err != nil {
			var processed *errs.AlreadyProcessedError
			if errors.As(err, &processed) {
				continue
			}
			return expired, err
		}

		expired++
		s.audit.Record(ctx, tx.UserID, audit.ActionTransferExpired, map[string]any{"tx_id": tx.ID})
	}

	return expired, nil
}

// GetByID returns errs.ErrTransactionNotFound for unknown ids and for other
// users' transactions.
func (s *Service) GetByID(ctx context.Context, userID string, id string) (*models.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.ErrTransactionNotFound
		}
		return nil, errors.Wrap(err, "failed to load transaction")
	}
	if tx.UserID != userID {
		return nil, errs.ErrTransactionNotFound
	}
	return tx, nil
}

func (s *Service) GetByToken(ctx context.Context, userID string, token string) (*models.Transaction, error) {
	tx, err := s.store.GetTransactionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.ErrTransactionNotFound
		}
		return nil, errors.Wrap(err, "failed to load transaction")
	}
	if tx.UserID != userID {
		return nil, errs.ErrTransactionNotFound
	}
	return tx, nil
}

// List returns the user's most recent transactions first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*models.Transaction, error) {
	txs, err := s.store.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list transactions")
	}
	return txs, nil
}
