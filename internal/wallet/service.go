package wallet

import (
	"context"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"github/chapool/go-custody/internal/audit"
	"github/chapool/go-custody/internal/errs"
	"github/chapool/go-custody/internal/metrics"
	"github/chapool/go-custody/internal/models"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/util"
	"github/chapool/go-custody/internal/wallet/address"
)

// Service provides wallet management on the configured chain.
type Service interface {
	// CreateWallet returns the user's wallet, generating it on first call.
	CreateWallet(ctx context.Context, userID string) (*Wallet, error)

	// GetWallet returns errs.ErrWalletNotFound if the user has none yet.
	GetWallet(ctx context.Context, userID string) (*Wallet, error)

	// ListWallets lists all wallets of a user across chains.
	ListWallets(ctx context.Context, userID string) ([]*Wallet, error)

	GetWalletByAddress(ctx context.Context, addr string) (*Wallet, error)

	// Touch refreshes the wallet's last access time.
	Touch(ctx context.Context, walletID string) error
}

type service struct {
	store     store.WalletStore
	generator *Generator
	audit     audit.Sink
	chainID   int64
	clock     clock.Clock
	metrics   *metrics.Service
}

// NewService creates a new wallet service
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(s store.WalletStore, generator *Generator, sink audit.Sink, chainID int64, clk clock.Clock, m *metrics.Service) Service {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	if sink == nil {
		sink = audit.LogSink{}
	}

	return &service{
		store:     s,
		generator: generator,
		audit:     sink,
		chainID:   chainID,
		clock:     clk,
		metrics:   m,
	}
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return errs.ErrWalletNotFound
	}
	return errors.Wrap(err, "failed to get wallet")
}

func (s *service) CreateWallet(ctx context.Context, userID string) (*Wallet, error) {
	log := util.LogFromContext(ctx).With().
		Str("user_id", userID).
		Int64("chain_id", s.chainID).
		Logger()

	existing, err := s.store.GetWallet(ctx, userID, s.chainID)
	if err == nil {
		log.Debug().Msg("Wallet already exists")
		return FromModel(existing), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, errors.Wrap(err, "failed to check existing wallet")
	}

	generated, err := s.generator.Generate(ctx, s.chainID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate wallet")
		return nil, err
	}

	now := s.clock.Now().UTC()
	model := &models.Wallet{
		UserID:         userID,
		ChainID:        generated.ChainID,
		Address:        generated.Address,
		DerivationPath: generated.DerivationPath,
		EncryptedSeed:  generated.EncryptedSeed,
		KeyReference:   generated.KeyReference,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	if err := s.store.InsertWallet(ctx, model); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			log.Error().Err(err).Msg("Failed to create wallet")
			return nil, errors.Wrap(err, "failed to insert wallet")
		}

		// lost the race against a concurrent request for the same user
		winner, err := s.store.GetWallet(ctx, userID, s.chainID)
		if err != nil {
			return nil, notFound(err)
		}
		log.Info().Msg("Wallet created concurrently, returning existing")
		return FromModel(winner), nil
	}

	s.metrics.WalletCreated()
	s.audit.Record(ctx, userID, audit.ActionWalletCreated, map[string]any{
		"wallet_id": model.ID,
		"chain_id":  model.ChainID,
		"address":   model.Address,
	})

	log.Info().
		Str("wallet_id", model.ID).
		Str("address", model.Address).
		Msg("Wallet created successfully")

	return FromModel(model), nil
}

func (s *service) GetWallet(ctx context.Context, userID string) (*Wallet, error) {
	w, err := s.store.GetWallet(ctx, userID, s.chainID)
	if err != nil {
		return nil, notFound(err)
	}

	return FromModel(w), nil
}

func (s *service) ListWallets(ctx context.Context, userID string) ([]*Wallet, error) {
	records, err := s.store.ListWallets(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list wallets")
	}

	wallets := make([]*Wallet, 0, len(records))
	for _, w := range records {
		wallets = append(wallets, FromModel(w))
	}

	return wallets, nil
}

func (s *service) GetWalletByAddress(ctx context.Context, addr string) (*Wallet, error) {
	if !address.IsValidAddress(addr) {
		return nil, errors.Wrapf(errs.ErrInvalidRecipient, "invalid address %q", addr)
	}

	w, err := s.store.GetWalletByAddress(ctx, address.Normalize(addr), s.chainID)
	if err != nil {
		return nil, notFound(err)
	}

	return FromModel(w), nil
}

func (s *service) Touch(ctx context.Context, walletID string) error {
	if err := s.store.TouchWallet(ctx, walletID, s.clock.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errs.ErrWalletNotFound
		}
		return errors.Wrap(err, "failed to touch wallet")
	}

	return nil
}
