package signer

import (
	"context"
	"crypto/ecdsa"
	"maps"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"github/chapool/go-custody/internal/audit"
	"github/chapool/go-custody/internal/errs"
	"github/chapool/go-custody/internal/metrics"
	"github/chapool/go-custody/internal/models"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/util"
	"github/chapool/go-custody/internal/wallet"
	"github/chapool/go-custody/internal/wallet/address"
	"github/chapool/go-custody/internal/wallet/chain"
	"github/chapool/go-custody/internal/wallet/keystore"
)

type service struct {
	wallets  store.WalletStore
	keystore keystore.Service
	client   chain.Client
	audit    audit.Sink
	chainID  int64
	clock    clock.Clock
	metrics  *metrics.Service
}

// NewService creates a new SignerService
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(wallets store.WalletStore, ks keystore.Service, client chain.Client, sink audit.Sink, chainID int64, clk clock.Clock, m *metrics.Service) Service {
	if sink == nil {
		sink = audit.LogSink{}
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &service{
		wallets:  wallets,
		keystore: ks,
		client:   client,
		audit:    sink,
		chainID:  chainID,
		clock:    clk,
		metrics:  m,
	}
}

// withKey runs fn with the user's signing key. The key is wiped on return,
// whatever fn does.
func (s *service) withKey(ctx context.Context, userID string, fn func(w *models.Wallet, key *ecdsa.PrivateKey) error) error {
	w, err := s.wallets.GetWallet(ctx, userID, s.chainID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errs.ErrWalletNotFound
		}
		return errors.Wrap(err, "failed to load wallet")
	}

	key, err := wallet.UnlockSigningKey(ctx, s.keystore, w)
	if err != nil {
		return err
	}
	defer address.WipeKey(key)

	if err := s.wallets.TouchWallet(ctx, w.ID, s.clock.Now().UTC()); err != nil {
		util.LogFromContext(ctx).Warn().Err(err).Str("wallet_id", w.ID).Msg("Failed to refresh wallet access time")
	}

	return fn(w, key)
}

func requestDetails(req *Request) map[string]any {
	value := "0"
	if req.Value != nil {
		value = req.Value.String()
	}

	return map[string]any{
		"to":    address.Normalize(req.To.Hex()),
		"value": value,
		"nonce": req.Nonce,
	}
}

func (s *service) record(ctx context.Context, userID string, kind string, details map[string]any, err error) {
	if err != nil {
		details["outcome"] = "failed"
		details["error"] = err.Error()
		s.audit.Record(ctx, userID, audit.ActionSignFailed, details)
		s.metrics.Signature(kind, "failed")
		return
	}

	details["outcome"] = "succeeded"
	s.audit.Record(ctx, userID, audit.ActionSignSucceeded, details)
	s.metrics.Signature(kind, "succeeded")
}

func (s *service) sign(ctx context.Context, userID string, req *Request) (*types.Transaction, []byte, error) {
	var (
		signedTx *types.Transaction
		raw      []byte
	)

	err := s.withKey(ctx, userID, func(_ *models.Wallet, key *ecdsa.PrivateKey) error {
		var err error
		signedTx, raw, err = signTransaction(req, big.NewInt(s.chainID), key)
		return err
	})

	return signedTx, raw, err
}

func (s *service) Sign(ctx context.Context, userID string, req *Request) ([]byte, error) {
	details := requestDetails(req)
	details["kind"] = "transaction"
	s.audit.Record(ctx, userID, audit.ActionSignRequested, maps.Clone(details))

	signedTx, raw, err := s.sign(ctx, userID, req)
	if err == nil {
		details["tx_hash"] = signedTx.Hash().Hex()
	}
	s.record(ctx, userID, "transaction", details, err)

	return raw, err
}

func (s *service) SignAndSend(ctx context.Context, userID string, req *Request) (*Result, error) {
	log := util.LogFromContext(ctx).With().Str("component", "signer").Str("user_id", userID).Uint64("nonce", req.Nonce).Logger()

	details := requestDetails(req)
	details["kind"] = "broadcast"
	s.audit.Record(ctx, userID, audit.ActionSignRequested, maps.Clone(details))

	signedTx, raw, err := s.sign(ctx, userID, req)
	if err != nil {
		log.Error().Err(err).Msg("Failed to sign transaction")
		s.record(ctx, userID, "broadcast", details, err)
		return nil, err
	}

	details["tx_hash"] = signedTx.Hash().Hex()

	gasPrice := req.GasPrice
	if gasPrice == nil {
		gasPrice = req.MaxFeePerGas
	}

	res := &Result{
		Hash:     signedTx.Hash(),
		Nonce:    req.Nonce,
		GasPrice: gasPrice,
		GasLimit: req.GasLimit,
		Raw:      raw,
	}

	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		s.record(ctx, userID, "broadcast", details, err)

		// the node may hold the transaction; the caller needs the hash to follow it
		if errors.Is(err, errs.ErrBroadcastUncertain) {
			log.Warn().Err(err).Str("tx_hash", signedTx.Hash().Hex()).Msg("Broadcast outcome unknown")
			return res, err
		}

		log.Error().Err(err).Str("tx_hash", signedTx.Hash().Hex()).Msg("Failed to broadcast transaction")
		return nil, err
	}

	s.record(ctx, userID, "broadcast", details, nil)
	log.Info().Str("tx_hash", signedTx.Hash().Hex()).Msg("Transaction broadcast")

	return res, nil
}

func (s *service) SignMessage(ctx context.Context, userID string, message []byte) ([]byte, error) {
	details := map[string]any{
		"kind":           "message",
		"message_length": len(message),
	}
	s.audit.Record(ctx, userID, audit.ActionSignRequested, maps.Clone(details))

	var sig []byte
	err := s.withKey(ctx, userID, func(_ *models.Wallet, key *ecdsa.PrivateKey) error {
		var err error
		sig, err = signPersonalMessage(message, key)
		return err
	})
	s.record(ctx, userID, "message", details, err)

	return sig, err
}
