// Package audit records security relevant actions. Writing an event never
// fails the operation that triggered it.
package audit

import (
	"context"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github/chapool/go-custody/internal/models"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/util"
)

const (
	ActionWalletCreated     = "wallet.created"
	ActionSignRequested     = "sign.requested"
	ActionSignSucceeded     = "sign.succeeded"
	ActionSignFailed        = "sign.failed"
	ActionTransferInitiated = "transfer.initiated"
	ActionTransferExecuted  = "transfer.executed"
	ActionTransferFailed    = "transfer.failed"
	ActionTransferCancelled = "transfer.cancelled"
	ActionTransferExpired   = "transfer.expired"
	ActionNonceReset        = "nonce.reset"
)

// Sink accepts audit events.
type Sink interface {
	Record(ctx context.Context, userID string, action string, details map[string]any)
}

// StoreSink appends events to the audit table and logs them.
type StoreSink struct {
	store store.AuditStore
	clock clock.Clock
}

func NewStoreSink(s store.AuditStore, clk clock.Clock) *StoreSink {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &StoreSink{store: s, clock: clk}
}

func (s *StoreSink) Record(ctx context.Context, userID string, action string, details map[string]any) {
	log := util.LogFromContext(ctx)

	event := &models.AuditEvent{
		UserID:    userID,
		Action:    action,
		Details:   details,
		CreatedAt: s.clock.Now().UTC(),
	}

	log.Info().Str("user_id", userID).Str("action", action).Fields(details).Msg("Audit event")

	// detached so a cancelled request still leaves its trail
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.store.InsertAuditEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("action", action).Msg("Failed to persist audit event")
	}
}

// LogSink only logs. Services fall back to it when built without a sink.
type LogSink struct{}

func (LogSink) Record(ctx context.Context, userID string, action string, details map[string]any) {
	util.LogFromContext(ctx).Info().Str("user_id", userID).Str("action", action).Fields(details).Msg("Audit event")
}
