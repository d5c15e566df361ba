package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/internal/audit"
	"github/chapool/go-custody/internal/models"
	"github/chapool/go-custody/internal/store"
)

func TestStoreSinkRecords(t *testing.T) {
	mem := store.NewMemory()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sink := audit.NewStoreSink(mem, clock.NewTestClock(now))

	sink.Record(t.Context(), "user-1", audit.ActionSignRequested, map[string]any{"to": "0xabc"})

	events := mem.AuditEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "user-1", events[0].UserID)
	assert.Equal(t, audit.ActionSignRequested, events[0].Action)
	assert.Equal(t, "0xabc", events[0].Details["to"])
	assert.Equal(t, now, events[0].CreatedAt)
}

type brokenAuditStore struct{}

func (brokenAuditStore) InsertAuditEvent(context.Context, *models.AuditEvent) error {
	return errors.New("disk full")
}

func TestStoreSinkSwallowsFailures(t *testing.T) {
	sink := audit.NewStoreSink(brokenAuditStore{}, nil)

	assert.NotPanics(t, func() {
		sink.Record(t.Context(), "user-1", audit.ActionSignFailed, nil)
	})
}
