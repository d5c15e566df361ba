package server

import (
	"context"

	"github.com/rs/zerolog/log"
	"github/chapool/go-custody/internal/api"
)

// startReconcileWorker runs an initial reconciliation pass and then keeps the
// reconciler ticking until ctx is done.
func startReconcileWorker(ctx context.Context, s *api.Server) {
	if !s.Config.Reconcile.Enabled {
		log.Info().Msg("Reconciler is disabled, skipping background worker startup")
		return
	}

	go func() {
		log.Info().Msg("Starting reconcile worker")

		if summary, err := s.Reconciler.Reconcile(ctx); err != nil {
			log.Error().Err(err).Msg("Initial reconciliation pass failed")
		} else {
			log.Info().Int("checked", summary.Checked).Int("expired", summary.Expired).Msg("Initial reconciliation pass done")
		}

		s.Reconciler.Run(ctx, s.Config.Reconcile.Interval)
	}()
}
