package metrics

import (
	"database/sql"

	"github.com/dlmiddlecote/sqlstats"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github/chapool/go-custody/internal/config"
)

// Namespace prefixes every custody metric.
const Namespace = "custody"

// Service owns the prometheus registry of the process. All recording methods
// are safe on a nil *Service so components can run without metrics in tests.
type Service struct {
	Registry *prometheus.Registry

	transfers      *prometheus.CounterVec
	signatures     *prometheus.CounterVec
	nonces         *prometheus.CounterVec
	priceFetches   *prometheus.CounterVec
	balanceReads   *prometheus.CounterVec
	reconciled     *prometheus.CounterVec
	walletsCreated prometheus.Counter
}

// New registers the custody collectors plus sql.DB stats on a fresh registry.
func New(cfg config.Server, db *sql.DB) (*Service, error) {
	s := &Service{
		Registry: prometheus.NewRegistry(),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "transfers_total",
			Help:      "Transfer lifecycle events by stage and outcome.",
		}, []string{"stage", "outcome"}),
		signatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "signatures_total",
			Help:      "Signing operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		nonces: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "nonces_total",
			Help:      "Nonce allocations and resets.",
		}, []string{"op"}),
		priceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "price_fetches_total",
			Help:      "Reference price lookups by result (hit, fetched, stale, fallback, failure).",
		}, []string{"result"}),
		balanceReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "balance_reads_total",
			Help:      "Balance reads by result (hit, miss, asset_error).",
		}, []string{"result"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reconciled_transactions_total",
			Help:      "Reconciled transactions by resulting status.",
		}, []string{"status"}),
		walletsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "wallets_created_total",
			Help:      "Custodial wallets generated.",
		}),
	}

	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.transfers,
		s.signatures,
		s.nonces,
		s.priceFetches,
		s.balanceReads,
		s.reconciled,
		s.walletsCreated,
	}
	if db != nil {
		cs = append(cs, sqlstats.NewStatsCollector(cfg.Database.Database, db))
	}

	for _, c := range cs {
		if err := s.Registry.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register metrics collector")
		}
	}

	return s, nil
}

func (s *Service) TransferEvent(stage string, outcome string) {
	if s == nil {
		return
	}
	s.transfers.WithLabelValues(stage, outcome).Inc()
}

func (s *Service) Signature(kind string, outcome string) {
	if s == nil {
		return
	}
	s.signatures.WithLabelValues(kind, outcome).Inc()
}

func (s *Service) Nonce(op string) {
	if s == nil {
		return
	}
	s.nonces.WithLabelValues(op).Inc()
}

func (s *Service) PriceFetch(result string) {
	if s == nil {
		return
	}
	s.priceFetches.WithLabelValues(result).Inc()
}

func (s *Service) BalanceRead(result string) {
	if s == nil {
		return
	}
	s.balanceReads.WithLabelValues(result).Inc()
}

func (s *Service) Reconciled(status string) {
	if s == nil {
		return
	}
	s.reconciled.WithLabelValues(status).Inc()
}

func (s *Service) WalletCreated() {
	if s == nil {
		return
	}
	s.walletsCreated.Inc()
}
