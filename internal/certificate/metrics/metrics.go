package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the certificate module.
type Metrics struct {
	// Issuance outcomes: issued, ledger_failed, retryable, rejected, conflict
	IssuanceOutcome *prometheus.CounterVec

	// External call latencies by dependency and operation
	DependencyLatency *prometheus.HistogramVec

	// Items per bulk issuance
	BatchSize prometheus.Histogram

	RevocationOutcome *prometheus.CounterVec

	// Verification source availability by source and status
	VerificationSource *prometheus.CounterVec

	VerificationOutcome *prometheus.CounterVec

	// Repairs applied by the reconciliation sweep, by kind
	ReconcileRepairs *prometheus.CounterVec
}

// New creates a new Metrics instance registered on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IssuanceOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_issuance_outcomes_total",
			Help: "Certificate issuance outcomes",
		}, []string{"outcome"}),

		DependencyLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certledger_dependency_duration_seconds",
			Help:    "Duration of ledger and content store calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30, 60},
		}, []string{"dependency", "op"}), // dependency: "ledger", "content_store"

		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "certledger_batch_size",
			Help:    "Items per bulk issuance request",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		RevocationOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_revocation_outcomes_total",
			Help: "Certificate revocation outcomes",
		}, []string{"outcome"}),

		VerificationSource: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_verification_sources_total",
			Help: "Verification source consultations by source and status",
		}, []string{"source", "status"}),

		VerificationOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_verification_outcomes_total",
			Help: "Verification results by validity",
		}, []string{"valid"}),

		ReconcileRepairs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_reconcile_repairs_total",
			Help: "Inconsistencies repaired by the reconciliation sweep",
		}, []string{"kind"}),
	}
}

func (m *Metrics) IncrementIssuance(outcome string) {
	if m != nil {
		m.IssuanceOutcome.WithLabelValues(outcome).Inc()
	}
}

// ObserveDependency records the latency of one external call.
func (m *Metrics) ObserveDependency(dependency, op string, d time.Duration) {
	if m != nil {
		m.DependencyLatency.WithLabelValues(dependency, op).Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveBatchSize(n int) {
	if m != nil {
		m.BatchSize.Observe(float64(n))
	}
}

func (m *Metrics) IncrementRevocation(outcome string) {
	if m != nil {
		m.RevocationOutcome.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncrementVerificationSource(source, status string) {
	if m != nil {
		m.VerificationSource.WithLabelValues(source, status).Inc()
	}
}

func (m *Metrics) IncrementVerification(valid bool) {
	if m == nil {
		return
	}
	label := "false"
	if valid {
		label = "true"
	}
	m.VerificationOutcome.WithLabelValues(label).Inc()
}

func (m *Metrics) IncrementRepair(kind string) {
	if m != nil {
		m.ReconcileRepairs.WithLabelValues(kind).Inc()
	}
}
