// Package reconcile repairs divergence between the database and the ledger
// left behind by partial failures.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"certledger/internal/certificate/metrics"
	"certledger/internal/certificate/models"
	"certledger/internal/ledger"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
	"certledger/pkg/platform/sentinel"
	txcontext "certledger/pkg/platform/tx"
	"certledger/pkg/requestcontext"
)

// LedgerRevocationReason is recorded on certificates revoked on the ledger
// but not in the database.
const LedgerRevocationReason = "ledger_revocation_sync"

const (
	repairLedgerConfirmed = "ledger_confirmed"
	repairRevocationSync  = "revocation_synced"
	repairRequestLinked   = "request_linked"
)

// ErrSweepInProgress is returned when Run is called while a sweep is running.
var ErrSweepInProgress = dErrors.New(dErrors.CodeConflict, "reconciliation sweep already running")

type CertificateStore interface {
	Update(ctx context.Context, c *models.Certificate) error
	FindByRequestID(ctx context.Context, requestID id.CertificateRequestID) (*models.Certificate, error)
	ListByLedgerStatus(ctx context.Context, status models.LedgerStatus, limit int) ([]*models.Certificate, error)
	ListIssuedAfter(ctx context.Context, after id.CertificateID, limit int) ([]*models.Certificate, error)
}

type RequestStore interface {
	ListByStatus(ctx context.Context, status models.RequestStatus, limit int) ([]*models.CertificateRequest, error)
	Save(ctx context.Context, r *models.CertificateRequest) error
}

type UserStore interface {
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// SweepReport counts what one sweep repaired.
type SweepReport struct {
	LedgerConfirmed   int       `json:"ledger_confirmed"`
	RevocationsSynced int       `json:"revocations_synced"`
	RequestsLinked    int       `json:"requests_linked"`
	Failures          int       `json:"failures"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

// Sweeper runs the reconciliation passes, on demand or on a cron schedule.
type Sweeper struct {
	certificates CertificateStore
	requests     RequestStore
	users        UserStore
	ledger       ledger.Client

	tx             txcontext.Runner
	batchSize      int
	ledgerTimeout  time.Duration
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics

	running sync.Mutex
	cron    *cron.Cron
}

type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Sweeper) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func WithTxRunner(r txcontext.Runner) Option {
	return func(s *Sweeper) {
		s.tx = r
	}
}

// WithBatchSize bounds how many records each pass loads per query.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithLedgerTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.ledgerTimeout = d
		}
	}
}

func New(certificates CertificateStore, requests RequestStore, users UserStore, ledgerClient ledger.Client, opts ...Option) *Sweeper {
	s := &Sweeper{
		certificates:  certificates,
		requests:      requests,
		users:         users,
		ledger:        ledgerClient,
		tx:            txcontext.NoopRunner{},
		batchSize:     50,
		ledgerTimeout: 2 * time.Minute,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules Run with a cron spec such as "@every 5m".
func (s *Sweeper) Start(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, s.scheduledRun); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("reconciliation sweep scheduled", "schedule", spec)
	return nil
}

// Stop halts the schedule and waits for a running sweep, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Sweeper) scheduledRun() {
	report, err := s.Run(context.Background())
	if errors.Is(err, ErrSweepInProgress) {
		return
	}
	if err != nil {
		s.logger.Error("reconciliation sweep failed", "error", err)
		return
	}
	s.logger.Info("reconciliation sweep finished",
		"ledger_confirmed", report.LedgerConfirmed,
		"revocations_synced", report.RevocationsSynced,
		"requests_linked", report.RequestsLinked,
		"failures", report.Failures,
	)
}

// Run performs one sweep. Per-record failures are counted in the report and
// retried on the next sweep; only a failure to list work is returned.
func (s *Sweeper) Run(ctx context.Context) (*SweepReport, error) {
	if !s.running.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.running.Unlock()

	report := &SweepReport{StartedAt: requestcontext.Now(ctx)}
	err := errors.Join(
		s.confirmFailed(ctx, report),
		s.syncRevocations(ctx, report),
		s.linkRequests(ctx, report),
	)
	report.FinishedAt = requestcontext.Now(ctx)
	if err != nil {
		return report, dErrors.Wrap(err, dErrors.CodePersistence, "reconciliation sweep incomplete")
	}
	return report, nil
}

// confirmFailed retries ledger issuance for FAILED certificates. The ledger
// is read first so an earlier write that did land is only confirmed.
func (s *Sweeper) confirmFailed(ctx context.Context, report *SweepReport) error {
	certs, err := s.certificates.ListByLedgerStatus(ctx, models.LedgerStatusFailed, s.batchSize)
	if err != nil {
		return fmt.Errorf("list failed certificates: %w", err)
	}
	for _, cert := range certs {
		ref, err := s.ensureOnLedger(ctx, cert)
		if err != nil {
			report.Failures++
			s.logger.WarnContext(ctx, "ledger retry failed",
				"certificate_id", cert.CertificateID,
				"error", err,
			)
			continue
		}
		cert.ApplyLedgerConfirmation(ref, requestcontext.Now(ctx))
		if err := s.persist(ctx, cert, repairLedgerConfirmed); err != nil {
			report.Failures++
			continue
		}
		report.LedgerConfirmed++
	}
	return nil
}

func (s *Sweeper) ensureOnLedger(ctx context.Context, cert *models.Certificate) (id.TxReference, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()

	rec, err := s.ledger.GetRecord(ctx, cert.CertificateID)
	switch {
	case err == nil && rec.ContentHash == cert.ContentHash:
		return "", nil
	case err == nil:
		return "", fmt.Errorf("ledger records %s with a different content hash", cert.CertificateID)
	case !ledger.IsMissing(err):
		return "", err
	}

	wallet := models.ZeroWalletAddress
	if student, err := s.users.FindByID(ctx, cert.StudentID); err == nil {
		wallet = student.LedgerWallet()
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return "", err
	}
	receipt, err := s.ledger.Issue(ctx, cert.CertificateID, cert.ContentHash, wallet)
	if err != nil {
		return "", err
	}
	return receipt.Reference, nil
}

// syncRevocations pages through confirmed, issued certificates and applies
// revocations found only on the ledger.
func (s *Sweeper) syncRevocations(ctx context.Context, report *SweepReport) error {
	var cursor id.CertificateID
	for {
		certs, err := s.certificates.ListIssuedAfter(ctx, cursor, s.batchSize)
		if err != nil {
			return fmt.Errorf("list issued certificates: %w", err)
		}
		for _, cert := range certs {
			revoked, err := s.revokedOnLedger(ctx, cert.CertificateID)
			if err != nil {
				report.Failures++
				continue
			}
			if !revoked {
				continue
			}
			cert.ApplyRevocation(LedgerRevocationReason, requestcontext.Now(ctx))
			if err := s.persist(ctx, cert, repairRevocationSync); err != nil {
				if !errors.Is(err, sentinel.ErrConflict) {
					report.Failures++
				}
				continue
			}
			report.RevocationsSynced++
		}
		if len(certs) < s.batchSize {
			return nil
		}
		cursor = certs[len(certs)-1].CertificateID
	}
}

func (s *Sweeper) revokedOnLedger(ctx context.Context, certID id.CertificateID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()

	rec, err := s.ledger.GetRecord(ctx, certID)
	if ledger.IsMissing(err) {
		return false, nil
	}
	if err != nil {
		s.logger.WarnContext(ctx, "ledger read failed during sweep",
			"certificate_id", certID,
			"error", err,
		)
		return false, err
	}
	return rec.Revoked, nil
}

// linkRequests marks APPROVED requests ISSUED when their certificate exists.
func (s *Sweeper) linkRequests(ctx context.Context, report *SweepReport) error {
	reqs, err := s.requests.ListByStatus(ctx, models.RequestStatusApproved, s.batchSize)
	if err != nil {
		return fmt.Errorf("list approved requests: %w", err)
	}
	for _, req := range reqs {
		cert, err := s.certificates.FindByRequestID(ctx, req.ID)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			report.Failures++
			continue
		}
		if cert.LedgerStatus != models.LedgerStatusConfirmed {
			continue
		}
		if err := req.MarkIssued(requestcontext.Now(ctx)); err != nil {
			report.Failures++
			continue
		}
		if err := s.requests.Save(ctx, req); err != nil {
			report.Failures++
			continue
		}
		report.RequestsLinked++
		s.repaired(ctx, cert.CertificateID.String(), repairRequestLinked)
	}
	return nil
}

// persist writes a repaired certificate together with its repair event.
func (s *Sweeper) persist(ctx context.Context, cert *models.Certificate, kind string) error {
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.certificates.Update(ctx, cert); err != nil {
			return err
		}
		if s.auditPublisher == nil {
			return nil
		}
		return s.auditPublisher.Emit(ctx, audit.Event{
			Subject:         cert.CertificateID.String(),
			Action:          string(audit.EventReconciliationRepaired),
			Reason:          kind,
			LedgerReference: cert.LedgerReference.String(),
		})
	})
	if errors.Is(err, sentinel.ErrConflict) {
		// revoked since it was listed; the stored revocation stands
		s.logger.InfoContext(ctx, "repair skipped, certificate already revoked",
			"certificate_id", cert.CertificateID,
			"repair", kind,
		)
		return err
	}
	if err != nil {
		s.logger.WarnContext(ctx, "failed to persist repair",
			"certificate_id", cert.CertificateID,
			"repair", kind,
			"error", err,
		)
		return err
	}
	s.metrics.IncrementRepair(kind)
	s.logger.InfoContext(ctx, string(audit.EventReconciliationRepaired),
		"certificate_id", cert.CertificateID,
		"repair", kind,
		"event", string(audit.EventReconciliationRepaired),
		"log_type", "audit",
	)
	return nil
}

// repaired records a repair that did not change the certificate itself.
func (s *Sweeper) repaired(ctx context.Context, subject, kind string) {
	s.metrics.IncrementRepair(kind)
	s.logger.InfoContext(ctx, string(audit.EventReconciliationRepaired),
		"certificate_id", subject,
		"repair", kind,
		"event", string(audit.EventReconciliationRepaired),
		"log_type", "audit",
	)
	if s.auditPublisher == nil {
		return
	}
	_ = s.auditPublisher.Emit(ctx, audit.Event{
		Subject: subject,
		Action:  string(audit.EventReconciliationRepaired),
		Reason:  kind,
	})
}
