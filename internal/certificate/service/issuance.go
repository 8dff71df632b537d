package service

import (
	"context"
	"errors"
	"time"

	"certledger/internal/certificate/canonical"
	"certledger/internal/certificate/models"
	"certledger/internal/ledger"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/requestcontext"
)

const (
	outcomeIssued       = "issued"
	outcomeLedgerFailed = "ledger_failed"
	outcomeRetryable    = "retryable"
	outcomeRejected     = "rejected"
	outcomeConflict     = "conflict"
)

// issuancePlan is a validated intent with its certificate and payload built.
type issuancePlan struct {
	cert    *models.Certificate
	wallet  string
	payload []byte
	retry   bool
}

// IssueOne issues a single certificate: content store, then ledger, then
// database. A transient ledger or persistence failure after the payload is
// stored returns *models.RetryableError carrying the identifier to reuse.
// A permanent ledger failure persists the record as FAILED and returns both
// the result and an error.
func (s *Service) IssueOne(ctx context.Context, intent models.IssuanceIntent) (*models.IssuanceResult, error) {
	ctx, span := s.tracer.Start(ctx, "certificate.issue")
	defer span.End()

	plan, err := s.prepare(ctx, intent)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			s.metrics.IncrementIssuance(outcomeConflict)
		} else {
			s.metrics.IncrementIssuance(outcomeRejected)
		}
		return nil, err
	}

	hash, err := s.putPayload(ctx, plan)
	if err != nil {
		s.metrics.IncrementIssuance(outcomeRejected)
		return nil, err
	}
	plan.cert.ContentHash = hash

	// Once the ledger may be written, the rest runs to completion even if the
	// caller goes away.
	return s.commit(context.WithoutCancel(ctx), plan)
}

func (s *Service) prepare(ctx context.Context, intent models.IssuanceIntent) (*issuancePlan, error) {
	if err := s.validate.Struct(intent); err != nil {
		return nil, validationError(err)
	}
	if intent.InstituteID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "institute is required")
	}
	if intent.StudentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "student is required")
	}
	if intent.IsRetry() && intent.IssuedAt == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "issued_at is required when retrying a certificate ID")
	}

	student, err := s.users.FindByID(ctx, intent.StudentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeValidation, "student not found")
		}
		return nil, persistenceError(err, "failed to load student")
	}
	if !student.IsStudent() {
		return nil, dErrors.New(dErrors.CodeValidation, "user is not a student")
	}
	if !student.InstituteID.IsNil() && student.InstituteID != intent.InstituteID {
		return nil, dErrors.New(dErrors.CodeValidation, "student does not belong to this institute")
	}

	var req *models.CertificateRequest
	if intent.RequestID != nil {
		req, err = s.loadApprovedRequest(ctx, *intent.RequestID, intent)
		if err != nil {
			return nil, err
		}
	}

	now := requestcontext.Now(ctx)
	certID := intent.CertificateID
	issuedAt := canonical.Normalize(now)
	if intent.IsRetry() {
		issuedAt = canonical.Normalize(*intent.IssuedAt)
		if _, err := s.certificates.FindByID(ctx, certID); err == nil {
			return nil, dErrors.Newf(dErrors.CodeConflict, "certificate %s already exists", certID)
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, persistenceError(err, "failed to check certificate %s", certID)
		}
	} else {
		certID = s.ids.NewCertificateID()
	}

	cert := &models.Certificate{
		CertificateID: certID,
		StudentID:     student.ID,
		InstituteID:   intent.InstituteID,
		Metadata:      metadataFor(intent, student, req, issuedAt),
		LedgerStatus:  models.LedgerStatusPending,
		Status:        models.CertificateStatusIssued,
		RequestID:     intent.RequestID,
		IssuedAt:      issuedAt,
		CreatedAt:     canonical.Normalize(now),
		UpdatedAt:     canonical.Normalize(now),
	}
	wallet := student.LedgerWallet()
	payload, err := canonical.Build(cert, wallet).Bytes()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode certificate payload")
	}
	return &issuancePlan{cert: cert, wallet: wallet, payload: payload, retry: intent.IsRetry()}, nil
}

func (s *Service) loadApprovedRequest(ctx context.Context, requestID id.CertificateRequestID, intent models.IssuanceIntent) (*models.CertificateRequest, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate request not found")
		}
		return nil, persistenceError(err, "failed to load certificate request")
	}
	if req.StudentID != intent.StudentID || req.InstituteID != intent.InstituteID {
		return nil, dErrors.New(dErrors.CodeValidation, "certificate request belongs to a different student or institute")
	}
	if req.Status != models.RequestStatusApproved {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "certificate request is %s", req.Status)
	}
	return req, nil
}

// metadataFor fills omitted descriptive fields from the request and the
// student profile. The issue date defaults to the issuance instant.
func metadataFor(intent models.IssuanceIntent, student *models.User, req *models.CertificateRequest, issuedAt time.Time) models.Metadata {
	m := models.Metadata{
		CertificateType: intent.CertificateType,
		Course:          intent.Course,
		Department:      intent.Department,
		Year:            intent.Year,
		RollNumber:      intent.RollNumber,
		StudentName:     intent.StudentName,
		Grade:           intent.Grade,
		CGPA:            intent.CGPA,
		IssueDate:       issuedAt,
	}
	if intent.IssueDate != nil {
		m.IssueDate = canonical.Normalize(*intent.IssueDate)
	}
	if req != nil {
		m.Course = firstNonEmpty(m.Course, req.Course)
		m.Department = firstNonEmpty(m.Department, req.Department)
		m.Year = firstNonEmpty(m.Year, req.Year)
	}
	m.Course = firstNonEmpty(m.Course, student.Course)
	m.Department = firstNonEmpty(m.Department, student.Department)
	m.RollNumber = firstNonEmpty(m.RollNumber, student.RollNumber)
	m.StudentName = firstNonEmpty(m.StudentName, student.Name)
	return m
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (s *Service) putPayload(ctx context.Context, plan *issuancePlan) (hash string, err error) {
	ctx, span := s.startSpan(ctx, "content_store.put", plan.cert.CertificateID)
	defer func() { endSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ContentStoreTimeout)
	defer cancel()

	start := time.Now()
	hash, err = s.content.Put(ctx, plan.payload)
	s.metrics.ObserveDependency("content_store", "put", time.Since(start))
	if err != nil {
		s.logger.WarnContext(ctx, "content store put failed",
			"certificate_id", plan.cert.CertificateID, "error", err)
		return "", dErrors.Wrap(err, dErrors.CodeContentStore, "failed to store certificate payload")
	}
	return hash, nil
}

// commit runs the ledger write, the database insert and the request link.
func (s *Service) commit(ctx context.Context, plan *issuancePlan) (*models.IssuanceResult, error) {
	cert := plan.cert
	result := &models.IssuanceResult{Certificate: cert}

	receipt, replayed, err := s.writeLedger(ctx, plan)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			s.metrics.IncrementIssuance(outcomeConflict)
			return nil, err
		}
		if ledger.IsTransient(err) {
			s.metrics.IncrementIssuance(outcomeRetryable)
			s.logger.WarnContext(ctx, "ledger issue failed transiently",
				"certificate_id", cert.CertificateID, "error", err)
			return nil, s.retryable(cert, ledgerError(err, "ledger temporarily unavailable"))
		}
		return s.commitLedgerFailure(ctx, result, err)
	}
	result.LedgerReplayed = replayed
	cert.LedgerStatus = models.LedgerStatusConfirmed
	if receipt != nil {
		cert.LedgerReference = receipt.Reference
	}

	if err := s.persist(ctx, cert, audit.EventCertificateIssued, ""); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncrementIssuance(outcomeConflict)
			return nil, dErrors.Newf(dErrors.CodeConflict, "certificate %s already exists", cert.CertificateID)
		}
		// The ledger holds the entry; a retry with the same ID replays it.
		s.metrics.IncrementIssuance(outcomeRetryable)
		s.logAudit(ctx, audit.EventReconciliationWarning,
			"certificate_id", cert.CertificateID.String(),
			"actor_id", cert.InstituteID.String(),
			"reason", "certificate recorded on ledger but not persisted",
			"ledger_reference", cert.LedgerReference.String(),
		)
		return nil, s.retryable(cert, persistenceError(err, "failed to persist certificate %s", cert.CertificateID))
	}

	if cert.RequestID != nil {
		if err := s.markRequestIssued(ctx, *cert.RequestID); err != nil {
			warning := models.ReconciliationWarning{
				Kind:          models.WarningRequestNotUpdated,
				CertificateID: cert.CertificateID,
				Message:       "certificate issued but the linked request was not marked ISSUED",
			}
			result.Warnings = append(result.Warnings, warning)
			s.logAudit(ctx, audit.EventReconciliationWarning,
				"certificate_id", cert.CertificateID.String(),
				"actor_id", cert.InstituteID.String(),
				"reason", string(warning.Kind),
				"error", err,
			)
		}
	}

	s.metrics.IncrementIssuance(outcomeIssued)
	s.logger.InfoContext(ctx, "certificate issued",
		"certificate_id", cert.CertificateID,
		"ledger_reference", cert.LedgerReference,
		"ledger_replayed", replayed,
	)
	return result, nil
}

// writeLedger records the certificate on the ledger. On a retry the ledger is
// read first: a matching entry means the earlier write landed.
func (s *Service) writeLedger(ctx context.Context, plan *issuancePlan) (receipt *ledger.Receipt, replayed bool, err error) {
	cert := plan.cert
	if plan.retry {
		rec, err := s.readLedgerForWrite(ctx, cert.CertificateID)
		switch {
		case err == nil && rec.ContentHash == cert.ContentHash:
			return nil, true, nil
		case err == nil:
			return nil, false, dErrors.Newf(dErrors.CodeConflict,
				"ledger already records %s with a different content hash", cert.CertificateID)
		case !ledger.IsMissing(err):
			return nil, false, err
		}
	}

	ctx, span := s.startSpan(ctx, "ledger.issue", cert.CertificateID)
	defer func() { endSpan(span, err) }()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()

	start := time.Now()
	receipt, err = s.ledger.Issue(ctx, cert.CertificateID, cert.ContentHash, plan.wallet)
	s.metrics.ObserveDependency("ledger", "issue", time.Since(start))
	return receipt, false, err
}

func (s *Service) readLedgerForWrite(ctx context.Context, certID id.CertificateID) (rec *ledger.Record, err error) {
	ctx, span := s.startSpan(ctx, "ledger.get_record", certID)
	defer func() { endSpan(span, err) }()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()

	start := time.Now()
	rec, err = s.ledger.GetRecord(ctx, certID)
	s.metrics.ObserveDependency("ledger", "get_record", time.Since(start))
	return rec, err
}

// commitLedgerFailure persists a permanently rejected issuance as FAILED so
// the attempt stays auditable and can be retried by the sweep.
func (s *Service) commitLedgerFailure(ctx context.Context, result *models.IssuanceResult, ledgerErr error) (*models.IssuanceResult, error) {
	cert := result.Certificate
	s.metrics.IncrementIssuance(outcomeLedgerFailed)
	cert.LedgerStatus = models.LedgerStatusFailed
	if err := s.persist(ctx, cert, audit.EventCertificateLedgerFailed, ledgerErr.Error()); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Newf(dErrors.CodeConflict, "certificate %s already exists", cert.CertificateID)
		}
		return nil, persistenceError(err, "failed to persist failed certificate %s", cert.CertificateID)
	}
	s.logger.ErrorContext(ctx, "ledger rejected certificate",
		"certificate_id", cert.CertificateID, "error", ledgerErr)
	return result, ledgerError(ledgerErr, "ledger rejected certificate")
}

// persist inserts the certificate and its lifecycle event as one unit.
func (s *Service) persist(ctx context.Context, cert *models.Certificate, event audit.AuditEvent, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()

	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.certificates.Create(ctx, cert); err != nil {
			return err
		}
		return s.emit(ctx, audit.Event{
			Subject:         cert.CertificateID.String(),
			Action:          string(event),
			ActorID:         cert.InstituteID.String(),
			Reason:          reason,
			LedgerReference: cert.LedgerReference.String(),
		})
	})
}

func (s *Service) markRequestIssued(ctx context.Context, requestID id.CertificateRequestID) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()

	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return err
	}
	if err := req.MarkIssued(requestcontext.Now(ctx)); err != nil {
		return err
	}
	return s.requests.Save(ctx, req)
}

func (s *Service) retryable(cert *models.Certificate, err error) *models.RetryableError {
	return &models.RetryableError{
		CertificateID: cert.CertificateID,
		IssuedAt:      cert.IssuedAt,
		Err:           err,
	}
}
