package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"certledger/internal/certificate/models"
	"certledger/internal/contentstore"
	"certledger/internal/ledger"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/audit"
	"certledger/pkg/platform/middleware/device"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/requestcontext"
)

// Verify accepts either a transaction reference or a certificate ID.
func (s *Service) Verify(ctx context.Context, identifier string) (*models.VerificationResult, error) {
	identifier = strings.TrimSpace(identifier)
	if id.IsTxReference(identifier) {
		return s.VerifyByTransaction(ctx, identifier)
	}
	return s.VerifyByID(ctx, identifier)
}

// VerifyByID verifies a certificate by its identifier. When the database is
// unreachable the ledger and content store are still consulted.
func (s *Service) VerifyByID(ctx context.Context, raw string) (*models.VerificationResult, error) {
	certID, err := id.ParseCertificateID(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	ctx, span := s.startSpan(ctx, "certificate.verify", certID)
	defer span.End()

	cert, err := s.certificates.FindByID(ctx, certID)
	switch {
	case err == nil:
		return s.verify(ctx, cert), nil
	case errors.Is(err, sentinel.ErrNotFound):
		return s.notFound(ctx, certID.String()), nil
	default:
		s.logger.WarnContext(ctx, "certificate lookup failed, verifying from ledger", "certificate_id", certID, "error", err)
		return s.verifyWithoutDatabase(ctx, certID), nil
	}
}

// VerifyByTransaction verifies the certificate recorded by a ledger transaction.
func (s *Service) VerifyByTransaction(ctx context.Context, raw string) (*models.VerificationResult, error) {
	ref, err := id.ParseTxReference(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "certificate.verify_transaction")
	defer span.End()

	cert, err := s.certificates.FindByLedgerReference(ctx, ref)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return s.notFound(ctx, ref.String()), nil
		}
		return nil, persistenceError(err, "failed to look up transaction")
	}
	return s.verify(ctx, cert), nil
}

func (s *Service) notFound(ctx context.Context, subject string) *models.VerificationResult {
	result := &models.VerificationResult{
		IsValid: false,
		Found:   false,
		Sources: models.Sources{
			Database:     models.SourceNotFound,
			Ledger:       models.SourceSkipped,
			ContentStore: models.SourceSkipped,
		},
		VerifiedAt: requestcontext.Now(ctx),
	}
	s.recordVerification(ctx, subject, result)
	return result
}

func (s *Service) verify(ctx context.Context, cert *models.Certificate) *models.VerificationResult {
	result := &models.VerificationResult{
		Found:   true,
		Sources: models.Sources{Database: models.SourceAvailable},
	}

	institute, err := s.users.FindByID(ctx, cert.InstituteID)
	if err != nil {
		institute = nil
	}
	result.Certificate = models.NewVerifiedCertificate(cert, institute)

	rec, ledgerStatus := s.readLedger(ctx, cert.CertificateID)
	result.Sources.Ledger = ledgerStatus
	if rec != nil {
		result.LedgerData = toLedgerData(rec)
	}

	payload, contentStatus, corrupt := s.fetchPayload(ctx, cert.CertificateID, cert.ContentHash)
	result.Sources.ContentStore = contentStatus
	result.PayloadData = payload

	valid := cert.Status == models.CertificateStatusIssued && cert.LedgerStatus == models.LedgerStatusConfirmed
	var discrepancies []string
	switch ledgerStatus {
	case models.SourceAvailable:
		if rec.Revoked {
			valid = false
			if !cert.IsRevoked() {
				discrepancies = append(discrepancies, "ledger reports the certificate revoked")
			}
		}
		if rec.ContentHash != cert.ContentHash {
			valid = false
			discrepancies = append(discrepancies, "ledger content hash does not match the stored record")
		}
	case models.SourceNotFound:
		valid = false
		if cert.LedgerStatus == models.LedgerStatusConfirmed {
			discrepancies = append(discrepancies, "ledger has no record of the certificate")
		}
	case models.SourceUnavailable:
		if s.cfg.RequireLedger {
			valid = false
			discrepancies = append(discrepancies, "ledger unavailable")
		}
	}
	if corrupt {
		discrepancies = append(discrepancies, "stored payload does not match its content hash")
	}
	if contentStatus == models.SourceNotFound {
		discrepancies = append(discrepancies, "payload missing from content store")
	}
	result.IsValid = valid
	result.Discrepancies = discrepancies
	result.VerifiedAt = requestcontext.Now(ctx)

	if len(discrepancies) > 0 {
		s.logAudit(ctx, audit.EventReconciliationWarning,
			"certificate_id", cert.CertificateID.String(),
			"reason", strings.Join(discrepancies, "; "),
		)
	}
	s.recordVerification(ctx, cert.CertificateID.String(), result)
	return result
}

// verifyWithoutDatabase builds a result from the ledger alone. Without the
// database there is no certificate view, so validity rests on the ledger.
func (s *Service) verifyWithoutDatabase(ctx context.Context, certID id.CertificateID) *models.VerificationResult {
	result := &models.VerificationResult{
		Sources: models.Sources{
			Database:     models.SourceUnavailable,
			ContentStore: models.SourceSkipped,
		},
		Discrepancies: []string{"database unavailable"},
	}
	rec, ledgerStatus := s.readLedger(ctx, certID)
	result.Sources.Ledger = ledgerStatus
	if rec != nil {
		result.Found = true
		result.IsValid = !rec.Revoked
		result.LedgerData = toLedgerData(rec)
		payload, contentStatus, _ := s.fetchPayload(ctx, certID, rec.ContentHash)
		result.Sources.ContentStore = contentStatus
		result.PayloadData = payload
	}
	result.VerifiedAt = requestcontext.Now(ctx)
	s.recordVerification(ctx, certID.String(), result)
	return result
}

// readLedger reads the ledger record under the circuit breaker.
func (s *Service) readLedger(ctx context.Context, certID id.CertificateID) (*ledger.Record, models.SourceStatus) {
	if !s.ledgerBreaker.Allow() {
		return nil, models.SourceUnavailable
	}
	ctx, span := s.startSpan(ctx, "ledger.get_record", certID)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.VerifyLedgerTimeout)
	defer cancel()

	start := time.Now()
	rec, err := s.ledger.GetRecord(ctx, certID)
	s.metrics.ObserveDependency("ledger", "get_record", time.Since(start))
	switch {
	case err == nil:
		endSpan(span, nil)
		s.ledgerBreaker.RecordSuccess()
		return rec, models.SourceAvailable
	case errors.Is(err, ledger.ErrRecordNotFound):
		endSpan(span, nil)
		s.ledgerBreaker.RecordSuccess()
		return nil, models.SourceNotFound
	case errors.Is(err, ledger.ErrRecordUnknown):
		// the ledger answered, it just holds no state for this certificate
		endSpan(span, nil)
		s.ledgerBreaker.RecordSuccess()
		return nil, models.SourceUnavailable
	default:
		endSpan(span, err)
		if _, change := s.ledgerBreaker.RecordFailure(); change.Opened {
			s.logger.WarnContext(ctx, "ledger circuit opened", "breaker", s.ledgerBreaker.Name())
		}
		s.logger.WarnContext(ctx, "ledger read failed", "certificate_id", certID, "error", err)
		return nil, models.SourceUnavailable
	}
}

// fetchPayload returns the payload, how the content store answered, and
// whether the bytes failed their content check.
func (s *Service) fetchPayload(ctx context.Context, certID id.CertificateID, hash string) (json.RawMessage, models.SourceStatus, bool) {
	if hash == "" {
		return nil, models.SourceSkipped, false
	}
	ctx, span := s.startSpan(ctx, "content_store.get", certID)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.VerifyPayloadTimeout)
	defer cancel()

	start := time.Now()
	payload, err := s.content.Get(ctx, hash)
	s.metrics.ObserveDependency("content_store", "get", time.Since(start))
	endSpan(span, err)
	switch {
	case err == nil && json.Valid(payload):
		return json.RawMessage(payload), models.SourceAvailable, false
	case err == nil, errors.Is(err, contentstore.ErrCorrupt):
		return nil, models.SourceAvailable, true
	case errors.Is(err, contentstore.ErrNotFound):
		return nil, models.SourceNotFound, false
	default:
		s.logger.WarnContext(ctx, "payload fetch failed", "certificate_id", certID, "error", err)
		return nil, models.SourceUnavailable, false
	}
}

func (s *Service) recordVerification(ctx context.Context, subject string, result *models.VerificationResult) {
	s.metrics.IncrementVerification(result.IsValid)
	s.metrics.IncrementVerificationSource("database", string(result.Sources.Database))
	s.metrics.IncrementVerificationSource("ledger", string(result.Sources.Ledger))
	s.metrics.IncrementVerificationSource("content_store", string(result.Sources.ContentStore))

	decision := "invalid"
	if result.IsValid {
		decision = "valid"
	}
	s.logAudit(ctx, audit.EventCertificateVerified,
		"certificate_id", subject,
		"decision", decision,
		"client_ip", requestcontext.ClientIP(ctx),
		"verifier", string(device.Classify(requestcontext.UserAgent(ctx))),
	)
}

func toLedgerData(rec *ledger.Record) *models.LedgerData {
	return &models.LedgerData{
		ContentHash:   rec.ContentHash,
		WalletAddress: rec.WalletAddress,
		Revoked:       rec.Revoked,
		IssuedAt:      rec.IssuedAt,
	}
}
