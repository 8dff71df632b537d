package service

import (
	"context"
	"errors"
	"time"

	"certledger/internal/certificate/models"
	"certledger/internal/ledger"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/requestcontext"
)

// Revoke revokes a certificate on the ledger and then in the database.
// Revoking an already revoked certificate returns it unchanged. A ledger
// failure leaves the certificate ISSUED.
func (s *Service) Revoke(ctx context.Context, cmd models.RevokeCommand) (*models.Certificate, error) {
	ctx, span := s.startSpan(ctx, "certificate.revoke", cmd.CertificateID)
	defer span.End()

	if err := s.validate.Struct(cmd); err != nil {
		return nil, validationError(err)
	}

	cert, err := s.certificates.FindByID(ctx, cmd.CertificateID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return nil, persistenceError(err, "failed to load certificate")
	}
	if cert.InstituteID != cmd.InstituteID {
		s.metrics.IncrementRevocation("forbidden")
		s.logAudit(ctx, audit.EventRevocationForbidden,
			"certificate_id", cert.CertificateID.String(),
			"actor_id", cmd.InstituteID.String(),
			"decision", "denied",
		)
		return nil, dErrors.New(dErrors.CodeForbidden, "certificate was issued by another institute")
	}
	if cert.IsRevoked() {
		s.metrics.IncrementRevocation("already_revoked")
		return cert, nil
	}
	if err := cert.CanRevoke(); err != nil {
		s.metrics.IncrementRevocation("invalid_state")
		return nil, err
	}

	commitCtx := context.WithoutCancel(ctx)
	if err := s.revokeOnLedger(commitCtx, cert); err != nil {
		s.metrics.IncrementRevocation("ledger_failed")
		s.logger.WarnContext(ctx, "ledger revoke failed",
			"certificate_id", cert.CertificateID, "error", err)
		return nil, ledgerError(err, "ledger revocation failed")
	}

	cert.ApplyRevocation(cmd.Reason, requestcontext.Now(ctx))
	if err := s.persistRevocation(commitCtx, cert, cmd.InstituteID.String()); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// revoked concurrently; the stored reason stands
			return s.storedRevocation(commitCtx, cert.CertificateID)
		}
		s.metrics.IncrementRevocation("not_persisted")
		s.logAudit(commitCtx, audit.EventReconciliationWarning,
			"certificate_id", cert.CertificateID.String(),
			"actor_id", cmd.InstituteID.String(),
			"reason", string(models.WarningRevocationNotStored),
		)
		return nil, persistenceError(err, "certificate revoked on ledger but not persisted")
	}

	s.metrics.IncrementRevocation("revoked")
	s.logger.InfoContext(ctx, "certificate revoked", "certificate_id", cert.CertificateID)
	return cert, nil
}

func (s *Service) storedRevocation(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	cert, err := s.certificates.FindByID(ctx, certID)
	if err != nil {
		return nil, persistenceError(err, "failed to reload certificate %s", certID)
	}
	s.metrics.IncrementRevocation("already_revoked")
	return cert, nil
}

// revokeOnLedger submits the revocation. If the ledger refuses because an
// earlier attempt already revoked it, that earlier write is accepted.
func (s *Service) revokeOnLedger(ctx context.Context, cert *models.Certificate) (err error) {
	ctx, span := s.startSpan(ctx, "ledger.revoke", cert.CertificateID)
	defer func() { endSpan(span, err) }()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()

	start := time.Now()
	_, err = s.ledger.Revoke(ctx, cert.CertificateID)
	s.metrics.ObserveDependency("ledger", "revoke", time.Since(start))
	if err == nil || ledger.IsTransient(err) {
		return err
	}

	rec, getErr := s.ledger.GetRecord(ctx, cert.CertificateID)
	if getErr == nil && rec.Revoked {
		s.logger.InfoContext(ctx, "ledger already revoked certificate",
			"certificate_id", cert.CertificateID)
		return nil
	}
	return err
}

// persistRevocation updates the certificate and records the revocation event together.
func (s *Service) persistRevocation(ctx context.Context, cert *models.Certificate, actorID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()

	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.certificates.Update(ctx, cert); err != nil {
			return err
		}
		return s.emit(ctx, audit.Event{
			Subject: cert.CertificateID.String(),
			Action:  string(audit.EventCertificateRevoked),
			ActorID: actorID,
			Reason:  cert.RevocationReason,
		})
	})
}
