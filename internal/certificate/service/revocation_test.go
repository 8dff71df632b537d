package service

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	"certledger/internal/certificate/models"
	"certledger/internal/certificate/service/mocks"
	"certledger/internal/ledger"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
	"certledger/pkg/platform/sentinel"
)

func (s *ServiceSuite) revokeCommand(certID id.CertificateID) models.RevokeCommand {
	return models.RevokeCommand{
		CertificateID: certID,
		Reason:        "academic misconduct",
		InstituteID:   s.institute.ID,
	}
}

func (s *ServiceSuite) TestRevoke() {
	cert := s.issue()

	revoked, err := s.service.Revoke(s.ctx(), s.revokeCommand(cert.CertificateID))
	s.Require().NoError(err)
	s.Equal(models.CertificateStatusRevoked, revoked.Status)
	s.Equal("academic misconduct", revoked.RevocationReason)
	s.Require().NotNil(revoked.RevokedAt)

	rec, err := s.fakeLedger.GetRecord(s.ctx(), cert.CertificateID)
	s.Require().NoError(err)
	s.True(rec.Revoked)
	s.Len(s.events(audit.EventCertificateRevoked), 1)

	s.Run("revoking again returns the stored record without a ledger call", func() {
		svc := s.newService(s.mockLedger, s.mockContent)
		cmd := s.revokeCommand(cert.CertificateID)
		cmd.Reason = "duplicate click"

		again, err := svc.Revoke(s.ctx(), cmd)
		s.Require().NoError(err)
		s.Equal("academic misconduct", again.RevocationReason)
		s.Equal(revoked.RevokedAt, again.RevokedAt)
		s.Len(s.events(audit.EventCertificateRevoked), 1)
	})

	s.Run("verification reports the revocation", func() {
		result, err := s.service.VerifyByID(s.ctx(), cert.CertificateID.String())
		s.Require().NoError(err)
		s.True(result.Found)
		s.False(result.IsValid)
		s.Equal(models.CertificateStatusRevoked, result.Certificate.Status)
		s.Require().NotNil(result.LedgerData)
		s.True(result.LedgerData.Revoked)
		s.Empty(result.Discrepancies)
	})
}

func (s *ServiceSuite) TestRevoke_Rejections() {
	cert := s.issue()
	svc := s.newService(s.mockLedger, s.mockContent)

	s.Run("unknown certificate", func() {
		_, err := svc.Revoke(s.ctx(), s.revokeCommand("CERT-MISSING"))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("reason is required", func() {
		cmd := s.revokeCommand(cert.CertificateID)
		cmd.Reason = ""
		_, err := svc.Revoke(s.ctx(), cmd)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("another institute is forbidden", func() {
		cmd := s.revokeCommand(cert.CertificateID)
		cmd.InstituteID = id.UserID(uuid.New())
		_, err := svc.Revoke(s.ctx(), cmd)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Len(s.events(audit.EventRevocationForbidden), 1)
	})

	s.Run("certificate without a confirmed ledger entry", func() {
		failed := &models.Certificate{
			CertificateID: "CERT-FAILED",
			StudentID:     s.student.ID,
			InstituteID:   s.institute.ID,
			LedgerStatus:  models.LedgerStatusFailed,
			Status:        models.CertificateStatusIssued,
		}
		s.Require().NoError(s.certificates.Create(s.ctx(), failed))

		_, err := svc.Revoke(s.ctx(), s.revokeCommand("CERT-FAILED"))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func (s *ServiceSuite) TestRevoke_LedgerFailure() {
	cert := s.issue()
	svc := s.newService(s.mockLedger, s.content)

	s.Run("transient failure leaves the certificate issued", func() {
		s.mockLedger.EXPECT().Revoke(gomock.Any(), cert.CertificateID).
			Return(nil, ledger.NewError(ledger.KindTransient, "revoke", "rpc timeout", nil))

		_, err := svc.Revoke(s.ctx(), s.revokeCommand(cert.CertificateID))
		s.True(dErrors.HasCode(err, dErrors.CodeLedgerTransient))

		stored, err := s.certificates.FindByID(s.ctx(), cert.CertificateID)
		s.Require().NoError(err)
		s.Equal(models.CertificateStatusIssued, stored.Status)
	})

	s.Run("permanent failure is checked against the ledger record", func() {
		s.mockLedger.EXPECT().Revoke(gomock.Any(), cert.CertificateID).
			Return(nil, ledger.NewError(ledger.KindPermanent, "revoke", "execution reverted", nil))
		s.mockLedger.EXPECT().GetRecord(gomock.Any(), cert.CertificateID).
			Return(&ledger.Record{ContentHash: cert.ContentHash}, nil)

		_, err := svc.Revoke(s.ctx(), s.revokeCommand(cert.CertificateID))
		s.True(dErrors.HasCode(err, dErrors.CodeLedgerPermanent))
	})

	s.Run("earlier revocation that landed on the ledger is accepted", func() {
		s.mockLedger.EXPECT().Revoke(gomock.Any(), cert.CertificateID).
			Return(nil, ledger.NewError(ledger.KindPermanent, "revoke", "already revoked", nil))
		s.mockLedger.EXPECT().GetRecord(gomock.Any(), cert.CertificateID).
			Return(&ledger.Record{ContentHash: cert.ContentHash, Revoked: true}, nil)

		revoked, err := svc.Revoke(s.ctx(), s.revokeCommand(cert.CertificateID))
		s.Require().NoError(err)
		s.Equal(models.CertificateStatusRevoked, revoked.Status)
	})
}

func (s *ServiceSuite) TestRevoke_PersistenceFailure() {
	cert := s.issue()
	stored := *cert

	certs := mocks.NewMockCertificateStore(s.ctrl)
	certs.EXPECT().FindByID(gomock.Any(), cert.CertificateID).Return(&stored, nil)
	certs.EXPECT().Update(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))
	svc := s.newService(s.fakeLedger, s.content)
	svc.certificates = certs

	_, err := svc.Revoke(s.ctx(), s.revokeCommand(cert.CertificateID))
	s.True(dErrors.HasCode(err, dErrors.CodePersistence))

	rec, err := s.fakeLedger.GetRecord(s.ctx(), cert.CertificateID)
	s.Require().NoError(err)
	s.True(rec.Revoked)
	s.NotEmpty(s.events(audit.EventReconciliationWarning))
}

func (s *ServiceSuite) TestRevoke_ConcurrentRevocationWins() {
	cert := s.issue()
	listed := *cert
	winner := *cert
	winner.ApplyRevocation("degree withdrawn", fixedNow.Add(-time.Minute))

	certs := mocks.NewMockCertificateStore(s.ctrl)
	gomock.InOrder(
		certs.EXPECT().FindByID(gomock.Any(), cert.CertificateID).Return(&listed, nil),
		certs.EXPECT().Update(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict),
		certs.EXPECT().FindByID(gomock.Any(), cert.CertificateID).Return(&winner, nil),
	)
	svc := s.newService(s.fakeLedger, s.content)
	svc.certificates = certs

	revoked, err := svc.Revoke(s.ctx(), s.revokeCommand(cert.CertificateID))
	s.Require().NoError(err)
	s.Equal("degree withdrawn", revoked.RevocationReason)
	s.Equal(winner.RevokedAt, revoked.RevokedAt)
	s.Empty(s.events(audit.EventCertificateRevoked))
	s.Empty(s.events(audit.EventReconciliationWarning))
}

func (s *ServiceSuite) TestRevoke_AlreadyRevokedByAnotherInstitute() {
	cert := s.issue()
	_, err := s.service.Revoke(s.ctx(), s.revokeCommand(cert.CertificateID))
	s.Require().NoError(err)

	cmd := s.revokeCommand(cert.CertificateID)
	cmd.InstituteID = id.UserID(uuid.New())
	got, err := s.service.Revoke(s.ctx(), cmd)
	s.Nil(got)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	s.Len(s.events(audit.EventRevocationForbidden), 1)
}

func (s *ServiceSuite) TestRevoke_MockLedgerRestarted() {
	cert := s.issue()
	restarted := s.newService(ledger.NewMock(), s.content)

	revoked, err := restarted.Revoke(s.ctx(), s.revokeCommand(cert.CertificateID))
	s.Require().NoError(err)
	s.Equal(models.CertificateStatusRevoked, revoked.Status)

	stored, err := s.certificates.FindByID(s.ctx(), cert.CertificateID)
	s.Require().NoError(err)
	s.Equal(models.CertificateStatusRevoked, stored.Status)
	s.Len(s.events(audit.EventCertificateRevoked), 1)

	result, err := restarted.VerifyByID(s.ctx(), cert.CertificateID.String())
	s.Require().NoError(err)
	s.False(result.IsValid)
}
