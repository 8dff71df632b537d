package service

import (
	"errors"

	"go.uber.org/mock/gomock"

	"certledger/internal/certificate/models"
	"certledger/internal/certificate/service/mocks"
	"certledger/internal/contentstore"
	"certledger/internal/ledger"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
	"certledger/pkg/platform/circuit"
)

const unknownTx = "0x1111111111111111111111111111111111111111111111111111111111111111"

func (s *ServiceSuite) TestVerify_NotFound() {
	svc := s.newService(s.mockLedger, s.mockContent)

	for _, identifier := range []string{"CERT-UNKNOWN", unknownTx} {
		result, err := svc.Verify(s.ctx(), identifier)
		s.Require().NoError(err)
		s.False(result.IsValid)
		s.False(result.Found)
		s.Nil(result.Certificate)
		s.Nil(result.LedgerData)
		s.Nil(result.PayloadData)
		s.Equal(models.SourceNotFound, result.Sources.Database)
		s.Equal(models.SourceSkipped, result.Sources.Ledger)
		s.Equal(models.SourceSkipped, result.Sources.ContentStore)
		s.Equal(fixedNow, result.VerifiedAt)
	}
}

func (s *ServiceSuite) TestVerify_InvalidIdentifier() {
	_, err := s.service.VerifyByID(s.ctx(), "CERT A; drop")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = s.service.VerifyByTransaction(s.ctx(), "0x1234")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ServiceSuite) TestVerify_Valid() {
	cert := s.issue()

	check := func(result *models.VerificationResult) {
		s.True(result.IsValid)
		s.True(result.Found)
		s.Equal(models.Sources{
			Database:     models.SourceAvailable,
			Ledger:       models.SourceAvailable,
			ContentStore: models.SourceAvailable,
		}, result.Sources)
		s.Require().NotNil(result.Certificate)
		s.Equal(cert.CertificateID, result.Certificate.CertificateID)
		s.Equal("Institute of Testing", result.Certificate.InstituteName)
		s.Equal("registrar@testing.edu", result.Certificate.InstituteEmail)
		s.Require().NotNil(result.LedgerData)
		s.Equal(cert.ContentHash, result.LedgerData.ContentHash)
		s.Contains(string(result.PayloadData), string(cert.CertificateID))
		s.Empty(result.Discrepancies)
	}

	s.Run("by certificate ID", func() {
		result, err := s.service.VerifyByID(s.ctx(), cert.CertificateID.String())
		s.Require().NoError(err)
		check(result)
	})

	s.Run("by transaction reference", func() {
		result, err := s.service.VerifyByTransaction(s.ctx(), cert.LedgerReference.String())
		s.Require().NoError(err)
		check(result)
	})

	s.Run("dispatches on identifier shape", func() {
		result, err := s.service.Verify(s.ctx(), cert.LedgerReference.String())
		s.Require().NoError(err)
		check(result)

		result, err = s.service.Verify(s.ctx(), " "+cert.CertificateID.String()+" ")
		s.Require().NoError(err)
		check(result)
	})
}

func (s *ServiceSuite) TestVerify_LedgerRevokedOutsideDatabase() {
	cert := s.issue()
	_, err := s.fakeLedger.Revoke(s.ctx(), cert.CertificateID)
	s.Require().NoError(err)

	result, err := s.service.VerifyByID(s.ctx(), cert.CertificateID.String())
	s.Require().NoError(err)
	s.True(result.Found)
	s.False(result.IsValid)
	s.Equal(models.CertificateStatusIssued, result.Certificate.Status)
	s.Require().Len(result.Discrepancies, 1)
	s.Contains(result.Discrepancies[0], "revoked")
}

func (s *ServiceSuite) TestVerify_DegradedLedger() {
	cert := s.issue()
	unreachable := ledger.NewError(ledger.KindTransient, "get_record", "dial tcp", nil)

	s.Run("database status decides when the ledger is unreachable", func() {
		s.mockLedger.EXPECT().GetRecord(gomock.Any(), cert.CertificateID).Return(nil, unreachable)
		svc := s.newService(s.mockLedger, s.content)

		result, err := svc.VerifyByID(s.ctx(), cert.CertificateID.String())
		s.Require().NoError(err)
		s.True(result.IsValid)
		s.Nil(result.LedgerData)
		s.Equal(models.SourceUnavailable, result.Sources.Ledger)
		s.Equal(models.SourceAvailable, result.Sources.ContentStore)
	})

	s.Run("fails closed when the ledger is required", func() {
		s.mockLedger.EXPECT().GetRecord(gomock.Any(), cert.CertificateID).Return(nil, unreachable)
		svc := New(s.certificates, s.users, s.requests, s.mockLedger, s.content, Config{RequireLedger: true})

		result, err := svc.VerifyByID(s.ctx(), cert.CertificateID.String())
		s.Require().NoError(err)
		s.False(result.IsValid)
		s.Contains(result.Discrepancies, "ledger unavailable")
	})

	s.Run("open circuit skips the ledger", func() {
		breaker := circuit.New("ledger", circuit.WithFailureThreshold(1))
		svc := s.newService(s.mockLedger, s.content, WithLedgerBreaker(breaker))
		s.mockLedger.EXPECT().GetRecord(gomock.Any(), cert.CertificateID).Return(nil, unreachable).Times(1)

		_, err := svc.VerifyByID(s.ctx(), cert.CertificateID.String())
		s.Require().NoError(err)
		s.True(breaker.IsOpen())

		result, err := svc.VerifyByID(s.ctx(), cert.CertificateID.String())
		s.Require().NoError(err)
		s.Equal(models.SourceUnavailable, result.Sources.Ledger)
	})
}

func (s *ServiceSuite) TestVerify_MissingLedgerRecord() {
	cert := s.issue()
	s.mockLedger.EXPECT().GetRecord(gomock.Any(), cert.CertificateID).Return(nil, ledger.ErrRecordNotFound)
	svc := s.newService(s.mockLedger, s.content)

	result, err := svc.VerifyByID(s.ctx(), cert.CertificateID.String())
	s.Require().NoError(err)
	s.False(result.IsValid)
	s.Equal(models.SourceNotFound, result.Sources.Ledger)
	s.Contains(result.Discrepancies, "ledger has no record of the certificate")
}

func (s *ServiceSuite) TestVerify_DegradedContentStore() {
	cert := s.issue()

	s.Run("unreachable", func() {
		s.mockContent.EXPECT().Get(gomock.Any(), cert.ContentHash).Return(nil, contentstore.ErrUnreachable)
		svc := s.newService(s.fakeLedger, s.mockContent)

		result, err := svc.VerifyByID(s.ctx(), cert.CertificateID.String())
		s.Require().NoError(err)
		s.True(result.IsValid)
		s.Nil(result.PayloadData)
		s.Equal(models.SourceUnavailable, result.Sources.ContentStore)
	})

	s.Run("corrupt payload", func() {
		s.mockContent.EXPECT().Get(gomock.Any(), cert.ContentHash).Return(nil, contentstore.ErrCorrupt)
		svc := s.newService(s.fakeLedger, s.mockContent)

		result, err := svc.VerifyByID(s.ctx(), cert.CertificateID.String())
		s.Require().NoError(err)
		s.Nil(result.PayloadData)
		s.Contains(result.Discrepancies, "stored payload does not match its content hash")
	})
}

func (s *ServiceSuite) TestVerify_DatabaseUnavailable() {
	cert := s.issue()

	s.Run("lookup by ID falls back to the ledger", func() {
		certs := mocks.NewMockCertificateStore(s.ctrl)
		certs.EXPECT().FindByID(gomock.Any(), cert.CertificateID).Return(nil, errors.New("connection refused"))
		svc := s.newService(s.fakeLedger, s.content)
		svc.certificates = certs

		result, err := svc.VerifyByID(s.ctx(), cert.CertificateID.String())
		s.Require().NoError(err)
		s.True(result.Found)
		s.True(result.IsValid)
		s.Nil(result.Certificate)
		s.Equal(models.SourceUnavailable, result.Sources.Database)
		s.Equal(models.SourceAvailable, result.Sources.Ledger)
		s.Equal(models.SourceAvailable, result.Sources.ContentStore)
	})

	s.Run("lookup by transaction fails", func() {
		certs := mocks.NewMockCertificateStore(s.ctrl)
		certs.EXPECT().FindByLedgerReference(gomock.Any(), id.TxReference(unknownTx)).Return(nil, errors.New("connection refused"))
		svc := s.newService(s.mockLedger, s.mockContent)
		svc.certificates = certs

		_, err := svc.VerifyByTransaction(s.ctx(), unknownTx)
		s.True(dErrors.HasCode(err, dErrors.CodePersistence))
	})
}

func (s *ServiceSuite) TestVerify_MockLedgerRestarted() {
	cert := s.issue()

	// a fresh mock holds none of the writes made before the restart
	restarted := s.newService(ledger.NewMock(), s.content)

	result, err := restarted.VerifyByID(s.ctx(), cert.CertificateID.String())
	s.Require().NoError(err)
	s.True(result.Found)
	s.True(result.IsValid)
	s.Nil(result.LedgerData)
	s.Equal(models.Sources{
		Database:     models.SourceAvailable,
		Ledger:       models.SourceUnavailable,
		ContentStore: models.SourceAvailable,
	}, result.Sources)
	s.Empty(result.Discrepancies)
	s.Empty(s.events(audit.EventReconciliationWarning))

	s.Run("strict verification still fails closed", func() {
		strict := New(s.certificates, s.users, s.requests, ledger.NewMock(), s.content,
			Config{RequireLedger: true})
		result, err := strict.VerifyByID(s.ctx(), cert.CertificateID.String())
		s.Require().NoError(err)
		s.False(result.IsValid)
		s.Contains(result.Discrepancies, "ledger unavailable")
	})
}
