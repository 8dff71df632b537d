package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	"certledger/internal/certificate/canonical"
	"certledger/internal/certificate/idgen"
	"certledger/internal/certificate/models"
	"certledger/internal/certificate/service/mocks"
	"certledger/internal/contentstore"
	"certledger/internal/ledger"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/requestcontext"
)

func (s *ServiceSuite) TestIssueOne() {
	s.Run("issues through content store, ledger and database", func() {
		res, err := s.service.IssueOne(s.ctx(), s.intent())
		s.Require().NoError(err)

		cert := res.Certificate
		s.Equal(id.CertificateID("CERT-A"), cert.CertificateID)
		s.Equal(models.LedgerStatusConfirmed, cert.LedgerStatus)
		s.Equal(models.CertificateStatusIssued, cert.Status)
		s.Equal(s.fakeLedger.Reference("CERT-A"), cert.LedgerReference)
		s.True(strings.HasPrefix(cert.ContentHash, "bafkrei"))
		s.Empty(res.Warnings)
		s.False(res.LedgerReplayed)

		stored, err := s.certificates.FindByID(s.ctx(), "CERT-A")
		s.Require().NoError(err)
		s.Equal(cert.ContentHash, stored.ContentHash)

		rec, err := s.fakeLedger.GetRecord(s.ctx(), "CERT-A")
		s.Require().NoError(err)
		s.Equal(cert.ContentHash, rec.ContentHash)
		s.Equal(models.ZeroWalletAddress, rec.WalletAddress)

		payload, err := s.content.Get(s.ctx(), cert.ContentHash)
		s.Require().NoError(err)
		s.Contains(string(payload), `"certificateId":"CERT-A"`)

		s.Len(s.events(audit.EventCertificateIssued), 1)
	})

	s.Run("fills descriptive fields from the student profile", func() {
		cert := s.issue()
		s.Equal("Asha Rao", cert.Metadata.StudentName)
		s.Equal("S1", cert.Metadata.RollNumber)
		s.Equal("B.Tech", cert.Metadata.Course)
		s.Equal(canonical.Normalize(fixedNow), cert.Metadata.IssueDate)
		s.Equal(canonical.Normalize(fixedNow), cert.IssuedAt)
	})
}

func (s *ServiceSuite) TestIssueOne_Validation() {
	svc := s.newService(s.mockLedger, s.mockContent)

	s.Run("missing certificate type", func() {
		intent := s.intent()
		intent.CertificateType = ""
		_, err := svc.IssueOne(s.ctx(), intent)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown student", func() {
		intent := s.intent()
		intent.StudentID = id.UserID(uuid.New())
		_, err := svc.IssueOne(s.ctx(), intent)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("student of another institute", func() {
		intent := s.intent()
		intent.InstituteID = id.UserID(uuid.New())
		_, err := svc.IssueOne(s.ctx(), intent)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("institute is not a student", func() {
		intent := s.intent()
		intent.StudentID = s.institute.ID
		_, err := svc.IssueOne(s.ctx(), intent)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("retry without issued_at", func() {
		intent := s.intent()
		intent.CertificateID = "CERT-A"
		_, err := svc.IssueOne(s.ctx(), intent)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestIssueOne_LinkedRequest() {
	approvedAt := fixedNow.Add(-time.Hour)
	newRequest := func(status models.RequestStatus) *models.CertificateRequest {
		req := &models.CertificateRequest{
			ID:              id.CertificateRequestID(uuid.New()),
			StudentID:       s.student.ID,
			InstituteID:     s.institute.ID,
			CertificateType: "Degree",
			Course:          "M.Tech",
			Year:            "2026",
			Status:          status,
			ApprovedAt:      &approvedAt,
		}
		s.Require().NoError(s.requests.Save(s.ctx(), req))
		return req
	}

	s.Run("approved request is marked issued", func() {
		req := newRequest(models.RequestStatusApproved)
		intent := s.intent()
		intent.RequestID = &req.ID

		res, err := s.service.IssueOne(s.ctx(), intent)
		s.Require().NoError(err)
		s.Equal("M.Tech", res.Certificate.Metadata.Course)
		s.Empty(res.Warnings)

		stored, err := s.requests.FindByID(s.ctx(), req.ID)
		s.Require().NoError(err)
		s.Equal(models.RequestStatusIssued, stored.Status)
	})

	s.Run("pending request is rejected before any external call", func() {
		req := newRequest(models.RequestStatusPending)
		intent := s.intent()
		intent.RequestID = &req.ID

		_, err := s.newService(s.mockLedger, s.mockContent).IssueOne(s.ctx(), intent)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("missing request", func() {
		missing := id.CertificateRequestID(uuid.New())
		intent := s.intent()
		intent.RequestID = &missing

		_, err := s.newService(s.mockLedger, s.mockContent).IssueOne(s.ctx(), intent)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("request update failure becomes a warning", func() {
		req := &models.CertificateRequest{
			ID:              id.CertificateRequestID(uuid.New()),
			StudentID:       s.student.ID,
			InstituteID:     s.institute.ID,
			CertificateType: "Degree",
			Status:          models.RequestStatusApproved,
		}
		requests := mocks.NewMockRequestStore(s.ctrl)
		requests.EXPECT().FindByID(gomock.Any(), req.ID).DoAndReturn(
			func(_ context.Context, _ id.CertificateRequestID) (*models.CertificateRequest, error) {
				cp := *req
				return &cp, nil
			}).Times(2)
		requests.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))

		svc := s.newService(s.fakeLedger, s.content, WithIDGenerator(idgen.NewFixed("CERT-W")))
		svc.requests = requests
		intent := s.intent()
		intent.RequestID = &req.ID

		res, err := svc.IssueOne(s.ctx(), intent)
		s.Require().NoError(err)
		s.Require().Len(res.Warnings, 1)
		s.Equal(models.WarningRequestNotUpdated, res.Warnings[0].Kind)
		s.NotEmpty(s.events(audit.EventReconciliationWarning))
	})
}

func (s *ServiceSuite) TestIssueOne_ContentStoreFailure() {
	s.mockContent.EXPECT().Put(gomock.Any(), gomock.Any()).Return("", contentstore.ErrUnreachable)
	svc := s.newService(s.mockLedger, s.mockContent)

	_, err := svc.IssueOne(s.ctx(), s.intent())
	s.True(dErrors.HasCode(err, dErrors.CodeContentStore))

	_, err = s.certificates.FindByID(s.ctx(), "CERT-A")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ServiceSuite) TestIssueOne_TransientLedgerFailureAndRetry() {
	hash := s.storedHash("CERT-A")
	svc := s.newService(s.mockLedger, s.content)

	s.mockLedger.EXPECT().Issue(gomock.Any(), id.CertificateID("CERT-A"), hash, models.ZeroWalletAddress).
		Return(nil, ledger.NewError(ledger.KindTransient, "issue", "rpc timeout", nil))

	_, err := svc.IssueOne(s.ctx(), s.intent())
	var retry *models.RetryableError
	s.Require().ErrorAs(err, &retry)
	s.Equal(id.CertificateID("CERT-A"), retry.CertificateID)
	s.Equal(canonical.Normalize(fixedNow), retry.IssuedAt)
	s.True(dErrors.HasCode(err, dErrors.CodeLedgerTransient))

	_, err = s.certificates.FindByID(s.ctx(), "CERT-A")
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Run("retry after the write landed replays it", func() {
		s.mockLedger.EXPECT().GetRecord(gomock.Any(), id.CertificateID("CERT-A")).
			Return(&ledger.Record{ContentHash: hash, WalletAddress: models.ZeroWalletAddress}, nil)

		intent := s.intent()
		intent.CertificateID = retry.CertificateID
		intent.IssuedAt = &retry.IssuedAt

		// a later clock must not change the payload of a retry
		ctx := requestcontext.WithTime(context.Background(), fixedNow.Add(time.Hour))
		res, err := svc.IssueOne(ctx, intent)
		s.Require().NoError(err)
		s.True(res.LedgerReplayed)
		s.Equal(hash, res.Certificate.ContentHash)
		s.Equal(models.LedgerStatusConfirmed, res.Certificate.LedgerStatus)
	})

	s.Run("retry of a stored certificate conflicts without external calls", func() {
		intent := s.intent()
		intent.CertificateID = retry.CertificateID
		intent.IssuedAt = &retry.IssuedAt

		_, err := s.newService(s.mockLedger, s.mockContent).IssueOne(s.ctx(), intent)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ServiceSuite) TestIssueOne_RetryWithDivergentLedgerRecord() {
	svc := s.newService(s.mockLedger, s.content)
	s.mockLedger.EXPECT().GetRecord(gomock.Any(), id.CertificateID("CERT-Z")).
		Return(&ledger.Record{ContentHash: "bafkreiother"}, nil)

	issuedAt := fixedNow
	intent := s.intent()
	intent.CertificateID = "CERT-Z"
	intent.IssuedAt = &issuedAt

	_, err := svc.IssueOne(s.ctx(), intent)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestIssueOne_PermanentLedgerFailure() {
	svc := s.newService(s.mockLedger, s.content)
	s.mockLedger.EXPECT().Issue(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, ledger.NewError(ledger.KindPermanent, "issue", "execution reverted", nil))

	res, err := svc.IssueOne(s.ctx(), s.intent())
	s.True(dErrors.HasCode(err, dErrors.CodeLedgerPermanent))
	s.Require().NotNil(res)
	s.Equal(models.LedgerStatusFailed, res.Certificate.LedgerStatus)

	stored, err := s.certificates.FindByID(s.ctx(), "CERT-A")
	s.Require().NoError(err)
	s.Equal(models.LedgerStatusFailed, stored.LedgerStatus)
	s.Len(s.events(audit.EventCertificateLedgerFailed), 1)
	s.Empty(s.events(audit.EventCertificateIssued))
}

func (s *ServiceSuite) TestIssueOne_PersistenceFailures() {
	s.Run("database failure after ledger success is retryable", func() {
		certs := mocks.NewMockCertificateStore(s.ctrl)
		certs.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("connection refused"))
		svc := s.newService(s.fakeLedger, s.content)
		svc.certificates = certs

		_, err := svc.IssueOne(s.ctx(), s.intent())
		var retry *models.RetryableError
		s.Require().ErrorAs(err, &retry)
		s.True(dErrors.HasCode(err, dErrors.CodePersistence))
		s.NotEmpty(s.events(audit.EventReconciliationWarning))

		_, err = s.fakeLedger.GetRecord(s.ctx(), retry.CertificateID)
		s.NoError(err)
	})

	s.Run("unique violation is a conflict", func() {
		certs := mocks.NewMockCertificateStore(s.ctrl)
		certs.EXPECT().Create(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict)
		svc := s.newService(s.fakeLedger, s.content)
		svc.certificates = certs

		_, err := svc.IssueOne(s.ctx(), s.intent())
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ServiceSuite) TestIssueOne_CallerCancelsAfterContentPut() {
	cctx, cancel := context.WithCancel(s.ctx())
	defer cancel()
	svc := s.newService(s.fakeLedger, s.mockContent)
	s.mockContent.EXPECT().Put(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, payload []byte) (string, error) {
			hash, err := s.content.Put(context.Background(), payload)
			cancel()
			return hash, err
		})

	res, err := svc.IssueOne(cctx, s.intent())
	s.Require().NoError(err)
	s.Require().ErrorIs(cctx.Err(), context.Canceled)
	s.Equal(models.LedgerStatusConfirmed, res.Certificate.LedgerStatus)

	stored, err := s.certificates.FindByID(s.ctx(), "CERT-A")
	s.Require().NoError(err)
	s.Equal(models.LedgerStatusConfirmed, stored.LedgerStatus)
	s.Equal(s.fakeLedger.Reference("CERT-A"), stored.LedgerReference)

	record, err := s.fakeLedger.GetRecord(s.ctx(), "CERT-A")
	s.Require().NoError(err)
	s.Equal(stored.ContentHash, record.ContentHash)
	s.Len(s.events(audit.EventCertificateIssued), 1)
}
