package service

import (
	"bytes"
	"context"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	"certledger/internal/certificate/idgen"
	"certledger/internal/certificate/models"
	"certledger/internal/contentstore"
	"certledger/internal/ledger"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
)

func (s *ServiceSuite) TestIssueMany() {
	s.addStudent("S2", "Ravi Menon")

	s.Run("isolates an unknown roll number", func() {
		result := s.service.IssueMany(s.ctx(), models.BatchRequest{
			InstituteID: s.institute.ID,
			Items:       []models.BatchItem{
				{RollNumber: "S1", CertificateType: "Degree"},
				{RollNumber: "X404", CertificateType: "Degree"},
				{RollNumber: "S2", CertificateType: "Degree", Grade: "B"},
			},
		})

		s.Equal(3, result.Total())
		s.Require().Len(result.Succeeded, 2)
		s.Require().Len(result.Failed, 1)

		s.Equal("S1", result.Succeeded[0].RollNumber)
		s.Equal("S2", result.Succeeded[1].RollNumber)
		s.NotEqual(result.Succeeded[0].Certificate.CertificateID, result.Succeeded[1].Certificate.CertificateID)

		failure := result.Failed[0]
		s.Equal("X404", failure.RollNumber)
		s.Equal(dErrors.CodeNotFound, failure.Code)
		s.Contains(failure.Message, "X404")
		s.True(failure.CertificateID.IsZero())
	})

	s.Run("reports invalid items without resolving them", func() {
		result := s.service.IssueMany(s.ctx(), models.BatchRequest{
			InstituteID: s.institute.ID,
			Items:       []models.BatchItem{{RollNumber: "S1"}},
		})
		s.Empty(result.Succeeded)
		s.Require().Len(result.Failed, 1)
		s.Equal(dErrors.CodeValidation, result.Failed[0].Code)
	})

	s.Run("empty batch", func() {
		result := s.service.IssueMany(s.ctx(), models.BatchRequest{InstituteID: s.institute.ID})
		s.Zero(result.Total())
		s.NotNil(result.Succeeded)
		s.NotNil(result.Failed)
	})
}

func (s *ServiceSuite) TestIssueMany_RetryableItemCarriesIdentifier() {
	svc := s.newService(s.mockLedger, s.content)
	s.mockLedger.EXPECT().Issue(gomock.Any(), id.CertificateID("CERT-A"), gomock.Any(), gomock.Any()).
		Return(nil, ledger.NewError(ledger.KindTransient, "issue", "nonce too low", nil))

	result := svc.IssueMany(s.ctx(), models.BatchRequest{
		InstituteID: s.institute.ID,
		Items:       []models.BatchItem{{RollNumber: "S1", CertificateType: "Degree"}},
	})

	s.Require().Len(result.Failed, 1)
	failure := result.Failed[0]
	s.Equal(dErrors.CodeLedgerTransient, failure.Code)
	s.Equal(id.CertificateID("CERT-A"), failure.CertificateID)
	s.Require().NotNil(failure.IssuedAt)
}

func (s *ServiceSuite) TestIssueMany_PartitionsDependencyFailures() {
	s.addStudent("S2", "Ravi Menon")
	rejected := &models.User{
		ID:            id.UserID(uuid.New()),
		Name:          "Meera Iyer",
		Email:         "S3@students.testing.edu",
		Role:          models.RoleStudent,
		WalletAddress: "0x00000000000000000000000000000000000000c3",
		RollNumber:    "S3",
		InstituteID:   s.institute.ID,
	}
	s.Require().NoError(s.users.Save(context.Background(), rejected))
	s.addStudent("S4", "Kiran Das")

	svc := s.newService(s.mockLedger, s.mockContent, WithIDGenerator(idgen.NewSequence("CERT")))
	s.mockContent.EXPECT().Put(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, payload []byte) (string, error) {
			if bytes.Contains(payload, []byte(`"rollNumber":"S2"`)) {
				return "", contentstore.ErrUnreachable
			}
			return s.content.Put(ctx, payload)
		}).Times(3)
	s.mockLedger.EXPECT().Issue(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, certID id.CertificateID, contentHash, wallet string) (*ledger.Receipt, error) {
			if wallet == rejected.WalletAddress {
				return nil, ledger.NewError(ledger.KindPermanent, "issue", "execution reverted", nil)
			}
			return s.fakeLedger.Issue(ctx, certID, contentHash, wallet)
		}).Times(3)

	result := svc.IssueMany(s.ctx(), models.BatchRequest{
		InstituteID: s.institute.ID,
		Items: []models.BatchItem{
			{RollNumber: "S1", CertificateType: "Degree"},
			{RollNumber: "S2", CertificateType: "Degree"},
			{RollNumber: "S3", CertificateType: "Degree"},
			{RollNumber: "S4", CertificateType: "Degree"},
		},
	})

	s.Equal(4, result.Total())
	s.Require().Len(result.Succeeded, 2)
	s.Require().Len(result.Failed, 2)

	for i, roll := range []string{"S1", "S4"} {
		success := result.Succeeded[i]
		s.Equal(roll, success.RollNumber)
		stored, err := s.certificates.FindByID(s.ctx(), success.Certificate.CertificateID)
		s.Require().NoError(err)
		s.Equal(models.LedgerStatusConfirmed, stored.LedgerStatus)
		s.Equal(models.CertificateStatusIssued, stored.Status)
	}

	contentFailure := result.Failed[0]
	s.Equal("S2", contentFailure.RollNumber)
	s.Equal(dErrors.CodeContentStore, contentFailure.Code)
	s.True(contentFailure.CertificateID.IsZero())

	ledgerFailure := result.Failed[1]
	s.Equal("S3", ledgerFailure.RollNumber)
	s.Equal(dErrors.CodeLedgerPermanent, ledgerFailure.Code)
	s.Require().False(ledgerFailure.CertificateID.IsZero())
	stored, err := s.certificates.FindByID(s.ctx(), ledgerFailure.CertificateID)
	s.Require().NoError(err)
	s.Equal(models.LedgerStatusFailed, stored.LedgerStatus)

	s.Len(s.events(audit.EventCertificateIssued), 2)
	s.Len(s.events(audit.EventCertificateLedgerFailed), 1)
}
