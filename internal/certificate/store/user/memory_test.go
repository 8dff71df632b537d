package user

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"certledger/internal/certificate/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

type InMemoryUserStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func TestInMemoryUserStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryUserStoreSuite))
}

func (s *InMemoryUserStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func (s *InMemoryUserStoreSuite) TestLookupBehavior() {
	instituteID := id.UserID(uuid.New())
	student := &models.User{
		ID:          id.UserID(uuid.New()),
		Name:        "S1",
		Role:        models.RoleStudent,
		RollNumber:  "R1",
		InstituteID: instituteID,
	}
	s.Require().NoError(s.store.Save(s.ctx, student))

	s.Run("returns user by ID", func() {
		found, err := s.store.FindByID(s.ctx, student.ID)
		s.Require().NoError(err)
		s.Equal(student, found)
	})

	s.Run("returns student by roll number within institute", func() {
		found, err := s.store.FindStudentByRollNumber(s.ctx, instituteID, "R1")
		s.Require().NoError(err)
		s.Equal(student.ID, found.ID)
	})

	s.Run("roll number lookup is scoped to the institute", func() {
		_, err := s.store.FindStudentByRollNumber(s.ctx, id.UserID(uuid.New()), "R1")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returns ErrNotFound for unknown ID", func() {
		_, err := s.store.FindByID(s.ctx, id.UserID(uuid.New()))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryUserStoreSuite) TestWalletUniqueness() {
	first := &models.User{ID: id.UserID(uuid.New()), Role: models.RoleStudent, WalletAddress: "0xAbC0000000000000000000000000000000000001"}
	s.Require().NoError(s.store.Save(s.ctx, first))

	s.Run("another user cannot take the same wallet", func() {
		second := &models.User{ID: id.UserID(uuid.New()), Role: models.RoleStudent, WalletAddress: "0xabc0000000000000000000000000000000000001"}
		s.ErrorIs(s.store.Save(s.ctx, second), sentinel.ErrConflict)
	})

	s.Run("the owner can re-save", func() {
		first.Name = "renamed"
		s.NoError(s.store.Save(s.ctx, first))
	})

	s.Run("users without wallets never conflict", func() {
		s.NoError(s.store.Save(s.ctx, &models.User{ID: id.UserID(uuid.New()), Role: models.RoleStudent}))
		s.NoError(s.store.Save(s.ctx, &models.User{ID: id.UserID(uuid.New()), Role: models.RoleStudent}))
	})
}
