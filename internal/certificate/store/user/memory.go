// Package user stores students, institutes and admins. Wallet addresses are
// unique across users, compared case-insensitively.
package user

import (
	"context"
	"strings"
	"sync"

	"certledger/internal/certificate/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

type InMemory struct {
	mu    sync.RWMutex
	users map[id.UserID]*models.User
}

func NewInMemory() *InMemory {
	return &InMemory{users: make(map[id.UserID]*models.User)}
}

// Save inserts or replaces u. A wallet address held by another user is a conflict.
func (s *InMemory) Save(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.WalletAddress != "" {
		for _, other := range s.users {
			if other.ID != u.ID && strings.EqualFold(other.WalletAddress, u.WalletAddress) {
				return sentinel.ErrConflict
			}
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *InMemory) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// FindStudentByRollNumber looks up a student of one institute by roll number.
func (s *InMemory) FindStudentByRollNumber(_ context.Context, instituteID id.UserID, rollNumber string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.IsStudent() && u.InstituteID == instituteID && u.RollNumber == rollNumber {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}
