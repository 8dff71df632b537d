// Package request stores certificate requests. Status transitions are
// enforced by the model; the store only persists them.
package request

import (
	"context"
	"sort"
	"sync"

	"certledger/internal/certificate/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

type InMemory struct {
	mu       sync.RWMutex
	requests map[id.CertificateRequestID]*models.CertificateRequest
}

func NewInMemory() *InMemory {
	return &InMemory{requests: make(map[id.CertificateRequestID]*models.CertificateRequest)}
}

func (s *InMemory) Save(_ context.Context, r *models.CertificateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[r.ID] = clone(r)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, requestID id.CertificateRequestID) (*models.CertificateRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(r), nil
}

// ListByStatus returns up to limit requests in status, oldest first.
func (s *InMemory) ListByStatus(_ context.Context, status models.RequestStatus, limit int) ([]*models.CertificateRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.CertificateRequest
	for _, r := range s.requests {
		if r.Status == status {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(r *models.CertificateRequest) *models.CertificateRequest {
	cp := *r
	if r.ApprovedAt != nil {
		t := *r.ApprovedAt
		cp.ApprovedAt = &t
	}
	if r.IssuedAt != nil {
		t := *r.IssuedAt
		cp.IssuedAt = &t
	}
	return &cp
}
