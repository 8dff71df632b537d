// Package certificate persists issued certificates. Both implementations
// enforce insert-or-fail on the certificate ID.
package certificate

import (
	"context"
	"sort"
	"sync"

	"certledger/internal/certificate/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

// InMemory is a map-backed store for tests and single-process runs.
type InMemory struct {
	mu    sync.RWMutex
	certs map[id.CertificateID]*models.Certificate
}

func NewInMemory() *InMemory {
	return &InMemory{certs: make(map[id.CertificateID]*models.Certificate)}
}

// Create inserts c, returning sentinel.ErrConflict if the ID is taken.
func (s *InMemory) Create(_ context.Context, c *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certs[c.CertificateID]; ok {
		return sentinel.ErrConflict
	}
	s.certs[c.CertificateID] = clone(c)
	return nil
}

// Update replaces an existing certificate. A revoked certificate is final:
// updating one returns sentinel.ErrConflict and leaves it untouched.
func (s *InMemory) Update(_ context.Context, c *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.certs[c.CertificateID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if existing.IsRevoked() {
		return sentinel.ErrConflict
	}
	s.certs[c.CertificateID] = clone(c)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, certID id.CertificateID) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.certs[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(c), nil
}

func (s *InMemory) FindByLedgerReference(_ context.Context, ref id.TxReference) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.certs {
		if c.LedgerReference == ref {
			return clone(c), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindByRequestID(_ context.Context, requestID id.CertificateRequestID) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.certs {
		if c.RequestID != nil && *c.RequestID == requestID {
			return clone(c), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// ListByLedgerStatus returns up to limit certificates in status, oldest first.
func (s *InMemory) ListByLedgerStatus(_ context.Context, status models.LedgerStatus, limit int) ([]*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Certificate
	for _, c := range s.certs {
		if c.LedgerStatus == status {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CertificateID < out[j].CertificateID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return truncate(out, limit), nil
}

// ListIssuedAfter pages ISSUED certificates with a confirmed ledger entry in
// certificate ID order, starting after the given ID.
func (s *InMemory) ListIssuedAfter(_ context.Context, after id.CertificateID, limit int) ([]*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Certificate
	for _, c := range s.certs {
		if c.Status == models.CertificateStatusIssued &&
			c.LedgerStatus == models.LedgerStatusConfirmed &&
			c.CertificateID > after {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CertificateID < out[j].CertificateID })
	return truncate(out, limit), nil
}

func truncate(certs []*models.Certificate, limit int) []*models.Certificate {
	if limit > 0 && len(certs) > limit {
		return certs[:limit]
	}
	return certs
}

func clone(c *models.Certificate) *models.Certificate {
	cp := *c
	if c.RevokedAt != nil {
		t := *c.RevokedAt
		cp.RevokedAt = &t
	}
	if c.RequestID != nil {
		r := *c.RequestID
		cp.RequestID = &r
	}
	return &cp
}
