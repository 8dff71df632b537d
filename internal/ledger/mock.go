package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	id "certledger/pkg/domain"
)

// Mock is an in-memory ledger used when no RPC endpoint is configured.
// References are derived from the operation and certificate ID, so the same
// write always yields the same reference.
//
// The mock only remembers writes made by this process. Certificates it has
// not seen were possibly written before a restart, so GetRecord reports them
// as ErrRecordUnknown and Revoke accepts them with a fixed receipt.
type Mock struct {
	mu      sync.Mutex
	records map[id.CertificateID]*Record
	now     func() time.Time
}

type MockOption func(*Mock)

func WithMockClock(now func() time.Time) MockOption {
	return func(m *Mock) {
		m.now = now
	}
}

func NewMock(opts ...MockOption) *Mock {
	m := &Mock{
		records: make(map[id.CertificateID]*Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mock) Issue(ctx context.Context, certID id.CertificateID, contentHash, wallet string) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewError(KindTransient, "issue", "context done", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[certID]; ok {
		if existing.ContentHash != contentHash {
			return nil, NewError(KindPermanent, "issue", "certificate already recorded with a different hash", nil)
		}
		return &Receipt{Reference: mockReference("issue", certID), Confirmed: true}, nil
	}
	m.records[certID] = &Record{
		ContentHash:   contentHash,
		WalletAddress: wallet,
		IssuedAt:      m.now().UTC().Truncate(time.Second),
	}
	return &Receipt{Reference: mockReference("issue", certID), Confirmed: true}, nil
}

func (m *Mock) Revoke(ctx context.Context, certID id.CertificateID) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewError(KindTransient, "revoke", "context done", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[certID]
	if !ok {
		return &Receipt{Reference: mockReference("revoke", certID), Confirmed: true}, nil
	}
	if rec.Revoked {
		return nil, NewError(KindPermanent, "revoke", "certificate already revoked", nil)
	}
	rec.Revoked = true
	return &Receipt{Reference: mockReference("revoke", certID), Confirmed: true}, nil
}

func (m *Mock) GetRecord(ctx context.Context, certID id.CertificateID) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewError(KindTransient, "get", "context done", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[certID]
	if !ok {
		return nil, ErrRecordUnknown
	}
	cp := *rec
	return &cp, nil
}

// Reference returns the reference Issue reports for certID.
func (m *Mock) Reference(certID id.CertificateID) id.TxReference {
	return mockReference("issue", certID)
}

func mockReference(op string, certID id.CertificateID) id.TxReference {
	sum := sha256.Sum256([]byte(op + ":" + certID.String()))
	return id.TxReference("0x" + hex.EncodeToString(sum[:]))
}
