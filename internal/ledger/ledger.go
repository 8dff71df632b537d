// Package ledger records certificate content addresses on an append-only
// registry contract and reads them back for verification.
package ledger

import (
	"context"
	"errors"
	"time"

	id "certledger/pkg/domain"
)

//go:generate mockgen -source=ledger.go -destination=mocks/mocks.go -package=mocks Client

// ErrRecordNotFound is returned by GetRecord when the ledger has no entry
// for the certificate.
var ErrRecordNotFound = errors.New("ledger record not found")

// ErrRecordUnknown is returned by GetRecord when the ledger cannot say
// whether it holds an entry, as with the mock ledger after a restart.
// Writers treat it like ErrRecordNotFound; verification treats the ledger
// as unavailable.
var ErrRecordUnknown = errors.New("ledger record state unknown")

// IsMissing reports whether a GetRecord error means there is no entry the
// caller could rely on, so a write may proceed.
func IsMissing(err error) bool {
	return errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrRecordUnknown)
}

// Client is the registry contract as seen by the services. Write failures
// are returned as *Error so callers can tell transient from permanent.
type Client interface {
	Issue(ctx context.Context, certID id.CertificateID, contentHash, wallet string) (*Receipt, error)
	Revoke(ctx context.Context, certID id.CertificateID) (*Receipt, error)
	GetRecord(ctx context.Context, certID id.CertificateID) (*Record, error)
}

// Receipt identifies a submitted ledger write.
type Receipt struct {
	Reference id.TxReference
	Confirmed bool
}

// Record is the ledger's entry for one certificate.
type Record struct {
	ContentHash   string
	WalletAddress string
	Revoked       bool
	IssuedAt      time.Time
}
