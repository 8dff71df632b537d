package domain

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	dErrors "certledger/pkg/domain-errors"
)

// UserID identifies a student, institute or admin account.
type UserID uuid.UUID

// CertificateRequestID identifies a student's certificate request.
type CertificateRequestID uuid.UUID

// CertificateID is the canonical, never-reused certificate identifier. It is
// the idempotency key across the content store, the ledger and the database.
type CertificateID string

// TxReference is a ledger transaction identifier (0x-prefixed, 32-byte hex).
type TxReference string

const maxCertificateIDLength = 64

var (
	certificateIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
	txReferencePattern   = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

func (u UserID) String() string { return uuid.UUID(u).String() }
func (u UserID) IsNil() bool    { return uuid.UUID(u) == uuid.Nil }
func (u UserID) IsZero() bool   { return u.IsNil() }

func (u UserID) MarshalText() ([]byte, error) { return uuid.UUID(u).MarshalText() }

func (u *UserID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(u).UnmarshalText(b)
}

func (r CertificateRequestID) String() string { return uuid.UUID(r).String() }
func (r CertificateRequestID) IsNil() bool    { return uuid.UUID(r) == uuid.Nil }

func (r CertificateRequestID) MarshalText() ([]byte, error) { return uuid.UUID(r).MarshalText() }

func (r *CertificateRequestID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(r).UnmarshalText(b)
}

func (c CertificateID) String() string { return string(c) }
func (c CertificateID) IsZero() bool   { return c == "" }

func (t TxReference) String() string { return string(t) }

// ParseUserID parses a non-nil UUID into a UserID.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user ID")
	return UserID(u), err
}

// ParseCertificateRequestID parses a non-nil UUID into a CertificateRequestID.
func ParseCertificateRequestID(s string) (CertificateRequestID, error) {
	u, err := parseUUID(s, "request ID")
	return CertificateRequestID(u), err
}

// ParseCertificateID validates an externally supplied certificate identifier.
func ParseCertificateID(s string) (CertificateID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "certificate ID is required")
	}
	if len(s) > maxCertificateIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "certificate ID is too long")
	}
	if !certificateIDPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "certificate ID has invalid characters")
	}
	return CertificateID(s), nil
}

// ParseTxReference validates a ledger transaction reference.
func ParseTxReference(s string) (TxReference, error) {
	if !txReferencePattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "transaction reference must be 0x followed by 64 hex characters")
	}
	return TxReference(strings.ToLower(s)), nil
}

// IsTxReference reports whether s has the shape of a ledger transaction reference.
func IsTxReference(s string) bool {
	return txReferencePattern.MatchString(s)
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" cannot be nil")
	}
	return u, nil
}
