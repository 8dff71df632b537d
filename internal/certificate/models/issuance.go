package models

import (
	"fmt"
	"time"

	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

// IssuanceIntent is a validated request to issue one certificate.
//
// CertificateID and IssuedAt are set only when retrying an attempt that
// failed transiently; both must be reused so the retry is idempotent.
type IssuanceIntent struct {
	InstituteID     id.UserID
	StudentID       id.UserID
	CertificateType string `validate:"required,max=120"`
	Course          string `validate:"max=200"`
	Department      string `validate:"max=200"`
	Year            string `validate:"max=16"`
	RollNumber      string `validate:"max=64"`
	StudentName     string `validate:"max=200"`
	Grade           string `validate:"max=16"`
	CGPA            string `validate:"omitempty,numeric,max=8"`
	IssueDate       *time.Time
	RequestID       *id.CertificateRequestID

	CertificateID id.CertificateID
	IssuedAt      *time.Time
}

// IsRetry reports whether the intent replays an earlier attempt.
func (i IssuanceIntent) IsRetry() bool {
	return !i.CertificateID.IsZero()
}

// WarningKind names the post-commit inconsistency a warning describes.
type WarningKind string

const (
	WarningRequestNotUpdated   WarningKind = "request_not_updated"
	WarningRevocationNotStored WarningKind = "revocation_not_persisted"
	WarningLedgerDiverged      WarningKind = "ledger_diverged"
)

// ReconciliationWarning is a non-fatal inconsistency left behind after the
// certificate itself was committed. It is data, never an error.
type ReconciliationWarning struct {
	Kind          WarningKind      `json:"kind"`
	CertificateID id.CertificateID `json:"certificate_id"`
	Message       string           `json:"message"`
}

// IssuanceResult is the outcome of a committed issuance.
type IssuanceResult struct {
	Certificate *Certificate            `json:"certificate"`
	Warnings    []ReconciliationWarning `json:"warnings,omitempty"`
	// LedgerReplayed is true when a retry found the ledger write already landed.
	LedgerReplayed bool `json:"ledger_replayed,omitempty"`
}

// RetryableError is returned when the ledger failed transiently. The caller
// retries with the same CertificateID and IssuedAt.
type RetryableError struct {
	CertificateID id.CertificateID
	IssuedAt      time.Time
	Err           error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retry issuance of %s: %v", e.CertificateID, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// BatchItem is one row of a bulk issuance, resolved to a student by roll number.
type BatchItem struct {
	RollNumber      string `validate:"required,max=64"`
	CertificateType string `validate:"required,max=120"`
	Course          string `validate:"max=200"`
	Department      string `validate:"max=200"`
	Year            string `validate:"max=16"`
	StudentName     string `validate:"max=200"`
	Grade           string `validate:"max=16"`
	CGPA            string `validate:"omitempty,numeric,max=8"`
	IssueDate       *time.Time
}

// BatchRequest is a bulk issuance for one institute.
type BatchRequest struct {
	InstituteID id.UserID
	Items       []BatchItem
}

// BatchSuccess is one issued item, keyed by the caller's roll number.
type BatchSuccess struct {
	RollNumber  string                  `json:"roll_number"`
	Certificate *Certificate            `json:"certificate"`
	Warnings    []ReconciliationWarning `json:"warnings,omitempty"`
}

// BatchFailure is one failed item. CertificateID and IssuedAt are set when
// the failure is retryable with the same identifier.
type BatchFailure struct {
	RollNumber    string           `json:"roll_number"`
	Code          dErrors.Code     `json:"error"`
	Message       string           `json:"message"`
	CertificateID id.CertificateID `json:"certificate_id,omitempty"`
	IssuedAt      *time.Time       `json:"issued_at,omitempty"`
	Err           error            `json:"-"`
}

// BatchResult partitions a bulk issuance. It is never replaced by an aggregate error.
type BatchResult struct {
	Succeeded []BatchSuccess `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

func (r *BatchResult) Total() int { return len(r.Succeeded) + len(r.Failed) }

// RevokeCommand revokes one certificate on behalf of its issuing institute.
type RevokeCommand struct {
	CertificateID id.CertificateID
	Reason        string `validate:"required,max=500"`
	InstituteID   id.UserID
}
