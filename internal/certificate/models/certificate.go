package models

import (
	"time"

	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

type LedgerStatus string

const (
	LedgerStatusPending   LedgerStatus = "PENDING"
	LedgerStatusConfirmed LedgerStatus = "CONFIRMED"
	LedgerStatusFailed    LedgerStatus = "FAILED"
)

type CertificateStatus string

const (
	CertificateStatusIssued  CertificateStatus = "ISSUED"
	CertificateStatusRevoked CertificateStatus = "REVOKED"
)

// Metadata is the descriptive part of a certificate, denormalized at issuance.
type Metadata struct {
	CertificateType string    `json:"certificate_type"`
	Course          string    `json:"course,omitempty"`
	Department      string    `json:"department,omitempty"`
	Year            string    `json:"year,omitempty"`
	RollNumber      string    `json:"roll_number,omitempty"`
	StudentName     string    `json:"student_name,omitempty"`
	Grade           string    `json:"grade,omitempty"`
	CGPA            string    `json:"cgpa,omitempty"`
	IssueDate       time.Time `json:"issue_date"`
}

// Certificate is created exactly once per successful issuance.
//
// Invariants:
//   - CertificateID is unique and never reused
//   - Status only moves ISSUED -> REVOKED
//   - RevocationReason and RevokedAt are set iff Status is REVOKED
type Certificate struct {
	CertificateID    id.CertificateID         `json:"certificate_id"`
	StudentID        id.UserID                `json:"student_id"`
	InstituteID      id.UserID                `json:"institute_id"`
	Metadata         Metadata                 `json:"metadata"`
	ContentHash      string                   `json:"content_hash"`
	LedgerReference  id.TxReference           `json:"ledger_reference,omitempty"`
	LedgerStatus     LedgerStatus             `json:"ledger_status"`
	Status           CertificateStatus        `json:"status"`
	RevocationReason string                   `json:"revocation_reason,omitempty"`
	RevokedAt        *time.Time               `json:"revoked_at,omitempty"`
	RequestID        *id.CertificateRequestID `json:"request_id,omitempty"`
	IssuedAt         time.Time                `json:"issued_at"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

func (c *Certificate) IsRevoked() bool {
	return c.Status == CertificateStatusRevoked
}

// CanRevoke checks the certificate is ISSUED with a confirmed ledger entry;
// there is nothing on the ledger to revoke otherwise.
func (c *Certificate) CanRevoke() error {
	if c.Status != CertificateStatusIssued {
		return dErrors.Newf(dErrors.CodeInvalidState, "certificate is %s", c.Status)
	}
	if c.LedgerStatus != LedgerStatusConfirmed {
		return dErrors.Newf(dErrors.CodeInvalidState, "certificate ledger status is %s", c.LedgerStatus)
	}
	return nil
}

// ApplyRevocation transitions the certificate to REVOKED. Call CanRevoke first.
func (c *Certificate) ApplyRevocation(reason string, now time.Time) {
	c.Status = CertificateStatusRevoked
	c.RevocationReason = reason
	c.RevokedAt = &now
	c.UpdatedAt = now
}

// ApplyLedgerConfirmation records a late ledger confirmation for a FAILED record.
func (c *Certificate) ApplyLedgerConfirmation(ref id.TxReference, now time.Time) {
	c.LedgerStatus = LedgerStatusConfirmed
	if ref != "" {
		c.LedgerReference = ref
	}
	c.UpdatedAt = now
}
