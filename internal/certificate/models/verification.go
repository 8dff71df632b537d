package models

import (
	"encoding/json"
	"time"

	id "certledger/pkg/domain"
)

// SourceStatus reports what happened when a verification source was consulted.
type SourceStatus string

const (
	SourceAvailable   SourceStatus = "available"
	SourceUnavailable SourceStatus = "unavailable"
	SourceNotFound    SourceStatus = "not_found"
	SourceSkipped     SourceStatus = "skipped"
)

// Sources records the outcome per source.
type Sources struct {
	Database     SourceStatus `json:"database"`
	Ledger       SourceStatus `json:"ledger"`
	ContentStore SourceStatus `json:"content_store"`
}

// LedgerData is the ledger's authoritative record.
type LedgerData struct {
	ContentHash   string    `json:"content_hash"`
	WalletAddress string    `json:"wallet_address"`
	Revoked       bool      `json:"revoked"`
	IssuedAt      time.Time `json:"issued_at"`
}

// VerifiedCertificate is the denormalized certificate view shown to verifiers.
type VerifiedCertificate struct {
	CertificateID    id.CertificateID  `json:"certificate_id"`
	StudentName      string            `json:"student_name,omitempty"`
	RollNumber       string            `json:"roll_number,omitempty"`
	CertificateType  string            `json:"certificate_type"`
	Course           string            `json:"course,omitempty"`
	Department       string            `json:"department,omitempty"`
	Year             string            `json:"year,omitempty"`
	Grade            string            `json:"grade,omitempty"`
	CGPA             string            `json:"cgpa,omitempty"`
	IssueDate        time.Time         `json:"issue_date"`
	Status           CertificateStatus `json:"status"`
	LedgerStatus     LedgerStatus      `json:"ledger_status"`
	LedgerReference  id.TxReference    `json:"transaction_hash,omitempty"`
	ContentHash      string            `json:"content_hash"`
	RevocationReason string            `json:"revocation_reason,omitempty"`
	RevokedAt        *time.Time        `json:"revoked_at,omitempty"`
	InstituteName    string            `json:"institute_name,omitempty"`
	InstituteEmail   string            `json:"institute_email,omitempty"`
}

// VerificationResult is the merged view across database, ledger and content store.
type VerificationResult struct {
	IsValid       bool                 `json:"is_valid"`
	Found         bool                 `json:"found"`
	Certificate   *VerifiedCertificate `json:"certificate,omitempty"`
	LedgerData    *LedgerData          `json:"ledger_data"`
	PayloadData   json.RawMessage      `json:"payload_data"`
	Sources       Sources              `json:"sources"`
	Discrepancies []string             `json:"discrepancies,omitempty"`
	VerifiedAt    time.Time            `json:"verification_timestamp"`
}

// NewVerifiedCertificate denormalizes a certificate and its issuing institute.
func NewVerifiedCertificate(c *Certificate, institute *User) *VerifiedCertificate {
	v := &VerifiedCertificate{
		CertificateID:    c.CertificateID,
		StudentName:      c.Metadata.StudentName,
		RollNumber:       c.Metadata.RollNumber,
		CertificateType:  c.Metadata.CertificateType,
		Course:           c.Metadata.Course,
		Department:       c.Metadata.Department,
		Year:             c.Metadata.Year,
		Grade:            c.Metadata.Grade,
		CGPA:             c.Metadata.CGPA,
		IssueDate:        c.Metadata.IssueDate,
		Status:           c.Status,
		LedgerStatus:     c.LedgerStatus,
		LedgerReference:  c.LedgerReference,
		ContentHash:      c.ContentHash,
		RevocationReason: c.RevocationReason,
		RevokedAt:        c.RevokedAt,
	}
	if institute != nil {
		v.InstituteName = institute.Name
		v.InstituteEmail = institute.Email
	}
	return v
}
