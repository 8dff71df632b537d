package handler

import (
	"strings"
	"time"

	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

// maxBulkItems bounds a single bulk issuance request.
const maxBulkItems = 500

// IssueRequest is the HTTP request body for POST /institute/certificates.
// CertificateID and IssuedAt are only sent when retrying a failed attempt.
type IssueRequest struct {
	StudentID       string     `json:"student_id"`
	CertificateType string     `json:"certificate_type"`
	Course          string     `json:"course"`
	Department      string     `json:"department"`
	Year            string     `json:"year"`
	RollNumber      string     `json:"roll_number"`
	StudentName     string     `json:"student_name"`
	Grade           string     `json:"grade"`
	CGPA            string     `json:"cgpa"`
	IssueDate       string     `json:"issue_date"`
	RequestID       string     `json:"request_id"`
	CertificateID   string     `json:"certificate_id"`
	IssuedAt        *time.Time `json:"issued_at"`

	// Parsed values (populated by Validate)
	studentID     id.UserID
	requestID     *id.CertificateRequestID
	certificateID id.CertificateID
	issueDate     *time.Time
}

func (r *IssueRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	studentID, err := id.ParseUserID(strings.TrimSpace(r.StudentID))
	if err != nil {
		return err
	}
	r.studentID = studentID

	r.CertificateType = strings.TrimSpace(r.CertificateType)
	if r.CertificateType == "" {
		return dErrors.New(dErrors.CodeValidation, "certificate_type is required")
	}

	if r.RequestID = strings.TrimSpace(r.RequestID); r.RequestID != "" {
		requestID, err := id.ParseCertificateRequestID(r.RequestID)
		if err != nil {
			return err
		}
		r.requestID = &requestID
	}

	if r.CertificateID = strings.TrimSpace(r.CertificateID); r.CertificateID != "" {
		certID, err := id.ParseCertificateID(r.CertificateID)
		if err != nil {
			return err
		}
		if r.IssuedAt == nil {
			return dErrors.New(dErrors.CodeValidation, "issued_at is required with certificate_id")
		}
		r.certificateID = certID
	}

	issueDate, err := parseIssueDate(r.IssueDate)
	if err != nil {
		return err
	}
	r.issueDate = issueDate
	return nil
}

// BulkItem is one row of a bulk issuance, keyed by roll number.
type BulkItem struct {
	RollNumber      string `json:"roll_number"`
	CertificateType string `json:"certificate_type"`
	Course          string `json:"course"`
	Department      string `json:"department"`
	Year            string `json:"year"`
	StudentName     string `json:"student_name"`
	Grade           string `json:"grade"`
	CGPA            string `json:"cgpa"`
	IssueDate       string `json:"issue_date"`

	issueDate *time.Time
}

// BulkIssueRequest is the HTTP request body for POST /institute/certificates/bulk.
// Row-level problems are reported per item, not as a request error.
type BulkIssueRequest struct {
	Certificates []BulkItem `json:"certificates"`
}

func (r *BulkIssueRequest) Validate() error {
	if r == nil || len(r.Certificates) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "certificates must be a non-empty array")
	}
	if len(r.Certificates) > maxBulkItems {
		return dErrors.Newf(dErrors.CodeValidation, "at most %d certificates per request", maxBulkItems)
	}
	for i := range r.Certificates {
		item := &r.Certificates[i]
		item.RollNumber = strings.TrimSpace(item.RollNumber)
		item.CertificateType = strings.TrimSpace(item.CertificateType)
		issueDate, err := parseIssueDate(item.IssueDate)
		if err != nil {
			return dErrors.Newf(dErrors.CodeValidation, "certificates[%d]: issue_date must be YYYY-MM-DD or RFC 3339", i)
		}
		item.issueDate = issueDate
	}
	return nil
}

// RevokeRequest is the HTTP request body for POST /institute/certificates/revoke.
type RevokeRequest struct {
	CertificateID string `json:"certificate_id"`
	Reason        string `json:"reason"`

	certificateID id.CertificateID
}

func (r *RevokeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	certID, err := id.ParseCertificateID(strings.TrimSpace(r.CertificateID))
	if err != nil {
		return err
	}
	r.certificateID = certID

	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}

// parseIssueDate accepts a calendar date or a full timestamp.
func parseIssueDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339Nano} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, dErrors.New(dErrors.CodeValidation, "issue_date must be YYYY-MM-DD or RFC 3339")
}
